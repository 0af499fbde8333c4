package chunker

import "unicode/utf8"

// CharsPerToken is the heuristic ratio used for token estimates.
const CharsPerToken = 4

// EstimateTokens gives a rough token count using the ~4 chars/token heuristic.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}
