package retrieval

import (
	"strings"
	"unicode"
)

// structuralKeywords mark queries about document structure.
var structuralKeywords = map[string]bool{
	"section":    true,
	"chapter":    true,
	"guideline":  true,
	"protocol":   true,
	"table":      true,
	"figure":     true,
	"appendix":   true,
	"definition": true,
}

var interrogatives = map[string]bool{
	"what":  true,
	"which": true,
	"where": true,
	"who":   true,
}

// SelectMode picks a strategy for automatic mode. Short queries naming a
// structural element go to node_name; short or interrogative queries go to
// summary; everything else goes to content.
func SelectMode(query string) Mode {
	words := strings.Fields(query)
	structural := false
	for _, w := range words {
		w = normalizeWord(w)
		if structuralKeywords[w] || structuralKeywords[strings.TrimSuffix(w, "s")] {
			structural = true
			break
		}
	}
	switch {
	case len(words) < 10 && structural:
		return ModeNodeName
	case len(words) < 15:
		return ModeSummary
	case len(words) > 0 && interrogatives[normalizeWord(words[0])]:
		return ModeSummary
	}
	return ModeContent
}

// normalizeWord lowercases w, trims surrounding punctuation and drops a
// contraction or possessive: "What's" and "table's" become "what" and "table".
func normalizeWord(w string) string {
	w = strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if i := strings.IndexAny(w, "'’"); i > 0 {
		w = w[:i]
	}
	return strings.ToLower(w)
}
