package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Config controls chunking behavior.
type Config struct {
	MaxTokens    int // Token ceiling per chunk (chars/4 estimate).
	OverlapWords int // Words repeated at the start of the next chunk.
}

// DefaultConfig returns the indexing defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:    2000,
		OverlapWords: 50,
	}
}

// Piece is one slice of a section's text with its approximate line range.
type Piece struct {
	Text      string
	StartLine int
	EndLine   int
}

// Split returns text as a single piece when it fits the token ceiling,
// otherwise as overlapping word-boundary pieces. Each piece's line range is
// interpolated from its word offsets within [startLine, endLine]; the first
// piece starts at startLine, the last ends at endLine, and adjacent ranges
// never leave a gap.
func Split(text string, startLine, endLine int, cfg Config) []Piece {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.OverlapWords < 0 {
		cfg.OverlapWords = 0
	}
	if endLine < startLine {
		endLine = startLine
	}

	if EstimateTokens(text) <= cfg.MaxTokens {
		return []Piece{{Text: text, StartLine: startLine, EndLine: endLine}}
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return []Piece{{Text: text, StartLine: startLine, EndLine: endLine}}
	}

	budget := cfg.MaxTokens * CharsPerToken
	numLines := endLine - startLine + 1
	numWords := len(words)

	var pieces []Piece
	ws := 0
	for {
		we := ws
		size := 0
		for we < numWords {
			n := utf8.RuneCountInString(words[we])
			if we > ws {
				n++ // joining space
			}
			if we > ws && size+n > budget {
				break
			}
			size += n
			we++
		}

		pieces = append(pieces, Piece{
			Text:      strings.Join(words[ws:we], " "),
			StartLine: startLine + ws*numLines/numWords,
			EndLine:   startLine + ceilDiv(we*numLines, numWords) - 1,
		})

		if we >= numWords {
			break
		}
		next := we - cfg.OverlapWords
		if next <= ws {
			next = ws + 1
		}
		ws = next
	}

	for i := range pieces {
		p := &pieces[i]
		p.StartLine = clamp(p.StartLine, startLine, endLine)
		p.EndLine = clamp(p.EndLine, p.StartLine, endLine)
	}
	pieces[0].StartLine = startLine
	pieces[len(pieces)-1].EndLine = endLine
	return pieces
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SplitSentences does basic sentence splitting on '.', '!' and '?'
// followed by whitespace.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// Truncate shortens text to at most maxChars runes, cutting at the last
// word boundary and appending "...".
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	cut := []rune(text)[:maxChars]
	for i := len(cut) - 1; i > maxChars/2; i-- {
		if unicode.IsSpace(cut[i]) {
			cut = cut[:i]
			break
		}
	}
	return strings.TrimSpace(string(cut)) + "..."
}
