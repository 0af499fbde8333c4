package retrieval

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgallion1/docgraph/internal/doctree"
)

var stopWords = map[string]bool{
	"about": true, "above": true, "after": true, "again": true, "also": true,
	"been": true, "before": true, "being": true, "below": true, "both": true,
	"could": true, "does": true, "doing": true, "down": true, "during": true,
	"each": true, "find": true, "from": true, "further": true, "give": true,
	"have": true, "having": true, "here": true, "into": true, "just": true,
	"know": true, "like": true, "list": true, "more": true, "most": true,
	"much": true, "must": true, "need": true, "only": true, "other": true,
	"over": true, "please": true, "same": true, "shall": true, "should": true,
	"show": true, "some": true, "such": true, "tell": true, "than": true,
	"that": true, "their": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "this": true, "those": true, "through": true,
	"under": true, "until": true, "very": true, "want": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "while": true,
	"whom": true, "whose": true, "will": true, "with": true, "would": true,
	"your": true,
}

// ExtractKeywords returns up to max distinct keywords from query in order of
// appearance: NFKC-normalized, case-folded tokens longer than three runes
// that are not stop-words.
func ExtractKeywords(query string, max int) []string {
	text := doctree.Fold(query)
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, tok := range tokens {
		if len(out) >= max {
			break
		}
		if utf8.RuneCountInString(tok) <= 3 || stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}
