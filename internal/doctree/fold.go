package doctree

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Fold returns s NFKC-normalized and Unicode case-folded. Stored search text
// and query keywords both go through it so substring matches agree.
func Fold(s string) string {
	// A Caser keeps state between calls and is not safe to share.
	return cases.Fold().String(norm.NFKC.String(s))
}
