package parser

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	headingRe       = regexp.MustCompile(`^(#{1,6})[ \t]+(.+)$`)
	closingHashesRe = regexp.MustCompile(`[ \t]+#+$`)
)

// Heading is one ATX heading found in a document, with the line range of the
// region it opens. Lines are 0-indexed and inclusive.
type Heading struct {
	Level     int
	Title     string
	StartLine int
	EndLine   int
}

// SplitLines splits text into lines. A single trailing newline does not
// produce an extra empty line.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// ExtractHeadings scans lines for ATX headings in order of appearance.
// Each heading's EndLine is the line before the next heading of any level,
// or the last line of the document. Lines inside code blocks are ignored.
func ExtractHeadings(lines []string) []Heading {
	code := codeLines(lines)

	var out []Heading
	for i, line := range lines {
		if code[i] {
			continue
		}
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		title := strings.TrimSpace(closingHashesRe.ReplaceAllString(m[2], ""))
		if title == "" || strings.Trim(title, "#") == "" {
			continue
		}
		if n := len(out); n > 0 {
			out[n-1].EndLine = i - 1
		}
		out = append(out, Heading{
			Level:     len(m[1]),
			Title:     title,
			StartLine: i,
			EndLine:   len(lines) - 1,
		})
	}
	return out
}

// codeLines returns the set of line indexes that fall inside fenced or
// indented code blocks, so "# comment" lines in shell snippets are not
// taken for headings.
func codeLines(lines []string) map[int]bool {
	out := make(map[int]bool)
	if len(lines) == 0 {
		return out
	}
	src := []byte(strings.Join(lines, "\n"))

	starts := make([]int, 0, len(lines))
	starts = append(starts, 0)
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	lineOf := func(off int) int {
		return sort.SearchInts(starts, off+1) - 1
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			segs := n.Lines()
			for i := 0; i < segs.Len(); i++ {
				out[lineOf(segs.At(i).Start)] = true
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return out
}
