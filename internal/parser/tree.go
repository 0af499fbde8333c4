package parser

import (
	"github.com/dgallion1/docgraph/internal/doctree"
)

// BuildTree arranges headings into a section forest under a virtual level-0
// root. A heading's parent is the nearest preceding heading with a strictly
// smaller level, so skipped levels (an H3 right after an H1) are accepted.
// Section ids are assigned in document order as {prefix}_h{n}, where prefix
// is doc.SectionPrefix().
func BuildTree(doc doctree.Document, lines []string, headings []Heading) *doctree.Tree {
	root := &doctree.Section{ID: doc.ID, Title: doc.Name, Level: 0, StartLine: 0, EndLine: len(lines) - 1}
	tree := &doctree.Tree{Document: doc, Lines: lines, Root: root}

	prefix := doc.SectionPrefix()
	stack := []*doctree.Section{root}

	for i, h := range headings {
		node := &doctree.Section{
			ID:        doctree.SectionID(prefix, i+1),
			Title:     h.Title,
			Level:     h.Level,
			StartLine: h.StartLine,
			EndLine:   h.EndLine,
		}

		// Pop until the top can parent this level. The root is never popped.
		for len(stack) > 1 && stack[len(stack)-1].Level >= h.Level {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1]
		node.Parent = parent
		parent.Children = append(parent.Children, node)
		stack = append(stack, node)
	}
	return tree
}

// Parse is the full text → tree path: split lines, extract headings, build.
func Parse(doc doctree.Document, text string) *doctree.Tree {
	lines := SplitLines(text)
	return BuildTree(doc, lines, ExtractHeadings(lines))
}
