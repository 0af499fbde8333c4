package summarize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dgallion1/docgraph/internal/chunker"
)

const systemPrompt = `You summarize sections of structured reference documents for a retrieval index.

Rules:
- Write 2-4 sentences in a neutral, objective tone.
- Synthesize the section as a whole. Subsection summaries are given as context; do not restate them one by one.
- If the section mentions tables, figures, checklists or appendices, name each of them explicitly.
- Do not add facts that are not in the text.
- Respond with the summary only, no preamble.`

// maxPromptContent bounds the raw section text sent to the model.
const maxPromptContent = 12000

var (
	artifactRe  = regexp.MustCompile(`(?i)\b(table|figure|fig\.|appendix|annex|checklist)\s+([0-9]+(?:\.[0-9]+)*[a-z]?|[ivxlc]+\b|[a-z]\b)`)
	checkboxRe  = regexp.MustCompile(`(?m)^\s*[-*+]\s+\[[ xX]\]`)
	tableRowRe  = regexp.MustCompile(`(?m)^\s*\|.*\|\s*$`)
	tableRuleRe = regexp.MustCompile(`(?m)^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?\s*$`)
)

// referencedArtifacts lists tables, figures and checklists that the text
// mentions or contains, in order of first appearance.
func referencedArtifacts(text string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		k := strings.ToLower(s)
		if !seen[k] {
			seen[k] = true
			out = append(out, s)
		}
	}
	for _, m := range artifactRe.FindAllStringSubmatch(text, -1) {
		kind := strings.ToLower(strings.TrimSuffix(m[1], "."))
		if kind == "fig" {
			kind = "figure"
		}
		add(strings.ToUpper(kind[:1]) + kind[1:] + " " + m[2])
	}
	if tableRuleRe.MatchString(text) && len(tableRowRe.FindAllString(text, 2)) > 0 {
		add("an inline table")
	}
	if checkboxRe.MatchString(text) {
		add("an inline checklist")
	}
	return out
}

// childContext formats summarized children as "Subsection '{title}': {summary}"
// lines.
func childContext(children []childSummary) string {
	var sb strings.Builder
	for _, c := range children {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Subsection '%s': %s", c.title, c.summary)
	}
	return sb.String()
}

type childSummary struct {
	title   string
	summary string
}

func buildPrompt(docName, title, content, children string, artifacts []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document: %q\n", docName)
	fmt.Fprintf(&sb, "Section: %q\n", title)
	if len(artifacts) > 0 {
		sb.WriteString("Referenced artifacts to enumerate: ")
		sb.WriteString(strings.Join(artifacts, ", "))
		sb.WriteString("\n")
	}
	if children != "" {
		sb.WriteString("\nSubsection summaries (context):\n")
		sb.WriteString(children)
		sb.WriteString("\n")
	}
	sb.WriteString("\n---\n")
	if content == "" {
		sb.WriteString("(This section has no text of its own. Summarize it from its subsections.)")
	} else {
		sb.WriteString(chunker.Truncate(content, maxPromptContent))
	}
	return sb.String()
}
