package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/dgallion1/docgraph/internal/chunker"
	"github.com/dgallion1/docgraph/internal/graph"
	"github.com/dgallion1/docgraph/internal/pipeline"
	"github.com/dgallion1/docgraph/internal/retrieval"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
	cyanf  = color.New(color.FgCyan).SprintfFunc()
)

const snippetChars = 200

func renderReport(w io.Writer, path string, rep pipeline.Report) {
	verb := "built"
	if rep.Replaced {
		verb = "rebuilt"
	}
	fmt.Fprintf(w, "%s %s %s (%s)\n", green("✓"), verb, bold(rep.Document.Name), path)
	fmt.Fprintf(w, "  sections=%d edges=%d chunks=%d summarized=%d",
		rep.Sections, rep.Edges, rep.Chunks, rep.Summarized)
	if rep.Fallbacks > 0 {
		fmt.Fprintf(w, " %s", yellow(fmt.Sprintf("fallbacks=%d", rep.Fallbacks)))
	}
	if rep.Document.DocumentType != "" {
		fmt.Fprintf(w, " type=%s", rep.Document.DocumentType)
	}
	fmt.Fprintf(w, " in %s\n", rep.Duration.Round(time.Millisecond))
}

func renderFailure(w io.Writer, path string, err error) {
	fmt.Fprintf(w, "%s %s: %v\n", red("✗"), path, err)
}

func renderResults(w io.Writer, resp retrieval.Response) {
	fmt.Fprintf(w, "%s %s  %s\n", faint("mode"), bold(string(resp.Mode)), faint(fmt.Sprintf("%d results", len(resp.Results))))
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, yellow("no results"))
		return
	}
	for i, r := range resp.Results {
		title, _ := r.Metadata["title"].(string)
		fmt.Fprintf(w, "%2d. %s %s  %s\n", i+1, cyanf("[%.3f]", r.Score), bold(r.ID), title)
		if r.Content != nil {
			fmt.Fprintf(w, "    %s\n", faint(fmt.Sprintf("lines %d-%d, chunk %d/%d",
				r.Content.StartLine, r.Content.EndLine, r.Content.ChunkIndex+1, r.Content.TotalChunks)))
		}
		if h := r.Hybrid; h != nil {
			var rel []string
			if h.Parent != nil {
				rel = append(rel, "parent "+h.Parent.ID)
			}
			for _, c := range h.Children {
				rel = append(rel, "child "+c.ID)
			}
			if len(rel) > 0 {
				fmt.Fprintf(w, "    %s\n", faint(strings.Join(rel, ", ")))
			}
		}
		if x := r.Expansion; x != nil && x.BestNeighbor != "" {
			fmt.Fprintf(w, "    %s\n", faint(fmt.Sprintf("boost %.3f from %s", x.RelatedBoost, x.BestNeighbor)))
		}
		if text := strings.TrimSpace(r.Text); text != "" {
			fmt.Fprintf(w, "    %s\n", chunker.Truncate(strings.Join(strings.Fields(text), " "), snippetChars))
		}
	}
}

func renderNode(w io.Writer, indent string, n graph.Node) {
	fmt.Fprintf(w, "%s%s %s %s\n", indent, bold(n.ID), strings.Repeat("#", n.Level), n.Title)
	if n.Summary != "" {
		fmt.Fprintf(w, "%s  %s\n", indent, chunker.Truncate(n.Summary, snippetChars))
	}
}

func renderContext(w io.Writer, nc retrieval.NodeContext) {
	if nc.Parent != nil {
		fmt.Fprintln(w, faint("parent"))
		renderNode(w, "  ", *nc.Parent)
	}
	fmt.Fprintln(w, faint("section"))
	renderNode(w, "  ", nc.Node)
	fmt.Fprintf(w, "  %s\n", faint(fmt.Sprintf("document %s, lines %d-%d", nc.Node.DocumentName, nc.Node.StartLine, nc.Node.EndLine)))
	if len(nc.Children) > 0 {
		fmt.Fprintln(w, faint("children"))
		for _, c := range nc.Children {
			renderNode(w, "  ", c)
		}
	}
}

func renderCounts(w io.Writer, c graph.Counts) {
	fmt.Fprintf(w, "%s documents=%d sections=%d nodes=%d edges=%d\n",
		bold("graph"), c.Documents, c.Sections, c.Nodes(), c.Edges)
}
