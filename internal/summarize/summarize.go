// Package summarize generates section summaries bottom-up: every section is
// summarized after all of its descendants, using their summaries as context.
package summarize

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dgallion1/docgraph/internal/chunker"
	"github.com/dgallion1/docgraph/internal/doctree"
	"github.com/dgallion1/docgraph/internal/llm"
)

// Config controls generation and the fallback used when generation fails.
type Config struct {
	Temperature       float64
	MaxTokens         int
	FallbackSentences int
	FallbackChars     int
}

func DefaultConfig() Config {
	return Config{
		Temperature:       0.2,
		MaxTokens:         300,
		FallbackSentences: 3,
		FallbackChars:     300,
	}
}

// Result counts what happened during one Summarize call.
type Result struct {
	Summarized int
	Fallbacks  int
	Skipped    int
}

// Summarizer fills Section.Summary across a tree.
type Summarizer struct {
	gen llm.Generator
	log *slog.Logger
	cfg Config
}

func New(gen llm.Generator, log *slog.Logger, cfg Config) *Summarizer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if cfg.FallbackSentences <= 0 {
		cfg.FallbackSentences = 3
	}
	if cfg.FallbackChars <= 0 {
		cfg.FallbackChars = 300
	}
	return &Summarizer{gen: gen, log: log, cfg: cfg}
}

type frame struct {
	node     *doctree.Section
	expanded bool
}

// Summarize walks the tree in post-order with an explicit stack. The virtual
// root is never summarized. Generation failures fall back to the leading
// sentences of the section and never abort the walk; only context
// cancellation does.
func (s *Summarizer) Summarize(ctx context.Context, tree *doctree.Tree) (Result, error) {
	var res Result
	if tree.Root == nil {
		return res, nil
	}
	log := s.log.With("doc", tree.Document.Name)

	stack := []frame{{node: tree.Root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if !top.expanded {
			top.expanded = true
			kids := top.node.Children
			// Reverse push keeps siblings in document order.
			for i := len(kids) - 1; i >= 0; i-- {
				stack = append(stack, frame{node: kids[i]})
			}
			continue
		}
		node := top.node
		stack = stack[:len(stack)-1]
		if node.IsRoot() {
			continue
		}

		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch s.summarizeNode(ctx, log, tree, node) {
		case outcomeGenerated:
			res.Summarized++
		case outcomeFallback:
			res.Summarized++
			res.Fallbacks++
		case outcomeSkipped:
			res.Skipped++
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	log.Info("summarization complete", "summarized", res.Summarized, "fallbacks", res.Fallbacks, "skipped", res.Skipped)
	return res, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeGenerated
	outcomeFallback
)

func (s *Summarizer) summarizeNode(ctx context.Context, log *slog.Logger, tree *doctree.Tree, node *doctree.Section) outcome {
	if !tree.ValidRange(node) {
		log.Warn("invalid line range, skipping summary", "node", node.ID, "start", node.StartLine, "end", node.EndLine)
		return outcomeSkipped
	}

	content := tree.Body(node)
	var kids []childSummary
	for _, c := range node.Children {
		if c.Summary != "" {
			kids = append(kids, childSummary{title: c.Title, summary: c.Summary})
		}
	}
	children := childContext(kids)
	if content == "" && children == "" {
		return outcomeSkipped
	}

	prompt := buildPrompt(tree.Document.Name, node.Title, content, children, referencedArtifacts(content))
	summary, err := s.gen.Generate(ctx, llm.Request{
		Prompt:      prompt,
		System:      systemPrompt,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	summary = strings.TrimSpace(summary)
	if err == nil && summary != "" {
		node.Summary = summary
		return outcomeGenerated
	}

	source := content
	if source == "" {
		source = children
	}
	node.Summary = Fallback(source, s.cfg.FallbackSentences, s.cfg.FallbackChars)
	log.Warn("summary generation failed, using fallback", "node", node.ID, "error", err)
	if node.Summary == "" {
		return outcomeSkipped
	}
	return outcomeFallback
}

// Fallback returns the first n sentences of text, whitespace-collapsed and
// truncated to maxChars.
func Fallback(text string, n, maxChars int) string {
	text = strings.Join(strings.Fields(text), " ")
	sentences := chunker.SplitSentences(text)
	if len(sentences) > n {
		sentences = sentences[:n]
	}
	return chunker.Truncate(strings.Join(sentences, " "), maxChars)
}
