package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dgallion1/docgraph/internal/chunker"
	"github.com/dgallion1/docgraph/internal/llm"
)

const classifySystemPrompt = `You classify documents for a document knowledge graph. Reply with a single JSON object and nothing else.`

// Classifier asks the LLM for a document type drawn from a fixed list.
type Classifier struct {
	gen      llm.Generator
	types    []string
	schema   string
	attempts int
	log      *slog.Logger
}

type classification struct {
	DocumentType string  `json:"document_type"`
	Confidence   float64 `json:"confidence"`
}

func NewClassifier(gen llm.Generator, types []string, log *slog.Logger) *Classifier {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"document_type": map[string]any{"type": "string", "enum": types},
			"confidence":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required": []string{"document_type"},
	})
	return &Classifier{gen: gen, types: types, schema: string(schema), attempts: 2, log: log}
}

// Classify returns one of the configured types for the document text.
func (c *Classifier) Classify(ctx context.Context, name, text string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document: %q\n", name)
	fmt.Fprintf(&sb, "Allowed document types: %s\n\n", strings.Join(c.types, ", "))
	sb.WriteString(`Return {"document_type": "<one allowed type>", "confidence": <0..1>}.`)
	sb.WriteString("\n\nDocument excerpt:\n")
	sb.WriteString(chunker.Truncate(text, 4000))

	var out classification
	err := llm.GenerateJSON(ctx, c.gen, llm.Request{
		Prompt:      sb.String(),
		System:      classifySystemPrompt,
		Temperature: 0,
		MaxTokens:   100,
	}, c.schema, c.attempts, &out)
	if err != nil {
		return "", fmt.Errorf("classify %s: %w", name, err)
	}
	if !slices.Contains(c.types, out.DocumentType) {
		return "", fmt.Errorf("classify %s: unexpected type %q", name, out.DocumentType)
	}
	c.log.Info("document classified", "doc", name, "document_type", out.DocumentType, "confidence", out.Confidence)
	return out.DocumentType, nil
}
