// Package llm is the text-generation client used for section summaries and
// structured (JSON) extraction.
package llm

import (
	"context"
	"errors"
)

// ErrMalformedOutput is returned when structured output cannot be parsed or
// salvaged after all attempts.
var ErrMalformedOutput = errors.New("llm: malformed structured output")

// Request is one generation call.
type Request struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
