package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgallion1/docgraph/internal/llm"
)

// Generator wraps an llm.Generator with a span and request metrics.
type Generator struct {
	inner    llm.Generator
	inst     *Instruments
	model    string
	provider string
}

var _ llm.Generator = (*Generator)(nil)

func WrapGenerator(inner llm.Generator, provider, model string, inst *Instruments) *Generator {
	return &Generator{inner: inner, inst: inst, model: model, provider: provider}
}

func (g *Generator) Generate(ctx context.Context, req llm.Request) (string, error) {
	ctx, span := g.inst.Tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		AttrLLMModel.String(g.model),
		AttrLLMProvider.String(g.provider),
		AttrPromptChars.Int(len(req.Prompt)),
	))
	defer span.End()
	start := time.Now()

	out, err := g.inner.Generate(ctx, req)

	ms := float64(time.Since(start).Milliseconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(AttrOutputChars.Int(len(out)))
	}
	g.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(g.model),
		AttrStatus.String(status(err)),
	))
	g.inst.LLMDuration.Record(ctx, ms, metric.WithAttributes(AttrLLMModel.String(g.model)))
	return out, err
}
