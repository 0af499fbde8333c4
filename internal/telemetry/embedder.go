package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgallion1/docgraph/internal/embedding"
)

// Embedder wraps an embedding.Embedder. Embed and EmbedBatch both record
// one request.
type Embedder struct {
	inner embedding.Embedder
	inst  *Instruments
	model string
}

var _ embedding.Embedder = (*Embedder)(nil)

func WrapEmbedder(inner embedding.Embedder, model string, inst *Instruments) *Embedder {
	return &Embedder{inner: inner, inst: inst, model: model}
}

func (e *Embedder) Dimensions() int { return e.inner.Dimensions() }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, done := e.observe(ctx, "embedding.embed", 1)
	vec, err := e.inner.Embed(ctx, text)
	done(err)
	return vec, err
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, done := e.observe(ctx, "embedding.embed_batch", len(texts))
	vecs, err := e.inner.EmbedBatch(ctx, texts)
	done(err)
	return vecs, err
}

func (e *Embedder) observe(ctx context.Context, name string, n int) (context.Context, func(error)) {
	ctx, span := e.inst.Tracer.Start(ctx, name, trace.WithAttributes(
		AttrLLMModel.String(e.model),
		AttrEmbedTextCount.Int(n),
	))
	start := time.Now()
	return ctx, func(err error) {
		defer span.End()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(AttrEmbedDimensions.Int(e.inner.Dimensions()))
		}
		e.inst.EmbedRequests.Add(ctx, 1, metric.WithAttributes(
			AttrLLMModel.String(e.model),
			AttrStatus.String(status(err)),
		))
		e.inst.EmbedTexts.Add(ctx, int64(n), metric.WithAttributes(AttrLLMModel.String(e.model)))
		e.inst.EmbedDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(AttrLLMModel.String(e.model)))
	}
}
