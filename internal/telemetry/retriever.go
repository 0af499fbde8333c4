package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dgallion1/docgraph/internal/retrieval"
)

// Retriever wraps a retrieval.Retriever. The recorded mode is the one that
// actually ran, so automatic queries show up under their selected strategy.
type Retriever struct {
	inner retrieval.Retriever
	inst  *Instruments
}

var _ retrieval.Retriever = (*Retriever)(nil)

func WrapRetriever(inner retrieval.Retriever, inst *Instruments) *Retriever {
	return &Retriever{inner: inner, inst: inst}
}

func (r *Retriever) Retrieve(ctx context.Context, q retrieval.Query) (retrieval.Response, error) {
	requested := q.Mode
	if requested == "" {
		requested = retrieval.ModeAutomatic
	}
	ctx, span := r.inst.Tracer.Start(ctx, "retrieval.retrieve", trace.WithAttributes(
		AttrRetrievalRequested.String(string(requested)),
		AttrRetrievalTopK.Int(q.TopK),
		AttrRetrievalDocument.String(q.Filter.Document),
	))
	defer span.End()
	start := time.Now()

	resp, err := r.inner.Retrieve(ctx, q)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			AttrRetrievalMode.String(string(resp.Mode)),
			AttrRetrievalResults.Int(len(resp.Results)),
		)
		r.inst.RetrievalResults.Record(ctx, int64(len(resp.Results)),
			metric.WithAttributes(AttrRetrievalMode.String(string(resp.Mode))))
	}
	r.inst.Retrievals.Add(ctx, 1, metric.WithAttributes(
		AttrRetrievalMode.String(string(resp.Mode)),
		AttrStatus.String(status(err)),
	))
	r.inst.RetrievalDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrRetrievalMode.String(string(resp.Mode))))
	return resp, err
}

func (r *Retriever) NodeContext(ctx context.Context, id string, includeParent, includeChildren bool) (retrieval.NodeContext, error) {
	ctx, span := r.inst.Tracer.Start(ctx, "retrieval.node_context")
	defer span.End()
	nc, err := r.inner.NodeContext(ctx, id, includeParent, includeChildren)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return nc, err
}
