package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dgallion1/docgraph/internal/llm"
	"github.com/dgallion1/docgraph/internal/retrieval"
)

type harness struct {
	inst   *Instruments
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})
	inst, err := New(tp, mp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{inst: inst, spans: spans, reader: reader}
}

// counter sums every data point of an int64 counter.
func (h *harness) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, not an int64 sum", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func (h *harness) span(t *testing.T, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range h.spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("no ended span %q", name)
	return nil
}

func TestGeneratorWrapper(t *testing.T) {
	h := newHarness(t)
	fail := errors.New("overloaded")
	calls := 0
	inner := llm.GeneratorFunc(func(_ context.Context, req llm.Request) (string, error) {
		calls++
		if calls == 2 {
			return "", fail
		}
		return "summary of " + req.Prompt, nil
	})
	g := WrapGenerator(inner, "anthropic", "claude-test", h.inst)

	out, err := g.Generate(context.Background(), llm.Request{Prompt: "triage"})
	if err != nil || out != "summary of triage" {
		t.Fatalf("Generate = %q, %v", out, err)
	}
	if _, err := g.Generate(context.Background(), llm.Request{Prompt: "x"}); !errors.Is(err, fail) {
		t.Fatalf("expected wrapped error, got %v", err)
	}

	if got := h.counter(t, "llm.requests"); got != 2 {
		t.Errorf("llm.requests = %d, want 2", got)
	}
	ended := h.spans.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Status().Code == codes.Error || ended[1].Status().Code != codes.Error {
		t.Errorf("unexpected span statuses %v / %v", ended[0].Status(), ended[1].Status())
	}
}

type fixedEmbedder struct{ err error }

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, f.err
}

func (f fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, f.err
}

func (fixedEmbedder) Dimensions() int { return 2 }

func TestEmbedderWrapper(t *testing.T) {
	h := newHarness(t)
	e := WrapEmbedder(fixedEmbedder{}, "embed-test", h.inst)
	ctx := context.Background()

	if _, err := e.Embed(ctx, "a"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	vecs, err := e.EmbedBatch(ctx, []string{"a", "b", "c"})
	if err != nil || len(vecs) != 3 {
		t.Fatalf("EmbedBatch = %d vectors, %v", len(vecs), err)
	}
	if e.Dimensions() != 2 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}
	if got := h.counter(t, "embedding.requests"); got != 2 {
		t.Errorf("embedding.requests = %d, want 2", got)
	}
	if got := h.counter(t, "embedding.texts"); got != 4 {
		t.Errorf("embedding.texts = %d, want 4", got)
	}
	h.span(t, "embedding.embed_batch")
}

type stubRetriever struct {
	resp retrieval.Response
	err  error
}

func (s stubRetriever) Retrieve(context.Context, retrieval.Query) (retrieval.Response, error) {
	return s.resp, s.err
}

func (s stubRetriever) NodeContext(context.Context, string, bool, bool) (retrieval.NodeContext, error) {
	return retrieval.NodeContext{}, s.err
}

func TestRetrieverWrapperRecordsSelectedMode(t *testing.T) {
	h := newHarness(t)
	inner := stubRetriever{resp: retrieval.Response{
		Mode:    retrieval.ModeSummary,
		Results: []retrieval.Result{{ID: "a"}, {ID: "b"}},
	}}
	r := WrapRetriever(inner, h.inst)

	resp, err := r.Retrieve(context.Background(), retrieval.Query{Text: "what is triage"})
	if err != nil || len(resp.Results) != 2 {
		t.Fatalf("Retrieve = %+v, %v", resp, err)
	}
	span := h.span(t, "retrieval.retrieve")
	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["retrieval.requested_mode"] != "automatic" || attrs["retrieval.mode"] != "summary" {
		t.Errorf("unexpected span attributes %v", attrs)
	}
	if attrs["retrieval.results"] != "2" {
		t.Errorf("results attribute = %q", attrs["retrieval.results"])
	}
	if got := h.counter(t, "retrieval.requests"); got != 1 {
		t.Errorf("retrieval.requests = %d, want 1", got)
	}
}

func TestRetrieverWrapperPassesErrors(t *testing.T) {
	h := newHarness(t)
	r := WrapRetriever(stubRetriever{err: retrieval.ErrEmptyQuery}, h.inst)
	if _, err := r.Retrieve(context.Background(), retrieval.Query{}); !errors.Is(err, retrieval.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := r.NodeContext(context.Background(), "x", true, true); !errors.Is(err, retrieval.ErrEmptyQuery) {
		t.Fatalf("expected passthrough error, got %v", err)
	}
	if s := h.span(t, "retrieval.node_context"); s.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", s.Status())
	}
}
