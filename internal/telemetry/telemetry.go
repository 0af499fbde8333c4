// Package telemetry instruments the LLM, embedding and retrieval paths with
// OpenTelemetry traces and metrics. Exporters are OTLP over HTTP and read the
// standard OTEL_EXPORTER_OTLP_* environment variables.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/dgallion1/docgraph/internal/telemetry"

// Instruments holds the tracer and metric instruments used by the wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	LLMRequests   metric.Int64Counter
	LLMDuration   metric.Float64Histogram
	EmbedRequests metric.Int64Counter
	EmbedTexts    metric.Int64Counter
	EmbedDuration metric.Float64Histogram

	Retrievals        metric.Int64Counter
	RetrievalDuration metric.Float64Histogram
	RetrievalResults  metric.Int64Histogram
}

// Init installs global trace and metric providers backed by OTLP HTTP
// exporters. The returned shutdown flushes and stops both providers.
func Init(ctx context.Context, serviceName string) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := New(tp, mp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return inst, shutdown, nil
}

// New builds instruments from explicit providers.
func New(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(scopeName)
	inst := &Instruments{Tracer: tp.Tracer(scopeName), Meter: meter}

	var err error
	if inst.LLMRequests, err = meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM generation request count"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if inst.LLMDuration, err = meter.Float64Histogram("llm.duration",
		metric.WithDescription("LLM generation duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if inst.EmbedRequests, err = meter.Int64Counter("embedding.requests",
		metric.WithDescription("Embedding request count"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if inst.EmbedTexts, err = meter.Int64Counter("embedding.texts",
		metric.WithDescription("Texts sent for embedding"),
		metric.WithUnit("{text}")); err != nil {
		return nil, err
	}
	if inst.EmbedDuration, err = meter.Float64Histogram("embedding.duration",
		metric.WithDescription("Embedding call duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if inst.Retrievals, err = meter.Int64Counter("retrieval.requests",
		metric.WithDescription("Retrieval request count"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	if inst.RetrievalDuration, err = meter.Float64Histogram("retrieval.duration",
		metric.WithDescription("Retrieval duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if inst.RetrievalResults, err = meter.Int64Histogram("retrieval.results",
		metric.WithDescription("Results returned per retrieval"),
		metric.WithUnit("{result}")); err != nil {
		return nil, err
	}
	return inst, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
