package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BusinessTracer creates spans for domain operations such as a full
// correlation analysis or a market data load.
type BusinessTracer struct {
	tracer trace.Tracer
}

// AnalysisOutcome is the summary recorded on a completed analysis span.
type AnalysisOutcome struct {
	AnalysisID       string
	SampleSize       int
	CorrelationLevel string
	StressLevel      string
	NoiseFraction    float64
	CacheHit         bool
}

func NewBusinessTracer() *BusinessTracer {
	return &BusinessTracer{tracer: GetBusinessTracer()}
}

// TraceAnalysis starts a span covering one analysis request.
func (bt *BusinessTracer) TraceAnalysis(ctx context.Context, tickers []string, start, end string, alpha float64) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "analysis.run", trace.WithAttributes(
		attribute.StringSlice("analysis.tickers", tickers),
		attribute.String("analysis.start", start),
		attribute.String("analysis.end", end),
		attribute.Float64("analysis.alpha", alpha),
	))
}

// RecordAnalysisOutcome attaches the inference summary to span.
func (bt *BusinessTracer) RecordAnalysisOutcome(span trace.Span, outcome AnalysisOutcome) {
	span.SetAttributes(
		attribute.String("analysis.id", outcome.AnalysisID),
		attribute.Int("analysis.sample_size", outcome.SampleSize),
		attribute.String("analysis.correlation_level", outcome.CorrelationLevel),
		attribute.String("analysis.stress_level", outcome.StressLevel),
		attribute.Float64("analysis.noise_fraction", outcome.NoiseFraction),
		attribute.Bool("analysis.cache_hit", outcome.CacheHit),
	)
	span.SetStatus(codes.Ok, "")
}

// TraceDataLoad starts a span for loading prices or sentiment from a store.
func (bt *BusinessTracer) TraceDataLoad(ctx context.Context, source string, tickers []string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "analysis.load."+source, trace.WithAttributes(
		attribute.String("data.source", source),
		attribute.Int("data.tickers", len(tickers)),
	))
}

// RecordDataLoad records how many rows a load returned.
func (bt *BusinessTracer) RecordDataLoad(span trace.Span, rows int) {
	span.SetAttributes(attribute.Int("data.rows", rows))
}
