package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/irfndi/correlation-regime-go/internal/models"
)

const tracerName = "github.com/irfndi/correlation-regime-go/internal/analytics"

// AnalysisInput is everything one pipeline run needs. Prices must already be
// aligned on a common ascending date index.
type AnalysisInput struct {
	Tickers   []string
	Prices    map[string][]float64
	Sentiment SentimentVector
	Alpha     float64
	Examples  map[string][]models.NewsItem
	Start     string
	End       string
}

// PipelineConfig tunes the stages of a Pipeline.
type PipelineConfig struct {
	Denoise                 bool
	SymmetryTolerance       float64
	LowConfidenceSampleSize int
}

// Pipeline runs returns -> correlation -> {RMT, sentiment adjustment} -> inference.
// It holds no mutable state and is safe for concurrent use.
type Pipeline struct {
	cfg    PipelineConfig
	tracer trace.Tracer
}

// NewPipeline creates a pipeline using the global OpenTelemetry tracer provider.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.SymmetryTolerance <= 0 {
		cfg.SymmetryTolerance = DefaultSymmetryTolerance
	}
	if cfg.LowConfidenceSampleSize <= 0 {
		cfg.LowConfidenceSampleSize = DefaultLowConfidenceSampleSize
	}
	return &Pipeline{cfg: cfg, tracer: otel.Tracer(tracerName)}
}

// Run executes every stage for one request. RMT and sentiment adjustment run
// concurrently; inference waits for both.
func (p *Pipeline) Run(ctx context.Context, in AnalysisInput) (result *models.AnalysisResult, err error) {
	ctx, span := p.tracer.Start(ctx, "Pipeline.Run", trace.WithAttributes(
		attribute.StringSlice("analysis.tickers", in.Tickers),
		attribute.Float64("analysis.alpha", in.Alpha),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if len(in.Tickers) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrEmptyBasket, len(in.Tickers))
	}
	if math.IsNaN(in.Alpha) || in.Alpha < 0 || in.Alpha > 1 {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidAlpha, in.Alpha)
	}

	prices := make(map[string][]float64, len(in.Tickers))
	for _, ticker := range in.Tickers {
		series, ok := in.Prices[ticker]
		if !ok {
			return nil, fmt.Errorf("%w: no prices for %s", ErrInsufficientData, ticker)
		}
		prices[ticker] = series
	}

	returns, err := BuildReturns(prices)
	if err != nil {
		return nil, fmt.Errorf("build returns: %w", err)
	}

	corr, err := ComputeCorrelation(in.Tickers, returns)
	if err != nil {
		return nil, fmt.Errorf("compute correlation: %w", err)
	}
	sampleSize := corr.SampleSize
	span.SetAttributes(attribute.Int("analysis.sample_size", sampleSize))

	var (
		spectrum *models.EigenSpectrum
		adjusted *models.AdjustedCorrelation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, stage := p.tracer.Start(gctx, "Pipeline.RMT")
		defer stage.End()
		if err := gctx.Err(); err != nil {
			return err
		}
		opts := []RMTOption{WithSymmetryTolerance(p.cfg.SymmetryTolerance)}
		if p.cfg.Denoise {
			opts = append(opts, WithDenoise())
		}
		s, err := ComputeRMT(corr.Correlation, sampleSize, len(in.Tickers), opts...)
		if err != nil {
			return fmt.Errorf("compute rmt: %w", err)
		}
		spectrum = s
		return nil
	})
	g.Go(func() error {
		_, stage := p.tracer.Start(gctx, "Pipeline.SentimentAdjust")
		defer stage.End()
		if err := gctx.Err(); err != nil {
			return err
		}
		a, err := AdjustCorrelation(corr, in.Sentiment, in.Alpha, in.Examples)
		if err != nil {
			return fmt.Errorf("adjust correlation: %w", err)
		}
		adjusted = a
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	inference := ComputeInference(corr, adjusted, spectrum, in.Sentiment, sampleSize,
		WithLowConfidenceSampleSize(p.cfg.LowConfidenceSampleSize))
	span.SetAttributes(
		attribute.String("analysis.stress", inference.Stress.Level),
		attribute.String("analysis.correlation_level", inference.Correlation.Level),
	)

	return &models.AnalysisResult{
		AnalysisID:  uuid.NewString(),
		Tickers:     append([]string(nil), in.Tickers...),
		Start:       in.Start,
		End:         in.End,
		Alpha:       in.Alpha,
		SampleSize:  sampleSize,
		Correlation: corr,
		RMT:         spectrum,
		Adjusted:    adjusted,
		Inference:   inference,
		Predictions: ComputeTickerMetrics(prices, returns, in.Sentiment),
		GeneratedAt: time.Now().UTC(),
	}, nil
}
