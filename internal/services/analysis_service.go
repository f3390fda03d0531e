package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/irfndi/correlation-regime-go/internal/analytics"
	"github.com/irfndi/correlation-regime-go/internal/cache"
	"github.com/irfndi/correlation-regime-go/internal/database"
	"github.com/irfndi/correlation-regime-go/internal/logging"
	"github.com/irfndi/correlation-regime-go/internal/metrics"
	"github.com/irfndi/correlation-regime-go/internal/models"
	"github.com/irfndi/correlation-regime-go/internal/telemetry"
)

const dateLayout = "2006-01-02"

// ErrDataSource wraps failures of the price or sentiment stores.
var ErrDataSource = errors.New("data source unavailable")

// PriceSource supplies aligned daily closes.
type PriceSource interface {
	LoadPrices(ctx context.Context, tickers []string, start, end time.Time) (*database.PriceWindow, error)
}

// SentimentSource supplies per-ticker sentiment scores and example headlines.
type SentimentSource interface {
	LoadSentiment(ctx context.Context, tickers []string, start, end time.Time) (map[string]models.TickerSentiment, error)
}

// ResultCache stores completed analyses.
type ResultCache interface {
	Get(ctx context.Context, key cache.AnalysisKey) (*models.AnalysisResult, bool, error)
	Set(ctx context.Context, key cache.AnalysisKey, result *models.AnalysisResult) (bool, error)
}

// StressAlerter is notified of every freshly computed analysis.
type StressAlerter interface {
	NotifyStress(ctx context.Context, result *models.AnalysisResult) error
}

// AnalysisRequest selects a basket and window. Zero dates fall back to the
// configured window ending today.
type AnalysisRequest struct {
	Tickers []string
	Start   time.Time
	End     time.Time
	Alpha   float64
}

type AnalysisServiceConfig struct {
	WindowDays  int
	EnableCache bool
	Breaker     BreakerConfig
}

// AnalysisService loads market data, runs the pipeline and caches results.
// Concurrent identical requests share one computation. Tickers are analysed
// in sorted order, so every request for a basket sees the same matrix layout.
type AnalysisService struct {
	prices    PriceSource
	sentiment SentimentSource
	cache     ResultCache
	alerter   StressAlerter
	pipeline  *analytics.Pipeline
	cfg       AnalysisServiceConfig
	logger    *logging.StandardLogger
	tracer    *telemetry.BusinessTracer
	group     singleflight.Group
	alerts    sync.WaitGroup
	now       func() time.Time

	priceBreaker     *SourceBreaker
	sentimentBreaker *SourceBreaker
}

// NewAnalysisService wires the service. resultCache and alerter may be nil.
func NewAnalysisService(
	prices PriceSource,
	sentiment SentimentSource,
	resultCache ResultCache,
	alerter StressAlerter,
	pipeline *analytics.Pipeline,
	cfg AnalysisServiceConfig,
	logger *logging.StandardLogger,
) *AnalysisService {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 365
	}
	return &AnalysisService{
		prices:    prices,
		sentiment: sentiment,
		cache:     resultCache,
		alerter:   alerter,
		pipeline:  pipeline,
		cfg:       cfg,
		logger:    logger,
		tracer:    telemetry.NewBusinessTracer(),
		now:       time.Now,

		priceBreaker:     NewSourceBreaker("prices", cfg.Breaker, logrus.StandardLogger()),
		sentimentBreaker: NewSourceBreaker("sentiment", cfg.Breaker, logrus.StandardLogger()),
	}
}

// Analyze returns the analysis for req, from cache when possible.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalysisRequest) (*models.AnalysisResult, error) {
	started := time.Now()
	req = s.normalize(req)
	key := cache.AnalysisKey{
		Tickers:    req.Tickers,
		Start:      req.Start.Format(dateLayout),
		End:        req.End.Format(dateLayout),
		Alpha:      req.Alpha,
		WindowDays: s.cfg.WindowDays,
	}

	ctx, span := s.tracer.TraceAnalysis(ctx, req.Tickers, key.Start, key.End, req.Alpha)
	defer span.End()
	log := s.logger.WithTickers(req.Tickers)

	if cached, ok := s.lookup(ctx, key); ok {
		s.tracer.RecordAnalysisOutcome(span, outcomeOf(cached, true))
		metrics.RecordAnalysis(cached.Inference.Stress.Level, cached.Inference.Correlation.Level, "cache", time.Since(started))
		return cached, nil
	}

	v, err, shared := s.group.Do(key.String(), func() (interface{}, error) {
		return s.compute(ctx, req, key)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		metrics.RecordAnalysisError(classify(err))
		if classify(err) == metrics.ErrorKindUser {
			log.Info("Analysis rejected", "error", err.Error())
		} else {
			log.Error("Analysis failed", "error", err.Error())
		}
		return nil, err
	}

	result := v.(*models.AnalysisResult)
	s.tracer.RecordAnalysisOutcome(span, outcomeOf(result, false))
	metrics.RecordAnalysis(result.Inference.Stress.Level, result.Inference.Correlation.Level, "computed", time.Since(started))
	if shared {
		s.logger.WithAnalysisID(result.AnalysisID).Debug("Analysis shared with concurrent request")
	}
	return result, nil
}

// BreakerStatus reports the data source breakers by source name.
func (s *AnalysisService) BreakerStatus() map[string]BreakerStatus {
	return map[string]BreakerStatus{
		"prices":    s.priceBreaker.Status(),
		"sentiment": s.sentimentBreaker.Status(),
	}
}

func (s *AnalysisService) normalize(req AnalysisRequest) AnalysisRequest {
	seen := make(map[string]struct{}, len(req.Tickers))
	tickers := make([]string, 0, len(req.Tickers))
	for _, t := range req.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	req.Tickers = tickers

	if req.End.IsZero() {
		req.End = s.now().UTC()
	}
	req.End = req.End.UTC().Truncate(24 * time.Hour)
	if req.Start.IsZero() {
		req.Start = req.End.AddDate(0, 0, -s.cfg.WindowDays)
	}
	req.Start = req.Start.UTC().Truncate(24 * time.Hour)
	return req
}

func (s *AnalysisService) lookup(ctx context.Context, key cache.AnalysisKey) (*models.AnalysisResult, bool) {
	if s.cache == nil || !s.cfg.EnableCache {
		return nil, false
	}
	cached, found, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordCacheLookup(metrics.CacheError)
		s.logger.WithOperation("cache_get").Warn("Analysis cache lookup failed", "error", err.Error())
		return nil, false
	case !found:
		metrics.RecordCacheLookup(metrics.CacheMiss)
		return nil, false
	default:
		metrics.RecordCacheLookup(metrics.CacheHit)
		return cached, true
	}
}

func (s *AnalysisService) compute(ctx context.Context, req AnalysisRequest, key cache.AnalysisKey) (*models.AnalysisResult, error) {
	if req.End.Before(req.Start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", analytics.ErrInsufficientData, key.End, key.Start)
	}
	if len(req.Tickers) < 2 {
		return nil, fmt.Errorf("%w: got %d", analytics.ErrEmptyBasket, len(req.Tickers))
	}
	if math.IsNaN(req.Alpha) || req.Alpha < 0 || req.Alpha > 1 {
		return nil, fmt.Errorf("%w: got %g", analytics.ErrInvalidAlpha, req.Alpha)
	}

	var (
		window    *database.PriceWindow
		sentiment map[string]models.TickerSentiment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loadCtx, span := s.tracer.TraceDataLoad(gctx, "prices", req.Tickers)
		defer span.End()
		var w *database.PriceWindow
		err := s.priceBreaker.Execute(loadCtx, func(ctx context.Context) error {
			var err error
			w, err = s.prices.LoadPrices(ctx, req.Tickers, req.Start, req.End)
			return err
		})
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("%w: load prices: %v", ErrDataSource, err)
		}
		s.tracer.RecordDataLoad(span, len(w.Dates))
		window = w
		return nil
	})
	g.Go(func() error {
		loadCtx, span := s.tracer.TraceDataLoad(gctx, "sentiment", req.Tickers)
		defer span.End()
		var out map[string]models.TickerSentiment
		err := s.sentimentBreaker.Execute(loadCtx, func(ctx context.Context) error {
			var err error
			out, err = s.sentiment.LoadSentiment(ctx, req.Tickers, req.Start, req.End)
			return err
		})
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("%w: load sentiment: %v", ErrDataSource, err)
		}
		s.tracer.RecordDataLoad(span, len(out))
		sentiment = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := make(analytics.SentimentVector, len(sentiment))
	examples := make(map[string][]models.NewsItem, len(sentiment))
	for ticker, ts := range sentiment {
		scores[ticker] = ts.Score
		if len(ts.Headlines) > 0 {
			examples[ticker] = ts.Headlines
		}
	}

	result, err := s.pipeline.Run(ctx, analytics.AnalysisInput{
		Tickers:   req.Tickers,
		Prices:    window.Closes,
		Sentiment: scores,
		Alpha:     req.Alpha,
		Examples:  examples,
		Start:     key.Start,
		End:       key.End,
	})
	if err != nil {
		return nil, err
	}

	if result.RMT != nil {
		metrics.RecordNoiseFraction(result.RMT.NoiseFraction)
	}
	s.logger.LogBusinessEvent("analysis_completed", map[string]interface{}{
		"analysis_id": result.AnalysisID,
		"tickers":     strings.Join(result.Tickers, ","),
		"sample_size": result.SampleSize,
		"correlation": result.Inference.Correlation.Level,
		"stress":      result.Inference.Stress.Level,
		"noise":       result.Inference.Noise.Level,
	})

	if s.cache != nil && s.cfg.EnableCache {
		if _, err := s.cache.Set(ctx, key, result); err != nil {
			s.logger.WithOperation("cache_set").Warn("Failed to cache analysis", "error", err.Error())
		}
	}
	if s.alerter != nil {
		s.alerts.Add(1)
		go s.notify(context.WithoutCancel(ctx), result)
	}
	return result, nil
}

// notify delivers a stress alert off the request path.
func (s *AnalysisService) notify(ctx context.Context, result *models.AnalysisResult) {
	defer s.alerts.Done()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.alerter.NotifyStress(ctx, result); err != nil {
		s.logger.WithAnalysisID(result.AnalysisID).Warn("Stress alert failed", "error", err.Error())
	}
}

// Close waits for alerts still being delivered.
func (s *AnalysisService) Close() {
	s.alerts.Wait()
}

func classify(err error) string {
	switch {
	case analytics.IsUserCorrectable(err):
		return metrics.ErrorKindUser
	case errors.Is(err, ErrDataSource):
		return metrics.ErrorKindDataSource
	default:
		return metrics.ErrorKindInternal
	}
}

func outcomeOf(result *models.AnalysisResult, cacheHit bool) telemetry.AnalysisOutcome {
	outcome := telemetry.AnalysisOutcome{
		AnalysisID:       result.AnalysisID,
		SampleSize:       result.SampleSize,
		CorrelationLevel: result.Inference.Correlation.Level,
		StressLevel:      result.Inference.Stress.Level,
		CacheHit:         cacheHit,
	}
	if result.RMT != nil {
		outcome.NoiseFraction = result.RMT.NoiseFraction
	}
	return outcome
}
