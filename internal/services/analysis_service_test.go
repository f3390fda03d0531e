package services

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/correlation-regime-go/internal/analytics"
	"github.com/irfndi/correlation-regime-go/internal/cache"
	"github.com/irfndi/correlation-regime-go/internal/database"
	"github.com/irfndi/correlation-regime-go/internal/models"
)

type mockPriceSource struct{ mock.Mock }

func (m *mockPriceSource) LoadPrices(ctx context.Context, tickers []string, start, end time.Time) (*database.PriceWindow, error) {
	args := m.Called(ctx, tickers, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*database.PriceWindow), args.Error(1)
}

type mockSentimentSource struct{ mock.Mock }

func (m *mockSentimentSource) LoadSentiment(ctx context.Context, tickers []string, start, end time.Time) (map[string]models.TickerSentiment, error) {
	args := m.Called(ctx, tickers, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]models.TickerSentiment), args.Error(1)
}

type mockResultCache struct{ mock.Mock }

func (m *mockResultCache) Get(ctx context.Context, key cache.AnalysisKey) (*models.AnalysisResult, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.AnalysisResult), args.Bool(1), args.Error(2)
}

func (m *mockResultCache) Set(ctx context.Context, key cache.AnalysisKey, result *models.AnalysisResult) (bool, error) {
	args := m.Called(ctx, key, result)
	return args.Bool(0), args.Error(1)
}

type mockAlerter struct{ mock.Mock }

func (m *mockAlerter) NotifyStress(ctx context.Context, result *models.AnalysisResult) error {
	return m.Called(ctx, result).Error(0)
}

// factorWindow builds closes driven by one shared factor.
func factorWindow(tickers []string, days int, weight float64) *database.PriceWindow {
	rng := rand.New(rand.NewSource(3))
	window := &database.PriceWindow{Closes: make(map[string][]float64, len(tickers))}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		window.Dates = append(window.Dates, start.AddDate(0, 0, i))
	}
	factor := make([]float64, days)
	for i := range factor {
		factor[i] = rng.NormFloat64()
	}
	for _, ticker := range tickers {
		closes := make([]float64, days)
		closes[0] = 100
		for i := 1; i < days; i++ {
			r := 0.01 * (weight*factor[i] + (1-weight)*rng.NormFloat64())
			closes[i] = closes[i-1] * math.Exp(r)
		}
		window.Closes[ticker] = closes
	}
	return window
}

type serviceFixture struct {
	prices    *mockPriceSource
	sentiment *mockSentimentSource
	cache     *mockResultCache
	alerter   *mockAlerter
	service   *AnalysisService
}

func newServiceFixture(enableCache bool) *serviceFixture {
	f := &serviceFixture{
		prices:    &mockPriceSource{},
		sentiment: &mockSentimentSource{},
		cache:     &mockResultCache{},
		alerter:   &mockAlerter{},
	}
	f.service = NewAnalysisService(
		f.prices, f.sentiment, f.cache, f.alerter,
		analytics.NewPipeline(analytics.PipelineConfig{}),
		AnalysisServiceConfig{WindowDays: 90, EnableCache: enableCache},
		quietLogger(),
	)
	f.service.now = func() time.Time { return time.Date(2024, 6, 30, 15, 4, 5, 0, time.UTC) }
	return f
}

func TestAnalysisService_ComputesAndCaches(t *testing.T) {
	f := newServiceFixture(true)
	tickers := []string{"IWM", "QQQ", "SPY"}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)

	f.cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, nil).Once()
	f.prices.On("LoadPrices", mock.Anything, tickers, start, end).Return(factorWindow(tickers, 120, 0.8), nil).Once()
	f.sentiment.On("LoadSentiment", mock.Anything, tickers, start, end).Return(map[string]models.TickerSentiment{
		"SPY": {Ticker: "SPY", Score: 0.4, Headlines: []models.NewsItem{{Title: "Rally"}}},
		"QQQ": {Ticker: "QQQ", Score: 0.5},
	}, nil).Once()
	f.cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Once()
	f.alerter.On("NotifyStress", mock.Anything, mock.Anything).Return(nil).Once()

	result, err := f.service.Analyze(context.Background(), AnalysisRequest{
		Tickers: []string{"spy", " QQQ", "IWM", "SPY"},
		Start:   start,
		End:     end,
		Alpha:   0.3,
	})
	require.NoError(t, err)
	f.service.Close()

	assert.Equal(t, tickers, result.Tickers)
	assert.Equal(t, "2024-01-01", result.Start)
	assert.Equal(t, "2024-04-30", result.End)
	assert.Equal(t, 119, result.SampleSize)
	assert.NotEmpty(t, result.AnalysisID)
	require.NotNil(t, result.Adjusted)
	assert.Equal(t, 0.0, result.Adjusted.Sentiment["IWM"])
	assert.Contains(t, result.Adjusted.Examples, "SPY")
	assert.NotContains(t, result.Adjusted.Examples, "QQQ")

	key := f.cache.Calls[0].Arguments.Get(1).(cache.AnalysisKey)
	assert.Equal(t, 90, key.WindowDays)
	assert.Equal(t, 0.3, key.Alpha)

	f.prices.AssertExpectations(t)
	f.sentiment.AssertExpectations(t)
	f.cache.AssertExpectations(t)
	f.alerter.AssertExpectations(t)
}

func TestAnalysisService_CacheHitSkipsLoads(t *testing.T) {
	f := newServiceFixture(true)
	cached := &models.AnalysisResult{
		AnalysisID: "cached",
		Tickers:    []string{"GLD", "TLT"},
		Inference:  &models.InferenceResult{},
	}
	f.cache.On("Get", mock.Anything, mock.Anything).Return(cached, true, nil).Once()

	result, err := f.service.Analyze(context.Background(), AnalysisRequest{Tickers: []string{"GLD", "TLT"}, Alpha: 0.3})
	require.NoError(t, err)
	assert.Same(t, cached, result)
	f.prices.AssertNotCalled(t, "LoadPrices", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.alerter.AssertNotCalled(t, "NotifyStress", mock.Anything, mock.Anything)
}

func TestAnalysisService_DefaultWindow(t *testing.T) {
	f := newServiceFixture(false)
	tickers := []string{"GLD", "TLT"}
	wantEnd := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	wantStart := wantEnd.AddDate(0, 0, -90)

	f.prices.On("LoadPrices", mock.Anything, tickers, wantStart, wantEnd).Return(factorWindow(tickers, 60, 0.2), nil).Once()
	f.sentiment.On("LoadSentiment", mock.Anything, tickers, wantStart, wantEnd).Return(map[string]models.TickerSentiment{}, nil).Once()
	f.alerter.On("NotifyStress", mock.Anything, mock.Anything).Return(nil)

	result, err := f.service.Analyze(context.Background(), AnalysisRequest{Tickers: tickers, Alpha: 0})
	require.NoError(t, err)
	f.service.Close()
	assert.Equal(t, "2024-06-30", result.End)
	assert.Equal(t, wantStart.Format("2006-01-02"), result.Start)

	f.prices.AssertExpectations(t)
	f.cache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	f.cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestAnalysisService_RejectsBeforeLoading(t *testing.T) {
	tests := []struct {
		name string
		req  AnalysisRequest
		want error
	}{
		{"single ticker", AnalysisRequest{Tickers: []string{"SPY"}, Alpha: 0.3}, analytics.ErrEmptyBasket},
		{"duplicates collapse", AnalysisRequest{Tickers: []string{"spy", "SPY"}, Alpha: 0.3}, analytics.ErrEmptyBasket},
		{"alpha too large", AnalysisRequest{Tickers: []string{"SPY", "QQQ"}, Alpha: 1.5}, analytics.ErrInvalidAlpha},
		{"alpha nan", AnalysisRequest{Tickers: []string{"SPY", "QQQ"}, Alpha: math.NaN()}, analytics.ErrInvalidAlpha},
		{
			"end before start",
			AnalysisRequest{
				Tickers: []string{"SPY", "QQQ"},
				Start:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
				End:     time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
			},
			analytics.ErrInsufficientData,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newServiceFixture(false)
			_, err := f.service.Analyze(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, analytics.IsUserCorrectable(err))
			f.prices.AssertNotCalled(t, "LoadPrices", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAnalysisService_DataSourceFailure(t *testing.T) {
	f := newServiceFixture(false)
	f.prices.On("LoadPrices", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset")).Once()
	f.sentiment.On("LoadSentiment", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(map[string]models.TickerSentiment{}, nil).Maybe()

	_, err := f.service.Analyze(context.Background(), AnalysisRequest{Tickers: []string{"SPY", "QQQ"}, Alpha: 0.3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataSource)
	assert.False(t, analytics.IsUserCorrectable(err))
	assert.Equal(t, "data_source", classify(err))
}

func TestAnalysisService_CacheFailuresDoNotFailRequest(t *testing.T) {
	f := newServiceFixture(true)
	tickers := []string{"QQQ", "SPY"}
	f.cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, errors.New("redis down")).Once()
	f.cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis down")).Once()
	f.prices.On("LoadPrices", mock.Anything, tickers, mock.Anything, mock.Anything).Return(factorWindow(tickers, 80, 0.5), nil)
	f.sentiment.On("LoadSentiment", mock.Anything, tickers, mock.Anything, mock.Anything).Return(map[string]models.TickerSentiment{}, nil)
	f.alerter.On("NotifyStress", mock.Anything, mock.Anything).Return(errors.New("telegram down"))

	result, err := f.service.Analyze(context.Background(), AnalysisRequest{Tickers: []string{"SPY", "QQQ"}, Alpha: 0.3})
	require.NoError(t, err)
	f.service.Close()
	assert.Equal(t, tickers, result.Tickers)
	f.cache.AssertExpectations(t)
}

func TestAnalysisService_BreakerOpensOnRepeatedFailures(t *testing.T) {
	f := newServiceFixture(false)
	f.service.priceBreaker = NewSourceBreaker("prices", BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour}, quietLogrus())
	f.prices.On("LoadPrices", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused")).Times(2)
	f.sentiment.On("LoadSentiment", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(map[string]models.TickerSentiment{}, nil).Maybe()

	req := AnalysisRequest{Tickers: []string{"SPY", "QQQ"}, Alpha: 0.3}
	for i := 0; i < 3; i++ {
		_, err := f.service.Analyze(context.Background(), req)
		require.ErrorIs(t, err, ErrDataSource)
	}
	f.prices.AssertNumberOfCalls(t, "LoadPrices", 2)
	assert.Equal(t, BreakerOpen, f.service.priceBreaker.State())

	status := f.service.BreakerStatus()
	assert.Equal(t, "open", status["prices"].State)
	assert.Equal(t, int64(1), status["prices"].Stats.Rejected)
	assert.Equal(t, "closed", status["sentiment"].State)
}

func TestAnalysisService_TickerOrderIsCanonical(t *testing.T) {
	f := newServiceFixture(false)
	sorted := []string{"GLD", "SPY", "TLT"}
	f.prices.On("LoadPrices", mock.Anything, sorted, mock.Anything, mock.Anything).Return(factorWindow(sorted, 60, 0.5), nil).Twice()
	f.sentiment.On("LoadSentiment", mock.Anything, sorted, mock.Anything, mock.Anything).Return(map[string]models.TickerSentiment{}, nil).Twice()
	f.alerter.On("NotifyStress", mock.Anything, mock.Anything).Return(nil)

	first, err := f.service.Analyze(context.Background(), AnalysisRequest{Tickers: []string{"TLT", "GLD", "SPY"}, Alpha: 0.3})
	require.NoError(t, err)
	second, err := f.service.Analyze(context.Background(), AnalysisRequest{Tickers: []string{"spy", "tlt", "gld"}, Alpha: 0.3})
	require.NoError(t, err)
	f.service.Close()

	assert.Equal(t, sorted, first.Tickers)
	assert.Equal(t, sorted, second.Tickers)
	assert.Equal(t, sorted, first.Correlation.Tickers)
	assert.Equal(t, first.Correlation.Correlation, second.Correlation.Correlation)
	f.prices.AssertExpectations(t)
}

func TestAnalysisService_SlowAlertDoesNotBlock(t *testing.T) {
	f := newServiceFixture(false)
	tickers := []string{"QQQ", "SPY"}
	f.prices.On("LoadPrices", mock.Anything, tickers, mock.Anything, mock.Anything).Return(factorWindow(tickers, 60, 0.5), nil)
	f.sentiment.On("LoadSentiment", mock.Anything, tickers, mock.Anything, mock.Anything).Return(map[string]models.TickerSentiment{}, nil)

	release := make(chan struct{})
	alertErr := make(chan error, 1)
	f.alerter.On("NotifyStress", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-release
		alertErr <- args.Get(0).(context.Context).Err()
	}).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	result, err := f.service.Analyze(ctx, AnalysisRequest{Tickers: tickers, Alpha: 0.3})
	require.NoError(t, err)
	require.NotNil(t, result)
	cancel()

	close(release)
	f.service.Close()
	assert.NoError(t, <-alertErr, "alert context outlives the request")
	f.alerter.AssertExpectations(t)
}
