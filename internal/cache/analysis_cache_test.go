package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/irfndi/correlation-regime-go/internal/models"
	"github.com/irfndi/correlation-regime-go/internal/testutil"
)

func newTestCache(t *testing.T, ttl time.Duration) (*AnalysisCache, *miniredis.Miniredis) {
	client, s := testutil.NewRedis(t)
	return NewAnalysisCache(client, ttl, testutil.Logger()), s
}

func sampleKey() AnalysisKey {
	return AnalysisKey{Tickers: []string{"MSFT", "AAPL"}, Start: "2024-01-01", End: "2024-06-30", Alpha: 0.3, WindowDays: 365}
}

func TestAnalysisKey_Canonical(t *testing.T) {
	a := sampleKey()
	b := AnalysisKey{Tickers: []string{" aapl", "msft"}, Start: "2024-01-01", End: "2024-06-30", Alpha: 0.3, WindowDays: 365}
	assert.Equal(t, a.String(), b.String())
	assert.Contains(t, a.String(), "analysis:")

	c := a
	c.Alpha = 0.5
	assert.NotEqual(t, a.String(), c.String())

	d := a
	d.End = "2024-07-01"
	assert.NotEqual(t, a.String(), d.String())
}

func TestAnalysisCache_MissThenHit(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	result, found, err := cache.Get(ctx, sampleKey())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, result)

	stored, err := cache.Set(ctx, sampleKey(), &models.AnalysisResult{AnalysisID: "first", Tickers: []string{"AAPL", "MSFT"}, SampleSize: 120})
	require.NoError(t, err)
	assert.True(t, stored)

	result, found, err = cache.Get(ctx, sampleKey())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "first", result.AnalysisID)
	assert.Equal(t, 120, result.SampleSize)

	stats := cache.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 50.0, stats.HitRate())
}

func TestAnalysisCache_WriteOnce(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	stored, err := cache.Set(ctx, sampleKey(), &models.AnalysisResult{AnalysisID: "first"})
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = cache.Set(ctx, sampleKey(), &models.AnalysisResult{AnalysisID: "second"})
	require.NoError(t, err)
	assert.False(t, stored)

	result, found, err := cache.Get(ctx, sampleKey())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "first", result.AnalysisID)
	assert.Equal(t, int64(1), cache.GetStats().Skipped)
}

func TestAnalysisCache_Expiry(t *testing.T) {
	cache, s := newTestCache(t, time.Minute)
	ctx := context.Background()

	_, err := cache.Set(ctx, sampleKey(), &models.AnalysisResult{AnalysisID: "first"})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, s.TTL(sampleKey().String()))

	s.FastForward(2 * time.Minute)
	_, found, err := cache.Get(ctx, sampleKey())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAnalysisCache_CorruptEntry(t *testing.T) {
	cache, s := newTestCache(t, time.Hour)
	require.NoError(t, s.Set(sampleKey().String(), "{not json"))

	result, found, err := cache.Get(context.Background(), sampleKey())
	assert.Error(t, err)
	assert.False(t, found)
	assert.Nil(t, result)
	assert.Equal(t, int64(1), cache.GetStats().Errors)
}

func TestAnalysisCache_RedisDown(t *testing.T) {
	cache, s := newTestCache(t, time.Hour)
	s.Close()

	_, found, err := cache.Get(context.Background(), sampleKey())
	assert.Error(t, err)
	assert.False(t, found)

	_, err = cache.Set(context.Background(), sampleKey(), &models.AnalysisResult{})
	assert.Error(t, err)
}

func TestAnalysisCache_Clear(t *testing.T) {
	cache, s := newTestCache(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, s.Set("unrelated", "keep"))

	for _, alpha := range []float64{0.1, 0.2, 0.3} {
		key := sampleKey()
		key.Alpha = alpha
		_, err := cache.Set(ctx, key, &models.AnalysisResult{AnalysisID: "x"})
		require.NoError(t, err)
	}

	n, err := cache.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, s.Exists("unrelated"))

	n, err = cache.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAnalysisCache_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	cache, _ := newTestCache(t, time.Hour)
	ctx := context.Background()
	_, _, err := cache.Get(ctx, sampleKey())
	require.NoError(t, err)
	_, err = cache.Set(ctx, sampleKey(), &models.AnalysisResult{AnalysisID: "traced"})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "cache.get", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Bool("cache.hit", false))
	assert.Equal(t, "cache.set", spans[1].Name())
	assert.Contains(t, spans[1].Attributes(), attribute.Bool("cache.stored", true))
}
