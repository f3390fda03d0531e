package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/irfndi/correlation-regime-go/internal/logging"
	"github.com/irfndi/correlation-regime-go/internal/models"
	"github.com/irfndi/correlation-regime-go/internal/telemetry"
)

const analysisPrefix = "analysis:"

// AnalysisKey identifies an analysis request independent of ticker order or case.
type AnalysisKey struct {
	Tickers    []string
	Start      string
	End        string
	Alpha      float64
	WindowDays int
}

// String returns the Redis key for k.
func (k AnalysisKey) String() string {
	tickers := make([]string, len(k.Tickers))
	for i, t := range k.Tickers {
		tickers[i] = strings.ToUpper(strings.TrimSpace(t))
	}
	sort.Strings(tickers)

	canonical := strings.Join([]string{
		strings.Join(tickers, ","),
		k.Start,
		k.End,
		strconv.FormatFloat(k.Alpha, 'f', 4, 64),
		strconv.Itoa(k.WindowDays),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return analysisPrefix + hex.EncodeToString(sum[:16])
}

// AnalysisCacheEntry is the stored envelope around a result.
type AnalysisCacheEntry struct {
	Result   *models.AnalysisResult `json:"result"`
	CachedAt time.Time              `json:"cached_at"`
}

// AnalysisCacheStats tracks cache performance
type AnalysisCacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Skipped int64 `json:"skipped"`
	Errors  int64 `json:"errors"`
}

// AnalysisCache stores analysis results in Redis. Entries are write-once: a
// result already stored under a key is never replaced before it expires.
type AnalysisCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.StandardLogger

	mu    sync.RWMutex
	stats AnalysisCacheStats
}

func NewAnalysisCache(redisClient *redis.Client, ttl time.Duration, logger *logging.StandardLogger) *AnalysisCache {
	return &AnalysisCache{redis: redisClient, ttl: ttl, logger: logger}
}

// Get returns the cached result for key. Redis and decode failures are
// reported as misses together with the error.
func (c *AnalysisCache) Get(ctx context.Context, key AnalysisKey) (*models.AnalysisResult, bool, error) {
	start := time.Now()
	cacheKey := key.String()
	ctx, span := telemetry.StartSpan(ctx, telemetry.GetCacheTracer(), "cache.get")
	defer span.End()
	telemetry.SetSpanAttributes(span, attribute.String("cache.key", cacheKey))

	data, err := c.redis.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		c.record(func(s *AnalysisCacheStats) { s.Misses++ })
		c.logger.LogCacheOperation("get", cacheKey, false, time.Since(start).Milliseconds())
		telemetry.SetSpanAttributes(span, attribute.Bool("cache.hit", false))
		return nil, false, nil
	}
	if err != nil {
		c.record(func(s *AnalysisCacheStats) { s.Misses++; s.Errors++ })
		telemetry.RecordError(span, err)
		return nil, false, fmt.Errorf("redis get %s: %w", cacheKey, err)
	}

	var entry AnalysisCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Result == nil {
		c.record(func(s *AnalysisCacheStats) { s.Misses++; s.Errors++ })
		if err == nil {
			err = errors.New("empty entry")
		}
		telemetry.RecordError(span, err)
		return nil, false, fmt.Errorf("decode cached analysis %s: %w", cacheKey, err)
	}

	c.record(func(s *AnalysisCacheStats) { s.Hits++ })
	c.logger.LogCacheOperation("get", cacheKey, true, time.Since(start).Milliseconds())
	telemetry.SetSpanAttributes(span, attribute.Bool("cache.hit", true))
	telemetry.SetSpanStatus(span, codes.Ok, "")
	return entry.Result, true, nil
}

// Set stores result under key unless an entry already exists. It reports
// whether this call wrote the entry.
func (c *AnalysisCache) Set(ctx context.Context, key AnalysisKey, result *models.AnalysisResult) (bool, error) {
	start := time.Now()
	cacheKey := key.String()
	ctx, span := telemetry.StartSpan(ctx, telemetry.GetCacheTracer(), "cache.set")
	defer span.End()
	telemetry.SetSpanAttributes(span, attribute.String("cache.key", cacheKey))

	data, err := json.Marshal(AnalysisCacheEntry{Result: result, CachedAt: time.Now().UTC()})
	if err != nil {
		c.record(func(s *AnalysisCacheStats) { s.Errors++ })
		return false, fmt.Errorf("encode analysis %s: %w", cacheKey, err)
	}

	stored, err := c.redis.SetNX(ctx, cacheKey, data, c.ttl).Result()
	if err != nil {
		c.record(func(s *AnalysisCacheStats) { s.Errors++ })
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("redis setnx %s: %w", cacheKey, err)
	}

	if stored {
		c.record(func(s *AnalysisCacheStats) { s.Sets++ })
	} else {
		c.record(func(s *AnalysisCacheStats) { s.Skipped++ })
	}
	c.logger.LogCacheOperation("set", cacheKey, !stored, time.Since(start).Milliseconds())
	telemetry.SetSpanAttributes(span, attribute.Bool("cache.stored", stored))
	return stored, nil
}

// Clear removes every cached analysis.
func (c *AnalysisCache) Clear(ctx context.Context) (int, error) {
	var keys []string
	iter := c.redis.Scan(ctx, 0, analysisPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("error scanning cache keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("error clearing cache: %w", err)
	}
	return len(keys), nil
}

// GetStats returns a snapshot of the counters.
func (c *AnalysisCache) GetStats() AnalysisCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// HitRate is hits over lookups in percent.
func (s AnalysisCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

func (c *AnalysisCache) record(update func(*AnalysisCacheStats)) {
	c.mu.Lock()
	update(&c.stats)
	c.mu.Unlock()
}
