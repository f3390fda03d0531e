package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAnalysis(t *testing.T) {
	before := testutil.ToFloat64(analysesTotal.WithLabelValues("stress", "high"))

	RecordAnalysis("stress", "high", "computed", 120*time.Millisecond)
	RecordAnalysis("stress", "high", "cache", time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(analysesTotal.WithLabelValues("stress", "high")))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(analysisDuration), 2)
}

func TestRecordAnalysisError(t *testing.T) {
	before := testutil.ToFloat64(analysisErrors.WithLabelValues(ErrorKindUser))
	RecordAnalysisError(ErrorKindUser)
	assert.Equal(t, before+1, testutil.ToFloat64(analysisErrors.WithLabelValues(ErrorKindUser)))
}

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(cacheLookups.WithLabelValues(CacheHit))
	misses := testutil.ToFloat64(cacheLookups.WithLabelValues(CacheMiss))

	RecordCacheLookup(CacheHit)
	RecordCacheLookup(CacheMiss)
	RecordCacheLookup(CacheMiss)

	assert.Equal(t, hits+1, testutil.ToFloat64(cacheLookups.WithLabelValues(CacheHit)))
	assert.Equal(t, misses+2, testutil.ToFloat64(cacheLookups.WithLabelValues(CacheMiss)))
}

func TestRecordNotificationAndNoise(t *testing.T) {
	before := testutil.ToFloat64(notifications.WithLabelValues("sent"))
	RecordNotification("sent")
	assert.Equal(t, before+1, testutil.ToFloat64(notifications.WithLabelValues("sent")))

	assert.NotPanics(t, func() { RecordNoiseFraction(0.6) })
	assert.Equal(t, 1, testutil.CollectAndCount(noiseFraction))
}
