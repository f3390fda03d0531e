package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogrus() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSourceBreaker_Defaults(t *testing.T) {
	b := NewSourceBreaker("prices", BreakerConfig{}, nil)
	assert.Equal(t, 5, b.cfg.FailureThreshold)
	assert.Equal(t, 1, b.cfg.SuccessThreshold)
	assert.Equal(t, 30*time.Second, b.cfg.OpenTimeout)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestSourceBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewSourceBreaker("prices", BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute}, quietLogrus())
	boom := errors.New("connection refused")
	fail := func(context.Context) error { return boom }

	assert.ErrorIs(t, b.Execute(context.Background(), fail), boom)
	assert.Equal(t, BreakerClosed, b.State())
	assert.ErrorIs(t, b.Execute(context.Background(), fail), boom)
	assert.Equal(t, BreakerOpen, b.State())

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)

	stats := b.Stats()
	assert.Equal(t, int64(3), stats.Calls)
	assert.Equal(t, int64(2), stats.Failures)
	assert.Equal(t, int64(1), stats.Rejected)
}

func TestSourceBreaker_SuccessResetsStreak(t *testing.T) {
	b := NewSourceBreaker("sentiment", BreakerConfig{FailureThreshold: 2}, quietLogrus())
	fail := func(context.Context) error { return errors.New("timeout") }
	ok := func(context.Context) error { return nil }

	require.Error(t, b.Execute(context.Background(), fail))
	require.NoError(t, b.Execute(context.Background(), ok))
	require.Error(t, b.Execute(context.Background(), fail))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestSourceBreaker_CancellationIsNotAFailure(t *testing.T) {
	b := NewSourceBreaker("prices", BreakerConfig{FailureThreshold: 1}, quietLogrus())
	err := b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestSourceBreaker_CancellationKeepsFailureStreak(t *testing.T) {
	b := NewSourceBreaker("prices", BreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute}, quietLogrus())
	fail := func(context.Context) error { return errors.New("down") }
	cancelled := func(context.Context) error { return context.Canceled }

	require.Error(t, b.Execute(context.Background(), fail))
	require.Error(t, b.Execute(context.Background(), cancelled))
	require.Error(t, b.Execute(context.Background(), fail))
	require.Error(t, b.Execute(context.Background(), cancelled))
	assert.Equal(t, BreakerClosed, b.State())

	require.Error(t, b.Execute(context.Background(), fail))
	assert.Equal(t, BreakerOpen, b.State())
}

func TestSourceBreaker_CancelledHalfOpenCallDoesNotClose(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewSourceBreaker("prices", BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute}, quietLogrus())
	b.now = func() time.Time { return now }

	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return errors.New("down") }))
	require.Equal(t, BreakerOpen, b.State())

	now = now.Add(2 * time.Minute)
	err := b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BreakerHalfOpen, b.State())

	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestSourceBreaker_HalfOpenTrial(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewSourceBreaker("prices", BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute}, quietLogrus())
	b.now = func() time.Time { return now }

	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return errors.New("down") }))
	require.Equal(t, BreakerOpen, b.State())

	now = now.Add(2 * time.Minute)
	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return errors.New("still down") }))
	assert.Equal(t, BreakerOpen, b.State(), "failed trial reopens")

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestSourceBreaker_Status(t *testing.T) {
	b := NewSourceBreaker("prices", BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour}, quietLogrus())
	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return errors.New("down") }))

	status := b.Status()
	assert.Equal(t, "open", status.State)
	assert.Equal(t, int64(1), status.Stats.Failures)
	assert.Equal(t, int64(1), status.Stats.StateChanges)
}

func TestSourceBreaker_ConcurrentCalls(t *testing.T) {
	b := NewSourceBreaker("prices", BreakerConfig{FailureThreshold: 1000}, quietLogrus())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(context.Context) error {
				if i%2 == 0 {
					return errors.New("flaky")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(50), b.Stats().Calls)
	assert.Equal(t, int64(25), b.Stats().Failures)
}
