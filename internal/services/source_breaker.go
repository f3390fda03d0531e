package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrBreakerOpen is returned while a breaker is rejecting calls.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a SourceBreaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a SourceBreaker.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"` // consecutive failures before opening
	SuccessThreshold int           `json:"success_threshold"` // half-open successes needed to close
	OpenTimeout      time.Duration `json:"open_timeout"`      // time spent open before probing
}

// BreakerStatus is a point-in-time view of a breaker for health reporting.
type BreakerStatus struct {
	State string       `json:"state"`
	Stats BreakerStats `json:"stats"`
}

// BreakerStats counts calls seen by a SourceBreaker.
type BreakerStats struct {
	Calls        int64     `json:"calls"`
	Failures     int64     `json:"failures"`
	Rejected     int64     `json:"rejected"`
	StateChanges int64     `json:"state_changes"`
	LastFailure  time.Time `json:"last_failure"`
}

// SourceBreaker stops hammering a data store that keeps failing. Context
// cancellations count as neither failures nor successes.
type SourceBreaker struct {
	name     string
	cfg      BreakerConfig
	logger   *logrus.Logger
	now      func() time.Time
	mu       sync.Mutex
	state    BreakerState
	failures int
	trials   int
	openedAt time.Time
	stats    BreakerStats
}

// NewSourceBreaker creates a closed breaker. Zero config fields take defaults.
func NewSourceBreaker(name string, cfg BreakerConfig, logger *logrus.Logger) *SourceBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SourceBreaker{name: name, cfg: cfg, logger: logger, now: time.Now}
}

// Execute runs fn unless the breaker is open. The lock is not held while fn runs.
func (b *SourceBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrBreakerOpen
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *SourceBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Calls++
	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			b.stats.Rejected++
			b.logger.WithFields(logrus.Fields{
				"breaker":  b.name,
				"failures": b.failures,
			}).Warn("Data source breaker open, rejecting call")
			return false
		}
		b.transition(BreakerHalfOpen)
	}
	return true
}

func (b *SourceBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		return
	}
	if err == nil {
		b.failures = 0
		if b.state == BreakerHalfOpen {
			b.trials++
			if b.trials >= b.cfg.SuccessThreshold {
				b.transition(BreakerClosed)
			}
		}
		return
	}

	b.stats.Failures++
	b.stats.LastFailure = b.now()
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	}
}

func (b *SourceBreaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	b.logger.WithFields(logrus.Fields{
		"breaker": b.name,
		"from":    b.state.String(),
		"to":      to.String(),
	}).Info("Data source breaker state changed")
	b.state = to
	b.trials = 0
	b.stats.StateChanges++
}

// State returns the current state.
func (b *SourceBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the counters.
func (b *SourceBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Status returns the state and counters together.
func (b *SourceBreaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStatus{State: b.state.String(), Stats: b.stats}
}
