// Package retry decides whether a failed Job Store operation is worth repeating and how long to wait.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

// RetryPolicy defines retry logic.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait before attempt (starting from 1 for the first retry).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the maximum number of attempts, including the first.
	GetMaxAttempts() int
}

// NewPolicy creates the exponential backoff policy described by cfg.
func NewPolicy(cfg config.RetryConfig) RetryPolicy {
	p := &defaultRetryPolicy{
		maxAttempts:         cfg.MaxAttempts,
		initialInterval:     time.Duration(cfg.InitialInterval) * time.Millisecond,
		maxInterval:         time.Duration(cfg.MaxInterval) * time.Millisecond,
		factor:              cfg.Factor,
		retryableExceptions: cfg.RetryableExceptions,
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	if p.factor < 1 {
		p.factor = 1
	}
	return p
}

type defaultRetryPolicy struct {
	maxAttempts         int
	initialInterval     time.Duration
	maxInterval         time.Duration
	factor              float64
	retryableExceptions []string
}

func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry never retries caller-facing outcomes such as validation, conflict, invalid state and
// not found, even when flagged retryable. Otherwise the OscError flag or the configured list decides.
func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	switch exception.KindOf(err) {
	case exception.KindValidation, exception.KindConflict, exception.KindInvalidState, exception.KindNotFound:
		return false
	}
	if oe, ok := exception.As(err); ok && oe.IsRetryable() {
		return true
	}
	for _, typeName := range p.retryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

// GetBackoffInterval returns initial * factor^(attempt-1), capped at the max interval.
func (p *defaultRetryPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.initialInterval) * math.Pow(p.factor, float64(attempt-1)))
	if p.maxInterval > 0 && d > p.maxInterval {
		d = p.maxInterval
	}
	return d
}

// Do runs op until it succeeds, fails with a non-retryable error, or attempts are exhausted.
// onRetry, when non-nil, is called before each wait.
func Do(ctx context.Context, p RetryPolicy, op func() error, onRetry func(attempt int, err error)) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt >= p.GetMaxAttempts() || !p.ShouldRetry(err) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		timer := time.NewTimer(p.GetBackoffInterval(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

var _ RetryPolicy = (*defaultRetryPolicy)(nil)
