package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	"github.com/tigerroll/mysqler/pkg/osc/core/retry"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

func testPolicy() retry.RetryPolicy {
	return retry.NewPolicy(config.RetryConfig{
		MaxAttempts:         3,
		InitialInterval:     1,
		MaxInterval:         3,
		Factor:              2,
		RetryableExceptions: []string{exception.OptimisticLockingFailureException},
	})
}

func TestShouldRetry(t *testing.T) {
	p := testPolicy()

	assert.False(t, p.ShouldRetry(nil))
	assert.True(t, p.ShouldRetry(exception.NewStorageError("store", "down", errors.New("conn reset"), true)))
	assert.False(t, p.ShouldRetry(exception.NewStorageError("store", "bad row", nil, false)))
	assert.True(t, p.ShouldRetry(exception.NewOptimisticLockingFailure("store", "stale")))
	assert.False(t, p.ShouldRetry(exception.NewConflictError("store", "j1", "running")), "conflicts are flagged retryable but never repeated")
	assert.False(t, p.ShouldRetry(exception.NewValidationError("store", "id", "bad")))
	assert.False(t, p.ShouldRetry(errors.New("plain")))
}

func TestBackoffIsExponentialAndCapped(t *testing.T) {
	p := testPolicy()
	assert.Equal(t, 1*time.Millisecond, p.GetBackoffInterval(1))
	assert.Equal(t, 2*time.Millisecond, p.GetBackoffInterval(2))
	assert.Equal(t, 3*time.Millisecond, p.GetBackoffInterval(3))
}

func TestDo(t *testing.T) {
	p := testPolicy()
	transient := exception.NewStorageError("store", "down", nil, true)

	calls := 0
	err := retry.Do(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	retries := 0
	err = retry.Do(context.Background(), p, func() error {
		calls++
		return transient
	}, func(int, error) { retries++ })
	assert.Equal(t, transient, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)

	calls = 0
	err = retry.Do(context.Background(), p, func() error {
		calls++
		return exception.NewValidationError("store", "x", "bad")
	}, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
