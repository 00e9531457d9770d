package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		MaxElapsedTime:  time.Second,
	}
}

func TestNewPolicyFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig().Retry()
	p := NewPolicy(cfg)
	assert.Equal(t, cfg.MaxAttempts, p.MaxAttempts)
	assert.Equal(t, cfg.InitialInterval, p.InitialInterval)
	require.NotNil(t, p.Retryable)
	assert.True(t, p.Retryable(schemas.ErrStaleLocator))
}

func TestDo(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		var waits []int
		attempts, err := fastPolicy(3).Do(context.Background(), func(attempt int) error {
			if attempt < 3 {
				return fmt.Errorf("click: %w", schemas.ErrElementNotInteractable)
			}
			return nil
		}, func(err error, attempt int, wait time.Duration) {
			waits = append(waits, attempt)
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, []int{1, 2}, waits)
	})

	t.Run("fails fast on non-transient errors", func(t *testing.T) {
		attempts, err := fastPolicy(5).Do(context.Background(), func(int) error {
			return fmt.Errorf("click: %w", schemas.ErrElementNotFound)
		}, nil)
		assert.ErrorIs(t, err, schemas.ErrElementNotFound)
		assert.Equal(t, 1, attempts)
	})

	t.Run("does not retry timeouts", func(t *testing.T) {
		attempts, err := fastPolicy(5).Do(context.Background(), func(int) error {
			return fmt.Errorf("click: %w", context.DeadlineExceeded)
		}, nil)
		assert.True(t, schemas.IsTimeout(err))
		assert.Equal(t, 1, attempts)
	})

	t.Run("stops when the budget is spent", func(t *testing.T) {
		p := fastPolicy(3)
		attempts, err := p.Do(context.Background(), func(int) error {
			return schemas.ErrNavigationPending
		}, nil)
		assert.ErrorIs(t, err, schemas.ErrNavigationPending)
		assert.Equal(t, 3, attempts)
		assert.True(t, p.Exhausted(attempts, err))
	})

	t.Run("honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := fastPolicy(10)
		p.InitialInterval = time.Hour
		p.MaxInterval = time.Hour
		attempts, err := p.Do(ctx, func(int) error { return schemas.ErrStaleLocator }, nil)
		assert.Error(t, err)
		assert.LessOrEqual(t, attempts, 1)
		assert.False(t, p.Exhausted(attempts, context.Canceled))
	})

	t.Run("custom predicate", func(t *testing.T) {
		flaky := errors.New("flaky")
		p := fastPolicy(2)
		p.Retryable = func(err error) bool { return errors.Is(err, flaky) }
		attempts, _ := p.Do(context.Background(), func(int) error { return flaky }, nil)
		assert.Equal(t, 2, attempts)
	})

	t.Run("zero attempts still runs once", func(t *testing.T) {
		attempts, err := fastPolicy(0).Do(context.Background(), func(int) error { return nil }, nil)
		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})
}
