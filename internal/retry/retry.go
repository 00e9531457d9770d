// Package retry holds the single retry policy used for browser actions. The
// executor retries transient failures with it and the stale-locator
// re-resolution draws from the same attempt budget.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xkilldash9x/stepdriver/api/schemas"
	"github.com/xkilldash9x/stepdriver/internal/config"
)

// jitter keeps concurrent sessions from retrying in lockstep.
const jitter = 0.2

// Policy describes how often and how fast an operation is retried.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
	// Retryable decides whether an error is worth another attempt. Defaults
	// to schemas.IsTransient.
	Retryable func(error) bool
}

// NewPolicy builds a policy from configuration.
func NewPolicy(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      cfg.Multiplier,
		MaxElapsedTime:  cfg.MaxElapsedTime,
		Retryable:       schemas.IsTransient,
	}
}

// Notify is called before each wait with the error that triggered it.
type Notify func(err error, attempt int, wait time.Duration)

// Do runs op until it succeeds, returns a non-retryable error, the attempt
// budget is spent or ctx ends. op receives the 1-based attempt number. Do
// returns the number of attempts made alongside the final error.
func (p Policy) Do(ctx context.Context, op func(attempt int) error, notify Notify) (int, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = schemas.IsTransient
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := op(attempts)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, wait time.Duration) { notify(err, attempts, wait) }
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx, maxAttempts), onRetry)
	return attempts, err
}

// Exhausted reports whether err is what remains after the budget ran out,
// as opposed to a permanent failure or a cancelled context.
func (p Policy) Exhausted(attempts int, err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return attempts >= p.MaxAttempts
}

func (p Policy) backOff(ctx context.Context, maxAttempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.MaxElapsedTime = p.MaxElapsedTime
	b.RandomizationFactor = jitter
	if b.InitialInterval <= 0 {
		b.InitialInterval = 100 * time.Millisecond
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
}
