package providers

import (
	"context"
	"time"
)

// DefaultRetryBase is the first backoff delay for a retried request.
const DefaultRetryBase = time.Second

// DefaultRetryCap is the ceiling a backoff delay never exceeds, no matter
// how many attempts have elapsed.
const DefaultRetryCap = 30 * time.Second

// DefaultMaxRetries is the number of attempts (including the first) before
// giving up on a retryable error.
const DefaultMaxRetries = 5

// BaseProvider holds shared retry configuration for LLM providers.
type BaseProvider struct {
	name       string
	maxRetries int
	retryBase  time.Duration
	retryCap   time.Duration
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryBase
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		retryBase:  retryDelay,
		retryCap:   DefaultRetryCap,
	}
}

// Retry executes op with exponential backoff (base doubling each attempt,
// capped at retryCap) if isRetryable returns true for the error op produced.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	delay := b.retryBase
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
			if isRetryable == nil || !isRetryable(err) {
				return err
			}
			if attempt >= b.maxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > b.retryCap {
				delay = b.retryCap
			}
		}
	}
	return lastErr
}
