package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/aluiziolira/go-scrape-catalog/config"
)

// errNoResult is reported when every attempt succeeded at the transport level
// but none produced a usable result.
var errNoResult = errors.New("no usable result")

// RetryPolicy bounds how often one unit of work is attempted. The same policy
// drives categories, listing pages and product details.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	BackoffMax  time.Duration
}

// NewRetryPolicy derives the policy from configuration.
func NewRetryPolicy(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.RetryBackoff,
		BackoffMax:  cfg.RetryBackoffMax,
	}
}

// attemptFunc runs one attempt; attempt starts at 1.
type attemptFunc[T any] func(attempt int) (T, error)

// runWithRetry executes fn until it yields a result that unusable rejects, an
// error that is not retryable, or the attempt budget runs out. It returns the
// number of attempts made and, on failure, the error of the last attempt.
func runWithRetry[T any](ctx context.Context, policy RetryPolicy, unusable func(T) bool, fn attemptFunc[T]) (T, int, error) {
	maxRetries := policy.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}

	builder := retrypolicy.NewBuilder[T]().
		HandleIf(func(result T, err error) bool {
			if err != nil {
				return retryable(err)
			}
			return unusable != nil && unusable(result)
		}).
		WithMaxRetries(maxRetries)
	switch {
	case policy.Backoff > 0 && policy.BackoffMax > policy.Backoff:
		builder = builder.WithBackoff(policy.Backoff, policy.BackoffMax).WithJitterFactor(0.1)
	case policy.Backoff > 0:
		builder = builder.WithDelay(policy.Backoff)
	}

	var (
		attempts int
		lastErr  error
	)
	result, err := failsafe.With(builder.Build()).WithContext(ctx).Get(func() (T, error) {
		attempts++
		res, attemptErr := fn(attempts)
		lastErr = attemptErr
		return res, attemptErr
	})

	if err == nil && lastErr == nil && (unusable == nil || !unusable(result)) {
		return result, attempts, nil
	}

	var zero T
	switch {
	case lastErr != nil:
		return zero, attempts, lastErr
	case ctx.Err() != nil:
		return zero, attempts, ctx.Err()
	default:
		return zero, attempts, errNoResult
	}
}
