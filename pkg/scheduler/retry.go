package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/flowkit/fctl/pkg/models"
)

// BackoffStrategy selects how RetryPolicy.GetDelay grows between attempts.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// ExecError carries a worker-protocol failure taxonomy kind alongside the
// underlying error, so RetryPolicy can decide retryability without string
// matching (spec §4.8's error_kind, gated through models.ErrorKind.Retryable).
type ExecError struct {
	Kind models.ErrorKind
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// RetryPolicy controls whether and how a node run is retried after a
// worker-reported failure. Only error_kind values input_missing and internal
// are retryable (spec §4.8); a non-ExecError or any other kind fails
// immediately.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffStrategy BackoffStrategy
}

// DefaultRetryPolicy implements spec §4.8's "up to 2 attempts" retry budget:
// one original attempt plus two retries, exponential backoff.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BackoffStrategy: BackoffExponential,
	}
}

// NoRetryPolicy never retries.
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 1}
}

func (rp *RetryPolicy) shouldRetry(err error) bool {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Kind.Retryable()
	}
	return false
}

// GetDelay computes the delay before retry number attempt (1-based).
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	var delay time.Duration
	switch rp.BackoffStrategy {
	case BackoffConstant:
		delay = rp.InitialDelay
	case BackoffLinear:
		delay = rp.InitialDelay * time.Duration(attempt)
	case BackoffExponential:
		delay = time.Duration(float64(rp.InitialDelay) * math.Pow(2, float64(attempt-1)))
	default:
		delay = rp.InitialDelay
	}

	if rp.MaxDelay > 0 && delay > rp.MaxDelay {
		delay = rp.MaxDelay
	}
	return delay
}

// Execute runs fn, retrying per policy while ctx remains live and the error
// is classified retryable. onRetry, if non-nil, is called before each
// retry's delay; it is a call argument rather than a struct field because a
// single RetryPolicy is shared across concurrently executing nodes.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error, onRetry func(attempt int, err error)) error {
	maxAttempts := rp.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("execution cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= maxAttempts || !rp.shouldRetry(err) {
			break
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}

		delay := rp.GetDelay(attempt)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("execution cancelled during retry delay: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return lastErr
}
