package scanner

import (
	"context"
	"errors"
	"iter"
	"time"

	"zair/zair-prover/logging"
	"zair/zair-prover/prover/common"
)

type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
	}
}

// PermanentError stops Retry immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Retry runs fn until it succeeds, returns a PermanentError, the context is
// done or the attempt budget is spent. The last error is returned.
func Retry(ctx context.Context, policy RetryPolicy, operation string, fn func() error) error {
	attempts := max(policy.Attempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var permanent *PermanentError
		if errors.As(err, &permanent) || ctx.Err() != nil {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := common.CalculateBackoff(attempt, policy.InitialDelay, policy.MaxDelay)
		logging.Logger().Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("retryIn", delay).
			Msg("Transient failure, retrying")

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
	}
	return err
}

// Collect drains a sequence, reopening it from the start after a retryable failure.
func Collect[T any](ctx context.Context, policy RetryPolicy, operation string, open func() iter.Seq2[T, error]) ([]T, error) {
	var out []T
	err := Retry(ctx, policy, operation, func() error {
		out = out[:0]
		for v, err := range open() {
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
