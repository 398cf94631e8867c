package pipeline

import (
	"context"
	"time"
)

// RetryPolicy is the explicit, inspectable per-stage retry configuration.
// MaxAttempts counts the first try; backoff doubles per attempt and is
// capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	d := p.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable StageError, or the
// attempt budget is exhausted. onRetry is invoked before each re-attempt
// with the attempt number just failed; it is how the job surfaces
// attempt_count without changing its externally visible state.
func (p RetryPolicy) Do(ctx context.Context, fn func() error, onRetry func(attempt int, err error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		se := Classify(err, KindStore)
		if !se.Retryable || attempt == attempts {
			return err
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}

		select {
		case <-time.After(p.backoffFor(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
