// Package retry provides the bounded exponential backoff policy shared by
// archive downloads and store pushes.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded retry budget: at most MaxAttempts calls, the
// n-th retry waiting BaseDelay * Multiplier^(n-1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
}

// Default is 3 attempts with 1s, 2s waits between them.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
	}
}

// Validate rejects policies that cannot make a first attempt.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must not be negative, got %s", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %g", p.Multiplier)
	}
	return nil
}

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Notify is called before each wait with the failed attempt number (1-based),
// the error and the upcoming delay.
type Notify func(attempt int, err error, next time.Duration)

// Do calls op until it succeeds, returns a permanent error, the attempt
// budget is spent or ctx is done. It returns the number of attempts made and
// the last error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify Notify) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	} else {
		eb.MaxInterval = time.Duration(1<<63 - 1)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return op(ctx)
	}, b, func(err error, next time.Duration) {
		if notify != nil {
			notify(attempts, err, next)
		}
	})

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return attempts, err
}
