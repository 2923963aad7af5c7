// Package retry makes the retry behavior of external calls an explicit,
// injectable strategy instead of a property of HTTP client defaults.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the retries applied to one external call. The zero value
// performs the call exactly once.
type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Retryable classifies errors; nil means every error is retryable.
	Retryable func(error) bool
}

// Default is the policy used by the source, matcher and hub clients unless
// configured otherwise.
func Default() Policy {
	return Policy{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Do runs op under the policy with bounded exponential backoff. The last
// error is returned when attempts are exhausted or op fails permanently.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
}
