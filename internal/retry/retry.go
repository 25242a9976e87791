// Package retry runs an operation again after transient failures, waiting an
// exponentially growing backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is wrapped by the error Do returns when every attempt failed
// with a transient error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds a retry loop.
//
// Example YAML configuration:
//
//	retry:
//	  max_attempts: 5
//	  initial_backoff: 50ms
//	  backoff_multiplier: 2.0
//	  max_backoff: 1s
type Policy struct {
	// MaxAttempts is the total number of calls, first one included.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// BackoffMultiplier grows the wait after each retry (2.0 doubles it).
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// MaxBackoff caps a single wait. Zero means uncapped.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DefaultPolicy returns the policy used for store writes: 5 attempts,
// 50ms, 100ms, 200ms, 400ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       5,
		InitialBackoff:    50 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// TotalBackoff is the sum of all waits a fully exhausted loop performs.
func (p Policy) TotalBackoff() time.Duration {
	var total time.Duration
	for i := 1; i < p.MaxAttempts; i++ {
		total += p.Backoff(i)
	}
	return total
}

// Validate reports a policy that cannot run.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	return nil
}

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// Hook observes each retry before its wait.
type Hook func(attempt int, wait time.Duration, err error)

// Do calls fn until it succeeds, returns a non-transient error, or
// MaxAttempts calls have failed. Non-transient errors are returned as is.
// Exhaustion returns an error wrapping both ErrExhausted and the last
// failure. Waits honor ctx cancellation.
func Do(ctx context.Context, p Policy, transient Classifier, fn func() error, hooks ...Hook) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		wait := p.Backoff(attempt)
		for _, h := range hooks {
			h(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
