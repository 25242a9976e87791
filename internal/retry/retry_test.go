package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBusy = errors.New("database is locked")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

// flaky fails with errBusy the first k calls.
type flaky struct {
	k     int
	calls int
}

func (f *flaky) call() error {
	f.calls++
	if f.calls <= f.k {
		return errBusy
	}
	return nil
}

func testPolicy() Policy {
	return Policy{
		MaxAttempts:       4,
		InitialBackoff:    5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestPolicyBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 6, InitialBackoff: 10 * time.Millisecond, BackoffMultiplier: 2, MaxBackoff: 50 * time.Millisecond}
	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w*time.Millisecond {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w*time.Millisecond)
		}
	}
	if got := p.TotalBackoff(); got != 170*time.Millisecond {
		t.Errorf("TotalBackoff = %v, want 170ms", got)
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := testPolicy()
	for k := 0; k < p.MaxAttempts; k++ {
		f := &flaky{k: k}
		start := time.Now()
		err := Do(context.Background(), p, isBusy, f.call)
		elapsed := time.Since(start)

		if err != nil {
			t.Fatalf("k=%d: Do() error = %v", k, err)
		}
		if f.calls != k+1 {
			t.Errorf("k=%d: calls = %d, want %d", k, f.calls, k+1)
		}
		var minWait time.Duration
		for i := 1; i <= k; i++ {
			minWait += p.Backoff(i)
		}
		if elapsed < minWait {
			t.Errorf("k=%d: elapsed %v < sum of backoffs %v", k, elapsed, minWait)
		}
	}
}

func TestDoExhausted(t *testing.T) {
	p := testPolicy()
	f := &flaky{k: 100}
	var retries []int
	err := Do(context.Background(), p, isBusy, f.call, func(attempt int, _ time.Duration, _ error) {
		retries = append(retries, attempt)
	})

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Do() error = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, errBusy) {
		t.Errorf("Do() error should wrap the last failure: %v", err)
	}
	if f.calls != p.MaxAttempts {
		t.Errorf("calls = %d, want exactly %d", f.calls, p.MaxAttempts)
	}
	if len(retries) != p.MaxAttempts-1 {
		t.Errorf("hook called %d times, want %d", len(retries), p.MaxAttempts-1)
	}
}

func TestDoPermanentErrorNotRetried(t *testing.T) {
	permanent := errors.New("constraint failed")
	calls := 0
	err := Do(context.Background(), testPolicy(), isBusy, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("Do() error = %v, want %v", err, permanent)
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("permanent error must not be reported as exhausted")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoHonorsContext(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialBackoff: time.Hour, BackoffMultiplier: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := &flaky{k: 100}
	err := Do(ctx, p, isBusy, f.call)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Do() error = %v, want deadline exceeded", err)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := (Policy{MaxAttempts: 0}).Validate(); err == nil {
		t.Error("expected error for zero attempts")
	}
	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("DefaultPolicy invalid: %v", err)
	}
}
