// Package workerpool runs slow jobs, such as transcriptions, on a bounded
// set of workers. Callers wait with a timeout and abandon the job when it
// expires; the job keeps its slot until it returns and its result is dropped.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jmm-1987/agente/internal/logging"
)

var (
	// ErrTimeout is returned when the caller stops waiting for a job.
	ErrTimeout = errors.New("worker pool: timed out waiting for job")
	// ErrClosed is returned by Do after Close.
	ErrClosed = errors.New("worker pool: closed")
)

// Pool bounds how many jobs run at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int

	mu      sync.Mutex // guards closed and active.Add
	closed  bool
	active  sync.WaitGroup
	dropped atomic.Int64

	log *slog.Logger
}

// New creates a pool of size workers (at least one).
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
		log:  logging.WithComponent("workerpool"),
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Abandoned returns how many results were dropped after a caller timeout.
func (p *Pool) Abandoned() int64 { return p.dropped.Load() }

// Do runs fn on a worker and waits at most timeout for its result, queueing
// time included. A zero timeout waits until ctx is done. The job context
// keeps the values of ctx but is not cancelled with it.
func Do[T any](ctx context.Context, p *Pool, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		return zero, waitError(ctx, err)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return zero, ErrClosed
	}
	p.active.Add(1)
	p.mu.Unlock()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	jobCtx := context.WithoutCancel(ctx)

	go func() {
		defer p.active.Done()
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("worker pool: job panicked: %v", r)}
			}
		}()
		v, err := fn(jobCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-waitCtx.Done():
		p.dropped.Add(1)
		logging.WithContext(ctx).Warn("job abandoned by caller",
			slog.String("component", "workerpool"),
			slog.Duration("timeout", timeout))
		return zero, waitError(ctx, waitCtx.Err())
	}
}

// waitError reports ErrTimeout unless the caller's own context ended.
func waitError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// Close stops accepting jobs and waits for running ones, abandoned jobs
// included, to return.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.log.Info("worker pool draining")
	p.active.Wait()
	p.log.Info("worker pool drained")
}
