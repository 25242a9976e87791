package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoReturnsResult(t *testing.T) {
	p := New(1)
	defer p.Close()

	got, err := Do(context.Background(), p, time.Second, func(context.Context) (string, error) {
		return "hola", nil
	})
	if err != nil || got != "hola" {
		t.Errorf("Do = %q, %v, want hola, nil", got, err)
	}

	boom := errors.New("boom")
	if _, err := Do(context.Background(), p, time.Second, func(context.Context) (int, error) {
		return 0, boom
	}); !errors.Is(err, boom) {
		t.Errorf("Do err = %v, want %v", err, boom)
	}
}

func TestDoBoundsConcurrency(t *testing.T) {
	const size = 2
	p := New(size)
	defer p.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Do(context.Background(), p, 5*time.Second, func(context.Context) (struct{}, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				running.Add(-1)
				return struct{}{}, nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > size {
		t.Errorf("peak concurrency = %d, want <= %d", got, size)
	}
}

func TestDoTimeoutAbandonsJob(t *testing.T) {
	p := New(1)

	release := make(chan struct{})
	finished := make(chan struct{})
	_, err := Do(context.Background(), p, 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-release
		close(finished)
		return 1, ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Do err = %v, want ErrTimeout", err)
	}
	if p.Abandoned() != 1 {
		t.Errorf("Abandoned = %d, want 1", p.Abandoned())
	}

	// The abandoned job still holds the only slot.
	if _, err := Do(context.Background(), p, 20*time.Millisecond, func(context.Context) (int, error) {
		return 2, nil
	}); !errors.Is(err, ErrTimeout) {
		t.Errorf("queued Do err = %v, want ErrTimeout", err)
	}

	close(release)
	<-finished
	p.Close()
}

func TestDoJobContextSurvivesCallerTimeout(t *testing.T) {
	p := New(1)

	jobErr := make(chan error, 1)
	_, _ = Do(context.Background(), p, 10*time.Millisecond, func(ctx context.Context) (int, error) {
		time.Sleep(40 * time.Millisecond)
		jobErr <- ctx.Err()
		return 0, nil
	})
	p.Close()

	if err := <-jobErr; err != nil {
		t.Errorf("job context err = %v, want nil", err)
	}
}

func TestDoCallerCancel(t *testing.T) {
	p := New(1)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, p, time.Second, func(context.Context) (int, error) {
		time.Sleep(50 * time.Millisecond)
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do err = %v, want context.Canceled", err)
	}
}

func TestDoAfterClose(t *testing.T) {
	p := New(2)
	p.Close()
	if _, err := Do(context.Background(), p, time.Second, func(context.Context) (int, error) {
		return 0, nil
	}); !errors.Is(err, ErrClosed) {
		t.Errorf("Do err = %v, want ErrClosed", err)
	}
}

func TestDoRecoversPanic(t *testing.T) {
	p := New(1)
	defer p.Close()
	_, err := Do(context.Background(), p, time.Second, func(context.Context) (int, error) {
		panic("engine crashed")
	})
	if err == nil {
		t.Fatal("Do err = nil, want panic error")
	}

	// The slot was released.
	if _, err := Do(context.Background(), p, time.Second, func(context.Context) (int, error) {
		return 1, nil
	}); err != nil {
		t.Errorf("Do after panic: %v", err)
	}
}

func TestNewClampsSize(t *testing.T) {
	if got := New(0).Size(); got != 1 {
		t.Errorf("New(0).Size() = %d, want 1", got)
	}
}
