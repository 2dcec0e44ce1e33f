package workerpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunReturnsValue(t *testing.T) {
	p := New(2, 4)
	t.Cleanup(p.Stop)

	got, err := Run(context.Background(), p, func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != 42 {
		t.Errorf("Run() = %d, want 42", got)
	}
}

// TestRunDoesNotBlockOnCallerGoroutine submits a job that blocks until
// released, then checks that a second, concurrent Run still completes
// while the first job is parked.
func TestRunDoesNotBlockOnCallerGoroutine(t *testing.T) {
	p := New(2, 4)
	t.Cleanup(p.Stop)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		Run(context.Background(), p, func() (struct{}, error) {
			close(started)
			<-release
			return struct{}{}, nil
		})
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking job never started")
	}

	// A second job must still complete promptly while the first is parked:
	// one blocked job does not hold up every other Run.
	done := make(chan struct{})
	go func() {
		Run(context.Background(), p, func() (int, error) { return 1, nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second job did not complete while the first was still blocked")
	}
	close(release)
}

func TestRunPropagatesError(t *testing.T) {
	p := New(1, 1)
	t.Cleanup(p.Stop)

	wantErr := errors.New("boom")
	_, err := Run(context.Background(), p, func() (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestRunFailsOnAlreadyCancelledContext(t *testing.T) {
	p := New(1, 1)
	t.Cleanup(p.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Run(ctx, p, func() (int, error) { return 1, nil }); err == nil {
		t.Error("Run(cancelled ctx) = nil error, want error")
	}
}

func TestRunManyConcurrentJobsAllComplete(t *testing.T) {
	p := New(4, 64)
	t.Cleanup(p.Stop)

	const n = 100
	var wg sync.WaitGroup
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Run(context.Background(), p, func() (int, error) {
				return i * 2, nil
			})
			if err != nil {
				t.Errorf("Run(%d): %v", i, err)
				return
			}
			results[i] = v
		}(i)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for concurrent jobs")
	}
	for i, v := range results {
		if v != i*2 {
			t.Errorf("results[%d] = %d, want %d", i, v, i*2)
		}
	}
}
