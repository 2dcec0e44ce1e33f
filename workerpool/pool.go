// Package workerpool is the CPU-bound worker pool: a fixed
// set of goroutines, sized by default to the number of cores, dedicated
// to decode/resize/encode work. The I/O-side bucket controller dispatches
// onto it and suspends awaiting completion, running arbitrary CPU-bound
// closures rather than a fixed step chain.
package workerpool

import (
	"context"
	"runtime"
	"sync"

	apperrors "github.com/kestrelic/imageserver/errors"
)

// job is a unit of CPU-bound work plus the submitting caller's
// cancellation channel; the result travels on a channel captured by fn.
type job struct {
	fn     func()
	cancel <-chan struct{}
}

// Pool runs submitted closures on a fixed set of worker goroutines.
// Safe for concurrent use. Pipeline bodies must run exclusively here;
// they never suspend on I/O.
type Pool struct {
	queue    chan job
	wg       sync.WaitGroup
	once     sync.Once
	shutdown chan struct{}
}

// New creates a Pool with workerCount goroutines (NumCPU if <= 0) and the
// given queue depth (a sane default if <= 0).
func New(workerCount, queueSize int) *Pool {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Pool{
		queue:    make(chan job, queueSize),
		shutdown: make(chan struct{}),
	}
	p.start(workerCount)
	return p
}

func (p *Pool) start(workerCount int) {
	p.once.Do(func() {
		for i := 0; i < workerCount; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			select {
			case <-j.cancel:
				// Caller gave up; still run fn to unblock it deterministically
				// isn't safe (ctx is already gone) so run it — the result is
				// discarded by Run's context-cancelled branch.
				j.fn()
			default:
				j.fn()
			}
		}
	}
}

// Stop shuts down all workers, waiting for any job already running to
// finish. Jobs still queued are not run; their Run callers return an
// error. Stop closes a channel, so call it once (at process exit): a
// second call panics.
func (p *Pool) Stop() {
	close(p.shutdown)
	p.wg.Wait()
}

// Run submits fn to the pool and blocks the calling goroutine until it
// completes, ctx is cancelled, or the pool is shut down. Run never
// executes fn on the caller's own goroutine: the CPU/IO split must hold
// even when the pool is idle.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, apperrors.Wrap(apperrors.CategoryCancelled, "workerpool.run", err)
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	j := job{
		fn: func() {
			v, err := fn()
			done <- result{v: v, err: err}
		},
		cancel: ctx.Done(),
	}

	select {
	case p.queue <- j:
	case <-ctx.Done():
		return zero, apperrors.Wrap(apperrors.CategoryCancelled, "workerpool.run", ctx.Err())
	case <-p.shutdown:
		return zero, apperrors.New(apperrors.CategoryLimitExceeded, "workerpool.run", apperrors.ErrPermitClosed)
	}

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, apperrors.Wrap(apperrors.CategoryCancelled, "workerpool.run", ctx.Err())
	case <-p.shutdown:
		return zero, apperrors.New(apperrors.CategoryLimitExceeded, "workerpool.run", apperrors.ErrPermitClosed)
	}
}
