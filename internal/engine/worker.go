package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks worker pool operational metrics.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
	Rejected  int64 `json:"rejected"`
}

var (
	// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
	ErrPoolShutdown = errors.New("worker pool is shut down")
	// ErrPoolBusy is returned by TrySubmit when every slot is taken.
	ErrPoolBusy = errors.New("worker pool is at capacity")
)

// WorkerPool is a bounded goroutine pool for background invocations.
type WorkerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
	onPanic func(r any)

	active, completed, failed, panics, rejected atomic.Int64
}

// NewWorkerPool creates a pool with the given max concurrency. onPanic, if
// set, is called with the recovered value of a panicking task.
func NewWorkerPool(size int, onPanic func(r any)) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		sem:     make(chan struct{}, size),
		done:    make(chan struct{}),
		onPanic: onPanic,
	}
}

// Submit runs fn on a pool goroutine. It blocks while the pool is at
// capacity and respects ctx cancellation while waiting.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}
	return p.start(ctx, fn)
}

// TrySubmit is Submit without waiting: it returns ErrPoolBusy when no slot
// is free.
func (p *WorkerPool) TrySubmit(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}
	select {
	case p.sem <- struct{}{}:
	default:
		p.rejected.Add(1)
		return ErrPoolBusy
	}
	return p.start(ctx, fn)
}

func (p *WorkerPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// start runs fn with a slot already held.
func (p *WorkerPool) start(ctx context.Context, fn func(ctx context.Context) error) error {
	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.active.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				p.failed.Add(1)
				if p.onPanic != nil {
					p.onPanic(r)
				}
			}
			p.active.Add(-1)
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			p.failed.Add(1)
			return
		}
		p.completed.Add(1)
	}()
	return nil
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown prevents new submissions and waits for active work to complete.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
		Rejected:  p.rejected.Load(),
	}
}
