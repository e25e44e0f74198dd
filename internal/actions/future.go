package actions

import (
	"context"
	"fmt"
)

// Awaitable is the result shape of an async-call action.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Future is a single value produced on another goroutine.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn on a new goroutine and returns a future for its result. A panic
// in fn resolves the future with an error.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("panic: %v", r)
			}
		}()
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Resolved returns an already completed future.
func Resolved[T any](v T) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: v}
	close(f.done)
	return f
}

// Get waits for the result or for ctx to be done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Await implements Awaitable.
func (f *Future[T]) Await(ctx context.Context) (any, error) {
	v, err := f.Get(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }
