package async

import (
	"context"
	"sync"
	"time"
)

// Future holds the result of an asynchronous computation.
type Future[T any] struct {
	value T
	err   error
	once  sync.Once
	done  chan struct{}
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// resolve completes the future. Only the first call has an effect.
func (f *Future[T]) resolve(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Await blocks until the future completes.
func (f *Future[T]) Await() (T, error) {
	<-f.done
	return f.value, f.err
}

// AwaitContext blocks until the future completes or ctx is done.
func (f *Future[T]) AwaitContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AwaitWithTimeout blocks for at most timeout and returns ErrTimeout if the future is still pending.
func (f *Future[T]) AwaitWithTimeout(timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.value, f.err
	case <-timer.C:
		var zero T
		return zero, ErrTimeout
	}
}

// IsComplete reports whether the future has a result, without blocking.
func (f *Future[T]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// NewPromise returns a pending future and the function that completes it.
// The resolve function is safe to call from any goroutine; calls after the first are ignored.
func NewPromise[T any]() (*Future[T], func(T, error)) {
	f := newFuture[T]()
	return f, f.resolve
}

// Async runs fn in a new goroutine and returns a future for its result.
func Async[T, U any](ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	f := newFuture[U]()

	go func() {
		// Early exit prevents running work for a caller that already gave up
		if err := ctx.Err(); err != nil {
			var zero U
			f.resolve(zero, err)
			return
		}

		value, err := fn(ctx, param)
		f.resolve(value, err)
	}()

	return f
}

// Exec runs fn in a new goroutine for operations that only report an error.
func Exec[T any](ctx context.Context, param T, fn func(context.Context, T) error) *Future[struct{}] {
	return Async(ctx, param, func(ctx context.Context, p T) (struct{}, error) {
		return struct{}{}, fn(ctx, p)
	})
}

// WaitAll waits for every future and returns their values in order.
// The first error in argument order is returned; values of successful futures are still filled in.
func WaitAll[T any](futures ...*Future[T]) ([]T, error) {
	results := make([]T, len(futures))
	var firstErr error

	for i, future := range futures {
		value, err := future.Await()
		results[i] = value
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return results, firstErr
}

type indexed[T any] struct {
	index int
	value T
	err   error
}

// WaitAny returns the index and result of the first future to complete.
func WaitAny[T any](futures ...*Future[T]) (int, T, error) {
	if len(futures) == 0 {
		var zero T
		return -1, zero, ErrNoFutures
	}

	// Buffered so losers never block after the winner is read
	done := make(chan indexed[T], len(futures))
	for i, future := range futures {
		go func(index int, f *Future[T]) {
			value, err := f.Await()
			done <- indexed[T]{index: index, value: value, err: err}
		}(i, future)
	}

	res := <-done
	return res.index, res.value, res.err
}
