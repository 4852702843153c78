package broker

import (
	"context"
	"fmt"
	"time"
)

// decorated wraps a typed pillar and keeps its lifecycle hooks reachable.
type decorated[M, R any] struct {
	next Pillar[M, R]
	fn   func(ctx context.Context, msg M) (R, error)
}

func (d *decorated[M, R]) Recv(ctx context.Context, msg M) (R, error) {
	return d.fn(ctx, msg)
}

func (d *decorated[M, R]) Spawn(ctx context.Context) error {
	if s, ok := d.next.(Spawner); ok {
		return s.Spawn(ctx)
	}
	return nil
}

func (d *decorated[M, R]) Stop(ctx context.Context) error {
	if s, ok := d.next.(Stopper); ok {
		return s.Stop(ctx)
	}
	return nil
}

type outcome[R any] struct {
	value R
	err   error
}

// WithRetry wraps a pillar to retry on errors up to maxRetries times.
// Returns the last error if all retries fail. Negative maxRetries is treated as zero.
//
// The message is passed by value to every attempt, so M should not be mutated by Recv.
//
// Example:
//
//	p := broker.WithRetry[ChargeCard, Receipt](chargePillar, 3)
//	b.Register(broker.NewPillar(p))
func WithRetry[M, R any](p Pillar[M, R], maxRetries int) Pillar[M, R] {
	maxRetries = max(maxRetries, 0)

	return &decorated[M, R]{
		next: p,
		fn: func(ctx context.Context, msg M) (R, error) {
			var zero R
			var lastErr error

			for attempt := 0; attempt <= maxRetries; attempt++ {
				if attempt > 0 && ctx.Err() != nil {
					return zero, ctx.Err()
				}

				value, err := p.Recv(ctx, msg)
				if err == nil {
					return value, nil
				}

				lastErr = err
			}

			return zero, fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
		},
	}
}

// WithBackoff wraps a pillar with exponential backoff retry logic.
// The delay starts at initialDelay and doubles up to maxDelay.
//
// The mailbox is occupied while waiting, so later messages for the same type queue behind it.
//
// Example:
//
//	p := broker.WithBackoff[SendEmail, struct{}](mailer,
//	    5,                    // max retries
//	    100*time.Millisecond, // initial delay
//	    10*time.Second,       // max delay
//	)
func WithBackoff[M, R any](p Pillar[M, R], maxRetries int, initialDelay, maxDelay time.Duration) Pillar[M, R] {
	maxRetries = max(maxRetries, 0)

	return &decorated[M, R]{
		next: p,
		fn: func(ctx context.Context, msg M) (R, error) {
			var zero R
			var lastErr error
			delay := initialDelay

			for attempt := 0; attempt <= maxRetries; attempt++ {
				if attempt > 0 {
					timer := time.NewTimer(delay)
					select {
					case <-ctx.Done():
						timer.Stop()
						return zero, ctx.Err()
					case <-timer.C:
					}

					// Cap exponential growth to prevent unbounded waits
					delay *= 2
					if delay > maxDelay {
						delay = maxDelay
					}
				}

				value, err := p.Recv(ctx, msg)
				if err == nil {
					return value, nil
				}

				lastErr = err
			}

			return zero, fmt.Errorf("failed after %d retries with backoff: %w", maxRetries, lastErr)
		},
	}
}

// WithTimeout bounds each Recv call. The pillar's context is cancelled after timeout
// and the call fails with an error wrapping ErrTimeout.
//
// Recv keeps running in the background until it observes the cancelled context.
//
// Example:
//
//	p := broker.WithTimeout[ResizeImage, Thumbnail](resizer, 30*time.Second)
func WithTimeout[M, R any](p Pillar[M, R], timeout time.Duration) Pillar[M, R] {
	return &decorated[M, R]{
		next: p,
		fn: func(ctx context.Context, msg M) (R, error) {
			var zero R

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan outcome[R], 1)
			go func() {
				// Recv runs outside the mailbox's recovery, so a panic must be caught here
				defer func() {
					if r := recover(); r != nil {
						done <- outcome[R]{err: fmt.Errorf("%w: %v", ErrPillarPanicked, r)}
					}
				}()

				value, err := p.Recv(ctx, msg)
				done <- outcome[R]{value: value, err: err}
			}()

			select {
			case res := <-done:
				return res.value, res.err
			case <-ctx.Done():
				return zero, fmt.Errorf("%w: pillar exceeded %s: %w", ErrTimeout, timeout, ctx.Err())
			}
		},
	}
}
