package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/pillar/pkg/async"
)

// Router delivers envelopes to pillars. *Broker implements it.
// Components should depend on Router rather than on *Broker.
type Router interface {
	Forward(ctx context.Context, env *Envelope) error
}

// sendTimeouter is implemented by routers with a default reply timeout.
type sendTimeouter interface {
	SendTimeout() time.Duration
}

// Send delivers msg to the pillar registered for M and waits for its response.
// R must be the response type the pillar declares; otherwise Send fails with ErrResponseType.
//
// Example:
//
//	pong, err := broker.Send[Pong](ctx, b, Ping{ID: 1})
func Send[R, M any](ctx context.Context, r Router, msg M) (R, error) {
	ctx, cancel := withSendTimeout(ctx, r)
	defer cancel()

	env := eraseRequest(ctx, msg)
	if err := r.Forward(ctx, env); err != nil {
		var zero R
		return zero, contextError(err)
	}

	return awaitReply[R](ctx, env)
}

// Tell delivers msg to the pillar registered for M without waiting for it to be handled.
// It returns once the message is queued. Errors returned by the pillar go to the broker's error handler.
//
// Example:
//
//	err := broker.Tell(ctx, b, UserSignedUp{UserID: id})
func Tell[M any](ctx context.Context, r Router, msg M) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return contextError(r.Forward(ctx, Erase(ctx, msg)))
}

// SendAsync enqueues msg like Send but returns immediately with a future for the response.
// The message is queued before SendAsync returns, so ordering with later sends is preserved.
//
// Example:
//
//	future := broker.SendAsync[Receipt](ctx, b, ChargeCard{Amount: 100})
//	// ... other work
//	receipt, err := future.AwaitWithTimeout(5 * time.Second)
func SendAsync[R, M any](ctx context.Context, r Router, msg M) *async.Future[R] {
	future, resolve := async.NewPromise[R]()

	ctx, cancel := withSendTimeout(ctx, r)

	env := eraseRequest(ctx, msg)
	if err := r.Forward(ctx, env); err != nil {
		cancel()
		var zero R
		resolve(zero, contextError(err))
		return future
	}

	go func() {
		defer cancel()
		resolve(awaitReply[R](ctx, env))
	}()

	return future
}

func awaitReply[R any](ctx context.Context, env *Envelope) (R, error) {
	var zero R

	select {
	case res := <-env.reply:
		if res.err != nil {
			return zero, contextError(res.err)
		}
		if res.value == nil {
			return zero, nil
		}
		value, ok := res.value.(R)
		if !ok {
			return zero, fmt.Errorf("%w: %s answered %T, want %s", ErrResponseType, env.Type, res.value, TypeOf[R]())
		}
		return value, nil
	case <-ctx.Done():
		return zero, contextError(ctx.Err())
	}
}

func withSendTimeout(ctx context.Context, r Router) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}

	t, ok := r.(sendTimeouter)
	if !ok || t.SendTimeout() <= 0 {
		return ctx, func() {}
	}
	if _, has := ctx.Deadline(); has {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.SendTimeout())
}

// contextError maps deadline expiry to ErrTimeout and keeps everything else.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
