package broker

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Broker.
type Option func(*Broker)

// WithLogger configures structured logging for the broker and its mailboxes.
func WithLogger(log *slog.Logger) Option {
	return func(b *Broker) {
		if log != nil {
			b.logger = log
		}
	}
}

// WithErrorHandler receives errors from fire-and-forget messages, which have no sender to return to.
// Without one, such errors are logged.
//
// Example:
//
//	b := broker.New(broker.WithErrorHandler(func(ctx context.Context, typ broker.MessageType, err error) {
//	    metrics.Failures.WithLabelValues(typ.String()).Inc()
//	}))
func WithErrorHandler(fn func(ctx context.Context, typ MessageType, err error)) Option {
	return func(b *Broker) {
		b.errorHandler = fn
	}
}

// WithMiddleware appends middleware applied to every pillar registered afterwards.
// The first middleware is the outermost.
func WithMiddleware(middleware ...Middleware) Option {
	return func(b *Broker) {
		b.middleware = append(b.middleware, middleware...)
	}
}

// WithDefaultMailboxSize sets the inbox capacity for pillars registered without WithMailboxSize.
func WithDefaultMailboxSize(size int) Option {
	return func(b *Broker) {
		if size > 0 {
			b.mailboxSize = size
		}
	}
}

// WithSendTimeout bounds how long Send waits for a reply when the caller's context has no deadline.
// Zero disables the bound.
func WithSendTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d >= 0 {
			b.sendTimeout = d
		}
	}
}

// WithShutdownTimeout configures how long Stop waits for mailboxes to drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.shutdownTimeout = d
		}
	}
}

// WithStuckThreshold configures how long one dispatch may run before Healthcheck reports the pillar as stuck.
// Zero disables the check.
func WithStuckThreshold(d time.Duration) Option {
	return func(b *Broker) {
		if d >= 0 {
			b.stuckThreshold = d
		}
	}
}

// WithDuplicatePolicy selects what Register does when the message type is already taken.
func WithDuplicatePolicy(policy DuplicatePolicy) Option {
	return func(b *Broker) {
		b.policy = policy
	}
}

// RegisterOption configures a single registration.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	mailboxSize int
}

// WithMailboxSize overrides the inbox capacity for one pillar.
//
// Example:
//
//	b.Register(broker.NewPillar[Ping, Pong](p), broker.WithMailboxSize(1000))
func WithMailboxSize(size int) RegisterOption {
	return func(o *registerOptions) {
		o.mailboxSize = size
	}
}
