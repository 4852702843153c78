package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/pillar/core/logger"
)

// Middleware wraps a Handler to add cross-cutting behavior to every pillar.
// Middleware is configured once with WithMiddleware and applied at registration.
type Middleware func(next Handler) Handler

// middlewareHandler wraps a Handler with middleware functionality.
type middlewareHandler struct {
	typ MessageType
	fn  func(ctx context.Context, env *Envelope) (any, error)
}

func (h *middlewareHandler) Type() MessageType {
	return h.typ
}

func (h *middlewareHandler) Handle(ctx context.Context, env *Envelope) (any, error) {
	return h.fn(ctx, env)
}

// HandlerMiddlewareFunc builds a Handler for next's type from fn.
// It is the building block for custom middleware.
//
// Example:
//
//	func Tracing(tracer Tracer) broker.Middleware {
//	    return func(next broker.Handler) broker.Handler {
//	        return broker.HandlerMiddlewareFunc(next, func(ctx context.Context, env *broker.Envelope) (any, error) {
//	            ctx, span := tracer.Start(ctx, env.Type.String())
//	            defer span.End()
//	            return next.Handle(ctx, env)
//	        })
//	    }
//	}
func HandlerMiddlewareFunc(next Handler, fn func(ctx context.Context, env *Envelope) (any, error)) Handler {
	return &middlewareHandler{typ: next.Type(), fn: fn}
}

// LoggingMiddleware returns a middleware that logs each dispatch with its duration and outcome.
//
// Example:
//
//	b := broker.New(broker.WithMiddleware(broker.LoggingMiddleware(log)))
func LoggingMiddleware(log *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerMiddlewareFunc(next, func(ctx context.Context, env *Envelope) (any, error) {
			start := time.Now()
			name := next.Type().String()

			log.DebugContext(ctx, "message received",
				logger.MessageType(name),
				logger.MessageID(env.ID.String()))

			value, err := next.Handle(ctx, env)
			if err != nil {
				log.ErrorContext(ctx, "message failed",
					logger.MessageType(name),
					logger.MessageID(env.ID.String()),
					logger.Duration(time.Since(start)),
					logger.Error(err))
				return value, err
			}

			log.InfoContext(ctx, "message handled",
				logger.MessageType(name),
				logger.MessageID(env.ID.String()),
				logger.Duration(time.Since(start)))

			return value, nil
		})
	}
}

// chainMiddleware applies middleware so the first element is the outermost.
func chainMiddleware(handler Handler, middleware []Middleware) Handler {
	// Reverse order required: wrapping innermost first makes it execute last
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}
