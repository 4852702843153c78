package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/pillar/core/logger"
	"golang.org/x/sync/errgroup"
)

// Broker routes messages to the single pillar registered for each message type.
// Every pillar runs in its own mailbox goroutine; senders only enqueue.
type Broker struct {
	mu        sync.RWMutex
	mailboxes map[MessageType]*mailbox
	// retired holds mailboxes replaced under DuplicateReplace until Shutdown waits for them.
	retired []*mailbox
	closed  bool

	logger          *slog.Logger
	errorHandler    func(context.Context, MessageType, error)
	middleware      []Middleware
	mailboxSize     int
	sendTimeout     time.Duration
	shutdownTimeout time.Duration
	stuckThreshold  time.Duration
	policy          DuplicatePolicy

	sent          atomic.Int64
	undeliverable atomic.Int64
}

// Stats is a snapshot of the broker and its mailboxes.
type Stats struct {
	Pillars       int
	Sent          int64
	Undeliverable int64
	Mailboxes     []MailboxStats
}

// New creates a broker. Pillars are added with Register.
//
// Example:
//
//	b := broker.New(
//	    broker.WithLogger(log),
//	    broker.WithMiddleware(broker.LoggingMiddleware(log)),
//	)
//	defer b.Stop()
func New(opts ...Option) *Broker {
	b := &Broker{
		mailboxes:       make(map[MessageType]*mailbox),
		logger:          logger.Discard(),
		mailboxSize:     DefaultMailboxSize,
		shutdownTimeout: DefaultShutdownTimeout,
		stuckThreshold:  DefaultStuckThreshold,
		policy:          DuplicateReject,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.logger = b.logger.With(logger.Component("broker"))
	return b
}

// Register starts a mailbox for h and routes h.Type() to it.
// The pillar's Spawn hook, if any, runs before the mailbox starts.
//
// Register is safe to call while messages are flowing.
func (b *Broker) Register(h Handler, opts ...RegisterOption) error {
	if h == nil {
		return ErrNilHandler
	}

	typ := h.Type()
	if typ.IsZero() {
		return fmt.Errorf("%w: handler has no message type", ErrNilHandler)
	}

	ro := registerOptions{mailboxSize: b.mailboxSize}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.mailboxSize < 1 {
		return fmt.Errorf("%w: got %d for %s", ErrInvalidMailboxSize, ro.mailboxSize, typ)
	}

	// Fail fast before running the pillar's Spawn hook
	b.mu.RLock()
	closed := b.closed
	_, exists := b.mailboxes[typ]
	b.mu.RUnlock()

	if closed {
		return ErrBrokerClosed
	}
	if exists && b.policy == DuplicateReject {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, typ)
	}

	if s, ok := h.(Spawner); ok {
		if err := s.Spawn(context.Background()); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSpawnFailed, typ, err)
		}
	}

	mb := newMailbox(h, chainMiddleware(h, b.middleware), ro.mailboxSize, b.logger, b.errorHandler)
	go mb.run()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		mb.close()
		return ErrBrokerClosed
	}

	old, exists := b.mailboxes[typ]
	if exists && b.policy == DuplicateReject {
		b.mu.Unlock()
		mb.close()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, typ)
	}

	b.mailboxes[typ] = mb
	if old != nil {
		b.retired = append(pruneTerminated(b.retired), old)
	}
	b.mu.Unlock()

	if old != nil {
		old.close()
		b.logger.Info("pillar replaced",
			logger.MessageType(typ.String()),
			logger.QueueLength(len(old.inbox)))
		return nil
	}

	b.logger.Debug("pillar registered",
		logger.MessageType(typ.String()),
		logger.Capacity(ro.mailboxSize))
	return nil
}

// Forward enqueues env in the mailbox registered for env.Type.
// It blocks while that mailbox is full, until space frees, ctx ends or the mailbox closes.
// On failure the envelope is released and the error matches ErrNoReceiver,
// or is ctx.Err() if the caller gave up.
func (b *Broker) Forward(ctx context.Context, env *Envelope) error {
	if env == nil {
		return fmt.Errorf("%w: nil envelope", ErrNoReceiver)
	}

	b.mu.RLock()
	closed := b.closed
	mb, ok := b.mailboxes[env.Type]
	b.mu.RUnlock()

	var err error
	switch {
	case closed:
		err = fmt.Errorf("%w: %w", ErrNoReceiver, ErrBrokerClosed)
	case !ok:
		err = fmt.Errorf("%w: %s", ErrNoReceiver, env.Type)
	default:
		err = mb.enqueue(ctx, env)
		if err != nil && errors.Is(err, ErrNoReceiver) && b.isClosed() {
			err = fmt.Errorf("%w: %w", err, ErrBrokerClosed)
		}
	}

	if err != nil {
		env.release()
		b.undeliverable.Add(1)
		b.logger.DebugContext(ctx, "message not delivered",
			logger.MessageType(env.Type.String()),
			logger.MessageID(env.ID.String()),
			logger.Error(err))
		return err
	}

	b.sent.Add(1)
	return nil
}

// SendTimeout returns the reply timeout Send applies when the caller's context has no deadline.
func (b *Broker) SendTimeout() time.Duration {
	return b.sendTimeout
}

// Types returns the registered message types sorted by name.
func (b *Broker) Types() []MessageType {
	b.mu.RLock()
	types := make([]MessageType, 0, len(b.mailboxes))
	for typ := range b.mailboxes {
		types = append(types, typ)
	}
	b.mu.RUnlock()

	sort.Slice(types, func(i, j int) bool {
		return types[i].String() < types[j].String()
	})
	return types
}

// Has reports whether a pillar is registered for typ.
func (b *Broker) Has(typ MessageType) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.mailboxes[typ]
	return ok
}

// Stats returns counters for the broker and each registered mailbox, sorted by type name.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	boxes := make([]*mailbox, 0, len(b.mailboxes))
	for _, mb := range b.mailboxes {
		boxes = append(boxes, mb)
	}
	b.mu.RUnlock()

	s := Stats{
		Pillars:       len(boxes),
		Sent:          b.sent.Load(),
		Undeliverable: b.undeliverable.Load(),
		Mailboxes:     make([]MailboxStats, 0, len(boxes)),
	}
	for _, mb := range boxes {
		s.Mailboxes = append(s.Mailboxes, mb.stats())
	}
	sort.Slice(s.Mailboxes, func(i, j int) bool {
		return s.Mailboxes[i].Type.String() < s.Mailboxes[j].Type.String()
	})
	return s
}

// Shutdown closes the broker to new messages and registrations, lets every mailbox
// drain what is already queued, and waits for them until ctx is done.
// Calling Shutdown more than once is a no-op.
func (b *Broker) Shutdown(ctx context.Context) error {
	start := time.Now()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	boxes := append([]*mailbox(nil), b.retired...)
	for _, mb := range b.mailboxes {
		boxes = append(boxes, mb)
	}
	b.mailboxes = make(map[MessageType]*mailbox)
	b.retired = nil
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "broker shutting down", logger.Count("mailboxes", len(boxes)))

	for _, mb := range boxes {
		mb.close()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, mb := range boxes {
		g.Go(func() error {
			select {
			case <-mb.done:
				return nil
			case <-gctx.Done():
				return fmt.Errorf("mailbox %s did not drain: %w", mb.typ, gctx.Err())
			}
		})
	}

	if err := g.Wait(); err != nil {
		b.logger.ErrorContext(ctx, "broker shutdown incomplete", logger.Error(err))
		return err
	}

	b.logger.InfoContext(ctx, "broker stopped",
		logger.Elapsed(start),
		logger.Count("sent", int(b.sent.Load())),
		logger.Count("undeliverable", int(b.undeliverable.Load())))
	return nil
}

// Stop shuts the broker down, waiting at most the configured shutdown timeout.
func (b *Broker) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout)
	defer cancel()

	b.logger.DebugContext(ctx, "broker stopping", logger.Timeout(b.shutdownTimeout))
	return b.Shutdown(ctx)
}

// Run returns a function for use with errgroup.Group.
// The broker serves until ctx is cancelled, then stops gracefully.
//
// Example:
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(b.Run(ctx))
func (b *Broker) Run(ctx context.Context) func() error {
	return func() error {
		<-ctx.Done()
		return b.Stop()
	}
}

func (b *Broker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// pruneTerminated drops mailboxes that have already finished draining.
func pruneTerminated(boxes []*mailbox) []*mailbox {
	live := boxes[:0]
	for _, mb := range boxes {
		if !mb.terminated() {
			live = append(live, mb)
		}
	}
	clear(boxes[len(live):])
	return live
}
