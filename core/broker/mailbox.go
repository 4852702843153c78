package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/pillar/core/logger"
)

// MailboxState is the lifecycle state of a pillar's mailbox.
type MailboxState int32

const (
	// StateIdle means the mailbox is waiting for the next message.
	StateIdle MailboxState = iota
	// StateDispatching means the pillar is handling a message.
	StateDispatching
	// StateTerminated means the mailbox has drained and stopped. It never restarts.
	StateTerminated
)

func (s MailboxState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("MailboxState(%d)", int32(s))
	}
}

// MailboxStats is a snapshot of one mailbox.
type MailboxStats struct {
	Type             MessageType
	State            MailboxState
	Queued           int
	Capacity         int
	Received         int64
	Processed        int64
	Failed           int64
	Panicked         int64
	LastActivity     time.Time
	DispatchingSince time.Time
}

// mailbox owns one pillar and the goroutine that feeds it.
type mailbox struct {
	typ     MessageType
	handler Handler // middleware chain
	hooks   Handler // unwrapped handler, checked for Stopper
	inbox   chan *Envelope

	// quit is closed before inbox so blocked senders can leave first.
	quit      chan struct{}
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	logger  *slog.Logger
	onError func(context.Context, MessageType, error)

	state         atomic.Int32
	received      atomic.Int64
	processed     atomic.Int64
	failed        atomic.Int64
	panicked      atomic.Int64
	lastActivity  atomic.Int64
	dispatchStart atomic.Int64
}

func newMailbox(h, chain Handler, size int, log *slog.Logger, onError func(context.Context, MessageType, error)) *mailbox {
	return &mailbox{
		typ:     h.Type(),
		handler: chain,
		hooks:   h,
		inbox:   make(chan *Envelope, size),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  log.With(logger.MessageType(h.Type().String())),
		onError: onError,
	}
}

// enqueue blocks while the inbox is full, until space frees, ctx ends or the mailbox closes.
func (m *mailbox) enqueue(ctx context.Context, env *Envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("%w: %s mailbox closed", ErrNoReceiver, m.typ)
	}

	select {
	case m.inbox <- env:
		m.received.Add(1)
		return nil
	case <-m.quit:
		return fmt.Errorf("%w: %s mailbox closed", ErrNoReceiver, m.typ)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting messages. Already queued messages are still handled.
func (m *mailbox) close() {
	m.closeOnce.Do(func() {
		close(m.quit)

		m.mu.Lock()
		m.closed = true
		close(m.inbox)
		m.mu.Unlock()
	})
}

// run is the mailbox goroutine. It exits once the inbox is closed and drained.
func (m *mailbox) run() {
	defer close(m.done)

	m.logger.Debug("mailbox started",
		logger.State(StateIdle.String()),
		logger.Capacity(cap(m.inbox)))

	for env := range m.inbox {
		m.dispatch(env)
	}

	if s, ok := m.hooks.(Stopper); ok {
		if err := s.Stop(context.Background()); err != nil {
			m.logger.Error("pillar stop hook failed", logger.Error(err))
		}
	}

	m.state.Store(int32(StateTerminated))
	m.logger.Debug("mailbox terminated",
		logger.State(StateTerminated.String()),
		logger.Count("processed", int(m.processed.Load())),
		logger.Count("failed", int(m.failed.Load())))
}

func (m *mailbox) dispatch(env *Envelope) {
	start := time.Now()
	m.dispatchStart.Store(start.UnixNano())
	m.state.Store(int32(StateDispatching))

	ctx := env.Context()
	if !env.ExpectsReply() {
		// Nobody waits for the result, so the sender's cancellation must not abort the pillar
		ctx = context.WithoutCancel(ctx)
	}
	ctx = WithMessageMeta(ctx, env.ID, env.Type, env.SentAt)

	value, panicked, err := m.safeHandle(ctx, env)

	// Counters settle before the sender is woken so its view of Stats is current
	m.processed.Add(1)
	if panicked {
		m.panicked.Add(1)
	}
	if err != nil {
		m.failed.Add(1)
	}
	m.lastActivity.Store(time.Now().UnixNano())
	m.dispatchStart.Store(0)
	m.state.Store(int32(StateIdle))

	env.resolve(value, err)
	env.release()

	if err != nil && !env.ExpectsReply() {
		m.report(ctx, err)
	}
}

// safeHandle executes the handler chain with panic recovery.
func (m *mailbox) safeHandle(ctx context.Context, env *Envelope) (value any, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("%w: %s: %v", ErrPillarPanicked, m.typ, r)
			panicked = true
			m.logger.ErrorContext(ctx, "pillar panicked",
				logger.MessageID(env.ID.String()),
				logger.Panic(r),
				logger.Stack())
		}
	}()
	value, err = m.handler.Handle(ctx, env)
	return value, false, err
}

func (m *mailbox) report(ctx context.Context, err error) {
	if m.onError != nil {
		m.onError(ctx, m.typ, err)
		return
	}
	m.logger.ErrorContext(ctx, "message handling failed", logger.Error(err))
}

func (m *mailbox) terminated() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// dispatchingSince returns when the current dispatch started, or zero time when idle.
func (m *mailbox) dispatchingSince() time.Time {
	if ns := m.dispatchStart.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

func (m *mailbox) stats() MailboxStats {
	s := MailboxStats{
		Type:             m.typ,
		State:            MailboxState(m.state.Load()),
		Queued:           len(m.inbox),
		Capacity:         cap(m.inbox),
		Received:         m.received.Load(),
		Processed:        m.processed.Load(),
		Failed:           m.failed.Load(),
		Panicked:         m.panicked.Load(),
		DispatchingSince: m.dispatchingSince(),
	}
	if ns := m.lastActivity.Load(); ns != 0 {
		s.LastActivity = time.Unix(0, ns)
	}
	return s
}
