package broker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Envelope carries one type-erased message from a sender to the pillar registered for its type.
// The payload can be taken out exactly once, by Reconstitute with the matching type.
type Envelope struct {
	ID     uuid.UUID
	Type   MessageType
	SentAt time.Time

	ctx     context.Context
	payload any
	taken   atomic.Bool

	// reply is nil for fire-and-forget messages.
	reply   chan reply
	replied atomic.Bool
}

type reply struct {
	value any
	err   error
}

// Erase wraps msg in an envelope tagged with its static type.
// The dispatch context travels with the envelope and is handed to the pillar.
func Erase[M any](ctx context.Context, msg M) *Envelope {
	if ctx == nil {
		ctx = context.Background()
	}

	return &Envelope{
		ID:      uuid.New(),
		Type:    TypeOf[M](),
		SentAt:  time.Now(),
		ctx:     ctx,
		payload: msg,
	}
}

// eraseRequest is Erase with a reply slot for senders awaiting a response.
func eraseRequest[M any](ctx context.Context, msg M) *Envelope {
	env := Erase(ctx, msg)
	env.reply = make(chan reply, 1)
	return env
}

// Reconstitute takes the payload out of env as M.
// It fails with ErrTypeMismatch if M is not the erased type and with ErrAlreadyTaken on any later call.
func Reconstitute[M any](env *Envelope) (M, error) {
	var zero M

	if env == nil {
		return zero, fmt.Errorf("%w: nil envelope", ErrTypeMismatch)
	}

	if want := TypeOf[M](); want != env.Type {
		return zero, fmt.Errorf("%w: envelope holds %s, requested %s", ErrTypeMismatch, env.Type, want)
	}

	if !env.taken.CompareAndSwap(false, true) {
		return zero, fmt.Errorf("%w: %s %s", ErrAlreadyTaken, env.Type, env.ID)
	}

	msg, _ := env.payload.(M)
	env.payload = nil
	return msg, nil
}

// Context returns the context the message was sent with.
func (e *Envelope) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// Taken reports whether the payload has left the envelope.
func (e *Envelope) Taken() bool {
	return e.taken.Load()
}

// ExpectsReply reports whether a sender is waiting for the pillar's response.
func (e *Envelope) ExpectsReply() bool {
	return e.reply != nil
}

// resolve delivers the outcome to a waiting sender. Only the first call has an effect.
func (e *Envelope) resolve(value any, err error) {
	if e.reply == nil || !e.replied.CompareAndSwap(false, true) {
		return
	}
	e.reply <- reply{value: value, err: err}
}

// release drops an undelivered payload and fails a pending reply with ErrNoReceiver.
func (e *Envelope) release() {
	if e.taken.CompareAndSwap(false, true) {
		e.payload = nil
	}
	e.resolve(nil, fmt.Errorf("%w: %s", ErrNoReceiver, e.Type))
}
