package broker

import "context"

// Pillar receives messages of type M and answers with R.
// Each registered pillar runs on its own goroutine and sees one message at a time.
// Recv must return in bounded time; use WithTimeout for pillars calling slow dependencies.
type Pillar[M, R any] interface {
	Recv(ctx context.Context, msg M) (R, error)
}

// PillarFunc adapts a function to the Pillar interface.
type PillarFunc[M, R any] func(ctx context.Context, msg M) (R, error)

// Recv calls f(ctx, msg).
func (f PillarFunc[M, R]) Recv(ctx context.Context, msg M) (R, error) {
	return f(ctx, msg)
}

// Handler is the type-erased form of a pillar that the broker registers.
// NewPillar and NewHandlerFunc build one; middleware wraps one.
type Handler interface {
	// Type returns the message type this handler accepts.
	Type() MessageType

	// Handle processes one envelope and returns the pillar's response.
	Handle(ctx context.Context, env *Envelope) (any, error)
}

// Spawner is implemented by pillars that need setup before their first message.
// Spawn runs once during Register; an error aborts the registration.
type Spawner interface {
	Spawn(ctx context.Context) error
}

// Stopper is implemented by pillars that release resources when their mailbox terminates.
// Stop runs once, after every queued message has been handled.
type Stopper interface {
	Stop(ctx context.Context) error
}

// pillarHandler reconstitutes envelopes for a typed pillar.
type pillarHandler[M, R any] struct {
	typ    MessageType
	pillar Pillar[M, R]
}

// NewPillar erases a typed pillar into a Handler for M.
//
// Example:
//
//	type PingPillar struct{}
//
//	func (PingPillar) Recv(ctx context.Context, msg Ping) (Pong, error) {
//	    return Pong{ID: msg.ID}, nil
//	}
//
//	err := b.Register(broker.NewPillar[Ping, Pong](PingPillar{}))
func NewPillar[M, R any](p Pillar[M, R]) Handler {
	return &pillarHandler[M, R]{
		typ:    TypeOf[M](),
		pillar: p,
	}
}

// NewHandlerFunc erases a plain function into a Handler for M.
//
// Example:
//
//	h := broker.NewHandlerFunc(func(ctx context.Context, msg ChargeCard) (Receipt, error) {
//	    return gateway.Charge(ctx, msg.Token, msg.Amount)
//	})
func NewHandlerFunc[M, R any](fn func(ctx context.Context, msg M) (R, error)) Handler {
	return NewPillar[M, R](PillarFunc[M, R](fn))
}

func (h *pillarHandler[M, R]) Type() MessageType {
	return h.typ
}

func (h *pillarHandler[M, R]) Handle(ctx context.Context, env *Envelope) (any, error) {
	msg, err := Reconstitute[M](env)
	if err != nil {
		return nil, err
	}
	return h.pillar.Recv(ctx, msg)
}

func (h *pillarHandler[M, R]) Spawn(ctx context.Context) error {
	if s, ok := h.pillar.(Spawner); ok {
		return s.Spawn(ctx)
	}
	return nil
}

func (h *pillarHandler[M, R]) Stop(ctx context.Context) error {
	if s, ok := h.pillar.(Stopper); ok {
		return s.Stop(ctx)
	}
	return nil
}
