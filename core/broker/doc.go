// Package broker provides an in-process message broker that routes each message
// to the single pillar registered for its Go type.
//
// A pillar is a long-lived handler with its own mailbox: a bounded queue drained by
// a dedicated goroutine, one message at a time. Senders never run pillar code; they
// only enqueue and, for requests, wait for the reply.
//
// # Core Concepts
//
//   - MessageType: the identity of a message, derived from its Go type
//   - Envelope: a type-erased message with an ID, a send time and an exactly-once payload
//   - Pillar[M, R]: a typed receiver of M answering with R
//   - Handler: the erased form of a pillar the broker registers
//   - Router: anything that can Forward envelopes, implemented by *Broker
//
// # Quick Start
//
//	import "github.com/dmitrymomot/pillar/core/broker"
//
//	type Ping struct{ ID int }
//	type Pong struct{ ID int }
//
//	b := broker.New(broker.WithLogger(log))
//	defer b.Stop()
//
//	err := b.Register(broker.NewHandlerFunc(func(ctx context.Context, p Ping) (Pong, error) {
//	    return Pong{ID: p.ID}, nil
//	}))
//
//	pong, err := broker.Send[Pong](ctx, b, Ping{ID: 1})
//
// # Sending
//
// Three ways to deliver a message:
//
//   - Send waits for the pillar's response
//   - SendAsync queues the message and returns an async.Future for the response
//   - Tell queues the message and returns; pillar errors go to the error handler
//
// All three fail with ErrNoReceiver when no pillar accepts the type. A message that
// cannot be delivered is released: its payload is dropped and nothing leaks.
//
// # Mailboxes and Backpressure
//
// Each mailbox holds DefaultMailboxSize messages unless configured otherwise. When it is
// full, senders block until the pillar catches up or their context ends. Messages are
// never dropped to make room. Messages from one sender reach a pillar in the order sent.
//
//	b.Register(broker.NewPillar[Resize, Thumbnail](resizer), broker.WithMailboxSize(1000))
//
// # Lifecycle Hooks
//
// A pillar implementing Spawner is set up before its mailbox starts; a failing Spawn
// aborts the registration with ErrSpawnFailed. A pillar implementing Stopper is torn
// down after its mailbox has drained during Shutdown or replacement.
//
// # Duplicate Registration
//
// By default a second pillar for the same type is rejected with ErrAlreadyRegistered.
// With WithDuplicatePolicy(DuplicateReplace) the second pillar takes over: new messages
// go to it while the first drains its queue and terminates.
//
// # Error Handling
//
// Pillar errors reach Send callers unchanged. A panicking pillar is recovered, the
// message fails with ErrPillarPanicked, and the mailbox keeps serving.
//
//	b := broker.New(broker.WithErrorHandler(func(ctx context.Context, typ broker.MessageType, err error) {
//	    log.ErrorContext(ctx, "tell failed", logger.MessageType(typ.String()), logger.Error(err))
//	}))
//
// # Middleware and Decorators
//
// Middleware wraps every registered pillar and sees the erased envelope:
//
//	b := broker.New(broker.WithMiddleware(broker.LoggingMiddleware(log)))
//
// Decorators wrap one typed pillar:
//
//	p := broker.WithTimeout[ChargeCard, Receipt](
//	    broker.WithRetry[ChargeCard, Receipt](charger, 3),
//	    10*time.Second,
//	)
//	b.Register(broker.NewPillar(p))
//
// # Context
//
// Pillars receive the sender's context extended with message metadata:
//
//	func (p *Charger) Recv(ctx context.Context, msg ChargeCard) (Receipt, error) {
//	    id := broker.MessageID(ctx)
//	    ...
//	}
//
// For Tell the context is detached from the sender's cancellation, since nobody waits
// for the outcome. ContextExtractor adds message_id and message_type to log records.
//
// # Shutdown and Health
//
// Shutdown stops new deliveries, lets every mailbox drain, runs Stopper hooks and waits
// until ctx is done. Run adapts the broker to errgroup:
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(b.Run(ctx))
//
// Healthcheck reports a stopped broker, a terminated mailbox or a pillar stuck on one
// message for longer than the stuck threshold.
package broker
