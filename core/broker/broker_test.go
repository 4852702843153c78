package broker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrymomot/pillar/core/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	t.Parallel()

	t.Run("routes registered type", func(t *testing.T) {
		t.Parallel()

		b := newBroker(t)
		require.NoError(t, b.Register(pingPillar()))

		assert.True(t, b.Has(broker.TypeOf[Ping]()))
		assert.False(t, b.Has(broker.TypeOf[Pong]()))
	})

	t.Run("nil handler", func(t *testing.T) {
		t.Parallel()

		b := newBroker(t)
		assert.ErrorIs(t, b.Register(nil), broker.ErrNilHandler)
	})

	t.Run("invalid mailbox size", func(t *testing.T) {
		t.Parallel()

		b := newBroker(t)
		err := b.Register(pingPillar(), broker.WithMailboxSize(0))
		assert.ErrorIs(t, err, broker.ErrInvalidMailboxSize)
		assert.False(t, b.Has(broker.TypeOf[Ping]()))
	})

	t.Run("runs spawn hook", func(t *testing.T) {
		t.Parallel()

		b := newBroker(t)
		r := newRecorder("a")
		require.NoError(t, b.Register(broker.NewPillar[Greet, string](r)))
		assert.True(t, r.spawned.Load())
	})

	t.Run("spawn failure aborts registration", func(t *testing.T) {
		t.Parallel()

		b := newBroker(t)
		spawnErr := errors.New("database unavailable")
		r := newRecorder("a")
		r.spawnErr = spawnErr

		err := b.Register(broker.NewPillar[Greet, string](r))
		assert.ErrorIs(t, err, broker.ErrSpawnFailed)
		assert.ErrorIs(t, err, spawnErr)
		assert.False(t, b.Has(broker.TypeOf[Greet]()))
	})

	t.Run("lists types sorted by name", func(t *testing.T) {
		t.Parallel()

		b := newBroker(t)
		require.NoError(t, b.Register(pingPillar()))
		require.NoError(t, b.Register(broker.NewPillar[Greet, string](newRecorder("a"))))

		assert.Equal(t, []broker.MessageType{broker.TypeOf[Greet](), broker.TypeOf[Ping]()}, b.Types())
	})
}

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()

	t.Run("reject keeps first pillar", func(t *testing.T) {
		t.Parallel()

		b := newBroker(t)
		first := newRecorder("first")
		second := newRecorder("second")

		require.NoError(t, b.Register(broker.NewPillar[Greet, string](first)))
		err := b.Register(broker.NewPillar[Greet, string](second))
		assert.ErrorIs(t, err, broker.ErrAlreadyRegistered)
		assert.False(t, second.spawned.Load(), "rejected pillar must not be spawned")

		got, err := broker.Send[string](context.Background(), b, Greet{Name: "x"})
		require.NoError(t, err)
		assert.Equal(t, "first:x", got)
	})

	t.Run("replace routes to second and stops first", func(t *testing.T) {
		t.Parallel()

		b := newBroker(t, broker.WithDuplicatePolicy(broker.DuplicateReplace))
		first := newRecorder("first")
		second := newRecorder("second")

		require.NoError(t, b.Register(broker.NewPillar[Greet, string](first)))
		require.NoError(t, b.Register(broker.NewPillar[Greet, string](second)))

		got, err := broker.Send[string](context.Background(), b, Greet{Name: "x"})
		require.NoError(t, err)
		assert.Equal(t, "second:x", got)

		assert.True(t, closedWithin(first.stopped, time.Second), "replaced pillar must terminate")
		assert.False(t, closedWithin(second.stopped, 10*time.Millisecond))
		assert.Len(t, b.Types(), 1)
	})
}

func TestForward(t *testing.T) {
	t.Parallel()

	t.Run("no receiver releases envelope", func(t *testing.T) {
		t.Parallel()

		b := newBroker(t)
		for range 3 {
			env := broker.Erase(context.Background(), Pong{ID: 1})
			err := b.Forward(context.Background(), env)
			assert.ErrorIs(t, err, broker.ErrNoReceiver)
			assert.True(t, env.Taken())

			_, err = broker.Reconstitute[Pong](env)
			assert.ErrorIs(t, err, broker.ErrAlreadyTaken)
		}
		assert.Equal(t, int64(3), b.Stats().Undeliverable)
	})

	t.Run("nil envelope", func(t *testing.T) {
		t.Parallel()

		b := newBroker(t)
		assert.ErrorIs(t, b.Forward(context.Background(), nil), broker.ErrNoReceiver)
	})

	t.Run("payload is taken exactly once by the pillar", func(t *testing.T) {
		t.Parallel()

		b := newBroker(t)
		seen := make(chan Order, 1)
		require.NoError(t, b.Register(broker.NewHandlerFunc(func(_ context.Context, o Order) (struct{}, error) {
			seen <- o
			return struct{}{}, nil
		})))

		sent := Order{ID: "o-9", Items: []string{"x"}, Total: 1.25}
		env := broker.Erase(context.Background(), sent)
		require.NoError(t, b.Forward(context.Background(), env))

		assert.Equal(t, sent, receive(t, seen))
		assert.True(t, env.Taken())
		_, err := broker.Reconstitute[Order](env)
		assert.ErrorIs(t, err, broker.ErrAlreadyTaken)
	})
}

func TestOrdering(t *testing.T) {
	t.Parallel()

	t.Run("single sender is fifo", func(t *testing.T) {
		t.Parallel()

		b := newBroker(t)
		got := make(chan int, 3)
		require.NoError(t, b.Register(broker.NewHandlerFunc(func(_ context.Context, s Seq) (struct{}, error) {
			got <- s.N
			return struct{}{}, nil
		})))

		ctx := context.Background()
		for n := 1; n <= 3; n++ {
			require.NoError(t, broker.Tell(ctx, b, Seq{N: n}))
		}

		assert.Equal(t, 1, receive(t, got))
		assert.Equal(t, 2, receive(t, got))
		assert.Equal(t, 3, receive(t, got))
	})

	t.Run("each of many senders is fifo", func(t *testing.T) {
		t.Parallel()

		const senders, perSender = 4, 50

		var mu sync.Mutex
		seen := make(map[int][]int)

		b := broker.New(broker.WithDefaultMailboxSize(8))
		require.NoError(t, b.Register(broker.NewHandlerFunc(func(_ context.Context, s Seq) (struct{}, error) {
			mu.Lock()
			seen[s.Sender] = append(seen[s.Sender], s.N)
			mu.Unlock()
			return struct{}{}, nil
		})))

		var wg sync.WaitGroup
		for sender := range senders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := range perSender {
					assert.NoError(t, broker.Tell(context.Background(), b, Seq{Sender: sender, N: n}))
				}
			}()
		}
		wg.Wait()

		require.NoError(t, b.Stop())

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, seen, senders)
		for sender, ns := range seen {
			require.Len(t, ns, perSender, "sender %d", sender)
			for i, n := range ns {
				assert.Equal(t, i, n, "sender %d out of order", sender)
			}
		}
	})
}

func TestBackpressure(t *testing.T) {
	t.Parallel()

	b := newBroker(t)
	started := make(chan int, 10)
	release := make(chan struct{})

	require.NoError(t, b.Register(broker.NewHandlerFunc(func(_ context.Context, s Seq) (struct{}, error) {
		started <- s.N
		<-release
		return struct{}{}, nil
	}), broker.WithMailboxSize(1)))

	ctx := context.Background()
	require.NoError(t, broker.Tell(ctx, b, Seq{N: 1}))
	require.Equal(t, 1, receive(t, started))

	// Fills the only slot while the pillar is busy
	require.NoError(t, broker.Tell(ctx, b, Seq{N: 2}))

	blocked := make(chan error, 1)
	go func() { blocked <- broker.Tell(ctx, b, Seq{N: 3}) }()

	select {
	case err := <-blocked:
		t.Fatalf("send into a full mailbox returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	release <- struct{}{}
	require.NoError(t, receive(t, blocked))
	assert.Equal(t, 2, receive(t, started))

	release <- struct{}{}
	assert.Equal(t, 3, receive(t, started))
	release <- struct{}{}

	select {
	case n := <-started:
		t.Fatalf("unexpected extra delivery %d", n)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBackpressureHonorsContext(t *testing.T) {
	t.Parallel()

	b := newBroker(t)
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	require.NoError(t, b.Register(broker.NewHandlerFunc(func(context.Context, Seq) (struct{}, error) {
		started <- struct{}{}
		<-release
		return struct{}{}, nil
	}), broker.WithMailboxSize(1)))
	defer close(release)

	require.NoError(t, broker.Tell(context.Background(), b, Seq{N: 1}))
	receive(t, started)
	require.NoError(t, broker.Tell(context.Background(), b, Seq{N: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := broker.Tell(ctx, b, Seq{N: 3})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, broker.ErrTimeout)
}

func TestPanicIsolation(t *testing.T) {
	t.Parallel()

	type Explode struct{ Boom bool }

	b := newBroker(t)
	require.NoError(t, b.Register(pingPillar()))
	require.NoError(t, b.Register(broker.NewHandlerFunc(func(_ context.Context, e Explode) (string, error) {
		if e.Boom {
			panic("kaboom")
		}
		return "calm", nil
	})))

	ctx := context.Background()

	_, err := broker.Send[string](ctx, b, Explode{Boom: true})
	require.ErrorIs(t, err, broker.ErrPillarPanicked)
	assert.Contains(t, err.Error(), "kaboom")

	got, err := broker.Send[string](ctx, b, Explode{})
	require.NoError(t, err)
	assert.Equal(t, "calm", got)

	pong, err := broker.Send[Pong](ctx, b, Ping{ID: 5})
	require.NoError(t, err)
	assert.Equal(t, Pong{ID: 5}, pong)

	for _, s := range b.Stats().Mailboxes {
		if s.Type == broker.TypeOf[Explode]() {
			assert.Equal(t, int64(1), s.Panicked)
			assert.Equal(t, int64(1), s.Failed)
			assert.Equal(t, int64(2), s.Processed)
		}
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	t.Run("drains queued messages and stops pillars", func(t *testing.T) {
		t.Parallel()

		var handled atomic.Int64
		b := broker.New()
		require.NoError(t, b.Register(broker.NewHandlerFunc(func(context.Context, Seq) (struct{}, error) {
			time.Sleep(2 * time.Millisecond)
			handled.Add(1)
			return struct{}{}, nil
		})))
		r := newRecorder("g")
		require.NoError(t, b.Register(broker.NewPillar[Greet, string](r)))

		for n := range 10 {
			require.NoError(t, broker.Tell(context.Background(), b, Seq{N: n}))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, b.Shutdown(ctx))

		assert.Equal(t, int64(10), handled.Load())
		assert.True(t, closedWithin(r.stopped, 0), "stop hook must run before shutdown returns")
		assert.Empty(t, b.Types())
	})

	t.Run("rejects work after shutdown", func(t *testing.T) {
		t.Parallel()

		b := broker.New()
		require.NoError(t, b.Register(pingPillar()))
		require.NoError(t, b.Stop())

		assert.ErrorIs(t, b.Register(pingPillar()), broker.ErrBrokerClosed)

		err := broker.Tell(context.Background(), b, Ping{ID: 1})
		assert.ErrorIs(t, err, broker.ErrNoReceiver)
		assert.ErrorIs(t, err, broker.ErrBrokerClosed)

		_, err = broker.Send[Pong](context.Background(), b, Ping{ID: 1})
		assert.ErrorIs(t, err, broker.ErrNoReceiver)

		assert.NoError(t, b.Stop(), "second shutdown is a no-op")
	})

	t.Run("gives up when context ends", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		started := make(chan struct{}, 1)

		b := broker.New()
		require.NoError(t, b.Register(broker.NewHandlerFunc(func(context.Context, Seq) (struct{}, error) {
			started <- struct{}{}
			<-release
			return struct{}{}, nil
		})))
		require.NoError(t, broker.Tell(context.Background(), b, Seq{}))
		receive(t, started)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := b.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		close(release)
	})
}

func TestRun(t *testing.T) {
	t.Parallel()

	b := broker.New()
	require.NoError(t, b.Register(pingPillar()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx)() }()

	pong, err := broker.Send[Pong](context.Background(), b, Ping{ID: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, pong.ID)

	cancel()
	require.NoError(t, receive(t, done))
	assert.ErrorIs(t, b.Healthcheck(context.Background()), broker.ErrBrokerNotRunning)
}

func TestStats(t *testing.T) {
	t.Parallel()

	b := newBroker(t, broker.WithDefaultMailboxSize(16))
	require.NoError(t, b.Register(pingPillar()))

	ctx := context.Background()
	for i := range 3 {
		_, err := broker.Send[Pong](ctx, b, Ping{ID: i})
		require.NoError(t, err)
	}
	_ = broker.Tell(ctx, b, Pong{})

	s := b.Stats()
	assert.Equal(t, 1, s.Pillars)
	assert.Equal(t, int64(3), s.Sent)
	assert.Equal(t, int64(1), s.Undeliverable)
	require.Len(t, s.Mailboxes, 1)

	mb := s.Mailboxes[0]
	assert.Equal(t, broker.TypeOf[Ping](), mb.Type)
	assert.Equal(t, 16, mb.Capacity)
	assert.Equal(t, int64(3), mb.Received)
	assert.Equal(t, int64(3), mb.Processed)
	assert.Zero(t, mb.Failed)
	assert.False(t, mb.LastActivity.IsZero())
}

func TestMailboxStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", broker.StateIdle.String())
	assert.Equal(t, "dispatching", broker.StateDispatching.String())
	assert.Equal(t, "terminated", broker.StateTerminated.String())
	assert.Equal(t, "MailboxState(9)", broker.MailboxState(9).String())
}
