package broker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrymomot/pillar/core/broker"
)

type Ping struct{ ID int }

type Pong struct{ ID int }

type Greet struct{ Name string }

type Seq struct {
	Sender int
	N      int
}

// recorder is a pillar with lifecycle hooks.
type recorder struct {
	name     string
	spawnErr error
	spawned  atomic.Bool
	stopped  chan struct{}
}

func newRecorder(name string) *recorder {
	return &recorder{name: name, stopped: make(chan struct{})}
}

func (r *recorder) Recv(_ context.Context, msg Greet) (string, error) {
	return r.name + ":" + msg.Name, nil
}

func (r *recorder) Spawn(context.Context) error {
	r.spawned.Store(true)
	return r.spawnErr
}

func (r *recorder) Stop(context.Context) error {
	close(r.stopped)
	return nil
}

func newBroker(t *testing.T, opts ...broker.Option) *broker.Broker {
	t.Helper()
	b := broker.New(opts...)
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func pingPillar() broker.Handler {
	return broker.NewHandlerFunc(func(_ context.Context, p Ping) (Pong, error) {
		return Pong{ID: p.ID}, nil
	})
}

// receive reads one value or fails the test after a second.
func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}

func closedWithin(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	default:
	}

	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}
