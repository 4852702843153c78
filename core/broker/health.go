package broker

import (
	"context"
	"fmt"
	"time"
)

// Healthcheck reports whether the broker is running and every pillar is making progress.
// It returns ErrBrokerNotRunning after shutdown, ErrPillarTerminated if a registered mailbox
// has stopped, and ErrPillarStuck if one dispatch exceeds the stuck threshold.
//
// Replacement and Shutdown unregister a mailbox before closing it, so ErrPillarTerminated
// means a mailbox exited while still routed to.
//
// The func(context.Context) error shape plugs into readiness checks as is.
func (b *Broker) Healthcheck(ctx context.Context) error {
	b.mu.RLock()
	closed := b.closed
	boxes := make([]*mailbox, 0, len(b.mailboxes))
	for _, mb := range b.mailboxes {
		boxes = append(boxes, mb)
	}
	b.mu.RUnlock()

	if closed {
		return ErrBrokerNotRunning
	}

	now := time.Now()
	for _, mb := range boxes {
		if err := ctx.Err(); err != nil {
			return err
		}

		if mb.terminated() {
			return fmt.Errorf("%w: %s", ErrPillarTerminated, mb.typ)
		}

		if b.stuckThreshold <= 0 {
			continue
		}
		if since := mb.dispatchingSince(); !since.IsZero() && now.Sub(since) > b.stuckThreshold {
			return fmt.Errorf("%w: %s dispatching for %s", ErrPillarStuck, mb.typ, now.Sub(since).Round(time.Millisecond))
		}
	}

	return nil
}
