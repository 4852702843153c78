package broker

import "errors"

var (
	// ErrNoReceiver is returned when no live pillar accepts the message type.
	ErrNoReceiver = errors.New("no receiver registered for message type")

	// ErrBrokerClosed is returned when the broker has been shut down.
	ErrBrokerClosed = errors.New("broker is closed")

	// ErrAlreadyRegistered is returned when a pillar is already registered for a message type
	// and the duplicate policy is DuplicateReject.
	ErrAlreadyRegistered = errors.New("pillar already registered for message type")

	// ErrNilHandler is returned when registering a nil handler or one without a message type.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrSpawnFailed is returned when a pillar's Spawn hook fails during registration.
	ErrSpawnFailed = errors.New("pillar spawn failed")

	// ErrTypeMismatch is returned when an envelope is reconstituted as the wrong type.
	ErrTypeMismatch = errors.New("message type mismatch")

	// ErrAlreadyTaken is returned when an envelope's payload was already reconstituted or released.
	ErrAlreadyTaken = errors.New("message payload already taken")

	// ErrResponseType is returned when a pillar's response does not match the type requested by Send.
	ErrResponseType = errors.New("unexpected response type")

	// ErrTimeout is returned when a reply does not arrive before the deadline.
	ErrTimeout = errors.New("timeout waiting for reply")

	// ErrPillarPanicked is returned when a pillar panics while handling a message.
	ErrPillarPanicked = errors.New("pillar panicked")

	// ErrBrokerNotRunning is returned by health checks after shutdown.
	ErrBrokerNotRunning = errors.New("broker not running")

	// ErrPillarStuck is returned when a pillar has been handling one message longer than the stuck threshold.
	ErrPillarStuck = errors.New("pillar may be stuck - dispatch exceeded threshold")

	// ErrPillarTerminated is returned when a registered pillar's mailbox is no longer running.
	ErrPillarTerminated = errors.New("pillar mailbox terminated")

	// ErrInvalidMailboxSize is returned when a mailbox capacity is less than one.
	ErrInvalidMailboxSize = errors.New("mailbox size must be at least 1")

	// ErrInvalidTimeout is returned when a configured duration is negative.
	ErrInvalidTimeout = errors.New("timeout cannot be negative")

	// ErrInvalidDuplicatePolicy is returned when a duplicate policy name is not recognized.
	ErrInvalidDuplicatePolicy = errors.New("invalid duplicate policy")
)
