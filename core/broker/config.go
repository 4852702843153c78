package broker

import (
	"fmt"
	"strings"
	"time"
)

// Default values for broker configuration.
const (
	DefaultMailboxSize     = 100
	DefaultShutdownTimeout = 30 * time.Second
	DefaultStuckThreshold  = time.Minute
)

// DuplicatePolicy decides what happens when a second pillar registers for a taken message type.
type DuplicatePolicy int

const (
	// DuplicateReject keeps the first pillar and fails the registration with ErrAlreadyRegistered.
	DuplicateReject DuplicatePolicy = iota
	// DuplicateReplace routes new messages to the second pillar and shuts the first one down.
	DuplicateReplace
)

func (p DuplicatePolicy) String() string {
	switch p {
	case DuplicateReject:
		return "reject"
	case DuplicateReplace:
		return "replace"
	default:
		return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
	}
}

// UnmarshalText parses "reject" or "replace", so the policy can be read from the environment.
func (p *DuplicatePolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "reject":
		*p = DuplicateReject
	case "replace":
		*p = DuplicateReplace
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDuplicatePolicy, text)
	}
	return nil
}

// Config holds broker configuration.
// It can be loaded from environment variables with core/config.
type Config struct {
	MailboxSize     int             `env:"BROKER_MAILBOX_SIZE" envDefault:"100"`
	SendTimeout     time.Duration   `env:"BROKER_SEND_TIMEOUT" envDefault:"0s"`
	ShutdownTimeout time.Duration   `env:"BROKER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	DuplicatePolicy DuplicatePolicy `env:"BROKER_DUPLICATE_POLICY" envDefault:"reject"`
	StuckThreshold  time.Duration   `env:"BROKER_STUCK_THRESHOLD" envDefault:"1m"`
}

// DefaultConfig returns the configuration New uses when no options are given.
func DefaultConfig() Config {
	return Config{
		MailboxSize:     DefaultMailboxSize,
		ShutdownTimeout: DefaultShutdownTimeout,
		DuplicatePolicy: DuplicateReject,
		StuckThreshold:  DefaultStuckThreshold,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.MailboxSize < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidMailboxSize, c.MailboxSize)
	}
	if c.SendTimeout < 0 {
		return fmt.Errorf("%w: send timeout %s", ErrInvalidTimeout, c.SendTimeout)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: shutdown timeout %s", ErrInvalidTimeout, c.ShutdownTimeout)
	}
	if c.StuckThreshold < 0 {
		return fmt.Errorf("%w: stuck threshold %s", ErrInvalidTimeout, c.StuckThreshold)
	}
	if c.DuplicatePolicy != DuplicateReject && c.DuplicatePolicy != DuplicateReplace {
		return fmt.Errorf("%w: %s", ErrInvalidDuplicatePolicy, c.DuplicatePolicy)
	}
	return nil
}

// NewFromConfig validates cfg and creates a broker from it.
// Extra options are applied after the config and take precedence.
//
// Example:
//
//	var cfg broker.Config
//	config.MustLoad(&cfg)
//	b, err := broker.NewFromConfig(cfg, broker.WithLogger(log))
func NewFromConfig(cfg Config, opts ...Option) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configOpts := []Option{
		WithDefaultMailboxSize(cfg.MailboxSize),
		WithSendTimeout(cfg.SendTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithDuplicatePolicy(cfg.DuplicatePolicy),
		WithStuckThreshold(cfg.StuckThreshold),
	}

	return New(append(configOpts, opts...)...), nil
}
