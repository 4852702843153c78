package simple

import (
	"time"

	"github.com/dmitrymomot/pillar/core/broker"
)

type Config struct {
	Broker broker.Config

	AppName        string        `env:"APP_NAME" envDefault:"pillar"`
	Env            string        `env:"APP_ENV" envDefault:"development"`
	// LogLevel overrides the level implied by Env when set.
	LogLevel       string        `env:"LOG_LEVEL"`
	HealthInterval time.Duration `env:"APP_HEALTH_INTERVAL" envDefault:"30s"`
}
