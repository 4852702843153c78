// Package config provides type-safe environment variable loading with caching
// using Go generics. Each configuration type is loaded once and cached for
// subsequent calls.
//
// The package automatically loads .env files on first use and uses the
// caarlos0/env library for parsing environment variables into struct fields.
//
// Basic usage:
//
//	import "github.com/dmitrymomot/pillar/core/config"
//
//	type BrokerConfig struct {
//		MailboxSize int           `env:"BROKER_MAILBOX_SIZE" envDefault:"100"`
//		SendTimeout time.Duration `env:"BROKER_SEND_TIMEOUT" envDefault:"0s"`
//		Region      string        `env:"APP_REGION,required"`
//	}
//
//	func main() {
//		var cfg BrokerConfig
//
//		// Load with error handling
//		if err := config.Load(&cfg); err != nil {
//			log.Fatal(err)
//		}
//
//		// Or panic on failure (useful for startup)
//		config.MustLoad(&cfg)
//	}
//
// # Caching Behavior
//
// Each configuration type is loaded only once per application lifetime:
//
//	var cfg1 BrokerConfig
//	config.Load(&cfg1) // Loads from environment
//
//	var cfg2 BrokerConfig
//	config.Load(&cfg2) // Returns cached value, cfg1 == cfg2
//
// Different types are cached independently:
//
//	type LogConfig struct {
//		Level string `env:"LOG_LEVEL" envDefault:"info"`
//	}
//
//	// Each type has its own cache entry
//	config.MustLoad(&BrokerConfig{})
//	config.MustLoad(&LogConfig{})
//
// Values from a .env file in the working directory are applied once, before the
// first load. Variables already present in the environment take precedence.
// Reset clears the cache, which tests use to reload under t.Setenv.
package config
