package simple

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrymomot/pillar/core/broker"
	"github.com/dmitrymomot/pillar/core/config"
	"github.com/dmitrymomot/pillar/core/logger"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config  Config
	broker  *broker.Broker
	logger  *slog.Logger
	pillars []registration
}

type registration struct {
	handler broker.Handler
	opts    []broker.RegisterOption
}

type AppOption func(*App) error

func NewApp(opts ...AppOption) (*App, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}

	app := &App{
		config: cfg,
	}

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.logger == nil {
		l, err := newLogger(app.config)
		if err != nil {
			return nil, err
		}
		app.logger = l
	}

	if app.broker == nil {
		b, err := broker.NewFromConfig(app.config.Broker, broker.WithLogger(app.logger))
		if err != nil {
			return nil, err
		}
		app.broker = b
	}

	for _, p := range app.pillars {
		if err := app.broker.Register(p.handler, p.opts...); err != nil {
			return nil, errors.Join(err, app.broker.Stop())
		}
	}

	return app, nil
}

func WithLogger(logger *slog.Logger) AppOption {
	return func(app *App) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		app.logger = logger
		return nil
	}
}

func WithBroker(b *broker.Broker) AppOption {
	return func(app *App) error {
		if b == nil {
			return errors.New("broker cannot be nil")
		}
		app.broker = b
		return nil
	}
}

// WithPillar registers h once the broker is built.
func WithPillar(h broker.Handler, opts ...broker.RegisterOption) AppOption {
	return func(app *App) error {
		if h == nil {
			return broker.ErrNilHandler
		}
		app.pillars = append(app.pillars, registration{handler: h, opts: opts})
		return nil
	}
}

func (a *App) Broker() *broker.Broker {
	return a.broker
}

func (a *App) Logger() *slog.Logger {
	return a.logger
}

func (a *App) Config() Config {
	return a.config
}

// Run serves until ctx is cancelled or the process receives SIGINT or SIGTERM,
// then drains the broker.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.InfoContext(ctx, "app started",
		slog.String("app", a.config.AppName),
		logger.Count("pillars", len(a.broker.Types())))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(a.broker.Run(ctx))
	g.Go(a.monitor(ctx))

	err := g.Wait()
	a.logger.Info("app stopped", logger.Error(err))
	return err
}

// monitor logs failed broker health checks every HealthInterval.
func (a *App) monitor(ctx context.Context) func() error {
	return func() error {
		if a.config.HealthInterval <= 0 {
			return nil
		}

		ticker := time.NewTicker(a.config.HealthInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := a.broker.Healthcheck(ctx); err != nil && ctx.Err() == nil {
					stats := a.broker.Stats()
					a.logger.WarnContext(ctx, "broker unhealthy",
						logger.Error(err),
						logger.Group("stats",
							slog.Int("pillars", stats.Pillars),
							slog.Int64("sent", stats.Sent),
							slog.Int64("undeliverable", stats.Undeliverable)))
				}
			}
		}
	}
}

func newLogger(cfg Config) (*slog.Logger, error) {
	opts := []logger.Option{logger.WithContextExtractors(broker.ContextExtractor)}
	switch cfg.Env {
	case "production":
		opts = append(opts, logger.WithProduction(cfg.AppName))
	case "staging":
		opts = append(opts, logger.WithStaging(cfg.AppName))
	default:
		opts = append(opts, logger.WithDevelopment(cfg.AppName))
	}
	if cfg.LogLevel != "" {
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, logger.WithLevel(level))
	}

	return logger.New(opts...), nil
}
