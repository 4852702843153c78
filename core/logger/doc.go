// Package logger provides structured logging utilities built on Go's standard slog package.
// It offers environment presets, context-aware attribute extraction and a set of
// attribute helpers used across the broker and its pillars.
//
// # Basic Usage
//
//	import "github.com/dmitrymomot/pillar/core/logger"
//
//	log := logger.New(
//		logger.WithDevelopment("billing"),
//		logger.WithLevel(slog.LevelDebug),
//	)
//
//	log.Info("pillar registered",
//		logger.Component("broker"),
//		logger.MessageType("billing.ChargeCard"),
//	)
//
// # Environment Configurations
//
//	// Development: text format, debug level, stdout
//	devLogger := logger.New(logger.WithDevelopment("myapp"))
//
//	// Production: JSON format, info level, stdout
//	prodLogger := logger.New(logger.WithProduction("myapp"))
//
//	// Staging: JSON format, info level, stdout
//	stageLogger := logger.New(logger.WithStaging("myapp"))
//
// # Context-Aware Logging
//
// Extractors run on every *Context call and append attributes found in the context.
// The broker ships one that adds the message ID and type while a pillar runs:
//
//	log := logger.New(
//		logger.WithProduction("myapp"),
//		logger.WithContextExtractors(broker.ContextExtractor),
//	)
//
//	func (p *ChargePillar) Recv(ctx context.Context, msg ChargeCard) (Receipt, error) {
//		p.log.InfoContext(ctx, "charging card") // message_id and message_type included
//		...
//	}
//
// Plain context values can be mapped with WithContextValue:
//
//	log := logger.New(logger.WithContextValue("tenant_id", tenantKey{}))
//
// # Attribute Helpers
//
// Helpers return an empty slog.Attr for nil or empty input, so they are safe to pass
// unconditionally:
//
//	log.Error("message handler failed",
//		logger.Component("mailbox"),
//		logger.MessageType(name),
//		logger.MessageID(id),
//		logger.Error(err),
//		logger.Duration(time.Since(start)),
//	)
//
// # Testing with Custom Output
//
//	var buf bytes.Buffer
//	log := logger.New(
//		logger.WithJSONFormatter(),
//		logger.WithOutput(&buf),
//	)
//
//	log.Info("Test message", logger.Component("test"))
//	assert.Contains(t, buf.String(), `"component":"test"`)
//
// Use Discard for components that should stay silent unless a logger is injected.
package logger
