package logger

import (
	"log/slog"
	"runtime"
	"time"
)

// Attribute helpers use the empty Attr pattern for nil safety.
// This allows calls like log.Info("msg", logger.Error(err)) without explicit nil checks.

// Group creates a group of attributes under a single key.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// ============================================================================
// Error Handling
// ============================================================================

// Error creates an attribute for a single error under the key "error".
// Returns empty Attr for nil errors.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Panic creates an attribute for a recovered panic value.
func Panic(v any) slog.Attr {
	if v == nil {
		return slog.Attr{}
	}
	return slog.Any("panic", v)
}

// ============================================================================
// Performance and Timing
// ============================================================================

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed calculates and logs the duration since the start time.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}

// Timeout creates an attribute for a configured timeout.
func Timeout(d time.Duration) slog.Attr {
	return slog.Duration("timeout", d)
}

// ============================================================================
// Messaging
// ============================================================================

// MessageID creates an attribute for a routed message identifier.
func MessageID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("message_id", id)
}

// MessageType creates an attribute for the runtime type name of a routed message.
func MessageType(name string) slog.Attr {
	if name == "" {
		return slog.Attr{}
	}
	return slog.String("message_type", name)
}

// State creates an attribute for a lifecycle state (idle, dispatching, terminated).
func State(state string) slog.Attr {
	return slog.String("state", state)
}

// QueueLength creates an attribute for the number of queued items.
func QueueLength(n int) slog.Attr {
	return slog.Int("queue_length", n)
}

// Capacity creates an attribute for a bounded queue capacity.
func Capacity(n int) slog.Attr {
	return slog.Int("capacity", n)
}

// ============================================================================
// Generic Metadata
// ============================================================================

// Component creates an attribute for component names.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Count creates a generic counter attribute.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// ============================================================================
// Debugging
// ============================================================================

// Stack captures and returns the current stack trace.
func Stack() slog.Attr {
	const size = 64 << 10
	buf := make([]byte, size)
	buf = buf[:runtime.Stack(buf, false)]
	return slog.String("stack", string(buf))
}

