package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/pillar/core/logger"
	"github.com/google/uuid"
)

type messageMetaCtx struct{}

type messageMeta struct {
	id     string
	name   string
	sentAt time.Time
}

// WithMessageMeta attaches the message ID, type name and send time to ctx.
// The mailbox does this before every dispatch, so pillars can read them back.
func WithMessageMeta(ctx context.Context, id uuid.UUID, typ MessageType, sentAt time.Time) context.Context {
	return context.WithValue(ctx, messageMetaCtx{}, messageMeta{
		id:     id.String(),
		name:   typ.String(),
		sentAt: sentAt,
	})
}

// MessageID extracts the ID of the message being handled.
// Returns empty string if not present.
func MessageID(ctx context.Context) string {
	if meta, ok := ctx.Value(messageMetaCtx{}).(messageMeta); ok {
		return meta.id
	}
	return ""
}

// MessageName extracts the type name of the message being handled.
// Returns empty string if not present.
func MessageName(ctx context.Context) string {
	if meta, ok := ctx.Value(messageMetaCtx{}).(messageMeta); ok {
		return meta.name
	}
	return ""
}

// MessageSentAt extracts the time the message was sent.
// Returns zero time if not present.
func MessageSentAt(ctx context.Context) time.Time {
	if meta, ok := ctx.Value(messageMetaCtx{}).(messageMeta); ok {
		return meta.sentAt
	}
	return time.Time{}
}

// ContextExtractor adds message_id and message_type to log records written inside a pillar.
// It matches logger.ContextExtractor:
//
//	log := logger.New(logger.WithContextExtractors(broker.ContextExtractor))
func ContextExtractor(ctx context.Context) (slog.Attr, bool) {
	meta, ok := ctx.Value(messageMetaCtx{}).(messageMeta)
	if !ok {
		return slog.Attr{}, false
	}
	// Empty group key inlines the attributes
	return slog.Attr{Key: "", Value: slog.GroupValue(
		logger.MessageID(meta.id),
		logger.MessageType(meta.name),
	)}, true
}
