package goGuard

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/MrEthical07/goGuard/internal/audit"
)

// AuditEvent is one recorded ingress decision.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Gateway's dispatcher.
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers audit events on a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per audit event.
type JSONWriterSink = audit.JSONWriterSink

// SlogSink records audit events through a structured logger.
type SlogSink = audit.SlogSink

// MultiSink fans each audit event out to several sinks.
type MultiSink = audit.MultiSink

// NewSlogSink returns a sink logging through logger, or slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return audit.NewSlogSink(logger)
}

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

const (
	auditEventAuthFailure    = "auth_failure"
	auditEventLenientLogout  = "auth_lenient_logout"
	auditEventLockDenied     = "lock_denied"
	auditEventLockAcquired   = "lock_acquired"
	auditEventSessionStarted = "session_started"
	auditEventSessionEnded   = "session_ended"
	auditEventDecodeFailure  = "decode_failure"
)

func (g *Gateway) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID int64,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if g == nil || g.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: g.clock.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		event.Error = ErrorCode(err)
	}

	g.audit.Emit(ctx, event)
}
