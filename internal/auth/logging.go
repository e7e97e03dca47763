package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"licensecli/internal/infrastructure"
	"licensecli/internal/protocol"
)

// logAction logs an authenticator action with trace correlation and mirrors
// it as a span event when a span is recording.
func (a *Authenticator) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("auth."+action, trace.WithAttributes(
			attribute.String("action", action),
			attribute.String("result", result),
		))
	}

	all := []slog.Attr{
		slog.String("action", action),
		slog.String("trace_id", infrastructure.GetTraceID(ctx)),
	}
	all = append(all, attrs...)
	a.logger.LogAttrs(ctx, level, result, all...)
}

func (a *Authenticator) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	a.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (a *Authenticator) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	a.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (a *Authenticator) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	a.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashLicenseKey gives a short stable id for audit correlation.
func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

func truncateSessionID(sid string) string {
	if len(sid) <= 8 {
		return sid
	}
	return sid[:8] + "..."
}

func errAttr(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// classifyError buckets an error for metric labels.
func classifyError(err error) string {
	var (
		netErr      *protocol.NetworkError
		protoErr    *protocol.ProtocolError
		cooldownErr *CooldownError
		sessionErr  *SessionInvalidError
	)
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInitFailed):
		return "init_failed"
	case errors.As(err, &netErr):
		return "network"
	case errors.Is(err, ErrHwidMismatch):
		return reasonHwidMismatch
	case errors.Is(err, ErrBannedToken):
		return reasonBanned
	case errors.Is(err, ErrInvalidDeviceID):
		return "invalid_device"
	case errors.Is(err, ErrInvalidLicenseKey):
		return "invalid_key"
	case errors.Is(err, ErrNoStoredSession), errors.Is(err, protocol.ErrNoSession):
		return "no_session"
	case errors.As(err, &sessionErr):
		return "session_invalid"
	case errors.As(err, &protoErr):
		return "rejected"
	case errors.As(err, &cooldownErr):
		return "cooldown"
	default:
		return "other"
	}
}
