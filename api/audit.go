package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmcleod/ocpanel/internal/uuid"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditBootstrap           AuditEvent = "bootstrap"
	AuditBootstrapRejected   AuditEvent = "bootstrap_rejected"
	AuditLoginSuccess        AuditEvent = "login_success"
	AuditLoginFailure        AuditEvent = "login_failure"
	AuditLoginRateLimited    AuditEvent = "login_rate_limited"
	AuditLockoutTripped      AuditEvent = "lockout_tripped"
	AuditLogout              AuditEvent = "logout"
	AuditPasswordChanged     AuditEvent = "password_changed"
	AuditPasswordChangeFail  AuditEvent = "password_change_failure"
	AuditPasswordRehashed    AuditEvent = "password_rehashed"
	AuditHotPatch            AuditEvent = "hotpatch"
	AuditUnauthenticatedCall AuditEvent = "unauthenticated_request"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	now     func() time.Time
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
}

// log writes a structured audit log entry. clientIP is the address the
// request is attributed to after trusted-proxy resolution.
func (al *auditLogger) log(event AuditEvent, r *http.Request, clientIP string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event_id", uuid.New()),
		slog.String("event", string(event)),
		slog.String("client_ip", clientIP),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)

	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
		baseAttrs = append(baseAttrs, slog.String("path", r.URL.Path))
	}
	level := slog.LevelInfo
	switch event {
	case AuditLoginFailure, AuditLoginRateLimited, AuditLockoutTripped, AuditPasswordChangeFail:
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logFailure logs a failed authentication attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, clientIP, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, clientIP, attrs...)
}
