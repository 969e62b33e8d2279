package api

import (
	"log/slog"
	"net/http"
)

// auditEvent identifies the type of security-relevant action being logged.
type auditEvent string

const (
	auditLoginSuccess        auditEvent = "login_success"
	auditLoginFailure        auditEvent = "login_failure"
	auditLogout              auditEvent = "logout"
	auditSessionCreateFailed auditEvent = "session_create_failed"
	auditSessionDeleted      auditEvent = "session_deleted"
	auditCSRFRejected        auditEvent = "csrf_rejected"
	auditAuthConfigChanged   auditEvent = "auth_config_changed"
	auditTimeoutChanged      auditEvent = "session_timeout_changed"
	auditPasswordChanged     auditEvent = "password_changed"
	auditLockAcquired        auditEvent = "lock_acquired"
	auditLockReleased        auditEvent = "lock_released"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit entry. Session unique IDs are safe to log;
// bearer and CSRF tokens never are, and no caller passes them.
func (al *auditLogger) log(event auditEvent, r *http.Request, args ...any) {
	base := []any{
		"event", string(event),
		"remote_addr", r.RemoteAddr,
	}
	al.logger.InfoContext(r.Context(), "audit", append(base, args...)...)
}
