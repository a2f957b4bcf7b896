package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	CustomerID    string
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security events as structured log records
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log emits one audit record. Failures are logged at warn level.
func (al *AuditLogger) Log(auditType string, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.CustomerID != "" {
		attrs = append(attrs, slog.String("customer_id", event.CustomerID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogAuthAttempt logs login outcomes
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	al.Log("auth", event)
}

// LogLockout logs a lockout being triggered or cleared
func (al *AuditLogger) LogLockout(eventType, email, ipAddress string, until *time.Time) {
	event := AuditEvent{EventType: eventType, Email: email, IPAddress: ipAddress, Success: eventType == "lockout_cleared"}
	if until != nil {
		event.Metadata = map[string]string{"locked_until": until.UTC().Format(time.RFC3339)}
	}
	al.Log("lockout", event)
}

// LogPasswordChange logs password change and reset events
func (al *AuditLogger) LogPasswordChange(customerID, ipAddress, reason string, success bool) {
	al.Log("password", AuditEvent{
		EventType:  "password_change",
		CustomerID: customerID,
		IPAddress:  ipAddress,
		Success:    success,
		Metadata:   map[string]string{"reason": reason},
	})
}

// LogSessionEvent logs session creation and revocation
func (al *AuditLogger) LogSessionEvent(eventType, customerID, sessionID string, metadata map[string]string) {
	md := map[string]string{"session_id": sessionID}
	for k, v := range metadata {
		md[k] = v
	}
	al.Log("session", AuditEvent{
		EventType:  eventType,
		CustomerID: customerID,
		Success:    true,
		Metadata:   md,
	})
}

// LogCodeEvent logs verification code issuance and redemption. The code
// itself is never logged.
func (al *AuditLogger) LogCodeEvent(eventType, email, purpose, ipAddress string, success bool, failureReason string) {
	al.Log("verification_code", AuditEvent{
		EventType:     eventType,
		Email:         email,
		IPAddress:     ipAddress,
		Success:       success,
		FailureReason: failureReason,
		Metadata:      map[string]string{"purpose": purpose},
	})
}
