// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/optiflow/optiflow-engine/pkg/tenant"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a predicate value.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventScopeDenied is logged when a scoped mutation matched no record in the caller's tenant.
	EventScopeDenied SecurityEventType = "tenant_scope_denied"
	// EventAdminBypass is logged when an admin operation skips tenant filtering.
	EventAdminBypass SecurityEventType = "tenant_admin_bypass"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	EventID        uuid.UUID         `json:"event_id"`
	Timestamp      time.Time         `json:"timestamp"`
	EventType      SecurityEventType `json:"event_type"`
	Entity         string            `json:"entity,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	TeamID         string            `json:"team_id,omitempty"`
	ClientIP       string            `json:"client_ip,omitempty"`
	Details        any               `json:"details"`
	Severity       string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected SQL injection attempt.
type SQLInjectionDetails struct {
	Path        string `json:"path"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
	Action      string `json:"action"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

func (a *SecurityAuditor) newEvent(ctx context.Context, eventType SecurityEventType, entity, clientIP, severity string, details any) SecurityEvent {
	tc, _ := tenant.FromContext(ctx)
	return SecurityEvent{
		EventID:        uuid.New(),
		Timestamp:      time.Now().UTC(),
		EventType:      eventType,
		Entity:         entity,
		UserID:         tc.UserID,
		OrganizationID: tc.OrganizationID,
		TeamID:         tc.TeamID,
		ClientIP:       clientIP,
		Details:        details,
		Severity:       severity,
	}
}

// LogInjectionAttempt records a predicate value that looks like SQL injection.
// Logged at ERROR level with "critical" severity for immediate alerting.
// The tenant context, if any, is taken from ctx.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, entity string, details SQLInjectionDetails) {
	event := a.newEvent(ctx, EventSQLInjectionAttempt, entity, "", "critical", details)

	// Ignoring error as marshaling known types should never fail
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("entity", entity),
		zap.String("path", details.Path),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("user_id", event.UserID),
		zap.String("organization_id", event.OrganizationID),
		zap.String("severity", event.Severity),
	)
}

// LogScopeDenied records a mutation that matched nothing in the caller's scope.
// Logged at WARN level: most of these are stale ids, a burst of them is probing.
func (a *SecurityAuditor) LogScopeDenied(ctx context.Context, entity, recordID, clientIP string) {
	event := a.newEvent(ctx, EventScopeDenied, entity, clientIP, "warning", map[string]string{
		"record_id": recordID,
	})

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Tenant scope denied",
		zap.String("event_json", string(eventJSON)),
		zap.String("entity", entity),
		zap.String("record_id", recordID),
		zap.String("client_ip", clientIP),
		zap.String("user_id", event.UserID),
		zap.String("severity", event.Severity),
	)
}

// LogAdminBypass records an operation executed without tenant filtering.
func (a *SecurityAuditor) LogAdminBypass(ctx context.Context, entity, action, clientIP string) {
	event := a.newEvent(ctx, EventAdminBypass, entity, clientIP, "info", map[string]string{
		"action": action,
	})

	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Admin bypassed tenant filter",
		zap.String("event_json", string(eventJSON)),
		zap.String("entity", entity),
		zap.String("action", action),
		zap.String("client_ip", clientIP),
		zap.String("user_id", event.UserID),
		zap.String("severity", event.Severity),
	)
}
