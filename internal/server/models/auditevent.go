package models

import "time"

// Audit severities. Critical events are eligible for external alerting.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// AuditEvent is one append-only row of the audit trail. Events are written
// once, ordered by timestamp, and never updated or deleted by application
// code.
type AuditEvent struct {
	ID        int64
	Timestamp time.Time
	ActorID   string
	ActorRole string
	Action    string
	Entity    string
	Status    string
	IP        string
	UserAgent string
	Severity  string
	Detail    string
}
