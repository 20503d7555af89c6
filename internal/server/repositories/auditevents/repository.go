// Package auditevents declares the repository contract for the append-only
// audit trail. There is deliberately no update or delete operation.
package auditevents

import (
	"context"
	"time"

	"github.com/clinvault/clinvault/internal/server/models"
)

// Repository appends and reads audit events.
type Repository interface {
	// Append inserts one event. Failures must surface to the caller: a
	// dropped event breaks the compliance trail.
	Append(ctx context.Context, event *models.AuditEvent) error

	// ListAfter returns up to limit events with id greater than afterID in
	// insertion order. Used by the archive exporter.
	ListAfter(ctx context.Context, afterID int64, limit int) ([]models.AuditEvent, error)

	// CountSince returns the number of events recorded at or after the given
	// instant, optionally filtered by severity ("" matches all).
	CountSince(ctx context.Context, since time.Time, severity string) (int64, error)
}
