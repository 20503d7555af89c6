// Package audit records the append-only trail of sensitive actions. The
// write is synchronous relative to the request lifecycle: an event is
// durable before the HTTP response that triggered it completes, and a failed
// write surfaces as an error instead of being dropped.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/clinvault/clinvault/internal/common"
	"github.com/clinvault/clinvault/internal/logging"
	"github.com/clinvault/clinvault/internal/metrics"
	"github.com/clinvault/clinvault/internal/server/models"
	"github.com/clinvault/clinvault/internal/server/repositories/auditevents"
)

// Alerter receives critical events for external alerting. Alerting delivery
// is an external collaborator; the default implementation just logs.
type Alerter interface {
	Alert(ctx context.Context, event models.AuditEvent)
}

// LogAlerter logs critical events at error level.
type LogAlerter struct {
	log logging.Logger
}

func NewLogAlerter(log logging.Logger) *LogAlerter {
	return &LogAlerter{log: log}
}

func (a *LogAlerter) Alert(ctx context.Context, event models.AuditEvent) {
	a.log.Error(ctx, "critical audit event",
		"action", event.Action, "actor_id", event.ActorID, "detail", event.Detail)
}

// Recorder appends audit events to the durable store.
type Recorder struct {
	repo    auditevents.Repository
	log     logging.Logger
	alerter Alerter
}

func NewRecorder(repo auditevents.Repository, log logging.Logger, alerter Alerter) *Recorder {
	if alerter == nil {
		alerter = NewLogAlerter(log)
	}
	return &Recorder{repo: repo, log: log, alerter: alerter}
}

// Record appends one event. The event timestamp and severity are defaulted
// if unset. A storage failure returns common.ErrAuditWriteFailure; callers
// decide whether the triggering operation still succeeds, but the failure is
// never silent.
func (r *Recorder) Record(ctx context.Context, event models.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}

	if err := r.repo.Append(ctx, &event); err != nil {
		r.log.Error(ctx, "audit write failed", "action", event.Action, "error", err.Error())
		return fmt.Errorf("%w: %v", common.ErrAuditWriteFailure, err)
	}

	metrics.AuditEventsTotal.WithLabelValues(event.Severity).Inc()

	if event.Severity == models.SeverityCritical {
		r.alerter.Alert(ctx, event)
	}
	return nil
}
