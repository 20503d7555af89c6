package audit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/clinvault/clinvault/internal/common"
	"github.com/clinvault/clinvault/internal/logging"
	"github.com/clinvault/clinvault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAuditRepo struct {
	events []models.AuditEvent
	fail   bool
	nextID int64
}

func (r *memAuditRepo) Append(_ context.Context, event *models.AuditEvent) error {
	if r.fail {
		return errors.New("sink unavailable")
	}
	r.nextID++
	event.ID = r.nextID
	r.events = append(r.events, *event)
	return nil
}

func (r *memAuditRepo) ListAfter(_ context.Context, afterID int64, limit int) ([]models.AuditEvent, error) {
	var out []models.AuditEvent
	for _, e := range r.events {
		if e.ID > afterID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memAuditRepo) CountSince(_ context.Context, since time.Time, severity string) (int64, error) {
	var n int64
	for _, e := range r.events {
		if !e.Timestamp.Before(since) && (severity == "" || e.Severity == severity) {
			n++
		}
	}
	return n, nil
}

type captureAlerter struct {
	alerted []models.AuditEvent
}

func (a *captureAlerter) Alert(_ context.Context, event models.AuditEvent) {
	a.alerted = append(a.alerted, event)
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestRecord_DefaultsAndPersists(t *testing.T) {
	repo := &memAuditRepo{}
	rec := NewRecorder(repo, testLogger(), nil)

	err := rec.Record(context.Background(), models.AuditEvent{
		ActorID: "u1",
		Action:  "patient.read",
		Entity:  "patient",
		Status:  "success",
	})
	require.NoError(t, err)

	require.Len(t, repo.events, 1)
	assert.Equal(t, models.SeverityInfo, repo.events[0].Severity)
	assert.False(t, repo.events[0].Timestamp.IsZero())
}

func TestRecord_EscalatesWriteFailure(t *testing.T) {
	repo := &memAuditRepo{fail: true}
	rec := NewRecorder(repo, testLogger(), nil)

	err := rec.Record(context.Background(), models.AuditEvent{Action: "login"})
	assert.ErrorIs(t, err, common.ErrAuditWriteFailure)
}

func TestRecord_CriticalAlerts(t *testing.T) {
	repo := &memAuditRepo{}
	alerter := &captureAlerter{}
	rec := NewRecorder(repo, testLogger(), alerter)

	err := rec.Record(context.Background(), models.AuditEvent{
		Action:   "token.revoke_all",
		Severity: models.SeverityCritical,
	})
	require.NoError(t, err)
	require.Len(t, alerter.alerted, 1)
	assert.Equal(t, "token.revoke_all", alerter.alerted[0].Action)
}

func TestRecord_InfoDoesNotAlert(t *testing.T) {
	repo := &memAuditRepo{}
	alerter := &captureAlerter{}
	rec := NewRecorder(repo, testLogger(), alerter)

	require.NoError(t, rec.Record(context.Background(), models.AuditEvent{Action: "login", Status: "success"}))
	assert.Empty(t, alerter.alerted)
}
