package auditevents

import (
	"context"
	"fmt"
	"time"

	"github.com/clinvault/clinvault/internal/dbx"
	"github.com/clinvault/clinvault/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events
			(ts, actor_id, actor_role, action, entity, status, ip, user_agent, severity, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if err := r.db.QueryRowContext(ctx, query,
		ts, event.ActorID, event.ActorRole, event.Action, event.Entity,
		event.Status, event.IP, event.UserAgent, event.Severity, event.Detail).Scan(&event.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	event.Timestamp = ts
	return nil
}

func (r *PostgresRepository) ListAfter(ctx context.Context, afterID int64, limit int) ([]models.AuditEvent, error) {
	query := `
		SELECT id, ts, actor_id, actor_role, action, entity, status, ip, user_agent, severity, detail
		FROM audit_events
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &e.ActorRole, &e.Action,
			&e.Entity, &e.Status, &e.IP, &e.UserAgent, &e.Severity, &e.Detail); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return events, nil
}

func (r *PostgresRepository) CountSince(ctx context.Context, since time.Time, severity string) (int64, error) {
	query := `
		SELECT count(*)
		FROM audit_events
		WHERE ts >= $1 AND ($2 = '' OR severity = $2)
	`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, since, severity).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
