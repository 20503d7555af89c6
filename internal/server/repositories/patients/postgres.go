package patients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clinvault/clinvault/internal/common"
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

// protected column names in storage order
var protectedColumns = []string{"full_name", "birth_date", "national_id", "national_id_hash", "diagnosis"}

func (r *PostgresRepository) Create(ctx context.Context, patient *models.Patient) error {
	query := `
		INSERT INTO patients
			(id, ward, attending, full_name, birth_date, national_id, national_id_hash, diagnosis)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	args := []any{patient.ID, patient.Ward, patient.Attending}
	for _, col := range protectedColumns {
		args = append(args, nullable(patient.Protected[col]))
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Patient, error) {
	query := `
		SELECT id, ward, attending, full_name, birth_date, national_id, national_id_hash, diagnosis,
		       created_at, updated_at
		FROM patients
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) Update(ctx context.Context, patient *models.Patient) error {
	query := `
		UPDATE patients
		SET ward = $2, attending = $3, full_name = $4, birth_date = $5,
		    national_id = $6, national_id_hash = $7, diagnosis = $8, updated_at = now()
		WHERE id = $1
	`
	args := []any{patient.ID, patient.Ward, patient.Attending}
	for _, col := range protectedColumns {
		args = append(args, nullable(patient.Protected[col]))
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) FindByNationalIDHash(ctx context.Context, hash string) (*models.Patient, error) {
	query := `
		SELECT id, ward, attending, full_name, birth_date, national_id, national_id_hash, diagnosis,
		       created_at, updated_at
		FROM patients
		WHERE national_id_hash = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, hash))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Patient, error) {
	patient := &models.Patient{Protected: make(map[string]string, len(protectedColumns))}
	cols := make([]sql.NullString, len(protectedColumns))

	if err := row.Scan(
		&patient.ID, &patient.Ward, &patient.Attending,
		&cols[0], &cols[1], &cols[2], &cols[3], &cols[4],
		&patient.CreatedAt, &patient.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	for i, col := range protectedColumns {
		if cols[i].Valid {
			patient.Protected[col] = cols[i].String
		}
	}
	return patient, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
