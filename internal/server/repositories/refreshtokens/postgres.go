package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clinvault/clinvault/internal/common"
	"github.com/clinvault/clinvault/internal/dbx"
	"github.com/clinvault/clinvault/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens
			(id, user_id, user_type, token_hash, jti, family_id, expires_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := r.db.ExecContext(ctx, query,
		token.ID, token.UserID, token.UserType, token.TokenHash, token.JTI,
		token.FamilyID, token.ExpiresAt, token.UserAgent, token.IPAddress); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	return r.findBy(ctx, "token_hash", hash)
}

func (r *PostgresRepository) FindByJTI(ctx context.Context, jti string) (*models.RefreshToken, error) {
	return r.findBy(ctx, "jti", jti)
}

func (r *PostgresRepository) findBy(ctx context.Context, column, value string) (*models.RefreshToken, error) {
	query := fmt.Sprintf(`
		SELECT id, user_id, user_type, token_hash, jti, family_id, expires_at,
		       user_agent, ip_address, revoked, revoked_at, created_at
		FROM refresh_tokens
		WHERE %s = $1
	`, column)
	token := &models.RefreshToken{}
	if err := r.db.QueryRowContext(ctx, query, value).Scan(
		&token.ID, &token.UserID, &token.UserType, &token.TokenHash, &token.JTI,
		&token.FamilyID, &token.ExpiresAt, &token.UserAgent, &token.IPAddress,
		&token.Revoked, &token.RevokedAt, &token.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string) (bool, error) {
	// compare-and-set on the revocation flag: of two racing rotations only
	// one sees rows affected = 1
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = now()
		WHERE id = $1 AND NOT revoked
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = now()
		WHERE family_id = $1 AND NOT revoked
	`
	res, err := r.db.ExecContext(ctx, query, familyID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = now()
		WHERE user_id = $1 AND NOT revoked
	`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
