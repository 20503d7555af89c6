// Package refreshtokens declares the server-side repository contract for the
// refresh-token store. Rows are never hard-deleted: revocation flips a flag
// and the row stays behind for the audit trail.
package refreshtokens

import (
	"context"

	"github.com/clinvault/clinvault/internal/server/models"
)

// Repository defines operations for persisting and revoking refresh tokens.
type Repository interface {
	// Create stores a new token record. The record carries the digest of the
	// raw token, never the raw token itself.
	Create(ctx context.Context, token *models.RefreshToken) error

	// FindByHash looks up a token row by the server-computed digest of a
	// presented raw token. Returns common.ErrorNotFound when absent.
	FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error)

	// FindByJTI looks up a token row by its jti.
	// Returns common.ErrorNotFound when absent.
	FindByJTI(ctx context.Context, jti string) (*models.RefreshToken, error)

	// Revoke marks the row revoked if and only if it is not revoked yet and
	// reports whether this call flipped the flag. The conditional update is
	// what serializes concurrent rotations of the same token.
	Revoke(ctx context.Context, id string) (bool, error)

	// RevokeFamily revokes every active token in a rotation family and
	// returns the number of rows affected.
	RevokeFamily(ctx context.Context, familyID string) (int64, error)

	// RevokeAllForUser revokes every active token of a user and returns the
	// number of rows affected.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}
