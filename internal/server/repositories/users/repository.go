// Package users declares the repository contract for clinician accounts.
package users

import (
	"context"

	"github.com/clinvault/clinvault/internal/server/models"
)

// Repository defines operations for creating and looking up accounts.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByUserName returns the account for the login name, or
	// common.ErrorNotFound.
	GetByUserName(ctx context.Context, userName string) (*models.User, error)
}
