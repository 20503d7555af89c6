// Package patients declares the repository contract for clinical records.
// Protected columns hold whatever the field transform layer hands over:
// envelope ciphertext for rows written after the encryption rollout, legacy
// plaintext for older rows.
package patients

import (
	"context"

	"github.com/clinvault/clinvault/internal/server/models"
)

// Repository defines create/read/update primitives keyed by patient id.
type Repository interface {
	Create(ctx context.Context, patient *models.Patient) error

	// Get returns the stored row as-is; decryption happens above this layer.
	// Returns common.ErrorNotFound when absent.
	Get(ctx context.Context, id string) (*models.Patient, error)

	Update(ctx context.Context, patient *models.Patient) error

	// FindByNationalIDHash resolves a patient through the deterministic
	// lookup digest of the national id. Returns common.ErrorNotFound when
	// absent.
	FindByNationalIDHash(ctx context.Context, hash string) (*models.Patient, error)
}
