// Package common defines shared constants and sentinel errors used across
// the service layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Crypto errors. ErrDecryption deliberately carries no detail about
	// whether the ciphertext, the tag, or the key was at fault.
	ErrDecryption       = errors.New("decryption failed")
	ErrKeyConfiguration = errors.New("encryption key configuration error")

	// Token lifecycle errors.
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")

	// Audit errors. Never swallowed: a dropped audit event undermines
	// the compliance trail.
	ErrAuditWriteFailure = errors.New("audit write failure")
)
