package models

import "time"

// RefreshToken is one persisted refresh-token issuance. The raw bearer token
// is never stored: TokenHash is its one-way digest and the only way a
// presented token is matched. FamilyID ties together the chain of tokens
// produced by successive rotations of one original issuance, so a detected
// replay can revoke the whole chain.
type RefreshToken struct {
	ID        string
	UserID    string
	UserType  string
	TokenHash string
	JTI       string
	FamilyID  string
	ExpiresAt time.Time
	UserAgent string
	IPAddress string
	Revoked   bool
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}
