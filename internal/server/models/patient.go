package models

import "time"

// Patient is a clinical record. The Protected map carries the fields the
// field transform layer owns (full_name, birth_date, national_id, diagnosis
// and the national_id_hash lookup column): plaintext in memory, envelope
// ciphertext at rest. Ward and attending stay plaintext columns.
type Patient struct {
	ID        string
	Ward      string
	Attending string
	Protected map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}
