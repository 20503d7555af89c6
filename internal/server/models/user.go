package models

import "time"

// User is a clinician or administrative account that may hold sessions.
// PasswordHash is an argon2id PHC string; the plaintext password is never
// persisted.
type User struct {
	ID           string
	UserName     string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}
