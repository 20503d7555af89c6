// Package cryptox implements the value-level encryption codec used for
// protected fields: AES-256-GCM with a fresh random nonce per call, packed
// into a single versioned envelope string suitable for a text column.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/clinvault/clinvault/internal/common"
)

const (
	envelopeMagic = "enc"
	versionV1     = "v1"

	// KeySize is the required AES-256 key length in bytes.
	KeySize = 32

	nonceSize = 12
	tagSize   = 16
)

// Encrypt encrypts plaintext under key and returns the envelope string
//
//	enc:v1:<b64 nonce>:<b64 ciphertext>:<b64 tag>
//
// A new 12-byte nonce is drawn from crypto/rand on every call, so encrypting
// the same plaintext twice yields different envelopes. The codec holds no
// state and is safe for concurrent use.
func Encrypt(plaintext string, key []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", fmt.Errorf("cipher init: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce generation: %w", err)
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)

	// Seal appends the 16-byte GCM tag; split it out so the envelope keeps
	// the tag as its own segment.
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	b64 := base64.StdEncoding
	return strings.Join([]string{
		envelopeMagic,
		versionV1,
		b64.EncodeToString(nonce),
		b64.EncodeToString(ciphertext),
		b64.EncodeToString(tag),
	}, ":"), nil
}

// Decrypt unpacks an envelope produced by Encrypt and returns the plaintext.
// Any failure (malformed envelope, unknown version, tag mismatch, wrong
// key) yields common.ErrDecryption without distinguishing the cause.
func Decrypt(payload string, key []byte) (string, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 5 || parts[0] != envelopeMagic || parts[1] != versionV1 {
		return "", common.ErrDecryption
	}

	b64 := base64.StdEncoding
	nonce, err := b64.DecodeString(parts[2])
	if err != nil || len(nonce) != nonceSize {
		return "", common.ErrDecryption
	}
	ciphertext, err := b64.DecodeString(parts[3])
	if err != nil {
		return "", common.ErrDecryption
	}
	tag, err := b64.DecodeString(parts[4])
	if err != nil || len(tag) != tagSize {
		return "", common.ErrDecryption
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", common.ErrDecryption
	}

	plaintext, err := aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", common.ErrDecryption
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether a stored value carries the envelope produced by
// Encrypt. Values written before encryption was enabled fail this check and
// are treated as legacy plaintext by the field transform layer.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, envelopeMagic+":"+versionV1+":")
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
