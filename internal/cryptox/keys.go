package cryptox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/clinvault/clinvault/internal/common"
	"golang.org/x/crypto/hkdf"
)

// KeySet holds the sub-keys derived from the deployment master key.
// Value encrypts/decrypts protected field values; Lookup keys the
// deterministic HMAC column used for equality lookups. Keeping them separate
// means the lookup digest never shares key material with the AEAD.
type KeySet struct {
	Value  []byte
	Lookup []byte
}

// LoadMasterKey decodes the hex-encoded master key supplied via the
// environment or secret store. Anything other than exactly 32 decoded bytes
// is a fatal configuration error: the process must not serve traffic.
func LoadMasterKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("%w: master key is not set", common.ErrKeyConfiguration)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: master key is not valid hex", common.ErrKeyConfiguration)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", common.ErrKeyConfiguration, KeySize, len(key))
	}
	return key, nil
}

// DeriveKeys expands the master key into the per-purpose sub-keys with
// HKDF-SHA256. Derivation is deterministic, so every process of a deployment
// arrives at the same sub-keys.
func DeriveKeys(master []byte) (*KeySet, error) {
	if len(master) != KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes", common.ErrKeyConfiguration, KeySize)
	}

	value, err := deriveSubKey(master, "clinvault/value-encryption/v1")
	if err != nil {
		return nil, err
	}
	lookup, err := deriveSubKey(master, "clinvault/lookup-hash/v1")
	if err != nil {
		return nil, err
	}

	return &KeySet{Value: value, Lookup: lookup}, nil
}

func deriveSubKey(master []byte, label string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, nil, []byte(label))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return key, nil
}
