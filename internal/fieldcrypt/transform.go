package fieldcrypt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/clinvault/clinvault/internal/cryptox"
)

// Transformer applies the protected-field declarations of a Registry to
// entity field maps. It is stateless apart from its keys and safe for
// concurrent use.
type Transformer struct {
	registry *Registry
	keys     *cryptox.KeySet
}

func NewTransformer(registry *Registry, keys *cryptox.KeySet) *Transformer {
	return &Transformer{registry: registry, keys: keys}
}

// Seal returns a copy of fields with every registered, present, non-empty
// protected field encrypted for storage. Absent or empty fields pass through
// untouched (protected columns stay nullable). Fields declared with Lookup
// also get their deterministic digest column refreshed.
//
// Values read back from legacy plaintext rows re-enter here as plaintext and
// get encrypted, which is what makes migration lazy: the first write after
// the encryption rollout converts the row.
func (t *Transformer) Seal(entity string, fields map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}

	for _, f := range t.registry.Fields(entity) {
		value, ok := out[f.Name]
		if !ok || value == "" {
			continue
		}

		sealed, err := cryptox.Encrypt(value, t.keys.Value)
		if err != nil {
			return nil, fmt.Errorf("sealing %s.%s: %w", entity, f.Name, err)
		}
		out[f.Name] = sealed

		if f.Lookup {
			out[f.HashColumn()] = t.LookupHash(value)
		}
	}

	return out, nil
}

// Open returns a copy of stored with every protected ciphertext decrypted.
// A field that fails to decrypt is blanked and reported in the returned
// error map instead of failing the whole record: one corrupted column must
// not make a patient unreadable. Stored values that do not parse as an
// encryption envelope are passed through as legacy plaintext.
func (t *Transformer) Open(entity string, stored map[string]string) (map[string]string, map[string]error) {
	out := make(map[string]string, len(stored))
	for k, v := range stored {
		out[k] = v
	}

	var fieldErrs map[string]error
	for _, f := range t.registry.Fields(entity) {
		value, ok := out[f.Name]
		if !ok || value == "" {
			continue
		}
		if !cryptox.IsEncrypted(value) {
			// row predates the encryption rollout
			continue
		}

		plaintext, err := cryptox.Decrypt(value, t.keys.Value)
		if err != nil {
			if fieldErrs == nil {
				fieldErrs = make(map[string]error)
			}
			fieldErrs[f.Name] = fmt.Errorf("%s.%s: %w", entity, f.Name, err)
			out[f.Name] = ""
			continue
		}
		out[f.Name] = plaintext
	}

	return out, fieldErrs
}

// LookupHash computes the deterministic keyed digest stored in "<name>_hash"
// columns. It uses HMAC-SHA256 under the dedicated lookup sub-key, so the
// digest is useful for equality only and reveals nothing about the value to
// anyone without the key.
func (t *Transformer) LookupHash(value string) string {
	mac := hmac.New(sha256.New, t.keys.Lookup)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
