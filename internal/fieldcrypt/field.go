// Package fieldcrypt maps named entity fields onto the value encryption
// codec. Which fields of which entity are protected is declared once at
// process start through a Registry; the Transformer then encrypts those
// fields on the write path and decrypts them on the read path.
package fieldcrypt

// Kind describes the plaintext semantic type of a protected field. Storage
// is always an opaque envelope string; Kind documents what the decrypted
// value means to callers.
type Kind string

const (
	KindString  Kind = "string"
	KindDate    Kind = "date"    // ISO-8601 date kept as string
	KindNumeric Kind = "numeric" // numeric identifier kept as string
)

// ProtectedField declares one entity field that must never reach storage in
// plaintext. Lookup additionally maintains a deterministic keyed digest in a
// companion "<name>_hash" column so equality lookups and uniqueness survive
// the switch to non-deterministic ciphertext.
type ProtectedField struct {
	Entity string
	Name   string
	Kind   Kind
	Lookup bool
}

// HashColumn returns the name of the companion lookup-digest column.
func (f ProtectedField) HashColumn() string {
	return f.Name + "_hash"
}

// Registry is the static set of protected field declarations. It is built
// once during startup and read concurrently afterwards; it is never mutated
// at runtime.
type Registry struct {
	byEntity map[string][]ProtectedField
}

// NewRegistry builds a Registry from the given declarations.
func NewRegistry(fields ...ProtectedField) *Registry {
	r := &Registry{byEntity: make(map[string][]ProtectedField)}
	for _, f := range fields {
		r.byEntity[f.Entity] = append(r.byEntity[f.Entity], f)
	}
	return r
}

// Fields returns the protected fields declared for the entity, possibly nil.
func (r *Registry) Fields(entity string) []ProtectedField {
	return r.byEntity[entity]
}

// DefaultRegistry declares the protected columns of the clinical data model.
// national_id keeps a lookup digest because the storage layer dropped its
// plaintext uniqueness constraint when the column was encrypted.
func DefaultRegistry() *Registry {
	return NewRegistry(
		ProtectedField{Entity: "patient", Name: "full_name", Kind: KindString},
		ProtectedField{Entity: "patient", Name: "birth_date", Kind: KindDate},
		ProtectedField{Entity: "patient", Name: "national_id", Kind: KindNumeric, Lookup: true},
		ProtectedField{Entity: "patient", Name: "diagnosis", Kind: KindString},
	)
}
