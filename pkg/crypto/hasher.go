package crypto

import (
	"github.com/Mindburn-Labs/helm/core/pkg/canonicalize"
)

// Hasher provides deterministic content hashing over canonicalized values.
type Hasher interface {
	Hash(v interface{}) (string, error)
}

// CanonicalHasher hashes v by JCS-canonicalizing it and taking the BLAKE3
// digest of the resulting bytes. Used for link_hash and any other
// content-address derived from a structured value rather than raw bytes.
type CanonicalHasher struct{}

func NewCanonicalHasher() *CanonicalHasher {
	return &CanonicalHasher{}
}

func (h *CanonicalHasher) Hash(v interface{}) (string, error) {
	return canonicalize.CanonicalHash(v)
}
