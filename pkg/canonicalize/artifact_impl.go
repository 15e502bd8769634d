package canonicalize

import (
	"fmt"
	"unicode/utf8"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// EncodeAtom canonicalizes raw into an Atom: a semantic payload opaque to
// the kernel beyond its canonical bytes. Structured values are encoded via
// JCS; strings and raw byte slices pass through as-is since they already
// have an unambiguous byte representation.
func EncodeAtom(raw interface{}) (*contracts.Atom, error) {
	var canonicalBytes []byte
	var err error

	switch v := raw.(type) {
	case string:
		if !utf8.ValidString(v) {
			return nil, fmt.Errorf("canonicalize: invalid UTF-8 string")
		}
		canonicalBytes = []byte(v)
	case []byte:
		canonicalBytes = v
	default:
		canonicalBytes, err = JCS(v)
		if err != nil {
			return nil, fmt.Errorf("canonicalize: failed to canonicalize atom body: %w", err)
		}
	}

	return &contracts.Atom{
		Hash: HashBytes(canonicalBytes),
		Body: raw,
	}, nil
}
