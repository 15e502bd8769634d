package contracts

import "time"

// PactScope restricts which containers a pact governs.
type PactScope struct {
	// Kind is one of "global", "container", "namespace".
	Kind string `json:"kind"`
	// Value holds the container id or namespace prefix; empty for global.
	Value string `json:"value,omitempty"`
}

// Covers reports whether the scope admits the given container id.
func (s PactScope) Covers(containerID string) bool {
	switch s.Kind {
	case "global":
		return true
	case "container":
		return s.Value == containerID
	case "namespace":
		return len(containerID) >= len(s.Value) && containerID[:len(s.Value)] == s.Value
	default:
		return false
	}
}

// Pact is a governance record authorizing a class of future commits under
// m-of-n signer consent. Pacts are immutable once created; revocation is
// expressed as a new Evolution commit, not a mutation of this record.
type Pact struct {
	PactID       string        `json:"pact_id"`
	Scope        PactScope     `json:"scope"`
	IntentClasses []IntentClass `json:"intent_classes"`
	Threshold    int           `json:"threshold"`
	Signers      []string      `json:"signers"`
	NotBefore    time.Time     `json:"not_before"`
	NotAfter     time.Time     `json:"not_after"`
	RiskLevel    int           `json:"risk_level"`
}

// CoversClass reports whether the pact authorizes the given intent class.
func (p Pact) CoversClass(c IntentClass) bool {
	for _, ic := range p.IntentClasses {
		if ic == c {
			return true
		}
	}
	return false
}

// ActiveAt reports whether now falls within the pact's validity window.
func (p Pact) ActiveAt(now time.Time) bool {
	return !now.Before(p.NotBefore) && !now.After(p.NotAfter)
}

// IsSigner reports whether pubkey is one of the pact's authorized signers.
func (p Pact) IsSigner(pubkey string) bool {
	for _, s := range p.Signers {
		if s == pubkey {
			return true
		}
	}
	return false
}

// PactSignature is an authorized signer's Ed25519 signature over an atom
// hash being authorized under a pact. Append-only; unique per
// (pact_id, signer, atom_hash).
type PactSignature struct {
	PactID    string    `json:"pact_id"`
	Signer    string    `json:"signer"`
	Signature string    `json:"signature"`
	AtomHash  string    `json:"atom_hash"`
	SignedAt  time.Time `json:"signed_at"`
	Verified  bool      `json:"verified"`
}
