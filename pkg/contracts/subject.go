package contracts

import "time"

// SubjectKind distinguishes a human principal from an automated one.
type SubjectKind string

const (
	SubjectPerson   SubjectKind = "person"
	SubjectAgentLLM SubjectKind = "agent:llm"
	SubjectAgentApp SubjectKind = "agent:app"
)

// Subject is an authenticated principal. The kernel does not own a
// subject's lifecycle; it consumes the session token or ASC and the
// caller's declared scope only.
type Subject struct {
	SID         string      `json:"sid"`
	Kind        SubjectKind `json:"kind"`
	PublicKeys  []string    `json:"public_keys"`
}

// ASC (Agent Signing Certificate) is a time-bounded capability granting an
// agent authority over a set of containers and intent classes. Append-only;
// revocation is expressed as an explicit revocation atom, not a mutation.
type ASC struct {
	Subject      string        `json:"subject"`
	Containers   []string      `json:"containers"`
	IntentClasses []IntentClass `json:"intent_classes"`
	MaxDelta     *string       `json:"max_delta,omitempty"`
	NotBefore    time.Time     `json:"not_before"`
	NotAfter     time.Time     `json:"not_after"`
	Revoked      bool          `json:"revoked"`
	// Proof is the kernel-signed attestation binding the above fields.
	Proof string `json:"proof"`
}

// ActiveAt reports whether now falls within the certificate's window and
// it has not been revoked.
func (a ASC) ActiveAt(now time.Time) bool {
	if a.Revoked {
		return false
	}
	return !now.Before(a.NotBefore) && !now.After(a.NotAfter)
}

// AdmitsContainer reports whether the certificate covers containerID.
func (a ASC) AdmitsContainer(containerID string) bool {
	for _, c := range a.Containers {
		if c == containerID {
			return true
		}
	}
	return false
}

// AdmitsClass reports whether the certificate covers intent class c.
func (a ASC) AdmitsClass(c IntentClass) bool {
	for _, ic := range a.IntentClasses {
		if ic == c {
			return true
		}
	}
	return false
}
