package pact

import (
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
	"github.com/Mindburn-Labs/helm/core/pkg/crypto"
)

// Aggregator validates a link's attached pact proof against a registry of
// known pacts: it checks the pact is active and in scope, that every
// signature is from a distinct authorized signer over the exact atom hash
// being committed, and that the count of verified signatures meets the
// pact's threshold.
type Aggregator struct {
	registry *Registry
	verifier crypto.Verifier
}

// NewAggregator builds an Aggregator over the given registry and verifier.
func NewAggregator(registry *Registry, verifier crypto.Verifier) *Aggregator {
	return &Aggregator{registry: registry, verifier: verifier}
}

// Validate checks l.Link's pact proof is sufficient to authorize the
// commit. It is a pure function of the registered pacts and the proof
// attached to the link; it performs no storage writes.
func (a *Aggregator) Validate(l *contracts.Link, now time.Time) error {
	if l.Pact == nil {
		return contracts.NewKernelError(contracts.ErrPactViolation, "commit requires a pact proof for intent class %s", l.IntentClass)
	}
	proof := l.Pact

	p, ok := a.registry.Get(proof.PactID)
	if !ok {
		return contracts.NewKernelError(contracts.ErrPactViolation, "unknown pact %s", proof.PactID)
	}
	if !p.ActiveAt(now) {
		return contracts.NewKernelError(contracts.ErrPactViolation, "pact %s is not active at %s", p.PactID, now)
	}
	if !p.CoversClass(l.IntentClass) {
		return contracts.NewKernelError(contracts.ErrPactViolation, "pact %s does not cover intent class %s", p.PactID, l.IntentClass)
	}
	if !p.Scope.Covers(l.ContainerID) {
		return contracts.NewKernelError(contracts.ErrPactViolation, "pact %s does not cover container %s", p.PactID, l.ContainerID)
	}

	seen := make(map[string]struct{}, len(proof.Signatures))
	for _, s := range a.registry.ConsumedSigners(proof.PactID, l.AtomHash) {
		seen[s] = struct{}{}
	}

	for _, sig := range proof.Signatures {
		if sig.PactID != proof.PactID {
			return contracts.NewKernelError(contracts.ErrPactViolation, "signature pact_id %s does not match proof pact_id %s", sig.PactID, proof.PactID)
		}
		if sig.AtomHash != l.AtomHash {
			return contracts.NewKernelError(contracts.ErrPactViolation, "pact signature covers a different atom hash")
		}
		if !p.IsSigner(sig.Signer) {
			return contracts.NewKernelError(contracts.ErrPactViolation, "signer %s is not authorized under pact %s", sig.Signer, p.PactID)
		}
		if _, dup := seen[sig.Signer]; dup {
			continue // already counted, from this proof or a prior commit attempt
		}

		valid, err := a.verifier.VerifyPactSignature(sig, sig.Signer)
		if err != nil {
			return contracts.NewKernelError(contracts.ErrPactViolation, "pact signature verification error: %v", err)
		}
		if !valid {
			continue
		}
		seen[sig.Signer] = struct{}{}
		a.registry.RecordSignature(sig)
	}

	if len(seen) < p.Threshold {
		return contracts.NewKernelError(contracts.ErrPactViolation, "pact %s requires %d signatures, got %d verified", p.PactID, p.Threshold, len(seen))
	}
	return nil
}
