// Package pact implements the pact registry and multi-signature
// aggregation (§4.5): the m-of-n governance layer that authorizes
// Entropy and Evolution commits beyond a single author's signature.
package pact

import (
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// Registry holds known pacts in memory, keyed by pact id, and the set of
// pact signatures already consumed toward a threshold. Both live only in
// process memory and are lost on restart; the registry guards concurrent
// access.
type Registry struct {
	mu       sync.RWMutex
	pacts    map[string]contracts.Pact
	consumed map[string]map[string]struct{} // pact_id|atom_hash -> set of signer
}

// NewRegistry constructs an empty pact registry.
func NewRegistry() *Registry {
	return &Registry{
		pacts:    make(map[string]contracts.Pact),
		consumed: make(map[string]map[string]struct{}),
	}
}

func signatureSetKey(pactID, atomHash string) string {
	return pactID + "|" + atomHash
}

// RecordSignature persists a verified pact signature toward the
// (pact_id, atom_hash) threshold. It is idempotent on the
// (pact_id, signer, atom_hash) uniqueness key: recording the same signer
// twice for the same atom hash is a no-op, reported by returning true.
func (r *Registry) RecordSignature(sig contracts.PactSignature) (alreadyConsumed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := signatureSetKey(sig.PactID, sig.AtomHash)
	set, ok := r.consumed[key]
	if !ok {
		set = make(map[string]struct{})
		r.consumed[key] = set
	}
	if _, exists := set[sig.Signer]; exists {
		return true
	}
	set[sig.Signer] = struct{}{}
	return false
}

// ConsumedSigners returns the distinct signers already recorded for
// (pactID, atomHash) across all prior validation attempts.
func (r *Registry) ConsumedSigners(pactID, atomHash string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.consumed[signatureSetKey(pactID, atomHash)]
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// Register adds a pact. Pacts are immutable once created; registering the
// same pact id twice is an error rather than a silent overwrite.
func (r *Registry) Register(p contracts.Pact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pacts[p.PactID]; exists {
		return fmt.Errorf("pact: %s already registered", p.PactID)
	}
	r.pacts[p.PactID] = p
	return nil
}

// Get looks up a pact by id.
func (r *Registry) Get(pactID string) (contracts.Pact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pacts[pactID]
	return p, ok
}

// CoveringContainer returns every registered pact whose scope covers
// containerID and whose intent classes include c, for use when a caller
// needs to pick an applicable pact rather than naming one explicitly.
func (r *Registry) CoveringContainer(containerID string, c contracts.IntentClass) []contracts.Pact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []contracts.Pact
	for _, p := range r.pacts {
		if p.Scope.Covers(containerID) && p.CoversClass(c) {
			out = append(out, p)
		}
	}
	return out
}
