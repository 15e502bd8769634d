// Package atomstore is the content-addressed, write-once store behind
// the entry/atom read API (C10, §3's Atom model): atom bodies keyed by
// their BLAKE3 hash, independent of whether any entry has yet committed
// a link referencing them.
package atomstore

import (
	"context"
	"errors"
	"sync"

	"github.com/Mindburn-Labs/helm/core/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// ErrNotFound is returned when an atom hash has no stored body.
var ErrNotFound = errors.New("atomstore: atom not found")

// Store is content-addressed, write-once storage for atom bodies. Store
// is idempotent: storing the same body twice returns the same hash
// without error, since the hash is a pure function of the canonical
// bytes (§4.1).
type Store interface {
	// Put canonicalizes raw, computes its atom_hash, and stores it,
	// returning the resulting Atom.
	Put(ctx context.Context, raw any) (contracts.Atom, error)
	// Get retrieves a previously stored atom by its hash.
	Get(ctx context.Context, atomHash string) (contracts.Atom, error)
	// Has reports whether atomHash has a stored body, without fetching it.
	Has(ctx context.Context, atomHash string) (bool, error)
	// List returns every stored atom hash. Intended for diagnostics and
	// small deployments, not as a paging primitive for large stores.
	List(ctx context.Context) ([]string, error)
}

// InMemoryStore is an in-process Store for tests and single-node
// deployments.
type InMemoryStore struct {
	mu    sync.RWMutex
	atoms map[string]contracts.Atom
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{atoms: make(map[string]contracts.Atom)}
}

func (s *InMemoryStore) Put(ctx context.Context, raw any) (contracts.Atom, error) {
	atom, err := canonicalize.EncodeAtom(raw)
	if err != nil {
		return contracts.Atom{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.atoms[atom.Hash]; ok {
		return existing, nil
	}
	s.atoms[atom.Hash] = *atom
	return *atom, nil
}

func (s *InMemoryStore) Get(ctx context.Context, atomHash string) (contracts.Atom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	atom, ok := s.atoms[atomHash]
	if !ok {
		return contracts.Atom{}, ErrNotFound
	}
	return atom, nil
}

func (s *InMemoryStore) Has(ctx context.Context, atomHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.atoms[atomHash]
	return ok, nil
}

func (s *InMemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hashes := make([]string, 0, len(s.atoms))
	for h := range s.atoms {
		hashes = append(hashes, h)
	}
	return hashes, nil
}
