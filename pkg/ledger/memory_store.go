package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// MemoryStore is an in-memory Store for tests and local development. It
// emulates the same lock-then-insert discipline as PostgresStore using a
// single store-wide mutex instead of SERIALIZABLE + FOR UPDATE.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]contracts.Entry // container_id -> entries, ordered by sequence
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]contracts.Entry)}
}

// BeginTx returns a transaction holding the store's single mutex for its
// entire lifetime — coarser than per-container locking, but sufficient
// for single-process tests where container lock granularity is not under
// test.
func (s *MemoryStore) BeginTx(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	return &memoryTx{store: s, committed: false}, nil
}

// GetEntry returns the entry at (containerID, sequence).
func (s *MemoryStore) GetEntry(ctx context.Context, containerID string, sequence uint64) (contracts.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries[containerID] {
		if e.Sequence == sequence {
			return e, nil
		}
	}
	return contracts.Entry{}, ErrNotFound
}

// RangeEntries returns entries with sequence > sinceSequence, ascending,
// bounded by limit.
func (s *MemoryStore) RangeEntries(ctx context.Context, containerID string, sinceSequence uint64, limit int) ([]contracts.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contracts.Entry
	for _, e := range s.entries[containerID] {
		if e.Sequence > sinceSequence {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Tail returns the current tail for containerID, or the genesis sentinel.
func (s *MemoryStore) Tail(ctx context.Context, containerID string) (contracts.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tailLocked(containerID), nil
}

func (s *MemoryStore) tailLocked(containerID string) contracts.Container {
	entries := s.entries[containerID]
	if len(entries) == 0 {
		return contracts.Container{ID: containerID, TailSequence: 0, TailHash: contracts.GenesisHash}
	}
	last := entries[len(entries)-1]
	return contracts.Container{ID: containerID, TailSequence: last.Sequence, TailHash: last.EntryHash}
}

type memoryTx struct {
	store     *MemoryStore
	committed bool
}

func (t *memoryTx) LockTail(ctx context.Context, containerID string) (contracts.Container, error) {
	return t.store.tailLocked(containerID), nil
}

func (t *memoryTx) Insert(ctx context.Context, e contracts.Entry) error {
	entries := t.store.entries[e.ContainerID]
	if len(entries) > 0 && entries[len(entries)-1].Sequence >= e.Sequence {
		return fmt.Errorf("ledger: sequence %d is not after current tail %d", e.Sequence, entries[len(entries)-1].Sequence)
	}
	t.store.entries[e.ContainerID] = append(entries, e)
	return nil
}

func (t *memoryTx) Commit() error {
	t.committed = true
	t.store.mu.Unlock()
	return nil
}

func (t *memoryTx) Rollback() error {
	if !t.committed {
		t.store.mu.Unlock()
	}
	return nil
}
