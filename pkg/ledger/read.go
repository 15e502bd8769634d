package ledger

import (
	"context"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// ReadAPI is the entry half of C10: fetch an entry by (container,
// sequence), or a bounded range for tail replay. Atom body lookup by
// hash is served by pkg/atomstore, a separate content-addressed store,
// since atoms and entries have independent lifecycles (an atom can be
// referenced before its entry is known, during signing).
type ReadAPI struct {
	store Store
}

// NewReadAPI wraps a Store for read-only access.
func NewReadAPI(store Store) *ReadAPI {
	return &ReadAPI{store: store}
}

// Entry fetches a single entry by its primary key.
func (r *ReadAPI) Entry(ctx context.Context, containerID string, sequence uint64) (contracts.Entry, error) {
	return r.store.GetEntry(ctx, containerID, sequence)
}

// Since returns entries with sequence > sinceSequence, ascending, bounded
// by limit — the backlog-replay half of the tail subscriber (§4.9).
func (r *ReadAPI) Since(ctx context.Context, containerID string, sinceSequence uint64, limit int) ([]contracts.Entry, error) {
	return r.store.RangeEntries(ctx, containerID, sinceSequence, limit)
}

// Tail returns the container's current sequence and entry hash.
func (r *ReadAPI) Tail(ctx context.Context, containerID string) (contracts.Container, error) {
	return r.store.Tail(ctx, containerID)
}
