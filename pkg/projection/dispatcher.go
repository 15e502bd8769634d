// Package projection implements the projection dispatcher (C11, §4.10):
// the two properties any derived, read-only table (messages, jobs,
// approvals, presence) must preserve while consuming the tail stream —
// a causality guard keyed by sequence and idempotency keyed by
// entry_hash and, for client-originated events, by client_msg_id.
package projection

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// Store is the durable state a Dispatcher needs per projection: which
// entries have already been applied, which client_msg_ids have already
// been consumed, and the last sequence applied to each row. A row is
// identified by whatever key the projection uses internally (a job ID,
// a conversation ID) — the dispatcher never interprets it.
type Store interface {
	HasAppliedEntry(ctx context.Context, entryHash string) (bool, error)
	MarkEntryApplied(ctx context.Context, entryHash string) error

	// ReserveClientMsgID claims clientMsgID atomically, reporting false
	// if it was already claimed (a double-submit at the ingress).
	ReserveClientMsgID(ctx context.Context, clientMsgID string) (reserved bool, err error)

	RowSeq(ctx context.Context, rowKey string) (uint64, error)
	SetRowSeq(ctx context.Context, rowKey string, seq uint64) error
}

// Handler applies one ledger entry to a projection row. It runs only
// after the dispatcher has confirmed the entry is new, not a
// double-submit, and newer than the row's last applied sequence.
type Handler interface {
	Apply(ctx context.Context, rowKey string, entry contracts.Entry) error
}

// Dispatcher enforces the causality and idempotency properties of §4.10
// in front of a Handler.
type Dispatcher struct {
	store Store
}

// New builds a Dispatcher over store.
func New(store Store) *Dispatcher {
	return &Dispatcher{store: store}
}

// Dispatch applies entry to rowKey via handler, unless:
//   - entry.EntryHash has already been applied (idempotency replay), or
//   - clientMsgID is non-empty and was already reserved by an earlier
//     submission (ingress double-submit), or
//   - entry.Sequence does not exceed rowKey's last applied sequence
//     (stale or duplicate, out-of-order delivery — the causality guard).
//
// In each of those cases Dispatch is a silent no-op, per §4.10. A zero
// clientMsgID means the entry carries no client-originated uniqueness
// key and only the entry_hash and sequence checks apply.
func (d *Dispatcher) Dispatch(ctx context.Context, rowKey string, entry contracts.Entry, clientMsgID string, handler Handler) error {
	applied, err := d.store.HasAppliedEntry(ctx, entry.EntryHash)
	if err != nil {
		return fmt.Errorf("projection: check applied entry: %w", err)
	}
	if applied {
		return nil
	}

	if clientMsgID != "" {
		reserved, err := d.store.ReserveClientMsgID(ctx, clientMsgID)
		if err != nil {
			return fmt.Errorf("projection: reserve client_msg_id: %w", err)
		}
		if !reserved {
			return nil
		}
	}

	lastSeq, err := d.store.RowSeq(ctx, rowKey)
	if err != nil {
		return fmt.Errorf("projection: read row sequence: %w", err)
	}
	if entry.Sequence <= lastSeq {
		return nil
	}

	if err := handler.Apply(ctx, rowKey, entry); err != nil {
		return err
	}
	if err := d.store.SetRowSeq(ctx, rowKey, entry.Sequence); err != nil {
		return fmt.Errorf("projection: advance row sequence: %w", err)
	}
	if err := d.store.MarkEntryApplied(ctx, entry.EntryHash); err != nil {
		return fmt.Errorf("projection: mark entry applied: %w", err)
	}
	return nil
}
