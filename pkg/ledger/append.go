package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
	"github.com/Mindburn-Labs/helm/core/pkg/crypto"
	"github.com/Mindburn-Labs/helm/core/pkg/kernel/retry"
	"github.com/Mindburn-Labs/helm/core/pkg/membrane"
)

// Clock abstracts time.Now so tests can supply a fixed clock.
type Clock func() time.Time

// RetryPolicy bounds the append engine's response to serialization
// conflicts (§4.7 step 7).
var RetryPolicy = retry.BackoffPolicy{
	PolicyID:    "ledger-append-conflict",
	BaseMs:      10,
	MaxMs:       500,
	MaxJitterMs: 25,
	MaxAttempts: 5,
}

// Engine is the single serializable critical section per container: it
// locks the tail, runs the membrane, computes link_hash and entry_hash,
// and inserts the entry, retrying on serialization conflict.
type Engine struct {
	store    Store
	membrane *membrane.Membrane
	clock    Clock
	audit    crypto.AuditLog
}

// NewEngine builds an append engine over store, validating every commit
// with m after it locks the container's tail.
func NewEngine(store Store, m *membrane.Membrane) *Engine {
	return &Engine{store: store, membrane: m, clock: time.Now}
}

// WithClock overrides the engine's time source, for deterministic tests.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// WithAuditLog attaches an operational audit trail: every entry that
// actually commits is recorded with the acting subject, the container,
// and the resulting entry_hash. A nil log (the default) disables this.
func (e *Engine) WithAuditLog(a crypto.AuditLog) *Engine {
	e.audit = a
	return e
}

func auditActor(authCtx membrane.AuthContext) string {
	if authCtx.Session != nil {
		return authCtx.Session.SubjectID
	}
	if authCtx.ASC != nil {
		return authCtx.ASC.Subject
	}
	return "unknown"
}

// Append runs §4.7 end to end: begin a SERIALIZABLE transaction, lock the
// container's tail, validate the link against that tail through the
// membrane, compute link_hash and entry_hash, insert, and commit. On a
// serialization conflict it retries with exponential backoff up to
// RetryPolicy.MaxAttempts times before surfacing SequenceMismatch.
func (e *Engine) Append(ctx context.Context, l *contracts.Link, authCtx membrane.AuthContext) (contracts.Entry, error) {
	var lastErr error
	for attempt := 0; attempt < RetryPolicy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := retry.ComputeBackoff(retry.BackoffParams{
				PolicyID:     RetryPolicy.PolicyID,
				AdapterID:    l.ContainerID,
				EffectID:     l.AtomHash,
				AttemptIndex: attempt,
			}, RetryPolicy)
			select {
			case <-ctx.Done():
				return contracts.Entry{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		entry, retryable, err := e.attempt(ctx, l, authCtx)
		if err == nil {
			if e.audit != nil {
				_ = e.audit.Append(auditActor(authCtx), "append", map[string]any{
					"container_id": entry.ContainerID,
					"sequence":     entry.Sequence,
					"entry_hash":   entry.EntryHash,
				})
			}
			return entry, nil
		}
		if !retryable {
			return contracts.Entry{}, err
		}
		lastErr = err
	}
	return contracts.Entry{}, contracts.NewKernelError(contracts.ErrSequenceMismatch, "tail remained inconsistent after %d attempts: %v", RetryPolicy.MaxAttempts, lastErr)
}

func (e *Engine) attempt(ctx context.Context, l *contracts.Link, authCtx membrane.AuthContext) (entry contracts.Entry, retryable bool, err error) {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return contracts.Entry{}, false, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	tail, err := tx.LockTail(ctx, l.ContainerID)
	if err != nil {
		if IsSerializationFailure(err) {
			return contracts.Entry{}, true, err
		}
		return contracts.Entry{}, false, err
	}

	now := e.clock()
	if err = e.membrane.Validate(l, authCtx, tail, now); err != nil {
		return contracts.Entry{}, false, err
	}

	linkHash, err := canonicalize.CanonicalHash(l)
	if err != nil {
		return contracts.Entry{}, false, fmt.Errorf("ledger: hash link: %w", err)
	}

	sequence := tail.TailSequence + 1
	tsUnixMS := now.UnixMilli()
	previousHash := tail.TailHash
	if previousHash == "" {
		previousHash = contracts.GenesisHash
	}

	entryHash, err := crypto.ComputeEntryHash(l.ContainerID, sequence, linkHash, previousHash, tsUnixMS)
	if err != nil {
		return contracts.Entry{}, false, fmt.Errorf("ledger: compute entry_hash: %w", err)
	}

	entry = contracts.Entry{
		ContainerID:  l.ContainerID,
		Sequence:     sequence,
		LinkHash:     linkHash,
		PreviousHash: previousHash,
		EntryHash:    entryHash,
		TSUnixMS:     tsUnixMS,
		Link:         *l,
	}

	if err = tx.Insert(ctx, entry); err != nil {
		if IsSerializationFailure(err) {
			return contracts.Entry{}, true, err
		}
		return contracts.Entry{}, false, fmt.Errorf("ledger: insert entry: %w", err)
	}

	if err = tx.Commit(); err != nil {
		if IsSerializationFailure(err) {
			return contracts.Entry{}, true, err
		}
		return contracts.Entry{}, false, fmt.Errorf("ledger: commit: %w", err)
	}

	return entry, false, nil
}
