// Package ledger implements the append engine and the entry read API
// (C7, C10, §4.7, §4.10-read-path): the single serializable critical
// section that turns an accepted link into a durable entry. Atom bodies
// are served by pkg/atomstore.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// ErrNotFound is returned by Store.GetEntry when no entry exists at the
// requested (container_id, sequence).
var ErrNotFound = errors.New("ledger: entry not found")

// Tx is the subset of *sql.Tx the append engine drives inside one
// serializable transaction.
type Tx interface {
	LockTail(ctx context.Context, containerID string) (contracts.Container, error)
	Insert(ctx context.Context, e contracts.Entry) error
	Commit() error
	Rollback() error
}

// Store opens serializable transactions and serves point/range reads
// outside of any transaction.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
	GetEntry(ctx context.Context, containerID string, sequence uint64) (contracts.Entry, error)
	RangeEntries(ctx context.Context, containerID string, sinceSequence uint64, limit int) ([]contracts.Entry, error)
	Tail(ctx context.Context, containerID string) (contracts.Container, error)
}

// PostgresStore implements Store over a database/sql connection pool
// using per-container SERIALIZABLE transactions with FOR UPDATE tail
// locking (§4.7). The `ledger` table carries an append-only trigger that
// rejects UPDATE/DELETE at the storage layer; that trigger is out of
// Go's reach and is provisioned by migration, not by this package.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// BeginTx starts a SERIALIZABLE transaction for the append critical
// section.
func (s *PostgresStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("ledger: begin serializable tx: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

// GetEntry fetches a single entry by its primary key.
func (s *PostgresStore) GetEntry(ctx context.Context, containerID string, sequence uint64) (contracts.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT container_id, sequence, link_hash, previous_hash, entry_hash, ts_unix_ms, link_json
		FROM ledger WHERE container_id = $1 AND sequence = $2`,
		containerID, sequence)
	return scanEntry(row)
}

// RangeEntries returns up to limit entries with sequence > sinceSequence,
// in ascending order, for tail replay (§4.9).
func (s *PostgresStore) RangeEntries(ctx context.Context, containerID string, sinceSequence uint64, limit int) ([]contracts.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT container_id, sequence, link_hash, previous_hash, entry_hash, ts_unix_ms, link_json
		FROM ledger WHERE container_id = $1 AND sequence > $2
		ORDER BY sequence ASC LIMIT $3`,
		containerID, sinceSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: range query: %w", err)
	}
	defer rows.Close()

	var out []contracts.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Tail returns the current tail outside of any transaction, for reads
// that don't need the append engine's locking guarantees.
func (s *PostgresStore) Tail(ctx context.Context, containerID string) (contracts.Container, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sequence, entry_hash FROM ledger WHERE container_id = $1
		ORDER BY sequence DESC LIMIT 1`, containerID)

	var seq uint64
	var hash string
	err := row.Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Container{ID: containerID, TailSequence: 0, TailHash: contracts.GenesisHash}, nil
	}
	if err != nil {
		return contracts.Container{}, fmt.Errorf("ledger: tail query: %w", err)
	}
	return contracts.Container{ID: containerID, TailSequence: seq, TailHash: hash}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (contracts.Entry, error) {
	var e contracts.Entry
	var linkJSON []byte
	err := row.Scan(&e.ContainerID, &e.Sequence, &e.LinkHash, &e.PreviousHash, &e.EntryHash, &e.TSUnixMS, &linkJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Entry{}, ErrNotFound
	}
	if err != nil {
		return contracts.Entry{}, fmt.Errorf("ledger: scan entry: %w", err)
	}
	if err := unmarshalLink(linkJSON, &e.Link); err != nil {
		return contracts.Entry{}, fmt.Errorf("ledger: decode stored link: %w", err)
	}
	return e, nil
}

type postgresTx struct {
	tx *sql.Tx
}

// LockTail reads and locks the current tail row for containerID under the
// caller's SERIALIZABLE transaction (§4.7 step 2). An empty result means
// the container has never been written to; the genesis sentinel is
// returned instead.
func (t *postgresTx) LockTail(ctx context.Context, containerID string) (contracts.Container, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT sequence, entry_hash FROM ledger WHERE container_id = $1
		ORDER BY sequence DESC LIMIT 1 FOR UPDATE`, containerID)

	var seq uint64
	var hash string
	err := row.Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Container{ID: containerID, TailSequence: 0, TailHash: contracts.GenesisHash}, nil
	}
	if err != nil {
		return contracts.Container{}, fmt.Errorf("ledger: lock tail: %w", err)
	}
	return contracts.Container{ID: containerID, TailSequence: seq, TailHash: hash}, nil
}

// Insert appends an entry. The table's trigger is the actual enforcement
// of append-only; this statement is a plain INSERT.
func (t *postgresTx) Insert(ctx context.Context, e contracts.Entry) error {
	linkJSON, err := marshalLink(e.Link)
	if err != nil {
		return fmt.Errorf("ledger: encode link: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO ledger (container_id, sequence, link_hash, previous_hash, entry_hash, ts_unix_ms, link_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ContainerID, e.Sequence, e.LinkHash, e.PreviousHash, e.EntryHash, e.TSUnixMS, linkJSON)
	if err != nil {
		return fmt.Errorf("ledger: insert entry: %w", err)
	}
	return nil
}

func (t *postgresTx) Commit() error   { return t.tx.Commit() }
func (t *postgresTx) Rollback() error { return t.tx.Rollback() }

// IsSerializationFailure reports whether err is a Postgres serialization
// failure (SQLSTATE 40001), the condition the append engine retries on.
func IsSerializationFailure(err error) bool {
	return sqlStateIs(err, "40001")
}
