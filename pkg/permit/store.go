package permit

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// ErrNotFound is returned when a permit, command, or receipt lookup
// misses.
var ErrNotFound = errors.New("permit: not found")

// Store persists the permit/command/receipt trail (§4.11, §4.12). All
// writes are append-only except the two single-flip transitions the
// spec names explicitly: a permit's Used flag and a command's Pending
// flag, both of which this interface flips atomically together in
// ClaimPendingCommand.
type Store interface {
	// InsertPermit appends p. jti must be unique; a duplicate insert is
	// the caller's bug, not a runtime condition to recover from.
	InsertPermit(ctx context.Context, p contracts.Permit) error
	GetPermit(ctx context.Context, jti string) (contracts.Permit, error)
	// ApprovePermit records approvalRef on an L3 permit awaiting async
	// human approval. Returns ErrNotFound if jti is unknown.
	ApprovePermit(ctx context.Context, jti, approvalRef string) error

	InsertCommand(ctx context.Context, c contracts.Command) error
	GetCommand(ctx context.Context, jti string) (contracts.Command, error)

	// ClaimPendingCommand finds the oldest pending command for target
	// whose permit is unused and unexpired, and atomically flips the
	// command's Pending flag and the permit's Used flag together. It
	// returns ErrNotFound if no claimable command exists.
	ClaimPendingCommand(ctx context.Context, target string) (contracts.Command, error)

	// ListClaimedWithoutReceipt returns commands that were claimed but
	// have no receipt yet, for the watchdog to consider for TIMEOUT
	// synthesis.
	ListClaimedWithoutReceipt(ctx context.Context) ([]contracts.Command, error)

	InsertReceipt(ctx context.Context, jobID string, r contracts.Receipt) error
	GetReceipt(ctx context.Context, jobID string) (contracts.Receipt, error)
	HasReceipt(ctx context.Context, jobID string) (bool, error)
}
