package permit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// Dispatch creates a Command bound to an existing permit (§4.11 step 4),
// after confirming the permit is actually claimable right now.
type Dispatch struct {
	store Store
	clock func() time.Time
}

// NewDispatch builds a Dispatch over store.
func NewDispatch(store Store) *Dispatch {
	return &Dispatch{store: store, clock: time.Now}
}

// WithClock overrides the dispatch's clock for testing.
func (d *Dispatch) WithClock(clock func() time.Time) *Dispatch {
	d.clock = clock
	return d
}

// CreateCommand looks up the permit by jti, checks Claimable, and
// persists a pending command referencing it.
func (d *Dispatch) CreateCommand(ctx context.Context, permitJTI, jobID string, params map[string]any) (contracts.Command, error) {
	p, err := d.store.GetPermit(ctx, permitJTI)
	if err != nil {
		return contracts.Command{}, fmt.Errorf("permit: load permit for command: %w", err)
	}
	if err := Claimable(p, d.clock()); err != nil {
		return contracts.Command{}, err
	}

	c := contracts.Command{
		JTI:     uuid.NewString(),
		JobID:   jobID,
		JobType: p.JobType,
		Params:  params,
		Permit:  p,
		Target:  p.Target,
		Pending: true,
	}
	if err := d.store.InsertCommand(ctx, c); err != nil {
		return contracts.Command{}, fmt.Errorf("permit: insert command: %w", err)
	}
	return c, nil
}

// Claim lets a runner of target atomically take the oldest pending
// command for it, flipping the command's Pending flag and its permit's
// Used flag together (§4.11 step 4, §4.12's claimed(used=true) state).
// Returns ErrNotFound if nothing is claimable right now.
func (d *Dispatch) Claim(ctx context.Context, target string) (contracts.Command, error) {
	c, err := d.store.ClaimPendingCommand(ctx, target)
	if err != nil {
		return contracts.Command{}, err
	}
	return c, nil
}
