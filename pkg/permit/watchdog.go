package permit

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// Watchdog synthesizes TIMEOUT receipts for commands that were claimed
// but never received a runner receipt within the runner timeout (§4.11,
// §4.12's "claimed (used=true) ... or expired").
type Watchdog struct {
	store   Store
	timeout time.Duration
	clock   func() time.Time
}

// NewWatchdog builds a Watchdog over store with the given runner timeout.
func NewWatchdog(store Store, timeout time.Duration) *Watchdog {
	return &Watchdog{store: store, timeout: timeout, clock: time.Now}
}

// WithClock overrides the watchdog's clock for testing.
func (w *Watchdog) WithClock(clock func() time.Time) *Watchdog {
	w.clock = clock
	return w
}

// Sweep finds claimed-but-unreceipted commands past the runner timeout
// and commits a synthetic TIMEOUT receipt for each, returning the jobs
// it timed out. Commands still within the timeout window are left
// alone for a future sweep.
func (w *Watchdog) Sweep(ctx context.Context) ([]string, error) {
	candidates, err := w.store.ListClaimedWithoutReceipt(ctx)
	if err != nil {
		return nil, fmt.Errorf("permit: list claimed commands: %w", err)
	}

	now := w.clock()
	var timedOut []string
	for _, c := range candidates {
		if c.ClaimedAt == nil || now.Sub(*c.ClaimedAt) < w.timeout {
			continue
		}
		receipt := contracts.Receipt{
			JobID:      c.JobID,
			Status:     contracts.ReceiptTimeout,
			FinishedAt: now.UnixMilli(),
		}
		if err := w.store.InsertReceipt(ctx, c.JobID, receipt); err != nil {
			return timedOut, fmt.Errorf("permit: insert timeout receipt for %s: %w", c.JobID, err)
		}
		timedOut = append(timedOut, c.JobID)
	}
	return timedOut, nil
}
