package permit

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/helm/core/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
	"github.com/Mindburn-Labs/helm/core/pkg/crypto"
)

// SignedReceipt is what a runner submits on completion: the receipt
// itself plus the runner's signature over its canonical bytes (§4.11
// step 5). The runner's pubkey travels with the submission the same
// way an author pubkey travels with a Link.
type SignedReceipt struct {
	Receipt      contracts.Receipt
	RunnerPubkey string
	Signature    string
}

// Receipts processes signed runner receipts for claimed commands.
type Receipts struct {
	store    Store
	evidence *EvidenceTable
}

// NewReceipts builds a Receipts processor over store. The default
// evidence table (DefaultEvidencePolicies) is used for receipt
// acceptance; override with WithEvidenceTable for a custom policy set.
func NewReceipts(store Store) *Receipts {
	return &Receipts{store: store, evidence: NewEvidenceTable(DefaultEvidencePolicies)}
}

// WithEvidenceTable overrides the evidence table used by Submit.
func (r *Receipts) WithEvidenceTable(t *EvidenceTable) *Receipts {
	r.evidence = t
	return r
}

// Submit verifies sr's signature, checks the referenced command was
// actually claimed, and records the receipt. Submitting twice for the
// same job_id is a no-op returning the first receipt recorded — receipts
// are idempotent the same way ledger entries are.
func (r *Receipts) Submit(ctx context.Context, commandJTI string, sr SignedReceipt) (contracts.Receipt, error) {
	if existing, ok, err := r.existing(ctx, sr.Receipt.JobID); err != nil {
		return contracts.Receipt{}, err
	} else if ok {
		return existing, nil
	}

	cmd, err := r.store.GetCommand(ctx, commandJTI)
	if err != nil {
		return contracts.Receipt{}, fmt.Errorf("permit: load command for receipt: %w", err)
	}
	if cmd.ClaimedAt == nil {
		return contracts.Receipt{}, contracts.NewKernelError(contracts.ErrConflict, "command %s was never claimed", commandJTI)
	}
	if cmd.JobID != sr.Receipt.JobID {
		return contracts.Receipt{}, contracts.NewKernelError(contracts.ErrConflict, "receipt job_id does not match claimed command")
	}

	valid, err := r.verify(sr)
	if err != nil {
		return contracts.Receipt{}, fmt.Errorf("permit: verify receipt signature: %w", err)
	}
	if !valid {
		return contracts.Receipt{}, contracts.NewKernelError(contracts.ErrInvalidSignature, "receipt signature does not verify against runner_pubkey")
	}

	if r.evidence != nil && sr.Receipt.Status == contracts.ReceiptOK {
		if err := r.evidence.Check(cmd.JobType, sr.Receipt.Artifacts); err != nil {
			return contracts.Receipt{}, contracts.NewKernelError(contracts.ErrInvalidAtom, "%s", err.Error())
		}
	}

	if err := r.store.InsertReceipt(ctx, sr.Receipt.JobID, sr.Receipt); err != nil {
		return contracts.Receipt{}, fmt.Errorf("permit: insert receipt: %w", err)
	}
	return sr.Receipt, nil
}

func (r *Receipts) existing(ctx context.Context, jobID string) (contracts.Receipt, bool, error) {
	has, err := r.store.HasReceipt(ctx, jobID)
	if err != nil {
		return contracts.Receipt{}, false, fmt.Errorf("permit: check existing receipt: %w", err)
	}
	if !has {
		return contracts.Receipt{}, false, nil
	}
	existing, err := r.store.GetReceipt(ctx, jobID)
	if err != nil {
		return contracts.Receipt{}, false, fmt.Errorf("permit: load existing receipt: %w", err)
	}
	return existing, true, nil
}

func (r *Receipts) verify(sr SignedReceipt) (bool, error) {
	data, err := canonicalize.JCS(sr.Receipt)
	if err != nil {
		return false, err
	}
	return crypto.Verify(sr.RunnerPubkey, sr.Signature, data)
}
