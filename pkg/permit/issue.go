// Package permit implements the risk-tiered permit/command/receipt
// pipeline (C12, §4.11): minting single-use permits for work that runs
// outside the kernel, gating issuance and claim by risk tier, and
// closing the loop with a signed receipt or a watchdog-synthesized
// TIMEOUT.
package permit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm/core/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
	"github.com/Mindburn-Labs/helm/core/pkg/kernel"
)

// IssueRequest is the caller's request for a permit over one job.
type IssueRequest struct {
	TenantID string
	ActorID  string
	JobType  string
	Target   string
	Args     map[string]any

	// Subject is hashed into subject_hash (§4.11 step 1).
	Subject contracts.Subject
	// PolicySnapshot is whatever the current policy set resolves to for
	// this request; it is hashed into policy_hash so the permit records
	// exactly which policy version authorized it.
	PolicySnapshot any

	// ApprovalRef, if set, satisfies an L3 permit's approval requirement
	// at issuance time (the approval atom was already committed
	// out-of-band). Ignored for tiers that don't require it.
	ApprovalRef string
}

// Issuer mints permits per §4.11.
type Issuer struct {
	store      Store
	classifier RiskClassifier
	clock      func() time.Time
	events     kernel.EventLog
}

// NewIssuer builds an Issuer over store using classifier to derive risk.
func NewIssuer(store Store, classifier RiskClassifier) *Issuer {
	return &Issuer{store: store, classifier: classifier, clock: time.Now}
}

// WithClock overrides the issuer's clock for testing.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	i.clock = clock
	return i
}

// WithEventLog attaches a hash-chained lifecycle log distinct from the
// ledger itself: Issue and Approve each append an event, so permit
// lifecycle history can be replayed and its integrity checked
// independently of the containers it ultimately authorizes writes into.
func (i *Issuer) WithEventLog(log kernel.EventLog) *Issuer {
	i.events = log
	return i
}

func (i *Issuer) logEvent(ctx context.Context, eventType string, payload map[string]interface{}) {
	if i.events == nil {
		return
	}
	_, _ = i.events.Append(ctx, &kernel.EventEnvelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		ObservedAt: i.clock().UTC(),
		ReceivedAt: i.clock().UTC(),
		Payload:    payload,
	})
}

// Issue computes policy_hash and subject_hash, derives the risk tier,
// and persists a new permit. For L3 without req.ApprovalRef the permit
// is persisted unused and not yet claimable — Approve must be called
// once the async approval atom commits. For L4-L5 the permit is
// claimable immediately; neither Issue nor Dispatch.Claim checks step-up.
// Step-up binding is checked by the membrane on high-risk session
// commits (§4.6).
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (contracts.Permit, error) {
	policyHash, err := canonicalize.CanonicalHash(req.PolicySnapshot)
	if err != nil {
		return contracts.Permit{}, fmt.Errorf("permit: hash policy snapshot: %w", err)
	}
	subjectHash, err := canonicalize.CanonicalHash(req.Subject)
	if err != nil {
		return contracts.Permit{}, fmt.Errorf("permit: hash subject: %w", err)
	}

	risk := i.classifier.Classify(req.JobType, req.Target, req.Args)
	now := i.clock()

	var approvalRef *string
	if req.ApprovalRef != "" {
		ref := req.ApprovalRef
		approvalRef = &ref
	}

	p := contracts.Permit{
		JTI:         uuid.NewString(),
		TenantID:    req.TenantID,
		ActorID:     req.ActorID,
		JobType:     req.JobType,
		Target:      req.Target,
		SubjectHash: subjectHash,
		PolicyHash:  policyHash,
		ApprovalRef: approvalRef,
		Risk:        risk,
		IssuedAt:    now,
		Exp:         now.Add(risk.TTL()),
		Used:        false,
	}
	if err := i.store.InsertPermit(ctx, p); err != nil {
		return contracts.Permit{}, fmt.Errorf("permit: insert: %w", err)
	}
	i.logEvent(ctx, "permit.issued", map[string]interface{}{
		"jti": p.JTI, "job_type": p.JobType, "risk": int(p.Risk),
	})
	return p, nil
}

// Approve records an async human approval for an L3 permit (§4.11 step
// 2), unblocking it for command creation. Approving a permit that
// doesn't require one is harmless but pointless; callers should check
// Risk.RequiresApproval first.
func (i *Issuer) Approve(ctx context.Context, jti, approvalRef string) error {
	if err := i.store.ApprovePermit(ctx, jti, approvalRef); err != nil {
		return fmt.Errorf("permit: approve: %w", err)
	}
	i.logEvent(ctx, "permit.approved", map[string]interface{}{
		"jti": jti, "approval_ref": approvalRef,
	})
	return nil
}

// Claimable reports whether p may have a command created for it right
// now: unexpired, unused, and — for L3 — carrying an approval_ref.
func Claimable(p contracts.Permit, now time.Time) error {
	if p.Used {
		return contracts.NewKernelError(contracts.ErrConflict, "permit %s already used", p.JTI)
	}
	if p.Expired(now) {
		return contracts.NewKernelError(contracts.ErrTimeout, "permit %s expired at %s", p.JTI, p.Exp)
	}
	if p.Risk.RequiresApproval() && p.ApprovalRef == nil {
		return contracts.NewKernelError(contracts.ErrConflict, "permit %s awaiting async approval", p.JTI)
	}
	return nil
}
