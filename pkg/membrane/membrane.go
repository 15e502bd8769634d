// Package membrane implements the pure validation layer between a
// submitted link and its append to the ledger (§4.4). It never writes
// anything; it only accepts or rejects with a typed error.
package membrane

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/Mindburn-Labs/helm/core/pkg/authz"
	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
	"github.com/Mindburn-Labs/helm/core/pkg/crypto"
	"github.com/Mindburn-Labs/helm/core/pkg/pact"
)

// SupportedVersions is the set of link wire versions this membrane accepts.
var SupportedVersions = map[int]struct{}{1: {}}

// AuthContext carries whichever principal submitted the link: a person
// session or an agent's ASC, never both. Risk and BindingHash are only
// consulted for person sessions on high-risk intent classes.
type AuthContext struct {
	Session     *authz.Session
	ASC         *contracts.ASC
	Risk        contracts.RiskLevel
	BindingHash string
}

// Membrane holds the collaborators needed to run the ordered checks: the
// authorization guard, the signature verifier, and the pact aggregator.
type Membrane struct {
	guard    *authz.Guard
	verifier crypto.Verifier
	pacts    *pact.Aggregator
}

// New builds a Membrane over the given guard, verifier, and pact aggregator.
func New(guard *authz.Guard, verifier crypto.Verifier, pacts *pact.Aggregator) *Membrane {
	return &Membrane{guard: guard, verifier: verifier, pacts: pacts}
}

// Validate runs the ordered checks of §4.4 against l, short-circuiting on
// the first failure. tail is the locked container tail as read under the
// serializable transaction (§4.7); an empty TailHash is treated as the
// genesis sentinel.
func (m *Membrane) Validate(l *contracts.Link, authCtx AuthContext, tail contracts.Container, now time.Time) error {
	if err := m.checkShape(l); err != nil {
		return err
	}
	requiresPact, err := m.checkClassDeltaCoherence(l)
	if err != nil {
		return err
	}
	if err := m.checkTargetAuthorization(l, authCtx, now); err != nil {
		return err
	}
	if err := m.checkSignature(l); err != nil {
		return err
	}
	if err := m.checkTailConsistency(l, tail); err != nil {
		return err
	}
	if requiresPact {
		if err := m.pacts.Validate(l, now); err != nil {
			return err
		}
	}
	return nil
}

func (m *Membrane) checkShape(l *contracts.Link) error {
	if _, ok := SupportedVersions[l.Version]; !ok {
		return contracts.NewKernelError(contracts.ErrInvalidVersion, "unsupported link version %d", l.Version)
	}
	if !l.IntentClass.Valid() {
		return contracts.NewKernelError(contracts.ErrInvalidAtom, "unknown intent class %q", l.IntentClass)
	}
	if err := checkHash32Hex(l.PreviousHash); err != nil {
		return contracts.NewKernelError(contracts.ErrInvalidAtom, "previous_hash: %v", err)
	}
	if err := checkHash32Hex(l.AtomHash); err != nil {
		return contracts.NewKernelError(contracts.ErrInvalidAtom, "atom_hash: %v", err)
	}
	if err := checkHexLen(l.AuthorPubkey, 32); err != nil {
		return contracts.NewKernelError(contracts.ErrInvalidAtom, "author_pubkey: %v", err)
	}
	if err := checkHexLen(l.Signature, 64); err != nil {
		return contracts.NewKernelError(contracts.ErrInvalidAtom, "signature: %v", err)
	}
	if err := crypto.DecodeSignedI128(l.PhysicsDelta); err != nil {
		return contracts.NewKernelError(contracts.ErrPhysicsViolation, "physics_delta: %v", err)
	}
	return nil
}

// checkClassDeltaCoherence reports whether l requires a valid pact proof
// in addition to the class/delta rule it enforces directly.
func (m *Membrane) checkClassDeltaCoherence(l *contracts.Link) (requiresPact bool, err error) {
	delta, ok := new(big.Int).SetString(l.PhysicsDelta, 10)
	if !ok {
		return false, contracts.NewKernelError(contracts.ErrPhysicsViolation, "physics_delta is not a valid integer")
	}
	isZero := delta.Sign() == 0

	switch l.IntentClass {
	case contracts.IntentObservation, contracts.IntentConservation:
		if !isZero {
			return false, contracts.NewKernelError(contracts.ErrPhysicsViolation, "%s requires physics_delta == 0", l.IntentClass)
		}
		return false, nil
	case contracts.IntentEntropy, contracts.IntentEvolution:
		return true, nil
	default:
		return false, contracts.NewKernelError(contracts.ErrInvalidAtom, "unknown intent class %q", l.IntentClass)
	}
}

func (m *Membrane) checkTargetAuthorization(l *contracts.Link, authCtx AuthContext, now time.Time) error {
	switch {
	case authCtx.ASC != nil:
		return m.guard.AdmitASC(*authCtx.ASC, l, now)
	case authCtx.Session != nil:
		return m.guard.AdmitSession(authCtx.Session, authCtx.Risk, authCtx.BindingHash, l.ContainerID, now)
	default:
		return contracts.NewKernelError(contracts.ErrInvalidTarget, "no authorization context presented")
	}
}

func (m *Membrane) checkSignature(l *contracts.Link) error {
	valid, err := m.verifier.VerifyLink(l)
	if err != nil {
		return contracts.NewKernelError(contracts.ErrInvalidSignature, "signature verification error: %v", err)
	}
	if !valid {
		return contracts.NewKernelError(contracts.ErrInvalidSignature, "signature does not verify against author_pubkey")
	}
	return nil
}

func (m *Membrane) checkTailConsistency(l *contracts.Link, tail contracts.Container) error {
	expectedPrev := tail.TailHash
	if expectedPrev == "" {
		expectedPrev = contracts.GenesisHash
	}
	expectedSeq := tail.TailSequence + 1

	if l.ExpectedSequence != expectedSeq {
		return contracts.NewKernelError(contracts.ErrSequenceMismatch, "expected_sequence %d does not match tail %d", l.ExpectedSequence, expectedSeq)
	}
	if l.PreviousHash != expectedPrev {
		return contracts.NewKernelError(contracts.ErrRealityDrift, "previous_hash does not match tail hash")
	}
	return nil
}

func checkHash32Hex(s string) error {
	return checkHexLen(s, 32)
}

func checkHexLen(s string, wantBytes int) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != wantBytes {
		return errWrongLength(wantBytes, len(b))
	}
	return nil
}

func errWrongLength(want, got int) error {
	return fmt.Errorf("expected %d bytes, got %d", want, got)
}
