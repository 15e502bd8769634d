package membrane_test

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/core/pkg/authz"
	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
	"github.com/Mindburn-Labs/helm/core/pkg/crypto"
	"github.com/Mindburn-Labs/helm/core/pkg/membrane"
	"github.com/Mindburn-Labs/helm/core/pkg/pact"
)

func zeroHash() string {
	return hex.EncodeToString(make([]byte, 32))
}

func newHarness(t *testing.T) (*membrane.Membrane, *authz.Guard, *crypto.Ed25519Signer) {
	t.Helper()
	signer, err := crypto.NewEd25519Signer("author-1")
	require.NoError(t, err)

	guard := authz.NewGuard()
	verifier := &crypto.Ed25519Verifier{}
	registry := pact.NewRegistry()
	agg := pact.NewAggregator(registry, verifier)
	m := membrane.New(guard, verifier, agg)
	return m, guard, signer
}

func signedObservationLink(t *testing.T, signer *crypto.Ed25519Signer, containerID string, seq uint64, prevHash string) *contracts.Link {
	t.Helper()
	l := &contracts.Link{
		Version:          1,
		ContainerID:      containerID,
		ExpectedSequence: seq,
		PreviousHash:     prevHash,
		AtomHash:         zeroHash(),
		IntentClass:      contracts.IntentObservation,
		PhysicsDelta:     "0",
	}
	require.NoError(t, signer.SignLink(l))
	return l
}

func ascFor(signer *crypto.Ed25519Signer, containerID string, classes ...contracts.IntentClass) contracts.ASC {
	now := time.Now()
	return contracts.ASC{
		Subject:       signer.PublicKey(),
		Containers:    []string{containerID},
		IntentClasses: classes,
		NotBefore:     now.Add(-time.Hour),
		NotAfter:      now.Add(time.Hour),
	}
}

func TestMembrane_AcceptsValidGenesisCommit(t *testing.T) {
	m, _, signer := newHarness(t)
	link := signedObservationLink(t, signer, "C.Jobs", 1, contracts.GenesisHash)
	asc := ascFor(signer, "C.Jobs", contracts.IntentObservation)

	tail := contracts.Container{ID: "C.Jobs", TailSequence: 0, TailHash: contracts.GenesisHash}
	err := m.Validate(link, membrane.AuthContext{ASC: &asc}, tail, time.Now())
	assert.NoError(t, err)
}

func TestMembrane_RejectsUnsupportedVersion(t *testing.T) {
	m, _, signer := newHarness(t)
	link := signedObservationLink(t, signer, "C.Jobs", 1, contracts.GenesisHash)
	link.Version = 99
	asc := ascFor(signer, "C.Jobs", contracts.IntentObservation)

	tail := contracts.Container{ID: "C.Jobs", TailHash: contracts.GenesisHash}
	err := m.Validate(link, membrane.AuthContext{ASC: &asc}, tail, time.Now())
	assertKernelCode(t, err, contracts.ErrInvalidVersion)
}

func TestMembrane_RejectsNonZeroDeltaForObservation(t *testing.T) {
	m, _, signer := newHarness(t)
	link := &contracts.Link{
		Version:          1,
		ContainerID:      "C.Jobs",
		ExpectedSequence: 1,
		PreviousHash:     contracts.GenesisHash,
		AtomHash:         zeroHash(),
		IntentClass:      contracts.IntentObservation,
		PhysicsDelta:     "5",
	}
	require.NoError(t, signer.SignLink(link))
	asc := ascFor(signer, "C.Jobs", contracts.IntentObservation)

	tail := contracts.Container{ID: "C.Jobs", TailHash: contracts.GenesisHash}
	err := m.Validate(link, membrane.AuthContext{ASC: &asc}, tail, time.Now())
	assertKernelCode(t, err, contracts.ErrPhysicsViolation)
}

func TestMembrane_RejectsUnauthorizedTarget(t *testing.T) {
	m, _, signer := newHarness(t)
	link := signedObservationLink(t, signer, "C.Jobs", 1, contracts.GenesisHash)
	asc := ascFor(signer, "C.Other", contracts.IntentObservation)

	tail := contracts.Container{ID: "C.Jobs", TailHash: contracts.GenesisHash}
	err := m.Validate(link, membrane.AuthContext{ASC: &asc}, tail, time.Now())
	assertKernelCode(t, err, contracts.ErrInvalidTarget)
}

func TestMembrane_RejectsTamperedSignature(t *testing.T) {
	m, _, signer := newHarness(t)
	link := signedObservationLink(t, signer, "C.Jobs", 1, contracts.GenesisHash)
	link.PhysicsDelta = "0" // keep coherent, tamper signature only
	link.Signature = link.Signature[:len(link.Signature)-2] + "00"
	asc := ascFor(signer, "C.Jobs", contracts.IntentObservation)

	tail := contracts.Container{ID: "C.Jobs", TailHash: contracts.GenesisHash}
	err := m.Validate(link, membrane.AuthContext{ASC: &asc}, tail, time.Now())
	assertKernelCode(t, err, contracts.ErrInvalidSignature)
}

func TestMembrane_RejectsSequenceMismatch(t *testing.T) {
	m, _, signer := newHarness(t)
	link := signedObservationLink(t, signer, "C.Jobs", 5, contracts.GenesisHash)
	asc := ascFor(signer, "C.Jobs", contracts.IntentObservation)

	tail := contracts.Container{ID: "C.Jobs", TailHash: contracts.GenesisHash}
	err := m.Validate(link, membrane.AuthContext{ASC: &asc}, tail, time.Now())
	assertKernelCode(t, err, contracts.ErrSequenceMismatch)
}

func TestMembrane_RejectsPreviousHashDrift(t *testing.T) {
	m, _, signer := newHarness(t)
	wrongPrev := "11" + zeroHash()[2:] // zeroHash() itself equals the genesis sentinel
	link := signedObservationLink(t, signer, "C.Jobs", 1, wrongPrev)
	asc := ascFor(signer, "C.Jobs", contracts.IntentObservation)

	tail := contracts.Container{ID: "C.Jobs", TailHash: contracts.GenesisHash}
	err := m.Validate(link, membrane.AuthContext{ASC: &asc}, tail, time.Now())
	assertKernelCode(t, err, contracts.ErrRealityDrift)
}

func TestMembrane_EvolutionRequiresPactProof(t *testing.T) {
	m, _, signer := newHarness(t)
	link := &contracts.Link{
		Version:          1,
		ContainerID:      "C.Treasury",
		ExpectedSequence: 1,
		PreviousHash:     contracts.GenesisHash,
		AtomHash:         zeroHash(),
		IntentClass:      contracts.IntentEvolution,
		PhysicsDelta:     "10",
	}
	require.NoError(t, signer.SignLink(link))
	asc := ascFor(signer, "C.Treasury", contracts.IntentEvolution)

	tail := contracts.Container{ID: "C.Treasury", TailHash: contracts.GenesisHash}
	err := m.Validate(link, membrane.AuthContext{ASC: &asc}, tail, time.Now())
	assertKernelCode(t, err, contracts.ErrPactViolation)
}

func assertKernelCode(t *testing.T, err error, want contracts.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var kerr *contracts.KernelError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, want, kerr.Code)
}
