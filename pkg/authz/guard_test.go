package authz_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/core/pkg/authz"
	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

func baseLink() *contracts.Link {
	return &contracts.Link{
		Version:          1,
		ContainerID:      "C.Jobs",
		ExpectedSequence: 1,
		PreviousHash:     contracts.GenesisHash,
		AtomHash:         contracts.GenesisHash,
		IntentClass:      contracts.IntentEvolution,
		PhysicsDelta:     "5",
	}
}

func TestGuard_AdmitASC_Allows(t *testing.T) {
	g := authz.NewGuard()
	now := time.Now()
	asc := contracts.ASC{
		Subject:       "agent:builder-1",
		Containers:    []string{"C.Jobs"},
		IntentClasses: []contracts.IntentClass{contracts.IntentEvolution},
		NotBefore:     now.Add(-time.Hour),
		NotAfter:      now.Add(time.Hour),
	}

	err := g.AdmitASC(asc, baseLink(), now)
	assert.NoError(t, err)
}

func TestGuard_AdmitASC_RejectsRevoked(t *testing.T) {
	g := authz.NewGuard()
	now := time.Now()
	asc := contracts.ASC{
		Containers:    []string{"C.Jobs"},
		IntentClasses: []contracts.IntentClass{contracts.IntentEvolution},
		NotBefore:     now.Add(-time.Hour),
		NotAfter:      now.Add(time.Hour),
		Revoked:       true,
	}

	err := g.AdmitASC(asc, baseLink(), now)
	assert.Error(t, err)
	var kerr *contracts.KernelError
	assert.ErrorAs(t, err, &kerr)
	assert.Equal(t, contracts.ErrInvalidTarget, kerr.Code)
}

func TestGuard_AdmitASC_RejectsOutsideWindow(t *testing.T) {
	g := authz.NewGuard()
	now := time.Now()
	asc := contracts.ASC{
		Containers:    []string{"C.Jobs"},
		IntentClasses: []contracts.IntentClass{contracts.IntentEvolution},
		NotBefore:     now.Add(time.Hour),
		NotAfter:      now.Add(2 * time.Hour),
	}

	err := g.AdmitASC(asc, baseLink(), now)
	assert.Error(t, err)
}

func TestGuard_AdmitASC_RejectsUncoveredContainer(t *testing.T) {
	g := authz.NewGuard()
	now := time.Now()
	asc := contracts.ASC{
		Containers:    []string{"C.Other"},
		IntentClasses: []contracts.IntentClass{contracts.IntentEvolution},
		NotBefore:     now.Add(-time.Hour),
		NotAfter:      now.Add(time.Hour),
	}

	err := g.AdmitASC(asc, baseLink(), now)
	assert.Error(t, err)
}

func TestGuard_AdmitASC_RejectsUncoveredIntentClass(t *testing.T) {
	g := authz.NewGuard()
	now := time.Now()
	asc := contracts.ASC{
		Containers:    []string{"C.Jobs"},
		IntentClasses: []contracts.IntentClass{contracts.IntentObservation},
		NotBefore:     now.Add(-time.Hour),
		NotAfter:      now.Add(time.Hour),
	}

	err := g.AdmitASC(asc, baseLink(), now)
	assert.Error(t, err)
}

func TestGuard_AdmitASC_EnforcesMaxDelta(t *testing.T) {
	g := authz.NewGuard()
	now := time.Now()
	maxDelta := "3"
	asc := contracts.ASC{
		Containers:    []string{"C.Jobs"},
		IntentClasses: []contracts.IntentClass{contracts.IntentEvolution},
		MaxDelta:      &maxDelta,
		NotBefore:     now.Add(-time.Hour),
		NotAfter:      now.Add(time.Hour),
	}

	err := g.AdmitASC(asc, baseLink(), now)
	assert.Error(t, err)

	l := baseLink()
	l.PhysicsDelta = "-2"
	err = g.AdmitASC(asc, l, now)
	assert.NoError(t, err)
}

func TestGuard_AdmitSession_RequiresStepUpForHighRisk(t *testing.T) {
	g := authz.NewGuard()
	now := time.Now()

	err := g.AdmitSession(&authz.Session{SubjectID: "user:alice"}, contracts.RiskL4, "cmd-hash", "", now)
	assert.Error(t, err)

	session := &authz.Session{
		SubjectID: "user:alice",
		StepUp: &authz.StepUpBinding{
			BindingHash: "cmd-hash",
			VerifiedAt:  now,
			TTL:         time.Minute,
		},
	}
	err = g.AdmitSession(session, contracts.RiskL4, "cmd-hash", "", now)
	assert.NoError(t, err)

	err = g.AdmitSession(session, contracts.RiskL4, "other-hash", "", now)
	assert.Error(t, err)
}

func TestGuard_AdmitSession_LowRiskNeedsNoStepUp(t *testing.T) {
	g := authz.NewGuard()
	now := time.Now()

	err := g.AdmitSession(&authz.Session{SubjectID: "user:alice"}, contracts.RiskL1, "cmd-hash", "", now)
	assert.NoError(t, err)
}

func TestGuard_Blocklist_VetoesOtherwiseAdmittedSubject(t *testing.T) {
	g := authz.NewGuard().WithBlocklist(authz.NewEngine())
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, g.Block(ctx, "C.Jobs", "agent-1"))

	asc := contracts.ASC{
		Subject:       "agent-1",
		Containers:    []string{"C.Jobs"},
		IntentClasses: []contracts.IntentClass{contracts.IntentObservation},
		NotBefore:     now.Add(-time.Hour),
		NotAfter:      now.Add(time.Hour),
	}
	l := baseLink()
	l.ContainerID = "C.Jobs"
	l.IntentClass = contracts.IntentObservation
	l.PhysicsDelta = "0"

	err := g.AdmitASC(asc, l, now)
	require.Error(t, err)
	var kerr *contracts.KernelError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, contracts.ErrInvalidTarget, kerr.Code)

	err = g.AdmitSession(&authz.Session{SubjectID: "agent-1"}, contracts.RiskL1, "cmd-hash", "C.Jobs", now)
	assert.Error(t, err)
}

func TestGuard_ScopePredicate(t *testing.T) {
	g := authz.NewGuard()
	err := g.RegisterScopePredicate("jobs-only", `container_id.startsWith("C.Jobs")`)
	assert.NoError(t, err)

	ok, err := g.EvaluateScopePredicate("jobs-only", baseLink())
	assert.NoError(t, err)
	assert.True(t, ok)

	l := baseLink()
	l.ContainerID = "C.Other"
	ok, err = g.EvaluateScopePredicate("jobs-only", l)
	assert.NoError(t, err)
	assert.False(t, ok)
}
