package authz

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

// StepUpBinding is the session-side proof that a caller completed a
// synchronous step-up challenge for the exact command being authorized.
// BindingHash is the content hash of the command; the guard rejects a
// binding whose hash does not match the command under evaluation.
type StepUpBinding struct {
	BindingHash string
	VerifiedAt  time.Time
	TTL         time.Duration
}

// Valid reports whether the binding is fresh and covers bindingHash.
func (b *StepUpBinding) Valid(bindingHash string, now time.Time) bool {
	if b == nil {
		return false
	}
	if b.BindingHash != bindingHash {
		return false
	}
	return now.Before(b.VerifiedAt.Add(b.TTL))
}

// Session represents a person's authenticated context, carrying whatever
// step-up binding it has accumulated.
type Session struct {
	SubjectID string
	StepUp    *StepUpBinding
}

// Guard is the authorization guard (§4.6). It accepts either a Session
// (person) or an ASC (agent) and admits or rejects a commit.
type Guard struct {
	scopePredicates map[string]cel.Program
	blocks          *Engine
}

// NewGuard constructs an empty Guard. Scope predicates are compiled
// lazily via RegisterScopePredicate so callers can express ASC scope
// rules beyond the built-in container/intent-class/max-delta checks
// (e.g. "container_id.startsWith('C.Tenant.') && intent_class != 'EVOLUTION'").
func NewGuard() *Guard {
	return &Guard{scopePredicates: make(map[string]cel.Program)}
}

// WithBlocklist attaches a relation engine used to veto otherwise-admitted
// subjects: AdmitASC/AdmitSession reject if a "container:<id>#blocked@<subject>"
// tuple exists, regardless of how the subject's ASC or session checks out.
// A nil or empty engine (the default) never rejects.
func (g *Guard) WithBlocklist(e *Engine) *Guard {
	g.blocks = e
	return g
}

// Block records that subject may never commit to containerID, even if its
// ASC or session would otherwise admit the request. Idempotent.
func (g *Guard) Block(ctx context.Context, containerID, subject string) error {
	if g.blocks == nil {
		return fmt.Errorf("authz: guard has no blocklist engine attached")
	}
	return g.blocks.WriteTuple(ctx, RelationTuple{
		Object:   "container:" + containerID,
		Relation: "blocked",
		Subject:  subject,
	})
}

func (g *Guard) isBlocked(containerID, subject string) bool {
	if g.blocks == nil {
		return false
	}
	blocked, _ := g.blocks.Check(context.Background(), "container:"+containerID, "blocked", subject)
	return blocked
}

// RegisterScopePredicate compiles and registers a CEL expression under
// name for later evaluation via EvaluateScopePredicate. The expression
// sees variables: container_id (string), intent_class (string),
// physics_delta (string).
func (g *Guard) RegisterScopePredicate(name, expr string) error {
	env, err := cel.NewEnv(
		cel.Variable("container_id", cel.StringType),
		cel.Variable("intent_class", cel.StringType),
		cel.Variable("physics_delta", cel.StringType),
	)
	if err != nil {
		return fmt.Errorf("authz: cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("authz: compile predicate %q: %w", name, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("authz: program %q: %w", name, err)
	}
	g.scopePredicates[name] = prg
	return nil
}

// EvaluateScopePredicate runs a registered predicate against a candidate
// link. Used as an optional extra layer beyond the ASC's declared
// containers/intent_classes.
func (g *Guard) EvaluateScopePredicate(name string, l *contracts.Link) (bool, error) {
	prg, ok := g.scopePredicates[name]
	if !ok {
		return false, fmt.Errorf("authz: unknown predicate %q", name)
	}
	out, _, err := prg.Eval(map[string]any{
		"container_id":  l.ContainerID,
		"intent_class":  string(l.IntentClass),
		"physics_delta": l.PhysicsDelta,
	})
	if err != nil {
		return false, fmt.Errorf("authz: eval predicate %q: %w", name, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("authz: predicate %q did not return bool", name)
	}
	return b, nil
}

// AdmitASC checks an agent's ASC against the candidate link per §4.6: not
// revoked, now within [not_before, not_after], containers includes
// container_id, intent_classes includes the request's class, and
// |physics_delta| <= max_delta if specified.
func (g *Guard) AdmitASC(asc contracts.ASC, l *contracts.Link, now time.Time) error {
	if g.isBlocked(l.ContainerID, asc.Subject) {
		return contracts.NewKernelError(contracts.ErrInvalidTarget, "subject %q is blocked on container %q", asc.Subject, l.ContainerID)
	}
	if !asc.ActiveAt(now) {
		return contracts.NewKernelError(contracts.ErrInvalidTarget, "ASC revoked or outside validity window")
	}
	if !asc.AdmitsContainer(l.ContainerID) {
		return contracts.NewKernelError(contracts.ErrInvalidTarget, "ASC does not admit container %q", l.ContainerID)
	}
	if !asc.AdmitsClass(l.IntentClass) {
		return contracts.NewKernelError(contracts.ErrInvalidTarget, "ASC does not admit intent class %q", l.IntentClass)
	}
	if asc.MaxDelta != nil {
		delta, ok := new(big.Int).SetString(l.PhysicsDelta, 10)
		if !ok {
			return contracts.NewKernelError(contracts.ErrPhysicsViolation, "physics_delta is not a valid integer")
		}
		maxDelta, ok := new(big.Int).SetString(*asc.MaxDelta, 10)
		if !ok {
			return contracts.NewKernelError(contracts.ErrInvalidTarget, "ASC max_delta is not a valid integer")
		}
		if new(big.Int).Abs(delta).Cmp(maxDelta) > 0 {
			return contracts.NewKernelError(contracts.ErrInvalidTarget, "physics_delta %s exceeds ASC max_delta %s", l.PhysicsDelta, *asc.MaxDelta)
		}
	}
	return nil
}

// AdmitSession checks a person session for high-risk actions (L4/L5):
// the session must carry a valid step-up binding over bindingHash. If
// containerID is non-empty it is also checked against the guard's
// blocklist, the same as AdmitASC.
func (g *Guard) AdmitSession(s *Session, risk contracts.RiskLevel, bindingHash, containerID string, now time.Time) error {
	if s == nil {
		return contracts.NewKernelError(contracts.ErrInvalidTarget, "no session presented")
	}
	if containerID != "" && g.isBlocked(containerID, s.SubjectID) {
		return contracts.NewKernelError(contracts.ErrInvalidTarget, "subject %q is blocked on container %q", s.SubjectID, containerID)
	}
	if !risk.RequiresStepUp() {
		return nil
	}
	if !s.StepUp.Valid(bindingHash, now) {
		return contracts.NewKernelError(contracts.ErrUnauthorizedEvolution, "missing or stale step-up binding for risk tier %d", risk)
	}
	return nil
}
