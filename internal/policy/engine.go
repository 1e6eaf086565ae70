// Package policy evaluates tenant-scoped authorization requests against a
// fixed, statically typed rule table.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/ids"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

// Engine-level reasons. Rule tables may not reuse them.
const (
	ReasonNoPolicyDeclared  = "NoPolicyDeclared"
	ReasonNoMatchingPolicy  = "NoMatchingPolicy"
	ReasonActorRequired     = "ActorRequired"
	ReasonActorNotInTenant  = "ActorNotInTenant"
	ReasonEngineUnavailable = "EngineUnavailable"
)

func isReserved(reason string) bool {
	switch reason {
	case ReasonNoPolicyDeclared, ReasonNoMatchingPolicy, ReasonActorRequired,
		ReasonActorNotInTenant, ReasonEngineUnavailable:
		return true
	}
	return false
}

var (
	// ErrEngineUnavailable means the backing data could not be read. The
	// accompanying decision is always a deny.
	ErrEngineUnavailable = errors.New("policy: engine unavailable")
	// ErrPersonNotFound is returned by Directory implementations.
	ErrPersonNotFound = errors.New("policy: person not found")
)

// Request is one authorization question.
type Request struct {
	TenantID     tenant.ID
	ActorUserID  string
	TargetUserID string
	Resource     string
	Action       string
	Roles        []string
}

// Decision is the engine's answer. Reason is always set.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// Person is a tenant member as seen by the engine.
type Person struct {
	UserID    string
	TenantID  tenant.ID
	ManagerID string
	Roles     []string
}

// Directory looks people up inside one tenant. A person of another tenant is
// indistinguishable from a missing one.
type Directory interface {
	Person(ctx context.Context, tenantID tenant.ID, userID string) (Person, error)
}

// Engine evaluates Requests. It holds no per-request state.
type Engine struct {
	table  *Table
	people Directory
}

func NewEngine(table *Table, people Directory) (*Engine, error) {
	if table == nil {
		return nil, errors.New("policy: rule table is required")
	}
	if people == nil {
		return nil, errors.New("policy: directory is required")
	}
	return &Engine{table: table, people: people}, nil
}

// Evaluate always returns a decision. The error is non-nil only for backing
// store failures, in which case the decision denies with EngineUnavailable.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Decision, error) {
	d, err := e.evaluate(ctx, req)
	obs.ObserveDecision(d.Allowed, d.Reason)
	return d, err
}

func (e *Engine) evaluate(ctx context.Context, req Request) (Decision, error) {
	if req.Resource == "" || req.Action == "" {
		return allow(ReasonNoPolicyDeclared), nil
	}
	if req.ActorUserID == "" {
		return deny(ReasonActorRequired), nil
	}
	actorID, ok := ids.ParseUser(req.ActorUserID)
	if !ok || req.TenantID.IsZero() {
		return deny(ReasonActorNotInTenant), nil
	}

	// Every lookup below is keyed by the request tenant.
	if _, err := e.people.Person(ctx, req.TenantID, actorID); err != nil {
		if errors.Is(err, ErrPersonNotFound) {
			return deny(ReasonActorNotInTenant), nil
		}
		return unavailable(err)
	}

	rules, ok := e.table.lookup(req.Resource, req.Action)
	if !ok {
		return deny(ReasonNoMatchingPolicy), nil
	}

	rel := relation{engine: e, tenantID: req.TenantID, actorID: actorID, target: req.TargetUserID}
	for _, r := range rules {
		matched, err := r.matches(ctx, req.Roles, &rel)
		if err != nil {
			return unavailable(err)
		}
		if matched {
			return allow(r.Reason), nil
		}
	}
	return deny(ReasonNoMatchingPolicy), nil
}

func unavailable(err error) (Decision, error) {
	return deny(ReasonEngineUnavailable), fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
}

func (c compiledRule) matches(ctx context.Context, roles []string, rel *relation) (bool, error) {
	switch c.Kind {
	case KindAllowAll:
		return true, nil
	case KindRequireRole:
		return c.hasRole(roles), nil
	case KindRequireOwnership:
		o, err := rel.get(ctx)
		return err == nil && c.owns[o], err
	case KindRequireRoleOrOwnership:
		if c.hasRole(roles) {
			return true, nil
		}
		o, err := rel.get(ctx)
		return err == nil && c.owns[o], err
	case KindRequireRoleAndOwnership:
		if !c.hasRole(roles) {
			return false, nil
		}
		o, err := rel.get(ctx)
		return err == nil && c.owns[o], err
	}
	return false, nil
}

// relation computes the ownership once, on first use.
type relation struct {
	engine   *Engine
	tenantID tenant.ID
	actorID  string
	target   string

	done bool
	own  Ownership
}

func (r *relation) get(ctx context.Context) (Ownership, error) {
	if r.done {
		return r.own, nil
	}
	o, err := r.engine.Classify(ctx, r.tenantID, r.actorID, r.target)
	if err != nil {
		return Unrelated, err
	}
	r.own, r.done = o, true
	return o, nil
}

// Classify returns the ownership relation between actor and target inside
// tenantID. Absent or malformed targets are Unrelated.
func (e *Engine) Classify(ctx context.Context, tenantID tenant.ID, actorUserID, targetUserID string) (Ownership, error) {
	actorID, ok := ids.ParseUser(actorUserID)
	if !ok {
		return Unrelated, nil
	}
	targetID, ok := ids.ParseUser(targetUserID)
	if !ok {
		return Unrelated, nil
	}
	if targetID == actorID {
		return Self, nil
	}
	target, err := e.people.Person(ctx, tenantID, targetID)
	switch {
	case errors.Is(err, ErrPersonNotFound):
		return Unrelated, nil
	case err != nil:
		return Unrelated, err
	}
	if managerID, ok := ids.ParseUser(target.ManagerID); ok && managerID == actorID {
		return Subordinate, nil
	}
	return Unrelated, nil
}
