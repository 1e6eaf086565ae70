// Package authz runs the per-request checks that follow authentication: the
// module gate first, then the policy engine.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/audit"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/auth"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/module"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/policy"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

var (
	ErrModuleNotActive = errors.New("authz: module not active for tenant")
	ErrPolicyDenied    = errors.New("authz: policy denied")
	// ErrEngineUnavailable covers gate and engine collaborator failures.
	ErrEngineUnavailable = errors.New("authz: decision engine unavailable")
)

// DeniedError carries the stable reason of a denial.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return "authz: policy denied: " + e.Reason }

func (e *DeniedError) Unwrap() error { return ErrPolicyDenied }

// Route describes what an endpoint touches.
type Route struct {
	Resource string
	Action   string
	// Module, when set, must be active for the tenant.
	Module       string
	TargetUserID string
}

type Request struct {
	TenantID  tenant.ID
	Principal auth.Principal
	Route     Route
}

type Guard struct {
	gate   *module.Gate
	engine *policy.Engine
}

func NewGuard(gate *module.Gate, engine *policy.Engine) (*Guard, error) {
	if gate == nil || engine == nil {
		return nil, errors.New("authz: gate and engine are required")
	}
	return &Guard{gate: gate, engine: engine}, nil
}

// Authorize returns the policy decision. A nil error means allowed.
func (g *Guard) Authorize(ctx context.Context, req Request) (policy.Decision, error) {
	if req.Route.Module != "" {
		active, err := g.gate.IsModuleActive(ctx, req.TenantID, req.Route.Module)
		if err != nil {
			return policy.Decision{Reason: policy.ReasonEngineUnavailable}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		if !active {
			_ = audit.LogEvent(ctx, audit.ModuleNotActive, map[string]any{
				"module":   req.Route.Module,
				"resource": req.Route.Resource,
				"action":   req.Route.Action,
			})
			return policy.Decision{Reason: "ModuleNotActive"}, ErrModuleNotActive
		}
	}

	// Roles in a credential only hold inside the tenant it was minted for.
	declared := req.Route.Resource != "" && req.Route.Action != ""
	if declared && req.Principal.UserID != "" && req.Principal.TenantID != req.TenantID {
		d := policy.Decision{Reason: policy.ReasonActorNotInTenant}
		obs.ObserveDecision(false, d.Reason)
		g.denied(ctx, req, d)
		return d, &DeniedError{Reason: d.Reason}
	}

	d, err := g.engine.Evaluate(ctx, policy.Request{
		TenantID:     req.TenantID,
		ActorUserID:  req.Principal.UserID,
		TargetUserID: req.Route.TargetUserID,
		Resource:     req.Route.Resource,
		Action:       req.Route.Action,
		Roles:        req.Principal.Roles,
	})
	if err != nil {
		obs.From(ctx).Error("policy engine failed", obs.Resource(req.Route.Resource), obs.Action(req.Route.Action), obs.Err(err))
		return d, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if !d.Allowed {
		g.denied(ctx, req, d)
		return d, &DeniedError{Reason: d.Reason}
	}
	return d, nil
}

func (g *Guard) denied(ctx context.Context, req Request, d policy.Decision) {
	_ = audit.LogEvent(ctx, audit.PolicyDenied, map[string]any{
		"resource": req.Route.Resource,
		"action":   req.Route.Action,
		"target":   req.Route.TargetUserID,
		"reason":   d.Reason,
	})
}
