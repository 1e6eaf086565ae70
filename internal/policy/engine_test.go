package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

const (
	tenantA tenant.ID = "tenant-a"
	tenantB tenant.ID = "tenant-b"

	managerID  = "7f1c2b8e-3a4d-4c5e-8f90-112233445566"
	reportID   = "0a9b8c7d-6e5f-4a3b-9c2d-1e0f2a3b4c5d"
	peerID     = "5b2d7c41-8e3f-4d6a-b1c9-0f8e7d6c5b4a"
	outsiderID = "c3d4e5f6-a7b8-4c9d-8e0f-1a2b3c4d5e6f"
)

func fixture(t *testing.T) (*Engine, *MemoryDirectory) {
	t.Helper()
	dir := NewMemoryDirectory(
		Person{UserID: managerID, TenantID: tenantA, Roles: []string{RoleManager}},
		Person{UserID: reportID, TenantID: tenantA, ManagerID: managerID, Roles: []string{RoleEmployee}},
		Person{UserID: peerID, TenantID: tenantA, Roles: []string{RoleEmployee}},
		Person{UserID: outsiderID, TenantID: tenantB, Roles: []string{RoleAdmin}},
	)
	e, err := NewEngine(DefaultTable(), dir)
	require.NoError(t, err)
	return e, dir
}

func TestManagerApprovesSubordinateLeave(t *testing.T) {
	e, _ := fixture(t)

	d, err := e.Evaluate(context.Background(), Request{
		TenantID:     tenantA,
		ActorUserID:  managerID,
		TargetUserID: reportID,
		Resource:     ResourceLeaveRequest,
		Action:       ActionApprove,
		Roles:        []string{RoleManager},
	})
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Reason: "SubordinateApproval"}, d)
}

func TestManagerCannotApprovePeerLeave(t *testing.T) {
	e, _ := fixture(t)

	d, err := e.Evaluate(context.Background(), Request{
		TenantID:     tenantA,
		ActorUserID:  managerID,
		TargetUserID: peerID,
		Resource:     ResourceLeaveRequest,
		Action:       ActionApprove,
		Roles:        []string{RoleManager},
	})
	require.NoError(t, err)
	assert.Equal(t, deny(ReasonNoMatchingPolicy), d)
}

func TestEscapeHatchAlwaysAllows(t *testing.T) {
	e, _ := fixture(t)
	ctx := context.Background()

	for _, req := range []Request{
		{},
		{Resource: ResourcePayroll},
		{Action: ActionRun},
		{TenantID: tenantB, ActorUserID: managerID, Action: ActionRun},
	} {
		d, err := e.Evaluate(ctx, req)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, ReasonNoPolicyDeclared, d.Reason)
	}
}

func TestCrossTenantIsAlwaysDenied(t *testing.T) {
	e, _ := fixture(t)
	ctx := context.Background()

	// The tenant-b admin acting in tenant-a, on every declared pair.
	for _, pair := range DefaultTable().Pairs() {
		for _, target := range []string{"", reportID, outsiderID} {
			d, err := e.Evaluate(ctx, Request{
				TenantID:     tenantA,
				ActorUserID:  outsiderID,
				TargetUserID: target,
				Resource:     pair[0],
				Action:       pair[1],
				Roles:        []string{RoleAdmin, RoleHR, RoleManager, RolePayrollAdmin},
			})
			require.NoError(t, err)
			assert.False(t, d.Allowed, "%s/%s target=%q", pair[0], pair[1], target)
			assert.Equal(t, ReasonActorNotInTenant, d.Reason)
		}
	}
}

func TestOwnershipClassification(t *testing.T) {
	e, _ := fixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		actor  string
		target string
		want   Ownership
	}{
		{"self", managerID, managerID, Self},
		{"self differently cased", managerID, strings.ToUpper(managerID), Self},
		{"subordinate", managerID, reportID, Subordinate},
		{"peer", managerID, peerID, Unrelated},
		{"reverse direction", reportID, managerID, Unrelated},
		{"absent target", managerID, "", Unrelated},
		{"malformed target", managerID, "employee-42", Unrelated},
		{"other tenant target", managerID, outsiderID, Unrelated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Classify(ctx, tenantA, tc.actor, tc.target)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMalformedTargetIsDenyNotError(t *testing.T) {
	e, _ := fixture(t)

	d, err := e.Evaluate(context.Background(), Request{
		TenantID:     tenantA,
		ActorUserID:  managerID,
		TargetUserID: "../../etc/passwd",
		Resource:     ResourceLeaveRequest,
		Action:       ActionApprove,
		Roles:        []string{RoleManager},
	})
	require.NoError(t, err)
	assert.Equal(t, deny(ReasonNoMatchingPolicy), d)
}

func TestRolesAreCaseSensitive(t *testing.T) {
	e, _ := fixture(t)
	ctx := context.Background()

	req := Request{
		TenantID:    tenantA,
		ActorUserID: peerID,
		Resource:    ResourceEmployee,
		Action:      ActionCreate,
	}
	for _, roles := range [][]string{{"admin"}, {"ADMIN"}, {"Adm"}, {"Admin "}, {"HRManager"}} {
		req.Roles = roles
		d, err := e.Evaluate(ctx, req)
		require.NoError(t, err)
		assert.False(t, d.Allowed, "%v", roles)
	}

	req.Roles = []string{RoleEmployee, RoleHR}
	d, err := e.Evaluate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, allow(ReasonElevatedRole), d)
}

func TestElevatedRoleBypassesOwnership(t *testing.T) {
	e, _ := fixture(t)

	d, err := e.Evaluate(context.Background(), Request{
		TenantID:     tenantA,
		ActorUserID:  peerID,
		TargetUserID: reportID,
		Resource:     ResourceLeaveRequest,
		Action:       ActionApprove,
		Roles:        []string{RoleHR},
	})
	require.NoError(t, err)
	assert.Equal(t, allow(ReasonElevatedRole), d)
}

func TestActorRequiredAndUnknownPair(t *testing.T) {
	e, _ := fixture(t)
	ctx := context.Background()

	d, err := e.Evaluate(ctx, Request{TenantID: tenantA, Resource: ResourceEmployee, Action: ActionRead})
	require.NoError(t, err)
	assert.Equal(t, deny(ReasonActorRequired), d)

	d, err = e.Evaluate(ctx, Request{TenantID: tenantA, ActorUserID: managerID, Resource: "Vendor", Action: ActionRead})
	require.NoError(t, err)
	assert.Equal(t, deny(ReasonNoMatchingPolicy), d)
}

func TestDecisionsAreDeterministic(t *testing.T) {
	e, _ := fixture(t)
	req := Request{
		TenantID:     tenantA,
		ActorUserID:  managerID,
		TargetUserID: reportID,
		Resource:     ResourceEmployee,
		Action:       ActionRead,
		Roles:        []string{RoleManager},
	}
	first, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		d, err := e.Evaluate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, d)
	}
	assert.Equal(t, allow(ReasonSubordinateAccess), first)
}

type brokenDirectory struct {
	failOn string
}

func (b brokenDirectory) Person(_ context.Context, tenantID tenant.ID, userID string) (Person, error) {
	if b.failOn == "" || b.failOn == userID {
		return Person{}, errors.New("connection reset")
	}
	return Person{UserID: userID, TenantID: tenantID}, nil
}

func TestDirectoryFailureIsEngineUnavailable(t *testing.T) {
	ctx := context.Background()
	req := Request{
		TenantID:     tenantA,
		ActorUserID:  managerID,
		TargetUserID: reportID,
		Resource:     ResourceLeaveRequest,
		Action:       ActionApprove,
		Roles:        []string{RoleManager},
	}

	for _, dir := range []Directory{brokenDirectory{}, brokenDirectory{failOn: reportID}} {
		e, err := NewEngine(DefaultTable(), dir)
		require.NoError(t, err)

		d, err := e.Evaluate(ctx, req)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEngineUnavailable)
		assert.Equal(t, deny(ReasonEngineUnavailable), d)
	}
}

func TestOwnershipNotLookedUpForRoleOnlyRules(t *testing.T) {
	e, err := NewEngine(DefaultTable(), brokenDirectory{failOn: reportID})
	require.NoError(t, err)

	d, err := e.Evaluate(context.Background(), Request{
		TenantID:     tenantA,
		ActorUserID:  managerID,
		TargetUserID: reportID,
		Resource:     ResourcePayroll,
		Action:       ActionRun,
		Roles:        []string{RolePayrollAdmin},
	})
	require.NoError(t, err)
	assert.Equal(t, allow(ReasonPayrollRole), d)
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := NewEngine(nil, NewMemoryDirectory())
	assert.Error(t, err)
	_, err = NewEngine(DefaultTable(), nil)
	assert.Error(t, err)
}
