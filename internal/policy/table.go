package policy

// Roles used by the HRMS table.
const (
	RoleAdmin        = "Admin"
	RoleHR           = "HR"
	RoleManager      = "Manager"
	RoleEmployee     = "Employee"
	RolePayrollAdmin = "PayrollAdmin"
)

// Resources and actions of the HRMS table.
const (
	ResourceEmployee     = "Employee"
	ResourceLeaveRequest = "LeaveRequest"
	ResourceAttendance   = "Attendance"
	ResourcePayroll      = "Payroll"
	ResourceSession      = "Session"
	ResourceModule       = "Module"

	ActionRead    = "Read"
	ActionCreate  = "Create"
	ActionUpdate  = "Update"
	ActionDelete  = "Delete"
	ActionApprove = "Approve"
	ActionRecord  = "Record"
	ActionRun     = "Run"
	ActionRevoke  = "Revoke"
)

// Per-rule reasons.
const (
	ReasonElevatedRole        = "ElevatedRole"
	ReasonSelfService         = "SelfService"
	ReasonSubordinateAccess   = "SubordinateAccess"
	ReasonSubordinateApproval = "SubordinateApproval"
	ReasonOwnRecord           = "OwnRecord"
	ReasonPayrollRole         = "PayrollRole"
	ReasonTenantMember        = "TenantMember"
)

var elevated = []string{RoleAdmin, RoleHR}

// DefaultTable is the rule table the service runs with.
func DefaultTable() *Table {
	return MustTable(
		Entry{Resource: ResourceEmployee, Action: ActionRead, Rules: []Rule{
			RequireRole(ReasonElevatedRole, elevated...),
			RequireOwnership(ReasonSelfService, Self),
			RequireRoleAndOwnership(ReasonSubordinateAccess, []string{RoleManager}, []Ownership{Subordinate}),
		}},
		Entry{Resource: ResourceEmployee, Action: ActionUpdate, Rules: []Rule{
			RequireRole(ReasonElevatedRole, elevated...),
			RequireOwnership(ReasonSelfService, Self),
		}},
		Entry{Resource: ResourceEmployee, Action: ActionCreate, Rules: []Rule{
			RequireRole(ReasonElevatedRole, elevated...),
		}},
		Entry{Resource: ResourceEmployee, Action: ActionDelete, Rules: []Rule{
			RequireRole(ReasonElevatedRole, RoleAdmin),
		}},

		Entry{Resource: ResourceLeaveRequest, Action: ActionCreate, Rules: []Rule{
			RequireOwnership(ReasonSelfService, Self),
			RequireRole(ReasonElevatedRole, elevated...),
		}},
		Entry{Resource: ResourceLeaveRequest, Action: ActionRead, Rules: []Rule{
			RequireRole(ReasonElevatedRole, elevated...),
			RequireOwnership(ReasonOwnRecord, Self, Subordinate),
		}},
		Entry{Resource: ResourceLeaveRequest, Action: ActionApprove, Rules: []Rule{
			RequireRole(ReasonElevatedRole, elevated...),
			RequireRoleAndOwnership(ReasonSubordinateApproval, []string{RoleManager}, []Ownership{Subordinate}),
		}},

		Entry{Resource: ResourceAttendance, Action: ActionRead, Rules: []Rule{
			RequireRoleOrOwnership(ReasonOwnRecord, elevated, []Ownership{Self, Subordinate}),
		}},
		Entry{Resource: ResourceAttendance, Action: ActionRecord, Rules: []Rule{
			RequireOwnership(ReasonSelfService, Self),
		}},

		Entry{Resource: ResourcePayroll, Action: ActionRead, Rules: []Rule{
			RequireRole(ReasonPayrollRole, RoleAdmin, RolePayrollAdmin),
			RequireOwnership(ReasonSelfService, Self),
		}},
		Entry{Resource: ResourcePayroll, Action: ActionRun, Rules: []Rule{
			RequireRole(ReasonPayrollRole, RoleAdmin, RolePayrollAdmin),
		}},

		Entry{Resource: ResourceSession, Action: ActionRevoke, Rules: []Rule{
			RequireRole(ReasonElevatedRole, RoleAdmin),
			RequireOwnership(ReasonSelfService, Self),
		}},

		Entry{Resource: ResourceModule, Action: ActionRead, Rules: []Rule{
			AllowAll(ReasonTenantMember),
		}},
	)
}
