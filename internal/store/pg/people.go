package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/ids"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/policy"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

// People is the policy.Directory. Every query is keyed by tenant.
type People struct {
	db *sql.DB
}

var _ policy.Directory = (*People)(nil)

func (p *People) Person(ctx context.Context, tenantID tenant.ID, userID string) (policy.Person, error) {
	if p.db == nil {
		return policy.Person{}, errNoDB
	}
	uid, ok := ids.ParseUser(userID)
	if !ok {
		return policy.Person{}, policy.ErrPersonNotFound
	}

	var (
		out     = policy.Person{UserID: uid, TenantID: tenantID}
		manager sql.NullString
	)
	err := p.db.QueryRowContext(ctx, `
		select manager_id from people
		where tenant_id = $1 and user_id = $2 and active
	`, tenantID.String(), uid).Scan(&manager)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.Person{}, policy.ErrPersonNotFound
	}
	if err != nil {
		return policy.Person{}, err
	}
	if manager.Valid {
		out.ManagerID = manager.String
	}

	rows, err := p.db.QueryContext(ctx, `
		select role from person_roles
		where tenant_id = $1 and user_id = $2
		order by role
	`, tenantID.String(), uid)
	if err != nil {
		return policy.Person{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return policy.Person{}, err
		}
		out.Roles = append(out.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return policy.Person{}, err
	}
	return out, nil
}
