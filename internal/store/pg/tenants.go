package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

// Tenants is the tenant.Directory. Deprovisioned tenants are invisible.
type Tenants struct {
	db *sql.DB
}

var _ tenant.Directory = (*Tenants)(nil)

func (t *Tenants) BySlug(ctx context.Context, slug string) (tenant.Tenant, error) {
	return t.one(ctx, `
		select id, slug from tenants
		where slug = $1 and deleted_at is null
	`, strings.ToLower(strings.TrimSpace(slug)))
}

func (t *Tenants) ByID(ctx context.Context, id tenant.ID) (tenant.Tenant, error) {
	return t.one(ctx, `
		select id, slug from tenants
		where id = $1 and deleted_at is null
	`, id.String())
}

func (t *Tenants) one(ctx context.Context, query string, arg string) (tenant.Tenant, error) {
	if t.db == nil {
		return tenant.Tenant{}, errNoDB
	}
	var (
		out tenant.Tenant
		id  string
	)
	err := t.db.QueryRowContext(ctx, query, arg).Scan(&id, &out.Slug)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Tenant{}, err
	}
	out.ID = tenant.ID(id)
	return out, nil
}
