package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/module"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

// Modules is the module.Catalog.
type Modules struct {
	db *sql.DB
}

var _ module.Catalog = (*Modules)(nil)

func (m *Modules) Module(ctx context.Context, key string) (module.Module, error) {
	if m.db == nil {
		return module.Module{}, errNoDB
	}
	out := module.Module{Key: key}
	err := m.db.QueryRowContext(ctx, `
		select globally_enabled from modules where key = $1
	`, key).Scan(&out.GloballyEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return module.Module{}, module.ErrNotFound
	}
	if err != nil {
		return module.Module{}, err
	}
	return out, nil
}

func (m *Modules) Subscription(ctx context.Context, tenantID tenant.ID, key string) (module.Subscription, error) {
	if m.db == nil {
		return module.Subscription{}, errNoDB
	}
	out := module.Subscription{TenantID: tenantID, ModuleKey: key}
	err := m.db.QueryRowContext(ctx, `
		select enabled, soft_deleted from tenant_modules
		where tenant_id = $1 and module_key = $2
	`, tenantID.String(), key).Scan(&out.Enabled, &out.SoftDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return module.Subscription{}, module.ErrNotFound
	}
	if err != nil {
		return module.Subscription{}, err
	}
	return out, nil
}
