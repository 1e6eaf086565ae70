package tenant

import (
	"context"
	"strings"
	"sync"
)

// StaticDirectory is an in-memory Directory for tests and local runs.
type StaticDirectory struct {
	mu     sync.RWMutex
	byID   map[ID]Tenant
	bySlug map[string]Tenant
}

func NewStaticDirectory(tenants ...Tenant) *StaticDirectory {
	d := &StaticDirectory{byID: map[ID]Tenant{}, bySlug: map[string]Tenant{}}
	for _, t := range tenants {
		d.Put(t)
	}
	return d
}

// Put adds or renames a tenant.
func (d *StaticDirectory) Put(t Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.byID[t.ID]; ok {
		delete(d.bySlug, old.Slug)
	}
	t.Slug = strings.ToLower(t.Slug)
	d.byID[t.ID] = t
	d.bySlug[t.Slug] = t
}

// Remove deprovisions a tenant.
func (d *StaticDirectory) Remove(id ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.byID[id]; ok {
		delete(d.bySlug, old.Slug)
		delete(d.byID, id)
	}
}

func (d *StaticDirectory) BySlug(_ context.Context, slug string) (Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.bySlug[strings.ToLower(slug)]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (d *StaticDirectory) ByID(_ context.Context, id ID) (Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.byID[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}
