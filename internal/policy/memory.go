package policy

import (
	"context"
	"sync"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/ids"
	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

type personKey struct {
	tenant tenant.ID
	user   string
}

// MemoryDirectory is a Directory backed by a map, keyed by (tenant, user).
type MemoryDirectory struct {
	mu     sync.RWMutex
	people map[personKey]Person
}

func NewMemoryDirectory(people ...Person) *MemoryDirectory {
	d := &MemoryDirectory{people: make(map[personKey]Person)}
	for _, p := range people {
		d.Put(p)
	}
	return d
}

func (d *MemoryDirectory) Put(p Person) {
	if id, ok := ids.ParseUser(p.UserID); ok {
		p.UserID = id
	}
	d.mu.Lock()
	d.people[personKey{p.TenantID, p.UserID}] = p
	d.mu.Unlock()
}

func (d *MemoryDirectory) Person(_ context.Context, tenantID tenant.ID, userID string) (Person, error) {
	if id, ok := ids.ParseUser(userID); ok {
		userID = id
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.people[personKey{tenantID, userID}]
	if !ok {
		return Person{}, ErrPersonNotFound
	}
	return p, nil
}

// Remove drops userID from tenantID, as when someone leaves the tenant.
func (d *MemoryDirectory) Remove(tenantID tenant.ID, userID string) {
	if id, ok := ids.ParseUser(userID); ok {
		userID = id
	}
	d.mu.Lock()
	delete(d.people, personKey{tenantID, userID})
	d.mu.Unlock()
}
