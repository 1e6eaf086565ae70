package module

import (
	"context"
	"sync"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/tenant"
)

type subKey struct {
	tenant tenant.ID
	module string
}

// MemoryCatalog is a Catalog backed by maps.
type MemoryCatalog struct {
	mu      sync.RWMutex
	modules map[string]Module
	subs    map[subKey]Subscription
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		modules: make(map[string]Module),
		subs:    make(map[subKey]Subscription),
	}
}

func (c *MemoryCatalog) PutModule(m Module) {
	c.mu.Lock()
	c.modules[m.Key] = m
	c.mu.Unlock()
}

func (c *MemoryCatalog) PutSubscription(s Subscription) {
	c.mu.Lock()
	c.subs[subKey{s.TenantID, s.ModuleKey}] = s
	c.mu.Unlock()
}

func (c *MemoryCatalog) Module(_ context.Context, key string) (Module, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[key]
	if !ok {
		return Module{}, ErrNotFound
	}
	return m, nil
}

func (c *MemoryCatalog) Subscription(_ context.Context, tenantID tenant.ID, key string) (Subscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.subs[subKey{tenantID, key}]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return s, nil
}
