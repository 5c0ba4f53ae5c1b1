package services

import (
	"sync"

	"github.com/google/uuid"
)

// scopeCache keeps resolved reachable-unit sets keyed by planning id. Any
// mutation in a tenant invalidates the whole tenant slice; scope inputs
// (org units, plannings, sampling groups) change rarely compared to reads.
type scopeCache struct {
	mu          sync.RWMutex
	entries     map[uuid.UUID]map[uuid.UUID]struct{}
	tenantIndex map[uuid.UUID]map[uuid.UUID]struct{}
}

func newScopeCache() *scopeCache {
	return &scopeCache{
		entries:     make(map[uuid.UUID]map[uuid.UUID]struct{}),
		tenantIndex: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (c *scopeCache) Get(planningID uuid.UUID) (map[uuid.UUID]struct{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[planningID]
	return v, ok
}

func (c *scopeCache) Set(tenantID, planningID uuid.UUID, units map[uuid.UUID]struct{}) {
	if tenantID == uuid.Nil || planningID == uuid.Nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[planningID] = units
	if _, ok := c.tenantIndex[tenantID]; !ok {
		c.tenantIndex[tenantID] = make(map[uuid.UUID]struct{})
	}
	c.tenantIndex[tenantID][planningID] = struct{}{}
}

func (c *scopeCache) InvalidateTenant(tenantID uuid.UUID) {
	if tenantID == uuid.Nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for planningID := range c.tenantIndex[tenantID] {
		delete(c.entries, planningID)
	}
	delete(c.tenantIndex, tenantID)
}
