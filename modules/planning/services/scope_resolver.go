package services

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/microplan/modules/planning/domain/planning"
	"github.com/iota-uz/microplan/pkg/configuration"
)

// OrgUnitRow is the read-side projection of an org unit owned by the
// upstream registry. Geography is opaque here; only its presence matters.
type OrgUnitRow struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	TypeID       uuid.UUID
	ParentID     *uuid.UUID
	Name         string
	Path         string
	HasGeography bool
}

// OrgUnitRepository reads the external org-unit hierarchy. Closure queries
// use the registry's own materialized path.
type OrgUnitRepository interface {
	GetByID(ctx context.Context, tenantID, unitID uuid.UUID) (*OrgUnitRow, error)
	ListDescendants(ctx context.Context, tenantID, rootID uuid.UUID) ([]*OrgUnitRow, error)
	ListChildren(ctx context.Context, tenantID, parentID uuid.UUID) ([]*OrgUnitRow, error)
	CountDescendantsOfType(ctx context.Context, tenantID, rootID, typeID uuid.UUID) (int, error)
	TypeBelongsToProject(ctx context.Context, tenantID, typeID, projectID uuid.UUID) (bool, error)
}

// SamplingRepository reads frozen sampling results: precomputed org-unit
// subsets produced by an upstream statistics module.
type SamplingRepository interface {
	ListUnitIDs(ctx context.Context, tenantID, samplingID uuid.UUID) ([]uuid.UUID, error)
}

// ScopeResolver computes the set of org units a planning work order may
// touch: the inclusive descendant closure of the root unit, narrowed by the
// selected sampling result when one is set, else by the target unit type.
type ScopeResolver struct {
	orgUnits OrgUnitRepository
	sampling SamplingRepository
	cache    *scopeCache
	useCache bool
}

func NewScopeResolver(orgUnits OrgUnitRepository, sampling SamplingRepository) *ScopeResolver {
	return &ScopeResolver{
		orgUnits: orgUnits,
		sampling: sampling,
		cache:    newScopeCache(),
		useCache: configuration.Use().PlanCacheEnabled,
	}
}

// ReachableUnits returns the reachable set keyed by org-unit id.
func (r *ScopeResolver) ReachableUnits(ctx context.Context, p *planning.Planning) (map[uuid.UUID]struct{}, error) {
	if p == nil {
		return nil, newServiceError(http.StatusBadRequest, CodeInvalidBody, "planning is required", nil)
	}
	if r.useCache {
		if cached, ok := r.cache.Get(p.ID()); ok {
			return cached, nil
		}
	}

	closure, err := r.orgUnits.ListDescendants(ctx, p.TenantID(), p.RootOrgUnitID())
	if err != nil {
		return nil, mapPgError(err)
	}

	units := make(map[uuid.UUID]struct{}, len(closure))
	switch {
	case p.SelectedSamplingID() != nil:
		// A frozen sampling result wins over the type filter; units the
		// sample references outside the closure are dropped, not errors.
		inClosure := make(map[uuid.UUID]struct{}, len(closure))
		for _, u := range closure {
			inClosure[u.ID] = struct{}{}
		}
		sampled, err := r.sampling.ListUnitIDs(ctx, p.TenantID(), *p.SelectedSamplingID())
		if err != nil {
			return nil, mapPgError(err)
		}
		for _, id := range sampled {
			if _, ok := inClosure[id]; ok {
				units[id] = struct{}{}
			}
		}
	case p.TargetOrgUnitTypeID() != nil:
		for _, u := range closure {
			if u.TypeID == *p.TargetOrgUnitTypeID() {
				units[u.ID] = struct{}{}
			}
		}
	default:
		for _, u := range closure {
			units[u.ID] = struct{}{}
		}
	}

	if r.useCache {
		r.cache.Set(p.TenantID(), p.ID(), units)
	}
	logWithFields(ctx, logrus.DebugLevel, "scope resolved", logrus.Fields{
		"planning_id": p.ID(),
		"units":       len(units),
	})
	return units, nil
}

// Contains reports whether every given unit is inside the planning's scope,
// returning the first offender when not.
func (r *ScopeResolver) Contains(ctx context.Context, p *planning.Planning, unitIDs []uuid.UUID) (uuid.UUID, bool, error) {
	units, err := r.ReachableUnits(ctx, p)
	if err != nil {
		return uuid.Nil, false, err
	}
	for _, id := range unitIDs {
		if _, ok := units[id]; !ok {
			return id, false, nil
		}
	}
	return uuid.Nil, true, nil
}

// InvalidateTenant drops every cached scope of the tenant. Wired to the
// event bus so any planning or team mutation flushes stale sets.
func (r *ScopeResolver) InvalidateTenant(tenantID uuid.UUID) {
	r.cache.InvalidateTenant(tenantID)
}
