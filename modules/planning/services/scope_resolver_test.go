package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/microplan/modules/planning/domain/planning"
)

func TestReachableUnitsFullClosure(t *testing.T) {
	f := newLedgerFixture(t)
	resolver := NewScopeResolver(f.orgUnits, f.sampling)
	p, err := f.plannings.GetByID(testCtx(), f.tenantID, f.planningID)
	require.NoError(t, err)

	units, err := resolver.ReachableUnits(testCtx(), p)
	require.NoError(t, err)

	assert.Len(t, units, 4)
	assert.Contains(t, units, f.rootUnit)
	assert.Contains(t, units, f.villageA1)
	assert.NotContains(t, units, f.outside)
}

func TestReachableUnitsTypeFilter(t *testing.T) {
	f := newLedgerFixture(t)
	resolver := NewScopeResolver(f.orgUnits, f.sampling)
	p := planning.New(f.tenantID, f.projectID, f.rootUnit, uuid.New(), "typed",
		planning.WithTargetOrgUnitTypeID(&f.districtType))

	units, err := resolver.ReachableUnits(testCtx(), p)
	require.NoError(t, err)

	assert.Len(t, units, 2)
	assert.Contains(t, units, f.districtA)
	assert.Contains(t, units, f.districtB)
}

func TestReachableUnitsSamplingWinsOverTypeFilter(t *testing.T) {
	f := newLedgerFixture(t)
	resolver := NewScopeResolver(f.orgUnits, f.sampling)

	samplingID := uuid.New()
	// The sample names one district plus a unit outside the closure; the
	// outsider is dropped silently.
	f.sampling.groups[samplingID] = []uuid.UUID{f.districtA, f.outside}

	p := planning.New(f.tenantID, f.projectID, f.rootUnit, uuid.New(), "sampled",
		planning.WithTargetOrgUnitTypeID(&f.villageType),
		planning.WithSelectedSamplingID(&samplingID))

	units, err := resolver.ReachableUnits(testCtx(), p)
	require.NoError(t, err)

	assert.Len(t, units, 1)
	assert.Contains(t, units, f.districtA)
}

func TestScopeContainsReportsFirstOffender(t *testing.T) {
	f := newLedgerFixture(t)
	resolver := NewScopeResolver(f.orgUnits, f.sampling)
	p, err := f.plannings.GetByID(testCtx(), f.tenantID, f.planningID)
	require.NoError(t, err)

	offender, ok, err := resolver.Contains(testCtx(), p, []uuid.UUID{f.districtA, f.outside})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, f.outside, offender)

	_, ok, err = resolver.Contains(testCtx(), p, []uuid.UUID{f.districtA, f.villageA1})
	require.NoError(t, err)
	assert.True(t, ok)
}
