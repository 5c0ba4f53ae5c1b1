package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/microplan/modules/planning/domain/team"
)

type planningFixture struct {
	svc      *PlanningService
	repo     *fakePlanningRepo
	teams    *fakeTeamRepo
	orgUnits *fakeOrgUnitRepo
	forms    *fakeFormRepo

	tenantID     uuid.UUID
	projectID    uuid.UUID
	actorID      uuid.UUID
	teamID       uuid.UUID
	rootUnit     uuid.UUID
	districtA    uuid.UUID
	provinceType uuid.UUID
	districtType uuid.UUID
	formID       uuid.UUID
}

func newPlanningFixture(t *testing.T) *planningFixture {
	t.Helper()
	f := &planningFixture{
		repo:     newFakePlanningRepo(),
		teams:    newFakeTeamRepo(),
		orgUnits: newFakeOrgUnitRepo(),
		forms:    newFakeFormRepo(),

		tenantID:     uuid.New(),
		projectID:    uuid.New(),
		actorID:      uuid.New(),
		rootUnit:     uuid.New(),
		districtA:    uuid.New(),
		provinceType: uuid.New(),
		districtType: uuid.New(),
		formID:       uuid.New(),
	}

	tm := team.New(f.tenantID, f.projectID, uuid.New(), "field team")
	require.NoError(t, f.teams.Insert(testCtx(), tm))
	f.teamID = tm.ID()

	f.orgUnits.addUnit(&OrgUnitRow{ID: f.rootUnit, TenantID: f.tenantID, TypeID: f.provinceType, Name: "root", HasGeography: true})
	f.orgUnits.addUnit(&OrgUnitRow{ID: f.districtA, TenantID: f.tenantID, TypeID: f.districtType, ParentID: &f.rootUnit, Name: "district-a"})
	f.orgUnits.enableType(f.provinceType, f.projectID)
	f.orgUnits.enableType(f.districtType, f.projectID)
	f.forms.addForm(f.projectID, f.formID)

	sampling := newFakeSamplingRepo()
	scope := NewScopeResolver(f.orgUnits, sampling)
	f.svc = NewPlanningService(f.repo, f.teams, f.orgUnits, f.forms, scope, nil)
	return f
}

func (f *planningFixture) validInput() PlanningInput {
	return PlanningInput{
		ProjectID:     f.projectID,
		Name:          "round one",
		RootOrgUnitID: f.rootUnit,
		TeamID:        f.teamID,
		FormIDs:       []uuid.UUID{f.formID},
	}
}

func TestPlanningCreate(t *testing.T) {
	f := newPlanningFixture(t)

	res, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, f.validInput())
	require.NoError(t, err)

	stored, err := f.repo.GetByID(testCtx(), f.tenantID, res.PlanningID)
	require.NoError(t, err)
	assert.Equal(t, "round one", stored.Name())
	assert.False(t, stored.IsPublished())
}

func TestPlanningCreateCollectsAllFieldErrors(t *testing.T) {
	f := newPlanningFixture(t)
	in := f.validInput()
	in.TeamID = uuid.New()               // unknown team
	in.FormIDs = []uuid.UUID{uuid.New()} // foreign form

	_, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, in)
	require.Error(t, err)

	fields := FieldErrors(err)
	require.NotNil(t, fields)
	assert.Contains(t, fields, "team_id")
	assert.Contains(t, fields, "form_ids")
}

func TestPlanningCreateEmptyScope(t *testing.T) {
	f := newPlanningFixture(t)
	emptyType := uuid.New()
	f.orgUnits.enableType(emptyType, f.projectID)
	in := f.validInput()
	in.TargetOrgUnitTypeID = &emptyType

	_, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, in)
	require.Error(t, err)

	fields := FieldErrors(err)
	require.NotNil(t, fields)
	require.Contains(t, fields, "target_org_unit_type_id")
	assert.Equal(t, CodeEmptyScope, fields["target_org_unit_type_id"].Code)
}

func TestPlanningCreateTeamProjectMismatch(t *testing.T) {
	f := newPlanningFixture(t)
	foreign := team.New(f.tenantID, uuid.New(), uuid.New(), "foreign team")
	require.NoError(t, f.teams.Insert(testCtx(), foreign))
	in := f.validInput()
	in.TeamID = foreign.ID()

	_, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, in)
	require.Error(t, err)

	fields := FieldErrors(err)
	require.Contains(t, fields, "team_id")
	assert.Equal(t, CodeScope, fields["team_id"].Code)
}

func TestPlanningPublishRequiresDates(t *testing.T) {
	f := newPlanningFixture(t)
	res, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, f.validInput())
	require.NoError(t, err)

	_, err = f.svc.Publish(testCtx(), f.tenantID, "", f.actorID, res.PlanningID)
	require.Error(t, err)
	fields := FieldErrors(err)
	require.NotNil(t, fields)
	assert.Contains(t, fields, "started_at")
	assert.Contains(t, fields, "ended_at")

	stored, err := f.repo.GetByID(testCtx(), f.tenantID, res.PlanningID)
	require.NoError(t, err)
	assert.False(t, stored.IsPublished())

	start := time.Now()
	end := start.AddDate(0, 1, 0)
	in := f.validInput()
	in.StartedAt, in.EndedAt = &start, &end
	_, err = f.svc.Update(testCtx(), f.tenantID, "", f.actorID, res.PlanningID, in)
	require.NoError(t, err)

	_, err = f.svc.Publish(testCtx(), f.tenantID, "", f.actorID, res.PlanningID)
	require.NoError(t, err)
	assert.True(t, stored.IsPublished())
}

func TestPlanningUpdateEventCarriesSnapshots(t *testing.T) {
	f := newPlanningFixture(t)
	res, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, f.validInput())
	require.NoError(t, err)

	require.Len(t, res.GeneratedEvents, 1)
	var created map[string]any
	require.NoError(t, json.Unmarshal(res.GeneratedEvents[0].NewValues, &created))
	assert.Equal(t, "round one", created["name"])
	assert.Empty(t, res.GeneratedEvents[0].OldValues)

	in := f.validInput()
	in.Name = "round two"
	upd, err := f.svc.Update(testCtx(), f.tenantID, "", f.actorID, res.PlanningID, in)
	require.NoError(t, err)
	require.Len(t, upd.GeneratedEvents, 1)

	var oldVals, newVals map[string]any
	require.NoError(t, json.Unmarshal(upd.GeneratedEvents[0].OldValues, &oldVals))
	require.NoError(t, json.Unmarshal(upd.GeneratedEvents[0].NewValues, &newVals))
	assert.Equal(t, "round one", oldVals["name"])
	assert.Equal(t, "round two", newVals["name"])
}

func TestPlanningDatesInverted(t *testing.T) {
	f := newPlanningFixture(t)
	end := time.Now()
	start := end.AddDate(0, 1, 0)
	in := f.validInput()
	in.StartedAt, in.EndedAt = &start, &end

	_, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, in)
	require.Error(t, err)
	assert.Contains(t, FieldErrors(err), "started_at")
}

func TestPlanningSoftDeleteTwice(t *testing.T) {
	f := newPlanningFixture(t)
	res, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, f.validInput())
	require.NoError(t, err)

	require.NoError(t, f.svc.SoftDelete(testCtx(), f.tenantID, "", f.actorID, res.PlanningID))
	err = f.svc.SoftDelete(testCtx(), f.tenantID, "", f.actorID, res.PlanningID)
	assert.True(t, IsCode(err, CodeAlreadyDeleted))

	require.NoError(t, f.svc.Restore(testCtx(), f.tenantID, "", f.actorID, res.PlanningID))
}

func TestPlanningScopeUnits(t *testing.T) {
	f := newPlanningFixture(t)
	res, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, f.validInput())
	require.NoError(t, err)

	root, err := f.svc.RootUnit(testCtx(), f.tenantID, res.PlanningID)
	require.NoError(t, err)
	assert.Equal(t, f.rootUnit, root.Unit.ID)
	assert.True(t, root.CanDisplay)

	children, err := f.svc.ChildUnits(testCtx(), f.tenantID, res.PlanningID, f.rootUnit)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, f.districtA, children[0].Unit.ID)
	assert.False(t, children[0].CanDisplay)
}
