package services

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/microplan/modules/planning/domain/path"
	"github.com/iota-uz/microplan/modules/planning/domain/team"
)

type teamFixture struct {
	svc       *TeamService
	repo      *fakeTeamRepo
	users     *fakeUserDirectory
	tenantID  uuid.UUID
	projectID uuid.UUID
	managerID uuid.UUID
	actorID   uuid.UUID
}

func newTeamFixture(t *testing.T) *teamFixture {
	t.Helper()
	f := &teamFixture{
		repo:      newFakeTeamRepo(),
		users:     newFakeUserDirectory(),
		tenantID:  uuid.New(),
		projectID: uuid.New(),
		managerID: uuid.New(),
		actorID:   uuid.New(),
	}
	f.users.addUser(f.projectID, f.managerID)
	f.svc = NewTeamService(f.repo, f.users, nil)
	return f
}

func (f *teamFixture) mustCreate(t *testing.T, name string, opts ...func(*CreateTeamInput)) *team.Team {
	t.Helper()
	in := CreateTeamInput{ProjectID: f.projectID, Name: name, ManagerID: f.managerID}
	for _, opt := range opts {
		opt(&in)
	}
	res, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, in)
	require.NoError(t, err)
	created, err := f.repo.GetByID(testCtx(), f.tenantID, res.TeamID)
	require.NoError(t, err)
	return created
}

func withParent(parentID uuid.UUID) func(*CreateTeamInput) {
	return func(in *CreateTeamInput) { in.ParentID = &parentID }
}

func TestTeamCreateRootPath(t *testing.T) {
	f := newTeamFixture(t)

	root := f.mustCreate(t, "national")

	assert.Nil(t, root.ParentID())
	assert.True(t, root.Path().Equal(path.Root(root.ID())))
	assert.Equal(t, team.KindUnset, root.Kind())
}

func TestTeamCreateChildExtendsParentPath(t *testing.T) {
	f := newTeamFixture(t)

	root := f.mustCreate(t, "national")
	child := f.mustCreate(t, "regional", withParent(root.ID()))

	require.NotNil(t, child.ParentID())
	assert.Equal(t, root.ID(), *child.ParentID())
	want, err := root.Path().Child(child.ID())
	require.NoError(t, err)
	assert.True(t, child.Path().Equal(want))

	// First sub-team attachment types the parent.
	reloaded, err := f.repo.GetByID(testCtx(), f.tenantID, root.ID())
	require.NoError(t, err)
	assert.Equal(t, team.KindTeamOfTeams, reloaded.Kind())
}

func TestTeamCreateMembersAndSubTeamsExclusive(t *testing.T) {
	f := newTeamFixture(t)
	other := f.mustCreate(t, "other")
	userID := uuid.New()
	f.users.addUser(f.projectID, userID)

	_, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, CreateTeamInput{
		ProjectID:  f.projectID,
		Name:       "mixed",
		ManagerID:  f.managerID,
		MemberIDs:  []uuid.UUID{userID},
		SubTeamIDs: []uuid.UUID{other.ID()},
	})
	assert.True(t, IsCode(err, CodeExclusivity))
}

func TestTeamCreateExplicitKindWins(t *testing.T) {
	f := newTeamFixture(t)
	userID := uuid.New()
	f.users.addUser(f.projectID, userID)

	_, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, CreateTeamInput{
		ProjectID: f.projectID,
		Name:      "contradiction",
		ManagerID: f.managerID,
		Kind:      team.KindTeamOfTeams,
		MemberIDs: []uuid.UUID{userID},
	})
	assert.True(t, IsCode(err, CodeKindMismatch))
}

func TestSetParentRewritesDescendantPaths(t *testing.T) {
	f := newTeamFixture(t)
	a := f.mustCreate(t, "a")
	b := f.mustCreate(t, "b", withParent(a.ID()))
	c := f.mustCreate(t, "c", withParent(b.ID()))
	dest := f.mustCreate(t, "dest")

	res, err := f.svc.SetParent(testCtx(), f.tenantID, "", f.actorID, SetParentInput{
		TeamID:      b.ID(),
		NewParentID: ptr(dest.ID()),
	})
	require.NoError(t, err)
	assert.Len(t, res.ChangedTeamIDs, 2)

	wantB, err := dest.Path().Child(b.ID())
	require.NoError(t, err)
	wantC, err := wantB.Child(c.ID())
	require.NoError(t, err)
	assert.True(t, b.Path().Equal(wantB))
	assert.True(t, c.Path().Equal(wantC))
	// Every path still spells the full ancestor chain.
	assert.Equal(t, c.Path().Depth(), 3)
}

func TestSetParentDetachToRoot(t *testing.T) {
	f := newTeamFixture(t)
	parent := f.mustCreate(t, "parent")
	child := f.mustCreate(t, "child", withParent(parent.ID()))
	grandchild := f.mustCreate(t, "grandchild", withParent(child.ID()))

	_, err := f.svc.SetParent(testCtx(), f.tenantID, "", f.actorID, SetParentInput{TeamID: child.ID()})
	require.NoError(t, err)

	assert.Nil(t, child.ParentID())
	assert.True(t, child.Path().Equal(path.Root(child.ID())))
	wantGrandchild, err := path.Root(child.ID()).Child(grandchild.ID())
	require.NoError(t, err)
	assert.True(t, grandchild.Path().Equal(wantGrandchild))
}

func TestSetParentForceRewritesUnchangedPaths(t *testing.T) {
	f := newTeamFixture(t)
	a := f.mustCreate(t, "a")
	b := f.mustCreate(t, "b", withParent(a.ID()))
	c := f.mustCreate(t, "c", withParent(b.ID()))

	// Moving b under its current parent leaves every descendant path equal,
	// so only the moved node itself is persisted.
	res, err := f.svc.SetParent(testCtx(), f.tenantID, "", f.actorID, SetParentInput{
		TeamID:      b.ID(),
		NewParentID: ptr(a.ID()),
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID()}, res.ChangedTeamIDs)

	res, err = f.svc.SetParent(testCtx(), f.tenantID, "", f.actorID, SetParentInput{
		TeamID:           b.ID(),
		NewParentID:      ptr(a.ID()),
		ForceRecalculate: true,
	})
	require.NoError(t, err)
	assert.Len(t, res.ChangedTeamIDs, 2)
	assert.Contains(t, res.ChangedTeamIDs, c.ID())

	wantC, err := b.Path().Child(c.ID())
	require.NoError(t, err)
	assert.True(t, c.Path().Equal(wantC))
}

func TestTeamMoveEventCarriesSnapshots(t *testing.T) {
	f := newTeamFixture(t)
	a := f.mustCreate(t, "a")
	b := f.mustCreate(t, "b")

	res, err := f.svc.SetParent(testCtx(), f.tenantID, "", f.actorID, SetParentInput{
		TeamID:      b.ID(),
		NewParentID: ptr(a.ID()),
	})
	require.NoError(t, err)
	require.Len(t, res.GeneratedEvents, 1)

	var oldVals, newVals map[string]any
	require.NoError(t, json.Unmarshal(res.GeneratedEvents[0].OldValues, &oldVals))
	require.NoError(t, json.Unmarshal(res.GeneratedEvents[0].NewValues, &newVals))
	assert.Equal(t, "", oldVals["parent_id"])
	assert.Equal(t, path.Root(b.ID()).String(), oldVals["path"])
	assert.Equal(t, a.ID().String(), newVals["parent_id"])
	assert.Equal(t, b.Path().String(), newVals["path"])
}

func TestSetParentRejectsThreeLevelCycle(t *testing.T) {
	f := newTeamFixture(t)
	a := f.mustCreate(t, "a")
	b := f.mustCreate(t, "b", withParent(a.ID()))
	c := f.mustCreate(t, "c", withParent(b.ID()))

	_, err := f.svc.SetParent(testCtx(), f.tenantID, "", f.actorID, SetParentInput{
		TeamID:      a.ID(),
		NewParentID: ptr(c.ID()),
	})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeCycle))

	// Nothing moved.
	assert.True(t, a.Path().Equal(path.Root(a.ID())))
	assert.Equal(t, 3, c.Path().Depth())
}

func TestSetParentRejectsSelf(t *testing.T) {
	f := newTeamFixture(t)
	a := f.mustCreate(t, "a")

	_, err := f.svc.SetParent(testCtx(), f.tenantID, "", f.actorID, SetParentInput{
		TeamID:      a.ID(),
		NewParentID: ptr(a.ID()),
	})
	assert.True(t, IsCode(err, CodeCycle))
}

func TestSetParentUnderTeamOfUsers(t *testing.T) {
	f := newTeamFixture(t)
	userID := uuid.New()
	f.users.addUser(f.projectID, userID)
	leaf := f.mustCreate(t, "leaf", func(in *CreateTeamInput) {
		in.Kind = team.KindTeamOfUsers
		in.MemberIDs = []uuid.UUID{userID}
	})
	other := f.mustCreate(t, "other")

	_, err := f.svc.SetParent(testCtx(), f.tenantID, "", f.actorID, SetParentInput{
		TeamID:      other.ID(),
		NewParentID: ptr(leaf.ID()),
	})
	assert.True(t, IsCode(err, CodeKindMismatch))
}

func TestSetParentAcrossProjects(t *testing.T) {
	f := newTeamFixture(t)
	a := f.mustCreate(t, "a")

	otherProject := uuid.New()
	f.users.addUser(otherProject, f.managerID)
	res, err := f.svc.Create(testCtx(), f.tenantID, "", f.actorID, CreateTeamInput{
		ProjectID: otherProject,
		Name:      "foreign",
		ManagerID: f.managerID,
	})
	require.NoError(t, err)

	_, err = f.svc.SetParent(testCtx(), f.tenantID, "", f.actorID, SetParentInput{
		TeamID:      a.ID(),
		NewParentID: ptr(res.TeamID),
	})
	assert.True(t, IsCode(err, CodeScope))
}

func TestSetSubTeamsDiff(t *testing.T) {
	f := newTeamFixture(t)
	hub := f.mustCreate(t, "hub")
	keep := f.mustCreate(t, "keep", withParent(hub.ID()))
	drop := f.mustCreate(t, "drop", withParent(hub.ID()))
	add := f.mustCreate(t, "add")

	res, err := f.svc.SetSubTeams(testCtx(), f.tenantID, "", f.actorID, SetSubTeamsInput{
		TeamID:     hub.ID(),
		SubTeamIDs: []uuid.UUID{keep.ID(), add.ID()},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{add.ID()}, res.Attached)
	assert.Equal(t, []uuid.UUID{drop.ID()}, res.Detached)

	// Detached child is re-rooted, attached one extends the hub path.
	assert.Nil(t, drop.ParentID())
	assert.True(t, drop.Path().Equal(path.Root(drop.ID())))
	wantAdd, err := hub.Path().Child(add.ID())
	require.NoError(t, err)
	assert.True(t, add.Path().Equal(wantAdd))
	require.NotNil(t, keep.ParentID())
	assert.Equal(t, hub.ID(), *keep.ParentID())
}

func TestSetSubTeamsRejectsAncestor(t *testing.T) {
	f := newTeamFixture(t)
	root := f.mustCreate(t, "root")
	mid := f.mustCreate(t, "mid", withParent(root.ID()))

	_, err := f.svc.SetSubTeams(testCtx(), f.tenantID, "", f.actorID, SetSubTeamsInput{
		TeamID:     mid.ID(),
		SubTeamIDs: []uuid.UUID{root.ID()},
	})
	assert.True(t, IsCode(err, CodeCycle))
}

func TestSetMembersInfersKind(t *testing.T) {
	f := newTeamFixture(t)
	node := f.mustCreate(t, "field")
	userID := uuid.New()
	f.users.addUser(f.projectID, userID)

	res, err := f.svc.SetMembers(testCtx(), f.tenantID, "", f.actorID, SetMembersInput{
		TeamID:    node.ID(),
		MemberIDs: []uuid.UUID{userID},
	})
	require.NoError(t, err)
	assert.Equal(t, team.KindTeamOfUsers, res.Kind)
	assert.Equal(t, []uuid.UUID{userID}, node.MemberIDs())
}

func TestSetMembersOnTeamWithChildren(t *testing.T) {
	f := newTeamFixture(t)
	parent := f.mustCreate(t, "parent")
	f.mustCreate(t, "child", withParent(parent.ID()))
	userID := uuid.New()
	f.users.addUser(f.projectID, userID)

	_, err := f.svc.SetMembers(testCtx(), f.tenantID, "", f.actorID, SetMembersInput{
		TeamID:    parent.ID(),
		MemberIDs: []uuid.UUID{userID},
	})
	assert.True(t, IsCode(err, CodeExclusivity))
}

func TestSetMembersOutsideProject(t *testing.T) {
	f := newTeamFixture(t)
	node := f.mustCreate(t, "field")
	stranger := uuid.New() // never added to the project

	_, err := f.svc.SetMembers(testCtx(), f.tenantID, "", f.actorID, SetMembersInput{
		TeamID:    node.ID(),
		MemberIDs: []uuid.UUID{stranger},
	})
	assert.True(t, IsCode(err, CodeScope))
}

func TestTeamSoftDeleteTwice(t *testing.T) {
	f := newTeamFixture(t)
	node := f.mustCreate(t, "ephemeral")

	require.NoError(t, f.svc.SoftDelete(testCtx(), f.tenantID, "", f.actorID, node.ID()))
	err := f.svc.SoftDelete(testCtx(), f.tenantID, "", f.actorID, node.ID())
	assert.True(t, IsCode(err, CodeAlreadyDeleted))

	require.NoError(t, f.svc.Restore(testCtx(), f.tenantID, "", f.actorID, node.ID()))
	assert.False(t, node.IsDeleted())
}

func TestHierarchyOfDeduplicates(t *testing.T) {
	f := newTeamFixture(t)
	root := f.mustCreate(t, "root")
	mid := f.mustCreate(t, "mid", withParent(root.ID()))
	leaf := f.mustCreate(t, "leaf", withParent(mid.ID()))

	out, err := f.svc.HierarchyOf(testCtx(), f.tenantID, []uuid.UUID{root.ID(), mid.ID()})
	require.NoError(t, err)
	assert.Len(t, out, 3)
	_ = leaf
}

func ptr[T any](v T) *T { return &v }
