package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iota-uz/microplan/modules/planning/domain/assignment"
	"github.com/iota-uz/microplan/modules/planning/domain/path"
	"github.com/iota-uz/microplan/modules/planning/domain/planning"
	"github.com/iota-uz/microplan/modules/planning/domain/team"
	"github.com/iota-uz/microplan/pkg/constants"
)

// stubTx satisfies repo.Tx so tests can run service transactions over the
// in-memory fakes below without a database.
type stubTx struct{}

func (stubTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (stubTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (stubTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func testCtx() context.Context {
	return context.WithValue(context.Background(), constants.TxKey, stubTx{})
}

type fakeTeamRepo struct {
	teams map[uuid.UUID]*team.Team
}

func newFakeTeamRepo() *fakeTeamRepo {
	return &fakeTeamRepo{teams: make(map[uuid.UUID]*team.Team)}
}

func (r *fakeTeamRepo) GetByID(_ context.Context, tenantID, teamID uuid.UUID) (*team.Team, error) {
	t, ok := r.teams[teamID]
	if !ok || t.TenantID() != tenantID {
		return nil, pgx.ErrNoRows
	}
	return t, nil
}

func (r *fakeTeamRepo) LockByID(ctx context.Context, tenantID, teamID uuid.UUID) (*team.Team, error) {
	return r.GetByID(ctx, tenantID, teamID)
}

func (r *fakeTeamRepo) ListChildren(_ context.Context, tenantID, parentID uuid.UUID) ([]*team.Team, error) {
	var out []*team.Team
	for _, t := range r.teams {
		if t.TenantID() != tenantID || t.IsDeleted() {
			continue
		}
		if t.ParentID() != nil && *t.ParentID() == parentID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (r *fakeTeamRepo) ListDescendants(_ context.Context, tenantID uuid.UUID, prefix path.Path) ([]*team.Team, error) {
	var out []*team.Team
	for _, t := range r.teams {
		if t.TenantID() != tenantID {
			continue
		}
		if t.Path().IsDescendantOf(prefix) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTeamRepo) ListForTenant(_ context.Context, tenantID uuid.UUID) ([]*team.Team, error) {
	var out []*team.Team
	for _, t := range r.teams {
		if t.TenantID() == tenantID && !t.IsDeleted() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (r *fakeTeamRepo) Insert(_ context.Context, t *team.Team) error {
	r.teams[t.ID()] = t
	return nil
}

func (r *fakeTeamRepo) Update(_ context.Context, t *team.Team) error {
	r.teams[t.ID()] = t
	return nil
}

func (r *fakeTeamRepo) UpdatePaths(_ context.Context, _ uuid.UUID, teams []*team.Team) error {
	for _, t := range teams {
		r.teams[t.ID()] = t
	}
	return nil
}

type fakeUserDirectory struct {
	tenantUsers  map[uuid.UUID]struct{}
	projectUsers map[uuid.UUID]map[uuid.UUID]struct{}
}

func newFakeUserDirectory() *fakeUserDirectory {
	return &fakeUserDirectory{
		tenantUsers:  make(map[uuid.UUID]struct{}),
		projectUsers: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (d *fakeUserDirectory) addUser(projectID, userID uuid.UUID) {
	d.tenantUsers[userID] = struct{}{}
	if _, ok := d.projectUsers[projectID]; !ok {
		d.projectUsers[projectID] = make(map[uuid.UUID]struct{})
	}
	d.projectUsers[projectID][userID] = struct{}{}
}

func (d *fakeUserDirectory) BelongsToTenant(_ context.Context, _, userID uuid.UUID) (bool, error) {
	_, ok := d.tenantUsers[userID]
	return ok, nil
}

func (d *fakeUserDirectory) MissingFromProject(_ context.Context, _, projectID uuid.UUID, userIDs []uuid.UUID) ([]uuid.UUID, error) {
	var missing []uuid.UUID
	members := d.projectUsers[projectID]
	for _, id := range userIDs {
		if _, ok := members[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

type fakeOrgUnitRepo struct {
	units        map[uuid.UUID]*OrgUnitRow
	typeProjects map[uuid.UUID]map[uuid.UUID]struct{}
}

func newFakeOrgUnitRepo() *fakeOrgUnitRepo {
	return &fakeOrgUnitRepo{
		units:        make(map[uuid.UUID]*OrgUnitRow),
		typeProjects: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (r *fakeOrgUnitRepo) addUnit(u *OrgUnitRow) { r.units[u.ID] = u }

func (r *fakeOrgUnitRepo) enableType(typeID, projectID uuid.UUID) {
	if _, ok := r.typeProjects[typeID]; !ok {
		r.typeProjects[typeID] = make(map[uuid.UUID]struct{})
	}
	r.typeProjects[typeID][projectID] = struct{}{}
}

func (r *fakeOrgUnitRepo) GetByID(_ context.Context, tenantID, unitID uuid.UUID) (*OrgUnitRow, error) {
	u, ok := r.units[unitID]
	if !ok || u.TenantID != tenantID {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

// closure walks parent links instead of path prefixes: enough for fakes.
func (r *fakeOrgUnitRepo) closure(tenantID, rootID uuid.UUID) []*OrgUnitRow {
	inSet := map[uuid.UUID]struct{}{rootID: {}}
	var out []*OrgUnitRow
	if root, ok := r.units[rootID]; ok && root.TenantID == tenantID {
		out = append(out, root)
	}
	for changed := true; changed; {
		changed = false
		for _, u := range r.units {
			if u.TenantID != tenantID || u.ParentID == nil {
				continue
			}
			if _, member := inSet[u.ID]; member {
				continue
			}
			if _, parentIn := inSet[*u.ParentID]; parentIn {
				inSet[u.ID] = struct{}{}
				out = append(out, u)
				changed = true
			}
		}
	}
	return out
}

func (r *fakeOrgUnitRepo) ListDescendants(_ context.Context, tenantID, rootID uuid.UUID) ([]*OrgUnitRow, error) {
	return r.closure(tenantID, rootID), nil
}

func (r *fakeOrgUnitRepo) ListChildren(_ context.Context, tenantID, parentID uuid.UUID) ([]*OrgUnitRow, error) {
	var out []*OrgUnitRow
	for _, u := range r.units {
		if u.TenantID == tenantID && u.ParentID != nil && *u.ParentID == parentID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakeOrgUnitRepo) CountDescendantsOfType(_ context.Context, tenantID, rootID, typeID uuid.UUID) (int, error) {
	n := 0
	for _, u := range r.closure(tenantID, rootID) {
		if u.TypeID == typeID {
			n++
		}
	}
	return n, nil
}

func (r *fakeOrgUnitRepo) TypeBelongsToProject(_ context.Context, _, typeID, projectID uuid.UUID) (bool, error) {
	_, ok := r.typeProjects[typeID][projectID]
	return ok, nil
}

type fakeSamplingRepo struct {
	groups map[uuid.UUID][]uuid.UUID
}

func newFakeSamplingRepo() *fakeSamplingRepo {
	return &fakeSamplingRepo{groups: make(map[uuid.UUID][]uuid.UUID)}
}

func (r *fakeSamplingRepo) ListUnitIDs(_ context.Context, _, samplingID uuid.UUID) ([]uuid.UUID, error) {
	return r.groups[samplingID], nil
}

type fakeFormRepo struct {
	projectForms map[uuid.UUID]map[uuid.UUID]struct{}
}

func newFakeFormRepo() *fakeFormRepo {
	return &fakeFormRepo{projectForms: make(map[uuid.UUID]map[uuid.UUID]struct{})}
}

func (r *fakeFormRepo) addForm(projectID, formID uuid.UUID) {
	if _, ok := r.projectForms[projectID]; !ok {
		r.projectForms[projectID] = make(map[uuid.UUID]struct{})
	}
	r.projectForms[projectID][formID] = struct{}{}
}

func (r *fakeFormRepo) MissingFromProject(_ context.Context, _, projectID uuid.UUID, formIDs []uuid.UUID) ([]uuid.UUID, error) {
	var missing []uuid.UUID
	forms := r.projectForms[projectID]
	for _, id := range formIDs {
		if _, ok := forms[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

type fakePlanningRepo struct {
	plannings map[uuid.UUID]*planning.Planning
}

func newFakePlanningRepo() *fakePlanningRepo {
	return &fakePlanningRepo{plannings: make(map[uuid.UUID]*planning.Planning)}
}

func (r *fakePlanningRepo) GetByID(_ context.Context, tenantID, planningID uuid.UUID) (*planning.Planning, error) {
	p, ok := r.plannings[planningID]
	if !ok || p.TenantID() != tenantID {
		return nil, pgx.ErrNoRows
	}
	return p, nil
}

func (r *fakePlanningRepo) LockByID(ctx context.Context, tenantID, planningID uuid.UUID) (*planning.Planning, error) {
	return r.GetByID(ctx, tenantID, planningID)
}

func (r *fakePlanningRepo) ListForTenant(_ context.Context, tenantID, projectID uuid.UUID) ([]*planning.Planning, error) {
	var out []*planning.Planning
	for _, p := range r.plannings {
		if p.TenantID() == tenantID && p.ProjectID() == projectID && !p.IsDeleted() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePlanningRepo) Insert(_ context.Context, p *planning.Planning) error {
	r.plannings[p.ID()] = p
	return nil
}

func (r *fakePlanningRepo) Update(_ context.Context, p *planning.Planning) error {
	r.plannings[p.ID()] = p
	return nil
}

type fakeAssignmentRepo struct {
	rows map[uuid.UUID]*assignment.Assignment
}

func newFakeAssignmentRepo() *fakeAssignmentRepo {
	return &fakeAssignmentRepo{rows: make(map[uuid.UUID]*assignment.Assignment)}
}

func (r *fakeAssignmentRepo) GetByID(_ context.Context, tenantID, assignmentID uuid.UUID) (*assignment.Assignment, error) {
	a, ok := r.rows[assignmentID]
	if !ok || a.TenantID() != tenantID {
		return nil, pgx.ErrNoRows
	}
	return a, nil
}

func (r *fakeAssignmentRepo) ListActiveForUnit(_ context.Context, tenantID, planningID, orgUnitID uuid.UUID) ([]*assignment.Assignment, error) {
	var out []*assignment.Assignment
	for _, a := range r.rows {
		if a.TenantID() == tenantID && a.PlanningID() == planningID && a.OrgUnitID() == orgUnitID && !a.IsDeleted() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAssignmentRepo) ListActive(_ context.Context, tenantID, planningID uuid.UUID, f AssignmentFilter) ([]*assignment.Assignment, error) {
	var out []*assignment.Assignment
	for _, a := range r.rows {
		if a.TenantID() != tenantID || a.PlanningID() != planningID || a.IsDeleted() {
			continue
		}
		if f.TeamID != nil && (a.TeamID() == nil || *a.TeamID() != *f.TeamID) {
			continue
		}
		if f.UserID != nil && (a.UserID() == nil || *a.UserID() != *f.UserID) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *fakeAssignmentRepo) LatestDeletedForUnit(_ context.Context, tenantID, planningID, orgUnitID uuid.UUID) (*assignment.Assignment, error) {
	var latest *assignment.Assignment
	for _, a := range r.rows {
		if a.TenantID() != tenantID || a.PlanningID() != planningID || a.OrgUnitID() != orgUnitID || !a.IsDeleted() {
			continue
		}
		if latest == nil || a.UpdatedAt().After(latest.UpdatedAt()) {
			latest = a
		}
	}
	return latest, nil
}

func (r *fakeAssignmentRepo) Insert(_ context.Context, a *assignment.Assignment) error {
	r.rows[a.ID()] = a
	return nil
}

func (r *fakeAssignmentRepo) Update(_ context.Context, a *assignment.Assignment) error {
	r.rows[a.ID()] = a
	return nil
}

func (r *fakeAssignmentRepo) SoftDeleteBulk(_ context.Context, tenantID, planningID uuid.UUID, f AssignmentFilter, now time.Time) (int64, error) {
	active, err := r.ListActive(context.Background(), tenantID, planningID, f)
	if err != nil {
		return 0, err
	}
	for _, a := range active {
		a.SoftDelete(now)
	}
	return int64(len(active)), nil
}
