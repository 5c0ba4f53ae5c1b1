package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/microplan/modules/planning/domain/path"
	"github.com/iota-uz/microplan/modules/planning/domain/team"
	"github.com/iota-uz/microplan/pkg/composables"
	"github.com/iota-uz/microplan/pkg/repo"
)

// PgTeamRepository stores the team tree in planning_teams, the materialized
// path in an ltree column and the member set in planning_team_members.
type PgTeamRepository struct{}

func NewPgTeamRepository() *PgTeamRepository {
	return &PgTeamRepository{}
}

const teamColumns = `
	t.id,
	t.tenant_id,
	t.project_id,
	t.name,
	t.description,
	t.kind,
	t.parent_id,
	t.path::text,
	t.manager_user_id,
	t.created_at,
	t.updated_at,
	t.deleted_at
`

func (r *PgTeamRepository) GetByID(ctx context.Context, tenantID, teamID uuid.UUID) (*team.Team, error) {
	return r.getByID(ctx, tenantID, teamID, "")
}

// LockByID reads the row with FOR UPDATE so concurrent tree mutations
// serialize on the node.
func (r *PgTeamRepository) LockByID(ctx context.Context, tenantID, teamID uuid.UUID) (*team.Team, error) {
	return r.getByID(ctx, tenantID, teamID, " FOR UPDATE OF t")
}

func (r *PgTeamRepository) getByID(ctx context.Context, tenantID, teamID uuid.UUID, suffix string) (*team.Team, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
SELECT `+teamColumns+`
FROM planning_teams t
WHERE t.tenant_id = $1 AND t.id = $2`+suffix, pgUUID(tenantID), pgUUID(teamID))
	t, err := scanTeam(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadMembers(ctx, tx, []*team.Team{t}); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PgTeamRepository) ListChildren(ctx context.Context, tenantID, parentID uuid.UUID) ([]*team.Team, error) {
	return r.list(ctx, `
SELECT `+teamColumns+`
FROM planning_teams t
WHERE t.tenant_id = $1 AND t.parent_id = $2 AND t.deleted_at IS NULL
ORDER BY t.name`, pgUUID(tenantID), pgUUID(parentID))
}

// ListDescendants returns the subtree owning the prefix, prefix node
// included. `<@` is ltree containment.
func (r *PgTeamRepository) ListDescendants(ctx context.Context, tenantID uuid.UUID, prefix path.Path) ([]*team.Team, error) {
	return r.list(ctx, `
SELECT `+teamColumns+`
FROM planning_teams t
WHERE t.tenant_id = $1 AND t.path <@ $2::ltree
ORDER BY nlevel(t.path)`, pgUUID(tenantID), prefix.String())
}

func (r *PgTeamRepository) ListForTenant(ctx context.Context, tenantID uuid.UUID) ([]*team.Team, error) {
	return r.list(ctx, `
SELECT `+teamColumns+`
FROM planning_teams t
WHERE t.tenant_id = $1 AND t.deleted_at IS NULL
ORDER BY t.path`, pgUUID(tenantID))
}

func (r *PgTeamRepository) list(ctx context.Context, sql string, args ...any) ([]*team.Team, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*team.Team, 0, 16)
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if err := r.loadMembers(ctx, tx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgTeamRepository) Insert(ctx context.Context, t *team.Team) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO planning_teams (
	id, tenant_id, project_id, name, description, kind,
	parent_id, path, manager_user_id, created_at, updated_at, deleted_at
) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8::ltree, $9, $10, $11, $12)
`,
		pgUUID(t.ID()), pgUUID(t.TenantID()), pgUUID(t.ProjectID()),
		t.Name(), t.Description(), string(t.Kind()),
		pgNullableUUID(t.ParentID()), t.Path().String(), pgUUID(t.ManagerID()),
		t.CreatedAt(), t.UpdatedAt(), pgNullableTime(t.DeletedAt()),
	); err != nil {
		return err
	}
	return r.saveMembers(ctx, tx, t)
}

func (r *PgTeamRepository) Update(ctx context.Context, t *team.Team) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
UPDATE planning_teams SET
	name = $3,
	description = $4,
	kind = NULLIF($5, ''),
	parent_id = $6,
	path = $7::ltree,
	manager_user_id = $8,
	updated_at = $9,
	deleted_at = $10
WHERE tenant_id = $1 AND id = $2
`,
		pgUUID(t.TenantID()), pgUUID(t.ID()),
		t.Name(), t.Description(), string(t.Kind()),
		pgNullableUUID(t.ParentID()), t.Path().String(), pgUUID(t.ManagerID()),
		t.UpdatedAt(), pgNullableTime(t.DeletedAt()),
	); err != nil {
		return err
	}
	return r.saveMembers(ctx, tx, t)
}

// UpdatePaths rewrites only parent and path columns, one statement per row.
// Batches stay small: a move touches one subtree.
func (r *PgTeamRepository) UpdatePaths(ctx context.Context, tenantID uuid.UUID, teams []*team.Team) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	for _, t := range teams {
		if _, err := tx.Exec(ctx, `
UPDATE planning_teams SET parent_id = $3, path = $4::ltree, updated_at = $5
WHERE tenant_id = $1 AND id = $2
`, pgUUID(tenantID), pgUUID(t.ID()), pgNullableUUID(t.ParentID()), t.Path().String(), t.UpdatedAt()); err != nil {
			return err
		}
	}
	return nil
}

func (r *PgTeamRepository) saveMembers(ctx context.Context, tx repo.Tx, t *team.Team) error {
	if _, err := tx.Exec(ctx, `
DELETE FROM planning_team_members WHERE tenant_id = $1 AND team_id = $2
`, pgUUID(t.TenantID()), pgUUID(t.ID())); err != nil {
		return err
	}
	for _, userID := range t.MemberIDs() {
		if _, err := tx.Exec(ctx, `
INSERT INTO planning_team_members (tenant_id, team_id, user_id) VALUES ($1, $2, $3)
`, pgUUID(t.TenantID()), pgUUID(t.ID()), pgUUID(userID)); err != nil {
			return err
		}
	}
	return nil
}

func (r *PgTeamRepository) loadMembers(ctx context.Context, tx repo.Tx, teams []*team.Team) error {
	if len(teams) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*team.Team, len(teams))
	ids := make([]uuid.UUID, 0, len(teams))
	for _, t := range teams {
		byID[t.ID()] = t
		ids = append(ids, t.ID())
	}

	rows, err := tx.Query(ctx, `
SELECT team_id, user_id
FROM planning_team_members
WHERE tenant_id = $1 AND team_id = ANY($2)
ORDER BY team_id, user_id
`, pgUUID(teams[0].TenantID()), ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	members := make(map[uuid.UUID][]uuid.UUID)
	for rows.Next() {
		var teamID, userID uuid.UUID
		if err := rows.Scan(&teamID, &userID); err != nil {
			return err
		}
		members[teamID] = append(members[teamID], userID)
	}
	if rows.Err() != nil {
		return rows.Err()
	}
	for teamID, userIDs := range members {
		byID[teamID].ReplaceMembers(userIDs)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTeam(row rowScanner) (*team.Team, error) {
	var (
		id, tenantID, projectID, managerID uuid.UUID
		name, description                  string
		kind                               pgtype.Text
		parentID                           pgtype.UUID
		rawPath                            string
		createdAt, updatedAt               pgtype.Timestamptz
		deletedAt                          pgtype.Timestamptz
	)
	if err := row.Scan(&id, &tenantID, &projectID, &name, &description, &kind,
		&parentID, &rawPath, &managerID, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}

	p, err := path.Parse(rawPath)
	if err != nil {
		return nil, err
	}
	k := team.KindUnset
	if kind.Valid {
		k = team.Kind(kind.String)
	}
	return team.New(tenantID, projectID, managerID, name,
		team.WithID(id),
		team.WithDescription(description),
		team.WithKind(k),
		team.WithParentID(uuidFromPg(parentID)),
		team.WithPath(p),
		team.WithCreatedAt(createdAt.Time),
		team.WithUpdatedAt(updatedAt.Time),
		team.WithDeletedAt(timeFromPg(deletedAt)),
	), nil
}
