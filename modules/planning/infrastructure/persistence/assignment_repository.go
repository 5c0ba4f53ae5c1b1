package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/microplan/modules/planning/domain/assignment"
	"github.com/iota-uz/microplan/modules/planning/services"
	"github.com/iota-uz/microplan/pkg/composables"
)

// PgAssignmentRepository stores the ledger in planning_assignments. The
// at-most-one-active-row invariant is backed by the partial unique index
// planning_assignments_active_unique.
type PgAssignmentRepository struct{}

func NewPgAssignmentRepository() *PgAssignmentRepository {
	return &PgAssignmentRepository{}
}

const assignmentColumns = `
	a.id,
	a.tenant_id,
	a.planning_id,
	a.org_unit_id,
	a.team_id,
	a.user_id,
	a.created_by,
	a.created_at,
	a.updated_at,
	a.deleted_at
`

func (r *PgAssignmentRepository) GetByID(ctx context.Context, tenantID, assignmentID uuid.UUID) (*assignment.Assignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRow(ctx, `
SELECT `+assignmentColumns+`
FROM planning_assignments a
WHERE a.tenant_id = $1 AND a.id = $2
`, pgUUID(tenantID), pgUUID(assignmentID))
	return scanAssignment(row)
}

func (r *PgAssignmentRepository) ListActiveForUnit(ctx context.Context, tenantID, planningID, orgUnitID uuid.UUID) ([]*assignment.Assignment, error) {
	return r.list(ctx, `
SELECT `+assignmentColumns+`
FROM planning_assignments a
WHERE a.tenant_id = $1 AND a.planning_id = $2 AND a.org_unit_id = $3 AND a.deleted_at IS NULL
FOR UPDATE OF a
`, pgUUID(tenantID), pgUUID(planningID), pgUUID(orgUnitID))
}

func (r *PgAssignmentRepository) ListActive(ctx context.Context, tenantID, planningID uuid.UUID, f services.AssignmentFilter) ([]*assignment.Assignment, error) {
	sql := `
SELECT ` + assignmentColumns + `
FROM planning_assignments a
WHERE a.tenant_id = $1 AND a.planning_id = $2 AND a.deleted_at IS NULL`
	args := []any{pgUUID(tenantID), pgUUID(planningID)}
	sql, args = appendAssigneeFilter(sql, args, f)
	return r.list(ctx, sql+"\nORDER BY a.created_at", args...)
}

func (r *PgAssignmentRepository) LatestDeletedForUnit(ctx context.Context, tenantID, planningID, orgUnitID uuid.UUID) (*assignment.Assignment, error) {
	out, err := r.list(ctx, `
SELECT `+assignmentColumns+`
FROM planning_assignments a
WHERE a.tenant_id = $1 AND a.planning_id = $2 AND a.org_unit_id = $3 AND a.deleted_at IS NOT NULL
ORDER BY a.deleted_at DESC
LIMIT 1
`, pgUUID(tenantID), pgUUID(planningID), pgUUID(orgUnitID))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *PgAssignmentRepository) Insert(ctx context.Context, a *assignment.Assignment) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO planning_assignments (
	id, tenant_id, planning_id, org_unit_id, team_id, user_id,
	created_by, created_at, updated_at, deleted_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`,
		pgUUID(a.ID()), pgUUID(a.TenantID()), pgUUID(a.PlanningID()), pgUUID(a.OrgUnitID()),
		pgNullableUUID(a.TeamID()), pgNullableUUID(a.UserID()),
		pgUUID(a.CreatedBy()), a.CreatedAt(), a.UpdatedAt(), pgNullableTime(a.DeletedAt()),
	)
	return err
}

func (r *PgAssignmentRepository) Update(ctx context.Context, a *assignment.Assignment) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
UPDATE planning_assignments SET
	team_id = $3,
	user_id = $4,
	updated_at = $5,
	deleted_at = $6
WHERE tenant_id = $1 AND id = $2
`,
		pgUUID(a.TenantID()), pgUUID(a.ID()),
		pgNullableUUID(a.TeamID()), pgNullableUUID(a.UserID()),
		a.UpdatedAt(), pgNullableTime(a.DeletedAt()),
	)
	return err
}

func (r *PgAssignmentRepository) SoftDeleteBulk(ctx context.Context, tenantID, planningID uuid.UUID, f services.AssignmentFilter, now time.Time) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}

	sql := `
UPDATE planning_assignments a SET deleted_at = $3, updated_at = $3
WHERE a.tenant_id = $1 AND a.planning_id = $2 AND a.deleted_at IS NULL`
	args := []any{pgUUID(tenantID), pgUUID(planningID), now.UTC()}
	sql, args = appendAssigneeFilter(sql, args, f)

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func appendAssigneeFilter(sql string, args []any, f services.AssignmentFilter) (string, []any) {
	if f.TeamID != nil {
		args = append(args, pgUUID(*f.TeamID))
		sql += fmt.Sprintf(" AND a.team_id = $%d", len(args))
	}
	if f.UserID != nil {
		args = append(args, pgUUID(*f.UserID))
		sql += fmt.Sprintf(" AND a.user_id = $%d", len(args))
	}
	return sql, args
}

func (r *PgAssignmentRepository) list(ctx context.Context, sql string, args ...any) ([]*assignment.Assignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*assignment.Assignment, 0, 16)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanAssignment(row rowScanner) (*assignment.Assignment, error) {
	var (
		id, tenantID, planningID, orgUnitID, createdBy uuid.UUID
		teamID, userID                                 pgtype.UUID
		createdAt, updatedAt, deletedAt                pgtype.Timestamptz
	)
	if err := row.Scan(&id, &tenantID, &planningID, &orgUnitID,
		&teamID, &userID, &createdBy, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}

	return assignment.New(tenantID, planningID, orgUnitID, createdBy,
		assignment.WithID(id),
		assignment.WithTeamID(uuidFromPg(teamID)),
		assignment.WithUserID(uuidFromPg(userID)),
		assignment.WithCreatedAt(createdAt.Time),
		assignment.WithUpdatedAt(updatedAt.Time),
		assignment.WithDeletedAt(timeFromPg(deletedAt)),
	), nil
}
