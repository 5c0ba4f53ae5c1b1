package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/microplan/modules/planning/services"
	"github.com/iota-uz/microplan/pkg/composables"
)

// Read-side adapters over tables owned by other modules. None of these
// issue writes.

type PgOrgUnitRepository struct{}

func NewPgOrgUnitRepository() *PgOrgUnitRepository {
	return &PgOrgUnitRepository{}
}

const orgUnitColumns = `
	u.id,
	u.tenant_id,
	u.type_id,
	u.parent_id,
	u.name,
	u.path::text,
	u.geometry IS NOT NULL
`

func (r *PgOrgUnitRepository) GetByID(ctx context.Context, tenantID, unitID uuid.UUID) (*services.OrgUnitRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRow(ctx, `
SELECT `+orgUnitColumns+`
FROM org_units u
WHERE u.tenant_id = $1 AND u.id = $2
`, pgUUID(tenantID), pgUUID(unitID))
	return scanOrgUnit(row)
}

// ListDescendants is the inclusive closure of the root unit by ltree
// containment.
func (r *PgOrgUnitRepository) ListDescendants(ctx context.Context, tenantID, rootID uuid.UUID) ([]*services.OrgUnitRow, error) {
	return r.list(ctx, `
SELECT `+orgUnitColumns+`
FROM org_units u
WHERE u.tenant_id = $1
  AND u.path <@ (SELECT path FROM org_units WHERE tenant_id = $1 AND id = $2)
ORDER BY nlevel(u.path), u.name
`, pgUUID(tenantID), pgUUID(rootID))
}

func (r *PgOrgUnitRepository) ListChildren(ctx context.Context, tenantID, parentID uuid.UUID) ([]*services.OrgUnitRow, error) {
	return r.list(ctx, `
SELECT `+orgUnitColumns+`
FROM org_units u
WHERE u.tenant_id = $1 AND u.parent_id = $2
ORDER BY u.name
`, pgUUID(tenantID), pgUUID(parentID))
}

func (r *PgOrgUnitRepository) CountDescendantsOfType(ctx context.Context, tenantID, rootID, typeID uuid.UUID) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := tx.QueryRow(ctx, `
SELECT COUNT(*)
FROM org_units u
WHERE u.tenant_id = $1
  AND u.type_id = $3
  AND u.path <@ (SELECT path FROM org_units WHERE tenant_id = $1 AND id = $2)
`, pgUUID(tenantID), pgUUID(rootID), pgUUID(typeID)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PgOrgUnitRepository) TypeBelongsToProject(ctx context.Context, tenantID, typeID, projectID uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := tx.QueryRow(ctx, `
SELECT EXISTS(
	SELECT 1 FROM org_unit_type_projects
	WHERE tenant_id = $1 AND org_unit_type_id = $2 AND project_id = $3
)
`, pgUUID(tenantID), pgUUID(typeID), pgUUID(projectID)).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PgOrgUnitRepository) list(ctx context.Context, sql string, args ...any) ([]*services.OrgUnitRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*services.OrgUnitRow, 0, 64)
	for rows.Next() {
		u, err := scanOrgUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanOrgUnit(row rowScanner) (*services.OrgUnitRow, error) {
	var (
		u        services.OrgUnitRow
		parentID pgtype.UUID
	)
	if err := row.Scan(&u.ID, &u.TenantID, &u.TypeID, &parentID, &u.Name, &u.Path, &u.HasGeography); err != nil {
		return nil, err
	}
	u.ParentID = uuidFromPg(parentID)
	return &u, nil
}

type PgUserDirectory struct{}

func NewPgUserDirectory() *PgUserDirectory {
	return &PgUserDirectory{}
}

func (d *PgUserDirectory) BelongsToTenant(ctx context.Context, tenantID, userID uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := tx.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM users WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL)
`, pgUUID(tenantID), pgUUID(userID)).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (d *PgUserDirectory) MissingFromProject(ctx context.Context, tenantID, projectID uuid.UUID, userIDs []uuid.UUID) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT candidate.id
FROM unnest($3::uuid[]) AS candidate(id)
WHERE NOT EXISTS (
	SELECT 1 FROM project_users pu
	WHERE pu.tenant_id = $1 AND pu.project_id = $2 AND pu.user_id = candidate.id
)
`, pgUUID(tenantID), pgUUID(projectID), userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var missing []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		missing = append(missing, id)
	}
	return missing, rows.Err()
}

type PgFormRepository struct{}

func NewPgFormRepository() *PgFormRepository {
	return &PgFormRepository{}
}

func (r *PgFormRepository) MissingFromProject(ctx context.Context, tenantID, projectID uuid.UUID, formIDs []uuid.UUID) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT candidate.id
FROM unnest($3::uuid[]) AS candidate(id)
WHERE NOT EXISTS (
	SELECT 1 FROM forms f
	WHERE f.tenant_id = $1 AND f.project_id = $2 AND f.id = candidate.id AND f.deleted_at IS NULL
)
`, pgUUID(tenantID), pgUUID(projectID), formIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var missing []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		missing = append(missing, id)
	}
	return missing, rows.Err()
}

type PgSamplingRepository struct{}

func NewPgSamplingRepository() *PgSamplingRepository {
	return &PgSamplingRepository{}
}

func (r *PgSamplingRepository) ListUnitIDs(ctx context.Context, tenantID, samplingID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT su.org_unit_id
FROM planning_sampling_result_units su
WHERE su.tenant_id = $1 AND su.sampling_result_id = $2
ORDER BY su.org_unit_id
`, pgUUID(tenantID), pgUUID(samplingID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
