package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/microplan/modules/planning/domain/planning"
	"github.com/iota-uz/microplan/pkg/composables"
	"github.com/iota-uz/microplan/pkg/repo"
)

type PgPlanningRepository struct{}

func NewPgPlanningRepository() *PgPlanningRepository {
	return &PgPlanningRepository{}
}

const planningColumns = `
	p.id,
	p.tenant_id,
	p.project_id,
	p.name,
	p.description,
	p.root_org_unit_id,
	p.team_id,
	p.target_org_unit_type_id,
	p.selected_sampling_id,
	p.started_at,
	p.ended_at,
	p.published_at,
	p.created_at,
	p.updated_at,
	p.deleted_at
`

func (r *PgPlanningRepository) GetByID(ctx context.Context, tenantID, planningID uuid.UUID) (*planning.Planning, error) {
	return r.getByID(ctx, tenantID, planningID, "")
}

func (r *PgPlanningRepository) LockByID(ctx context.Context, tenantID, planningID uuid.UUID) (*planning.Planning, error) {
	return r.getByID(ctx, tenantID, planningID, " FOR UPDATE OF p")
}

func (r *PgPlanningRepository) getByID(ctx context.Context, tenantID, planningID uuid.UUID, suffix string) (*planning.Planning, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
SELECT `+planningColumns+`
FROM planning_work_orders p
WHERE p.tenant_id = $1 AND p.id = $2`+suffix, pgUUID(tenantID), pgUUID(planningID))
	p, err := scanPlanning(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadForms(ctx, tx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PgPlanningRepository) ListForTenant(ctx context.Context, tenantID, projectID uuid.UUID) ([]*planning.Planning, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT `+planningColumns+`
FROM planning_work_orders p
WHERE p.tenant_id = $1 AND p.project_id = $2 AND p.deleted_at IS NULL
ORDER BY p.created_at DESC
`, pgUUID(tenantID), pgUUID(projectID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*planning.Planning, 0, 16)
	for rows.Next() {
		p, err := scanPlanning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	for _, p := range out {
		if err := r.loadForms(ctx, tx, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *PgPlanningRepository) Insert(ctx context.Context, p *planning.Planning) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO planning_work_orders (
	id, tenant_id, project_id, name, description, root_org_unit_id, team_id,
	target_org_unit_type_id, selected_sampling_id,
	started_at, ended_at, published_at, created_at, updated_at, deleted_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`,
		pgUUID(p.ID()), pgUUID(p.TenantID()), pgUUID(p.ProjectID()),
		p.Name(), p.Description(), pgUUID(p.RootOrgUnitID()), pgUUID(p.TeamID()),
		pgNullableUUID(p.TargetOrgUnitTypeID()), pgNullableUUID(p.SelectedSamplingID()),
		pgNullableTime(p.StartedAt()), pgNullableTime(p.EndedAt()), pgNullableTime(p.PublishedAt()),
		p.CreatedAt(), p.UpdatedAt(), pgNullableTime(p.DeletedAt()),
	); err != nil {
		return err
	}
	return r.saveForms(ctx, tx, p)
}

func (r *PgPlanningRepository) Update(ctx context.Context, p *planning.Planning) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
UPDATE planning_work_orders SET
	name = $3,
	description = $4,
	root_org_unit_id = $5,
	team_id = $6,
	target_org_unit_type_id = $7,
	selected_sampling_id = $8,
	started_at = $9,
	ended_at = $10,
	published_at = $11,
	updated_at = $12,
	deleted_at = $13
WHERE tenant_id = $1 AND id = $2
`,
		pgUUID(p.TenantID()), pgUUID(p.ID()),
		p.Name(), p.Description(), pgUUID(p.RootOrgUnitID()), pgUUID(p.TeamID()),
		pgNullableUUID(p.TargetOrgUnitTypeID()), pgNullableUUID(p.SelectedSamplingID()),
		pgNullableTime(p.StartedAt()), pgNullableTime(p.EndedAt()), pgNullableTime(p.PublishedAt()),
		p.UpdatedAt(), pgNullableTime(p.DeletedAt()),
	); err != nil {
		return err
	}
	return r.saveForms(ctx, tx, p)
}

func (r *PgPlanningRepository) saveForms(ctx context.Context, tx repo.Tx, p *planning.Planning) error {
	if _, err := tx.Exec(ctx, `
DELETE FROM planning_work_order_forms WHERE tenant_id = $1 AND planning_id = $2
`, pgUUID(p.TenantID()), pgUUID(p.ID())); err != nil {
		return err
	}
	for _, formID := range p.FormIDs() {
		if _, err := tx.Exec(ctx, `
INSERT INTO planning_work_order_forms (tenant_id, planning_id, form_id) VALUES ($1, $2, $3)
`, pgUUID(p.TenantID()), pgUUID(p.ID()), pgUUID(formID)); err != nil {
			return err
		}
	}
	return nil
}

func (r *PgPlanningRepository) loadForms(ctx context.Context, tx repo.Tx, p *planning.Planning) error {
	rows, err := tx.Query(ctx, `
SELECT form_id
FROM planning_work_order_forms
WHERE tenant_id = $1 AND planning_id = $2
ORDER BY form_id
`, pgUUID(p.TenantID()), pgUUID(p.ID()))
	if err != nil {
		return err
	}
	defer rows.Close()

	var formIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		formIDs = append(formIDs, id)
	}
	if rows.Err() != nil {
		return rows.Err()
	}
	p.SetFormIDs(formIDs)
	return nil
}

func scanPlanning(row rowScanner) (*planning.Planning, error) {
	var (
		id, tenantID, projectID, rootOrgUnitID, teamID uuid.UUID
		name, description                              string
		targetTypeID, samplingID                       pgtype.UUID
		startedAt, endedAt, publishedAt                pgtype.Timestamptz
		createdAt, updatedAt, deletedAt                pgtype.Timestamptz
	)
	if err := row.Scan(&id, &tenantID, &projectID, &name, &description,
		&rootOrgUnitID, &teamID, &targetTypeID, &samplingID,
		&startedAt, &endedAt, &publishedAt, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}

	return planning.New(tenantID, projectID, rootOrgUnitID, teamID, name,
		planning.WithID(id),
		planning.WithDescription(description),
		planning.WithTargetOrgUnitTypeID(uuidFromPg(targetTypeID)),
		planning.WithSelectedSamplingID(uuidFromPg(samplingID)),
		planning.WithDates(timeFromPg(startedAt), timeFromPg(endedAt)),
		planning.WithPublishedAt(timeFromPg(publishedAt)),
		planning.WithCreatedAt(createdAt.Time),
		planning.WithUpdatedAt(updatedAt.Time),
		planning.WithDeletedAt(timeFromPg(deletedAt)),
	), nil
}
