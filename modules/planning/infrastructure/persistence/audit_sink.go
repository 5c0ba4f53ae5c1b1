package persistence

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/microplan/modules/planning/services"
	"github.com/iota-uz/microplan/pkg/composables"
)

// PgAuditSink appends before/after snapshots to planning_change_logs.
type PgAuditSink struct{}

func NewPgAuditSink() *PgAuditSink {
	return &PgAuditSink{}
}

func (s *PgAuditSink) Record(ctx context.Context, entry services.AuditEntry) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	if err := entry.Validate(); err != nil {
		return err
	}

	oldValuesJSON, oldValid, err := entry.MarshalOldValues()
	if err != nil {
		return err
	}
	newValuesJSON, err := entry.MarshalNewValues()
	if err != nil {
		return err
	}
	metaJSON, err := entry.MarshalMeta()
	if err != nil {
		return err
	}

	oldValues := pgtype.Text{}
	if oldValid {
		oldValues = pgtype.Text{String: oldValuesJSON, Valid: true}
	}

	_, err = tx.Exec(ctx, `
INSERT INTO planning_change_logs (
	tenant_id, request_id, transaction_time, initiator_id,
	change_type, entity_type, entity_id, old_values, new_values, meta
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10::jsonb)
`,
		pgUUID(entry.TenantID), entry.RequestID, entry.TransactionTime,
		pgUUID(entry.InitiatorID), entry.ChangeType, entry.EntityType,
		pgUUID(entry.EntityID), oldValues, newValuesJSON, metaJSON,
	)
	return err
}
