package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/microplan/modules/planning/domain/events"
	"github.com/iota-uz/microplan/pkg/composables"
	"github.com/iota-uz/microplan/pkg/constants"
)

// inTx runs fn inside one transaction carrying the tenant id, so every read
// and write of a logical mutation commits or rolls back together. Partial
// application of a path recomputation or a bulk batch is never observable.
func inTx[T any](ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) (T, error)) (T, error) {
	var zero T

	// Join a transaction already opened by the caller instead of nesting.
	if raw := ctx.Value(constants.TxKey); raw != nil {
		txCtx := composables.WithTenantID(ctx, tenantID)
		if tx, ok := raw.(pgx.Tx); ok {
			if err := composables.ApplyTenantRLS(txCtx, tx); err != nil {
				return zero, err
			}
		}
		return fn(txCtx)
	}

	pool, err := composables.UsePool(ctx)
	if err != nil {
		return zero, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return zero, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txCtx := composables.WithTx(ctx, tx)
	txCtx = composables.WithTenantID(txCtx, tenantID)
	if err := composables.ApplyTenantRLS(txCtx, tx); err != nil {
		return zero, err
	}

	out, err := fn(txCtx)
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, err
	}
	return out, nil
}

func buildEventV1(requestID string, tenantID, initiatorID uuid.UUID, txTime time.Time, changeType, entityType string, entityID uuid.UUID) events.PlanningEventV1 {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return events.PlanningEventV1{
		EventID:         uuid.New(),
		EventVersion:    events.EventVersionV1,
		RequestID:       requestID,
		TenantID:        tenantID,
		TransactionTime: txTime,
		InitiatorID:     initiatorID,
		ChangeType:      changeType,
		EntityType:      entityType,
		EntityID:        entityID,
		NewValues:       []byte(`{}`),
	}
}
