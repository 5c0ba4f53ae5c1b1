package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/microplan/modules/planning/domain/events"
	"github.com/iota-uz/microplan/pkg/composables"
)

// AuditTrail subscribes to mutation events and appends them to the audit
// sink in its own transaction. A failed audit write is logged, never
// propagated: the mutation it describes has already committed.
type AuditTrail struct {
	base context.Context
	sink AuditSink
	log  *logrus.Logger
}

func NewAuditTrail(base context.Context, sink AuditSink, log *logrus.Logger) *AuditTrail {
	return &AuditTrail{base: base, sink: sink, log: log}
}

// auditEntryFromEvent carries the event's before/after snapshots into the
// entry unchanged; an event without an old snapshot stays NULL in the log.
func auditEntryFromEvent(ev events.PlanningEventV1) AuditEntry {
	entry := AuditEntry{
		RequestID:       ev.RequestID,
		TransactionTime: ev.TransactionTime,
		TenantID:        ev.TenantID,
		InitiatorID:     ev.InitiatorID,
		ChangeType:      ev.ChangeType,
		EntityType:      ev.EntityType,
		EntityID:        ev.EntityID,
		Meta: map[string]any{
			"event_id":      ev.EventID.String(),
			"event_version": ev.EventVersion,
		},
	}
	if len(ev.OldValues) > 0 {
		entry.OldValues = ev.OldValues
	}
	if len(ev.NewValues) > 0 {
		entry.NewValues = ev.NewValues
	}
	return entry
}

// Handle matches the event bus subscriber signature for PlanningEventV1.
func (t *AuditTrail) Handle(ev events.PlanningEventV1) {
	entry := auditEntryFromEvent(ev)

	ctx := composables.WithTenantID(t.base, ev.TenantID)
	err := composables.InTenantTx(ctx, func(txCtx context.Context) error {
		return t.sink.Record(txCtx, entry)
	})
	if err != nil && t.log != nil {
		t.log.WithFields(logrus.Fields{
			"request_id":  ev.RequestID,
			"change_type": ev.ChangeType,
			"entity_id":   ev.EntityID,
		}).WithError(err).Error("audit trail write failed")
	}
}
