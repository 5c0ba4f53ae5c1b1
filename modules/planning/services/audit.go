package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditSink receives before/after snapshots of every mutated entity.
// Persisting them is the collaborator's concern, not the core's; a failed
// write is logged and never rolls back the mutation it describes.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

type AuditEntry struct {
	RequestID       string
	TransactionTime time.Time
	TenantID        uuid.UUID
	InitiatorID     uuid.UUID
	ChangeType      string
	EntityType      string
	EntityID        uuid.UUID
	OldValues       any
	NewValues       any
	Meta            map[string]any
}

func (a AuditEntry) marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (a AuditEntry) MarshalOldValues() (string, bool, error) {
	s, err := a.marshalJSON(a.OldValues)
	if err != nil {
		return "", false, err
	}
	if s == "" {
		return "", false, nil
	}
	return s, true, nil
}

func (a AuditEntry) MarshalNewValues() (string, error) {
	if a.NewValues == nil {
		return "{}", nil
	}
	s, err := a.marshalJSON(a.NewValues)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "{}", nil
	}
	return s, nil
}

func (a AuditEntry) MarshalMeta() (string, error) {
	meta := map[string]any{}
	for k, v := range a.Meta {
		meta[k] = v
	}
	s, err := a.marshalJSON(meta)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "{}", nil
	}
	return s, nil
}

func (a AuditEntry) Validate() error {
	if a.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if a.TransactionTime.IsZero() {
		return fmt.Errorf("transaction_time is required")
	}
	if a.TenantID == uuid.Nil {
		return fmt.Errorf("tenant_id is required")
	}
	if a.ChangeType == "" {
		return fmt.Errorf("change_type is required")
	}
	if a.EntityType == "" {
		return fmt.Errorf("entity_type is required")
	}
	if a.EntityID == uuid.Nil {
		return fmt.Errorf("entity_id is required")
	}
	return nil
}
