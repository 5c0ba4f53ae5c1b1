package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TopicPlanningChangedV1   = "planning.changed.v1"
	TopicTeamChangedV1       = "planning.team.changed.v1"
	TopicAssignmentChangedV1 = "planning.assignment.changed.v1"
	EventVersionV1           = 1
)

type PlanningEventV1 struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventVersion    int             `json:"event_version"`
	RequestID       string          `json:"request_id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	TransactionTime time.Time       `json:"transaction_time"`
	InitiatorID     uuid.UUID       `json:"initiator_id"`
	ChangeType      string          `json:"change_type"`
	EntityType      string          `json:"entity_type"`
	EntityID        uuid.UUID       `json:"entity_id"`
	OldValues       json.RawMessage `json:"old_values,omitempty"`
	NewValues       json.RawMessage `json:"new_values"`
}
