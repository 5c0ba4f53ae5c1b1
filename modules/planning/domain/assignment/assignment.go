// Package assignment models one (planning, org unit) → assignee row of the
// assignment ledger. The assignee is a team, a user, or nobody, never both
// a team and a user. At most one non-deleted row may exist per pair; the
// ledger service and a partial unique index both enforce it.
package assignment

import (
	"time"

	"github.com/google/uuid"
)

type Assignment struct {
	id         uuid.UUID
	tenantID   uuid.UUID
	planningID uuid.UUID
	orgUnitID  uuid.UUID
	teamID     *uuid.UUID
	userID     *uuid.UUID
	createdBy  uuid.UUID
	createdAt  time.Time
	updatedAt  time.Time
	deletedAt  *time.Time
}

type Option func(*Assignment)

func WithID(id uuid.UUID) Option {
	return func(a *Assignment) {
		a.id = id
	}
}

func WithTeamID(teamID *uuid.UUID) Option {
	return func(a *Assignment) {
		a.teamID = teamID
	}
}

func WithUserID(userID *uuid.UUID) Option {
	return func(a *Assignment) {
		a.userID = userID
	}
}

func WithCreatedAt(createdAt time.Time) Option {
	return func(a *Assignment) {
		a.createdAt = createdAt
	}
}

func WithUpdatedAt(updatedAt time.Time) Option {
	return func(a *Assignment) {
		a.updatedAt = updatedAt
	}
}

func WithDeletedAt(deletedAt *time.Time) Option {
	return func(a *Assignment) {
		a.deletedAt = deletedAt
	}
}

func New(tenantID, planningID, orgUnitID, createdBy uuid.UUID, opts ...Option) *Assignment {
	now := time.Now().UTC()
	a := &Assignment{
		id:         uuid.New(),
		tenantID:   tenantID,
		planningID: planningID,
		orgUnitID:  orgUnitID,
		createdBy:  createdBy,
		createdAt:  now,
		updatedAt:  now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Assignment) ID() uuid.UUID         { return a.id }
func (a *Assignment) TenantID() uuid.UUID   { return a.tenantID }
func (a *Assignment) PlanningID() uuid.UUID { return a.planningID }
func (a *Assignment) OrgUnitID() uuid.UUID  { return a.orgUnitID }
func (a *Assignment) TeamID() *uuid.UUID    { return a.teamID }
func (a *Assignment) UserID() *uuid.UUID    { return a.userID }
func (a *Assignment) CreatedBy() uuid.UUID  { return a.createdBy }
func (a *Assignment) CreatedAt() time.Time  { return a.createdAt }
func (a *Assignment) UpdatedAt() time.Time  { return a.updatedAt }
func (a *Assignment) DeletedAt() *time.Time { return a.deletedAt }

func (a *Assignment) IsDeleted() bool { return a.deletedAt != nil }

// SameAssignee reports whether the row already points at the given assignee.
func (a *Assignment) SameAssignee(teamID, userID *uuid.UUID) bool {
	return uuidPtrEqual(a.teamID, teamID) && uuidPtrEqual(a.userID, userID)
}

func (a *Assignment) SetAssignee(teamID, userID *uuid.UUID) {
	a.teamID = teamID
	a.userID = userID
	a.touch()
}

func (a *Assignment) SoftDelete(now time.Time) {
	at := now.UTC()
	a.deletedAt = &at
	a.touch()
}

func (a *Assignment) Restore() {
	a.deletedAt = nil
	a.touch()
}

func (a *Assignment) touch() {
	a.updatedAt = time.Now().UTC()
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
