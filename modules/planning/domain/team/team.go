// Package team holds the TeamNode aggregate of the microplanning hierarchy:
// a forest of teams-of-teams and teams-of-users, indexed by materialized
// paths. All structural invariants (acyclicity, kind consistency, path
// shape) are enforced by the team service; this package only models state.
package team

import (
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/microplan/modules/planning/domain/path"
)

type Kind string

const (
	KindUnset       Kind = ""
	KindTeamOfTeams Kind = "TEAM_OF_TEAMS"
	KindTeamOfUsers Kind = "TEAM_OF_USERS"
)

func (k Kind) Valid() bool {
	switch k {
	case KindUnset, KindTeamOfTeams, KindTeamOfUsers:
		return true
	}
	return false
}

type Team struct {
	id          uuid.UUID
	tenantID    uuid.UUID
	projectID   uuid.UUID
	name        string
	description string
	kind        Kind
	parentID    *uuid.UUID
	path        path.Path
	managerID   uuid.UUID
	memberIDs   []uuid.UUID
	createdAt   time.Time
	updatedAt   time.Time
	deletedAt   *time.Time
}

type Option func(*Team)

func WithID(id uuid.UUID) Option {
	return func(t *Team) {
		t.id = id
	}
}

func WithDescription(description string) Option {
	return func(t *Team) {
		t.description = description
	}
}

func WithKind(kind Kind) Option {
	return func(t *Team) {
		t.kind = kind
	}
}

func WithParentID(parentID *uuid.UUID) Option {
	return func(t *Team) {
		t.parentID = parentID
	}
}

func WithPath(p path.Path) Option {
	return func(t *Team) {
		t.path = p
	}
}

func WithMemberIDs(memberIDs []uuid.UUID) Option {
	return func(t *Team) {
		t.memberIDs = append([]uuid.UUID(nil), memberIDs...)
	}
}

func WithCreatedAt(createdAt time.Time) Option {
	return func(t *Team) {
		t.createdAt = createdAt
	}
}

func WithUpdatedAt(updatedAt time.Time) Option {
	return func(t *Team) {
		t.updatedAt = updatedAt
	}
}

func WithDeletedAt(deletedAt *time.Time) Option {
	return func(t *Team) {
		t.deletedAt = deletedAt
	}
}

func New(tenantID, projectID, managerID uuid.UUID, name string, opts ...Option) *Team {
	now := time.Now().UTC()
	t := &Team{
		id:        uuid.New(),
		tenantID:  tenantID,
		projectID: projectID,
		managerID: managerID,
		name:      name,
		createdAt: now,
		updatedAt: now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if len(t.path) == 0 {
		t.path = path.Root(t.id)
	}
	return t
}

func (t *Team) ID() uuid.UUID          { return t.id }
func (t *Team) TenantID() uuid.UUID    { return t.tenantID }
func (t *Team) ProjectID() uuid.UUID   { return t.projectID }
func (t *Team) Name() string           { return t.name }
func (t *Team) Description() string    { return t.description }
func (t *Team) Kind() Kind             { return t.kind }
func (t *Team) ParentID() *uuid.UUID   { return t.parentID }
func (t *Team) Path() path.Path        { return t.path }
func (t *Team) ManagerID() uuid.UUID   { return t.managerID }
func (t *Team) MemberIDs() []uuid.UUID { return append([]uuid.UUID(nil), t.memberIDs...) }
func (t *Team) CreatedAt() time.Time   { return t.createdAt }
func (t *Team) UpdatedAt() time.Time   { return t.updatedAt }
func (t *Team) DeletedAt() *time.Time  { return t.deletedAt }

func (t *Team) HasMembers() bool { return len(t.memberIDs) > 0 }

func (t *Team) IsDeleted() bool { return t.deletedAt != nil }

func (t *Team) Rename(name, description string) {
	t.name = name
	t.description = description
	t.touch()
}

// Reparent records the new parent and the recomputed path. Path correctness
// (parent.path + [self.id]) is the team service's responsibility.
func (t *Team) Reparent(parentID *uuid.UUID, newPath path.Path) {
	t.parentID = parentID
	t.path = newPath
	t.touch()
}

// SetPath is used during descendant-closure recomputation.
func (t *Team) SetPath(p path.Path) {
	t.path = p
	t.touch()
}

func (t *Team) SetKind(kind Kind) {
	t.kind = kind
	t.touch()
}

func (t *Team) SetManager(managerID uuid.UUID) {
	t.managerID = managerID
	t.touch()
}

func (t *Team) ReplaceMembers(memberIDs []uuid.UUID) {
	t.memberIDs = append([]uuid.UUID(nil), memberIDs...)
	t.touch()
}

func (t *Team) SoftDelete(now time.Time) {
	at := now.UTC()
	t.deletedAt = &at
	t.touch()
}

func (t *Team) Restore() {
	t.deletedAt = nil
	t.touch()
}

func (t *Team) touch() {
	t.updatedAt = time.Now().UTC()
}
