// Package planning models the PlanningWorkOrder: a time-boxed, form-scoped
// work order that pins a team onto the subtree of one organizational unit.
// Drafts carry no publication timestamp; only published plannings with both
// dates set are visible to field clients.
package planning

import (
	"time"

	"github.com/google/uuid"
)

type Planning struct {
	id                    uuid.UUID
	tenantID              uuid.UUID
	projectID             uuid.UUID
	name                  string
	description           string
	rootOrgUnitID         uuid.UUID
	teamID                uuid.UUID
	formIDs               []uuid.UUID
	targetOrgUnitTypeID   *uuid.UUID
	selectedSamplingID    *uuid.UUID
	startedAt             *time.Time
	endedAt               *time.Time
	publishedAt           *time.Time
	createdAt             time.Time
	updatedAt             time.Time
	deletedAt             *time.Time
}

type Option func(*Planning)

func WithID(id uuid.UUID) Option {
	return func(p *Planning) {
		p.id = id
	}
}

func WithDescription(description string) Option {
	return func(p *Planning) {
		p.description = description
	}
}

func WithFormIDs(formIDs []uuid.UUID) Option {
	return func(p *Planning) {
		p.formIDs = append([]uuid.UUID(nil), formIDs...)
	}
}

func WithTargetOrgUnitTypeID(typeID *uuid.UUID) Option {
	return func(p *Planning) {
		p.targetOrgUnitTypeID = typeID
	}
}

func WithSelectedSamplingID(samplingID *uuid.UUID) Option {
	return func(p *Planning) {
		p.selectedSamplingID = samplingID
	}
}

func WithDates(startedAt, endedAt *time.Time) Option {
	return func(p *Planning) {
		p.startedAt = startedAt
		p.endedAt = endedAt
	}
}

func WithPublishedAt(publishedAt *time.Time) Option {
	return func(p *Planning) {
		p.publishedAt = publishedAt
	}
}

func WithCreatedAt(createdAt time.Time) Option {
	return func(p *Planning) {
		p.createdAt = createdAt
	}
}

func WithUpdatedAt(updatedAt time.Time) Option {
	return func(p *Planning) {
		p.updatedAt = updatedAt
	}
}

func WithDeletedAt(deletedAt *time.Time) Option {
	return func(p *Planning) {
		p.deletedAt = deletedAt
	}
}

func New(tenantID, projectID, rootOrgUnitID, teamID uuid.UUID, name string, opts ...Option) *Planning {
	now := time.Now().UTC()
	p := &Planning{
		id:            uuid.New(),
		tenantID:      tenantID,
		projectID:     projectID,
		rootOrgUnitID: rootOrgUnitID,
		teamID:        teamID,
		name:          name,
		createdAt:     now,
		updatedAt:     now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Planning) ID() uuid.UUID                    { return p.id }
func (p *Planning) TenantID() uuid.UUID              { return p.tenantID }
func (p *Planning) ProjectID() uuid.UUID             { return p.projectID }
func (p *Planning) Name() string                     { return p.name }
func (p *Planning) Description() string              { return p.description }
func (p *Planning) RootOrgUnitID() uuid.UUID         { return p.rootOrgUnitID }
func (p *Planning) TeamID() uuid.UUID                { return p.teamID }
func (p *Planning) FormIDs() []uuid.UUID             { return append([]uuid.UUID(nil), p.formIDs...) }
func (p *Planning) TargetOrgUnitTypeID() *uuid.UUID  { return p.targetOrgUnitTypeID }
func (p *Planning) SelectedSamplingID() *uuid.UUID   { return p.selectedSamplingID }
func (p *Planning) StartedAt() *time.Time            { return p.startedAt }
func (p *Planning) EndedAt() *time.Time              { return p.endedAt }
func (p *Planning) PublishedAt() *time.Time          { return p.publishedAt }
func (p *Planning) CreatedAt() time.Time             { return p.createdAt }
func (p *Planning) UpdatedAt() time.Time             { return p.updatedAt }
func (p *Planning) DeletedAt() *time.Time            { return p.deletedAt }

func (p *Planning) IsDeleted() bool   { return p.deletedAt != nil }
func (p *Planning) IsPublished() bool { return p.publishedAt != nil }

func (p *Planning) Publish(now time.Time) {
	at := now.UTC()
	p.publishedAt = &at
	p.touch()
}

// SetFormIDs replaces the linked form set without touching updated_at;
// used when rehydrating the link table.
func (p *Planning) SetFormIDs(formIDs []uuid.UUID) {
	p.formIDs = append([]uuid.UUID(nil), formIDs...)
}

// Apply overwrites the editable fields in one step. Publish state and
// lifecycle timestamps are not editable this way.
func (p *Planning) Apply(name, description string, rootOrgUnitID, teamID uuid.UUID, formIDs []uuid.UUID, targetOrgUnitTypeID, selectedSamplingID *uuid.UUID, startedAt, endedAt *time.Time) {
	p.name = name
	p.description = description
	p.rootOrgUnitID = rootOrgUnitID
	p.teamID = teamID
	p.formIDs = append([]uuid.UUID(nil), formIDs...)
	p.targetOrgUnitTypeID = targetOrgUnitTypeID
	p.selectedSamplingID = selectedSamplingID
	p.startedAt = startedAt
	p.endedAt = endedAt
	p.touch()
}

func (p *Planning) Unpublish() {
	p.publishedAt = nil
	p.touch()
}

func (p *Planning) SoftDelete(now time.Time) {
	at := now.UTC()
	p.deletedAt = &at
	p.touch()
}

func (p *Planning) Restore() {
	p.deletedAt = nil
	p.touch()
}

func (p *Planning) touch() {
	p.updatedAt = time.Now().UTC()
}
