package services

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/iota-uz/microplan/modules/planning/domain/events"
	"github.com/iota-uz/microplan/modules/planning/domain/planning"
	"github.com/iota-uz/microplan/pkg/eventbus"
	"github.com/iota-uz/microplan/pkg/serrors"
)

// PlanningRepository is the storage port of planning work orders.
type PlanningRepository interface {
	GetByID(ctx context.Context, tenantID, planningID uuid.UUID) (*planning.Planning, error)
	LockByID(ctx context.Context, tenantID, planningID uuid.UUID) (*planning.Planning, error)
	ListForTenant(ctx context.Context, tenantID, projectID uuid.UUID) ([]*planning.Planning, error)
	Insert(ctx context.Context, p *planning.Planning) error
	Update(ctx context.Context, p *planning.Planning) error
}

// FormRepository reads data-collection forms owned by the forms module.
type FormRepository interface {
	MissingFromProject(ctx context.Context, tenantID, projectID uuid.UUID, formIDs []uuid.UUID) ([]uuid.UUID, error)
}

type PlanningService struct {
	repo     PlanningRepository
	teams    TeamRepository
	orgUnits OrgUnitRepository
	forms    FormRepository
	scope    *ScopeResolver
	bus      eventbus.EventBus
}

func NewPlanningService(repo PlanningRepository, teams TeamRepository, orgUnits OrgUnitRepository, forms FormRepository, scope *ScopeResolver, bus eventbus.EventBus) *PlanningService {
	return &PlanningService{
		repo:     repo,
		teams:    teams,
		orgUnits: orgUnits,
		forms:    forms,
		scope:    scope,
		bus:      bus,
	}
}

type PlanningInput struct {
	ProjectID           uuid.UUID
	Name                string
	Description         string
	RootOrgUnitID       uuid.UUID
	TeamID              uuid.UUID
	FormIDs             []uuid.UUID
	TargetOrgUnitTypeID *uuid.UUID
	SelectedSamplingID  *uuid.UUID
	StartedAt           *time.Time
	EndedAt             *time.Time
	Publish             bool
}

type PlanningResult struct {
	PlanningID      uuid.UUID
	GeneratedEvents []events.PlanningEventV1
}

var planningValidator = newPlanningValidator()

func newPlanningValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("field"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

// planningCandidate mirrors the always-required slice of a work order for
// struct validation; cross-entity rules stay in Validate itself.
type planningCandidate struct {
	Name          string    `field:"name" validate:"required,max=255"`
	RootOrgUnitID uuid.UUID `field:"root_org_unit_id" validate:"required"`
	TeamID        uuid.UUID `field:"team_id" validate:"required"`
}

// Validate collects every field failure of a candidate work order instead of
// stopping at the first. A nil return means the candidate is publishable (or
// savable, when it is not being published).
func (s *PlanningService) Validate(ctx context.Context, p *planning.Planning) serrors.ValidationErrors {
	return s.validate(ctx, p, p.IsPublished())
}

// validate runs the full gate against the candidate's current state, with
// the publish requirements switched by publishing rather than by the stored
// published_at. Write paths check the gate before mutating the aggregate, so
// a rejected candidate never leaks state into the transaction.
func (s *PlanningService) validate(ctx context.Context, p *planning.Planning, publishing bool) serrors.ValidationErrors {
	errs := serrors.ValidationErrors{}

	candidate := planningCandidate{
		Name:          p.Name(),
		RootOrgUnitID: p.RootOrgUnitID(),
		TeamID:        p.TeamID(),
	}
	if err := planningValidator.Struct(candidate); err != nil {
		for field, fieldErr := range serrors.ProcessValidatorErrors(err, func(field string) string {
			return "planning.errors." + field + "_invalid"
		}) {
			errs.Add(field, fieldErr)
		}
	}

	if p.TeamID() != uuid.Nil {
		t, err := s.teams.GetByID(ctx, p.TenantID(), p.TeamID())
		switch {
		case err != nil:
			errs.Add("team_id", serrors.NewError(CodeNotFound, "team not found", "planning.errors.team_not_found"))
		case t.ProjectID() != p.ProjectID():
			errs.Add("team_id", serrors.NewError(CodeScope, "team belongs to another project", "planning.errors.team_project_mismatch"))
		case t.IsDeleted():
			errs.Add("team_id", serrors.NewError(CodeNotFound, "team is deleted", "planning.errors.team_deleted"))
		}
	}

	if len(p.FormIDs()) > 0 {
		missing, err := s.forms.MissingFromProject(ctx, p.TenantID(), p.ProjectID(), p.FormIDs())
		if err != nil || len(missing) > 0 {
			errs.Add("form_ids", serrors.NewError(CodeScope, "one or more forms do not belong to the project", "planning.errors.forms_project_mismatch"))
		}
	}

	if p.RootOrgUnitID() != uuid.Nil {
		root, err := s.orgUnits.GetByID(ctx, p.TenantID(), p.RootOrgUnitID())
		if err != nil {
			errs.Add("root_org_unit_id", serrors.NewError(CodeNotFound, "root org unit not found", "planning.errors.root_unit_not_found"))
		} else {
			ok, err := s.orgUnits.TypeBelongsToProject(ctx, p.TenantID(), root.TypeID, p.ProjectID())
			if err != nil || !ok {
				errs.Add("root_org_unit_id", serrors.NewError(CodeScope, "root org unit type is not enabled for the project", "planning.errors.root_unit_type_mismatch"))
			}
		}

		if p.TargetOrgUnitTypeID() != nil {
			typeID := *p.TargetOrgUnitTypeID()
			ok, err := s.orgUnits.TypeBelongsToProject(ctx, p.TenantID(), typeID, p.ProjectID())
			if err != nil || !ok {
				errs.Add("target_org_unit_type_id", serrors.NewError(CodeScope, "target org unit type is not enabled for the project", "planning.errors.target_type_mismatch"))
			} else {
				n, err := s.orgUnits.CountDescendantsOfType(ctx, p.TenantID(), p.RootOrgUnitID(), typeID)
				if err == nil && n == 0 {
					errs.Add("target_org_unit_type_id", serrors.NewError(CodeEmptyScope, "no org units of the target type under the root", "planning.errors.empty_scope"))
				}
			}
		}
	}

	if p.StartedAt() != nil && p.EndedAt() != nil && p.StartedAt().After(*p.EndedAt()) {
		errs.Add("started_at", serrors.NewError(CodeInvalidBody, "started_at must not be after ended_at", "planning.errors.dates_inverted"))
	}
	if publishing {
		if p.StartedAt() == nil {
			errs.Add("started_at", serrors.NewFieldRequiredError("started_at", "planning.errors.started_at_required"))
		}
		if p.EndedAt() == nil {
			errs.Add("ended_at", serrors.NewFieldRequiredError("ended_at", "planning.errors.ended_at_required"))
		}
	}

	if errs.Empty() {
		return nil
	}
	return errs
}

func (s *PlanningService) Create(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, in PlanningInput) (*PlanningResult, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}

	created, err := inTx(ctx, tenantID, func(txCtx context.Context) (*planning.Planning, error) {
		opts := []planning.Option{
			planning.WithDescription(in.Description),
			planning.WithFormIDs(in.FormIDs),
			planning.WithTargetOrgUnitTypeID(in.TargetOrgUnitTypeID),
			planning.WithSelectedSamplingID(in.SelectedSamplingID),
			planning.WithDates(in.StartedAt, in.EndedAt),
		}
		p := planning.New(tenantID, in.ProjectID, in.RootOrgUnitID, in.TeamID, in.Name, opts...)
		if errs := s.validate(txCtx, p, in.Publish); errs != nil {
			return nil, newValidationError(errs)
		}
		if in.Publish {
			p.Publish(time.Now())
		}
		if err := s.repo.Insert(txCtx, p); err != nil {
			return nil, mapPgError(err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "planning.created", "planning_work_order", created.ID())
	ev.NewValues = mustMarshalJSON(planningSnapshot(created))
	s.publish(tenantID, ev)
	return &PlanningResult{PlanningID: created.ID(), GeneratedEvents: []events.PlanningEventV1{ev}}, nil
}

func (s *PlanningService) Update(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, planningID uuid.UUID, in PlanningInput) (*PlanningResult, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}

	var oldVals, newVals json.RawMessage
	_, err := inTx(ctx, tenantID, func(txCtx context.Context) (struct{}, error) {
		p, err := s.repo.LockByID(txCtx, tenantID, planningID)
		if err != nil {
			return struct{}{}, mapPgError(err)
		}
		if p.IsDeleted() {
			return struct{}{}, newServiceError(http.StatusConflict, CodeAlreadyDeleted, "planning is deleted", nil)
		}
		oldVals = mustMarshalJSON(planningSnapshot(p))
		p.Apply(in.Name, in.Description, in.RootOrgUnitID, in.TeamID, in.FormIDs,
			in.TargetOrgUnitTypeID, in.SelectedSamplingID, in.StartedAt, in.EndedAt)
		if errs := s.Validate(txCtx, p); errs != nil {
			return struct{}{}, newValidationError(errs)
		}
		if err := s.repo.Update(txCtx, p); err != nil {
			return struct{}{}, mapPgError(err)
		}
		newVals = mustMarshalJSON(planningSnapshot(p))
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}

	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "planning.updated", "planning_work_order", planningID)
	ev.OldValues = oldVals
	ev.NewValues = newVals
	s.publish(tenantID, ev)
	return &PlanningResult{PlanningID: planningID, GeneratedEvents: []events.PlanningEventV1{ev}}, nil
}

// Publish flips the work order to published after the full validation gate.
func (s *PlanningService) Publish(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, planningID uuid.UUID) (*PlanningResult, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}

	var oldVals, newVals json.RawMessage
	_, err := inTx(ctx, tenantID, func(txCtx context.Context) (struct{}, error) {
		p, err := s.repo.LockByID(txCtx, tenantID, planningID)
		if err != nil {
			return struct{}{}, mapPgError(err)
		}
		if p.IsDeleted() {
			return struct{}{}, newServiceError(http.StatusConflict, CodeAlreadyDeleted, "planning is deleted", nil)
		}
		// The gate runs against the unpublished state first: a rejected
		// candidate keeps its published_at untouched.
		if errs := s.validate(txCtx, p, true); errs != nil {
			return struct{}{}, newValidationError(errs)
		}
		oldVals = mustMarshalJSON(planningSnapshot(p))
		p.Publish(time.Now())
		if err := s.repo.Update(txCtx, p); err != nil {
			return struct{}{}, mapPgError(err)
		}
		newVals = mustMarshalJSON(planningSnapshot(p))
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}

	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "planning.published", "planning_work_order", planningID)
	ev.OldValues = oldVals
	ev.NewValues = newVals
	s.publish(tenantID, ev)
	return &PlanningResult{PlanningID: planningID, GeneratedEvents: []events.PlanningEventV1{ev}}, nil
}

func (s *PlanningService) SoftDelete(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, planningID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	var oldVals, newVals json.RawMessage
	_, err := inTx(ctx, tenantID, func(txCtx context.Context) (struct{}, error) {
		p, err := s.repo.LockByID(txCtx, tenantID, planningID)
		if err != nil {
			return struct{}{}, mapPgError(err)
		}
		if p.IsDeleted() {
			return struct{}{}, newServiceError(http.StatusConflict, CodeAlreadyDeleted, "planning is already deleted", nil)
		}
		oldVals = mustMarshalJSON(planningSnapshot(p))
		p.SoftDelete(time.Now())
		if err := s.repo.Update(txCtx, p); err != nil {
			return struct{}{}, mapPgError(err)
		}
		newVals = mustMarshalJSON(planningSnapshot(p))
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}
	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "planning.deleted", "planning_work_order", planningID)
	ev.OldValues = oldVals
	ev.NewValues = newVals
	s.publish(tenantID, ev)
	return nil
}

func (s *PlanningService) Restore(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, planningID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	var oldVals, newVals json.RawMessage
	_, err := inTx(ctx, tenantID, func(txCtx context.Context) (struct{}, error) {
		p, err := s.repo.LockByID(txCtx, tenantID, planningID)
		if err != nil {
			return struct{}{}, mapPgError(err)
		}
		if !p.IsDeleted() {
			return struct{}{}, nil
		}
		oldVals = mustMarshalJSON(planningSnapshot(p))
		p.Restore()
		if err := s.repo.Update(txCtx, p); err != nil {
			return struct{}{}, mapPgError(err)
		}
		newVals = mustMarshalJSON(planningSnapshot(p))
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}
	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "planning.restored", "planning_work_order", planningID)
	if newVals != nil {
		ev.OldValues = oldVals
		ev.NewValues = newVals
	}
	s.publish(tenantID, ev)
	return nil
}

func (s *PlanningService) GetByID(ctx context.Context, tenantID, planningID uuid.UUID) (*planning.Planning, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	return inTx(ctx, tenantID, func(txCtx context.Context) (*planning.Planning, error) {
		p, err := s.repo.GetByID(txCtx, tenantID, planningID)
		if err != nil {
			return nil, mapPgError(err)
		}
		return p, nil
	})
}

func (s *PlanningService) ListForProject(ctx context.Context, tenantID, projectID uuid.UUID) ([]*planning.Planning, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	return inTx(ctx, tenantID, func(txCtx context.Context) ([]*planning.Planning, error) {
		out, err := s.repo.ListForTenant(txCtx, tenantID, projectID)
		if err != nil {
			return nil, mapPgError(err)
		}
		return out, nil
	})
}

// ScopedUnit annotates an org unit with whether it carries geography a map
// client can render.
type ScopedUnit struct {
	Unit       *OrgUnitRow
	CanDisplay bool
}

// RootUnit returns the planning's root org unit.
func (s *PlanningService) RootUnit(ctx context.Context, tenantID, planningID uuid.UUID) (*ScopedUnit, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	return inTx(ctx, tenantID, func(txCtx context.Context) (*ScopedUnit, error) {
		p, err := s.repo.GetByID(txCtx, tenantID, planningID)
		if err != nil {
			return nil, mapPgError(err)
		}
		root, err := s.orgUnits.GetByID(txCtx, tenantID, p.RootOrgUnitID())
		if err != nil {
			return nil, mapPgError(err)
		}
		return &ScopedUnit{Unit: root, CanDisplay: root.HasGeography}, nil
	})
}

// ChildUnits returns the direct children of a unit inside the planning's
// hierarchy view.
func (s *PlanningService) ChildUnits(ctx context.Context, tenantID, planningID, parentUnitID uuid.UUID) ([]*ScopedUnit, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	return inTx(ctx, tenantID, func(txCtx context.Context) ([]*ScopedUnit, error) {
		if _, err := s.repo.GetByID(txCtx, tenantID, planningID); err != nil {
			return nil, mapPgError(err)
		}
		children, err := s.orgUnits.ListChildren(txCtx, tenantID, parentUnitID)
		if err != nil {
			return nil, mapPgError(err)
		}
		out := make([]*ScopedUnit, len(children))
		for i, c := range children {
			out[i] = &ScopedUnit{Unit: c, CanDisplay: c.HasGeography}
		}
		return out, nil
	})
}

func (s *PlanningService) publish(tenantID uuid.UUID, ev events.PlanningEventV1) {
	if s.scope != nil {
		s.scope.InvalidateTenant(tenantID)
	}
	if s.bus == nil {
		return
	}
	s.bus.Publish(ev)
}
