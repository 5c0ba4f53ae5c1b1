package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/microplan/modules/planning/domain/assignment"
	"github.com/iota-uz/microplan/modules/planning/domain/events"
	"github.com/iota-uz/microplan/pkg/configuration"
	"github.com/iota-uz/microplan/pkg/eventbus"
)

// AssignmentFilter narrows ledger queries by assignee. Nil fields match
// everything.
type AssignmentFilter struct {
	TeamID *uuid.UUID
	UserID *uuid.UUID
}

// AssignmentRepository is the storage port of the assignment ledger.
// ListActiveForUnit returns every non-deleted row for one (planning, unit)
// pair; more than one element is an integrity fault the caller surfaces.
type AssignmentRepository interface {
	GetByID(ctx context.Context, tenantID, assignmentID uuid.UUID) (*assignment.Assignment, error)
	ListActiveForUnit(ctx context.Context, tenantID, planningID, orgUnitID uuid.UUID) ([]*assignment.Assignment, error)
	ListActive(ctx context.Context, tenantID, planningID uuid.UUID, f AssignmentFilter) ([]*assignment.Assignment, error)
	LatestDeletedForUnit(ctx context.Context, tenantID, planningID, orgUnitID uuid.UUID) (*assignment.Assignment, error)
	Insert(ctx context.Context, a *assignment.Assignment) error
	Update(ctx context.Context, a *assignment.Assignment) error
	SoftDeleteBulk(ctx context.Context, tenantID, planningID uuid.UUID, f AssignmentFilter, now time.Time) (int64, error)
}

type AssignmentService struct {
	repo      AssignmentRepository
	plannings PlanningRepository
	scope     *ScopeResolver
	bus       eventbus.EventBus
	resurrect bool
}

func NewAssignmentService(repo AssignmentRepository, plannings PlanningRepository, scope *ScopeResolver, bus eventbus.EventBus) *AssignmentService {
	return &AssignmentService{
		repo:      repo,
		plannings: plannings,
		scope:     scope,
		bus:       bus,
		resurrect: configuration.Use().AssignmentResurrectEnabled,
	}
}

// Assignee is exactly one of a team or a user.
type Assignee struct {
	TeamID *uuid.UUID
	UserID *uuid.UUID
}

func (a Assignee) validate() error {
	if (a.TeamID == nil) == (a.UserID == nil) {
		return newServiceError(http.StatusBadRequest, CodeInvalidBody, "assignee must be exactly one of team or user", nil)
	}
	return nil
}

type AssignSingleInput struct {
	PlanningID uuid.UUID
	OrgUnitID  uuid.UUID
	Assignee   Assignee
}

type AssignSingleResult struct {
	AssignmentID    uuid.UUID
	GeneratedEvents []events.PlanningEventV1
}

// AssignSingle creates one assignment. An existing active row for the unit
// is a hard conflict; callers wanting overwrite semantics use BulkAssign.
func (s *AssignmentService) AssignSingle(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, in AssignSingleInput) (*AssignSingleResult, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	if in.PlanningID == uuid.Nil || in.OrgUnitID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeInvalidBody, "planning_id/org_unit_id are required", nil)
	}
	if err := in.Assignee.validate(); err != nil {
		return nil, err
	}

	created, err := inTx(ctx, tenantID, func(txCtx context.Context) (*assignment.Assignment, error) {
		p, err := s.plannings.GetByID(txCtx, tenantID, in.PlanningID)
		if err != nil {
			return nil, mapPgError(err)
		}
		offender, ok, err := s.scope.Contains(txCtx, p, []uuid.UUID{in.OrgUnitID})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, newServiceError(http.StatusUnprocessableEntity, CodeOutOfScope, fmt.Sprintf("org unit %s is outside the planning scope", offender), nil)
		}

		active, err := s.repo.ListActiveForUnit(txCtx, tenantID, in.PlanningID, in.OrgUnitID)
		if err != nil {
			return nil, mapPgError(err)
		}
		if len(active) > 1 {
			return nil, s.integrityFault(txCtx, in.PlanningID, in.OrgUnitID, len(active))
		}
		if len(active) == 1 {
			recordWriteConflict("assign_single")
			return nil, newServiceError(http.StatusConflict, CodeUniqueness, "org unit already has an active assignment", nil)
		}

		a := assignment.New(tenantID, in.PlanningID, in.OrgUnitID, initiatorID,
			assignment.WithTeamID(in.Assignee.TeamID),
			assignment.WithUserID(in.Assignee.UserID),
		)
		if err := s.repo.Insert(txCtx, a); err != nil {
			return nil, mapPgError(err)
		}
		return a, nil
	})
	if err != nil {
		return nil, err
	}

	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "assignment.created", "planning_assignment", created.ID())
	ev.NewValues = mustMarshalJSON(assignmentSnapshot(created))
	s.publish(ev)
	return &AssignSingleResult{AssignmentID: created.ID(), GeneratedEvents: []events.PlanningEventV1{ev}}, nil
}

type BulkAssignInput struct {
	PlanningID uuid.UUID
	OrgUnitIDs []uuid.UUID
	Assignee   Assignee
}

type BulkAssignResult struct {
	Created         int
	Updated         int
	Unchanged       int
	GeneratedEvents []events.PlanningEventV1
}

// BulkAssign points every given unit at one assignee. The batch is atomic:
// one out-of-scope unit rejects the whole call before any write. Per unit,
// an active row already naming the assignee is left untouched, an active row
// naming another assignee is repointed in place, and no active row means a
// brand-new row. Soft-deleted rows stay deleted.
func (s *AssignmentService) BulkAssign(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, in BulkAssignInput) (*BulkAssignResult, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	if in.PlanningID == uuid.Nil || len(in.OrgUnitIDs) == 0 {
		return nil, newServiceError(http.StatusBadRequest, CodeInvalidBody, "planning_id and at least one org_unit_id are required", nil)
	}
	if err := in.Assignee.validate(); err != nil {
		return nil, err
	}

	res, err := inTx(ctx, tenantID, func(txCtx context.Context) (*BulkAssignResult, error) {
		p, err := s.plannings.GetByID(txCtx, tenantID, in.PlanningID)
		if err != nil {
			return nil, mapPgError(err)
		}
		offender, ok, err := s.scope.Contains(txCtx, p, in.OrgUnitIDs)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, newServiceError(http.StatusUnprocessableEntity, CodeOutOfScope, fmt.Sprintf("org unit %s is outside the planning scope", offender), nil)
		}

		out := &BulkAssignResult{}
		for _, unitID := range in.OrgUnitIDs {
			active, err := s.repo.ListActiveForUnit(txCtx, tenantID, in.PlanningID, unitID)
			if err != nil {
				return nil, mapPgError(err)
			}
			switch {
			case len(active) > 1:
				return nil, s.integrityFault(txCtx, in.PlanningID, unitID, len(active))
			case len(active) == 1:
				row := active[0]
				if row.SameAssignee(in.Assignee.TeamID, in.Assignee.UserID) {
					out.Unchanged++
					continue
				}
				row.SetAssignee(in.Assignee.TeamID, in.Assignee.UserID)
				if err := s.repo.Update(txCtx, row); err != nil {
					return nil, mapPgError(err)
				}
				out.Updated++
			default:
				if s.resurrect {
					prior, err := s.repo.LatestDeletedForUnit(txCtx, tenantID, in.PlanningID, unitID)
					if err != nil {
						return nil, mapPgError(err)
					}
					if prior != nil {
						prior.Restore()
						prior.SetAssignee(in.Assignee.TeamID, in.Assignee.UserID)
						if err := s.repo.Update(txCtx, prior); err != nil {
							return nil, mapPgError(err)
						}
						out.Updated++
						continue
					}
				}
				a := assignment.New(tenantID, in.PlanningID, unitID, initiatorID,
					assignment.WithTeamID(in.Assignee.TeamID),
					assignment.WithUserID(in.Assignee.UserID),
				)
				if err := s.repo.Insert(txCtx, a); err != nil {
					return nil, mapPgError(err)
				}
				out.Created++
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	bulkAssignUnits.Observe(float64(len(in.OrgUnitIDs)))
	logWithFields(ctx, logrus.InfoLevel, "bulk assignment applied", logrus.Fields{
		"planning_id": in.PlanningID,
		"units":       len(in.OrgUnitIDs),
		"created":     res.Created,
		"updated":     res.Updated,
		"unchanged":   res.Unchanged,
	})

	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "assignment.bulk_assigned", "planning_work_order", in.PlanningID)
	ev.NewValues = mustMarshalJSON(map[string]any{
		"planning_id": in.PlanningID.String(),
		"team_id":     uuidOrEmpty(in.Assignee.TeamID),
		"user_id":     uuidOrEmpty(in.Assignee.UserID),
		"org_units":   len(in.OrgUnitIDs),
		"created":     res.Created,
		"updated":     res.Updated,
		"unchanged":   res.Unchanged,
	})
	s.publish(ev)
	res.GeneratedEvents = []events.PlanningEventV1{ev}
	return res, nil
}

type BulkUnassignInput struct {
	PlanningID uuid.UUID
	Filter     AssignmentFilter
}

type BulkUnassignResult struct {
	Removed         int64
	GeneratedEvents []events.PlanningEventV1
}

// BulkUnassign soft-deletes every active assignment of the planning matching
// the filter. Matching nothing returns zero, not an error.
func (s *AssignmentService) BulkUnassign(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, in BulkUnassignInput) (*BulkUnassignResult, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	if in.PlanningID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeInvalidBody, "planning_id is required", nil)
	}

	removed, err := inTx(ctx, tenantID, func(txCtx context.Context) (int64, error) {
		if _, err := s.plannings.GetByID(txCtx, tenantID, in.PlanningID); err != nil {
			return 0, mapPgError(err)
		}
		n, err := s.repo.SoftDeleteBulk(txCtx, tenantID, in.PlanningID, in.Filter, time.Now())
		if err != nil {
			return 0, mapPgError(err)
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}

	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "assignment.bulk_unassigned", "planning_work_order", in.PlanningID)
	ev.NewValues = mustMarshalJSON(map[string]any{
		"planning_id": in.PlanningID.String(),
		"team_id":     uuidOrEmpty(in.Filter.TeamID),
		"user_id":     uuidOrEmpty(in.Filter.UserID),
		"removed":     removed,
	})
	s.publish(ev)
	return &BulkUnassignResult{Removed: removed, GeneratedEvents: []events.PlanningEventV1{ev}}, nil
}

// UnassignOne soft-deletes a single assignment by id.
func (s *AssignmentService) UnassignOne(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, assignmentID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	var oldVals, newVals json.RawMessage
	_, err := inTx(ctx, tenantID, func(txCtx context.Context) (struct{}, error) {
		a, err := s.repo.GetByID(txCtx, tenantID, assignmentID)
		if err != nil {
			return struct{}{}, mapPgError(err)
		}
		if a.IsDeleted() {
			return struct{}{}, newServiceError(http.StatusConflict, CodeAlreadyDeleted, "assignment is already deleted", nil)
		}
		oldVals = mustMarshalJSON(assignmentSnapshot(a))
		a.SoftDelete(time.Now())
		if err := s.repo.Update(txCtx, a); err != nil {
			return struct{}{}, mapPgError(err)
		}
		newVals = mustMarshalJSON(assignmentSnapshot(a))
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}
	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "assignment.deleted", "planning_assignment", assignmentID)
	ev.OldValues = oldVals
	ev.NewValues = newVals
	s.publish(ev)
	return nil
}

// ListActive returns the planning's active assignments, optionally narrowed
// by assignee.
func (s *AssignmentService) ListActive(ctx context.Context, tenantID, planningID uuid.UUID, f AssignmentFilter) ([]*assignment.Assignment, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	return inTx(ctx, tenantID, func(txCtx context.Context) ([]*assignment.Assignment, error) {
		out, err := s.repo.ListActive(txCtx, tenantID, planningID, f)
		if err != nil {
			return nil, mapPgError(err)
		}
		return out, nil
	})
}

func (s *AssignmentService) integrityFault(ctx context.Context, planningID, orgUnitID uuid.UUID, count int) error {
	logWithFields(ctx, logrus.ErrorLevel, "duplicate active assignments detected", logrus.Fields{
		"planning_id": planningID,
		"org_unit_id": orgUnitID,
		"active_rows": count,
	})
	recordWriteConflict("integrity")
	return newServiceError(http.StatusInternalServerError, CodeIntegrity,
		fmt.Sprintf("org unit %s holds %d active assignments", orgUnitID, count), nil)
}

func (s *AssignmentService) publish(ev events.PlanningEventV1) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ev)
}
