package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/microplan/modules/planning/domain/events"
	"github.com/iota-uz/microplan/modules/planning/domain/path"
	"github.com/iota-uz/microplan/modules/planning/domain/team"
	"github.com/iota-uz/microplan/pkg/eventbus"
)

// TeamRepository is the storage port of the team tree. ListDescendants is a
// path-prefix query and includes the node owning the prefix itself.
type TeamRepository interface {
	GetByID(ctx context.Context, tenantID, teamID uuid.UUID) (*team.Team, error)
	LockByID(ctx context.Context, tenantID, teamID uuid.UUID) (*team.Team, error)
	ListChildren(ctx context.Context, tenantID, parentID uuid.UUID) ([]*team.Team, error)
	ListDescendants(ctx context.Context, tenantID uuid.UUID, prefix path.Path) ([]*team.Team, error)
	ListForTenant(ctx context.Context, tenantID uuid.UUID) ([]*team.Team, error)
	Insert(ctx context.Context, t *team.Team) error
	Update(ctx context.Context, t *team.Team) error
	UpdatePaths(ctx context.Context, tenantID uuid.UUID, teams []*team.Team) error
}

// UserDirectory answers tenant and project membership questions about users.
// It is read-only; user accounts are owned by an external collaborator.
type UserDirectory interface {
	BelongsToTenant(ctx context.Context, tenantID, userID uuid.UUID) (bool, error)
	MissingFromProject(ctx context.Context, tenantID, projectID uuid.UUID, userIDs []uuid.UUID) ([]uuid.UUID, error)
}

type TeamService struct {
	repo  TeamRepository
	users UserDirectory
	bus   eventbus.EventBus
}

func NewTeamService(repo TeamRepository, users UserDirectory, bus eventbus.EventBus) *TeamService {
	return &TeamService{repo: repo, users: users, bus: bus}
}

type CreateTeamInput struct {
	ProjectID   uuid.UUID
	Name        string
	Description string
	ManagerID   uuid.UUID
	Kind        team.Kind
	ParentID    *uuid.UUID
	MemberIDs   []uuid.UUID
	SubTeamIDs  []uuid.UUID
}

type CreateTeamResult struct {
	TeamID          uuid.UUID
	Path            path.Path
	GeneratedEvents []events.PlanningEventV1
}

func (s *TeamService) Create(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, in CreateTeamInput) (*CreateTeamResult, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	if in.Name == "" || in.ProjectID == uuid.Nil || in.ManagerID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeInvalidBody, "name/project_id/manager_id are required", nil)
	}
	if !in.Kind.Valid() {
		return nil, newServiceError(http.StatusBadRequest, CodeInvalidBody, fmt.Sprintf("unknown team kind %q", in.Kind), nil)
	}
	if len(in.MemberIDs) > 0 && len(in.SubTeamIDs) > 0 {
		return nil, newServiceError(http.StatusUnprocessableEntity, CodeExclusivity, "a team cannot hold both members and sub teams", nil)
	}
	// An explicit kind always wins: content contradicting it is rejected
	// instead of silently re-typing the node.
	if in.Kind == team.KindTeamOfUsers && len(in.SubTeamIDs) > 0 {
		return nil, newServiceError(http.StatusUnprocessableEntity, CodeKindMismatch, "a team of users cannot hold sub teams", nil)
	}
	if in.Kind == team.KindTeamOfTeams && len(in.MemberIDs) > 0 {
		return nil, newServiceError(http.StatusUnprocessableEntity, CodeKindMismatch, "a team of teams cannot hold member users", nil)
	}

	created, err := inTx(ctx, tenantID, func(txCtx context.Context) (*team.Team, error) {
		ok, err := s.users.BelongsToTenant(txCtx, tenantID, in.ManagerID)
		if err != nil {
			return nil, mapPgError(err)
		}
		if !ok {
			return nil, newServiceError(http.StatusUnprocessableEntity, CodeScope, "manager does not belong to the tenant", nil)
		}
		if len(in.MemberIDs) > 0 {
			missing, err := s.users.MissingFromProject(txCtx, tenantID, in.ProjectID, in.MemberIDs)
			if err != nil {
				return nil, mapPgError(err)
			}
			if len(missing) > 0 {
				return nil, newServiceError(http.StatusUnprocessableEntity, CodeScope, fmt.Sprintf("%d member(s) do not belong to the project", len(missing)), nil)
			}
		}

		kind := in.Kind
		if kind == team.KindUnset {
			switch {
			case len(in.MemberIDs) > 0:
				kind = team.KindTeamOfUsers
			case len(in.SubTeamIDs) > 0:
				kind = team.KindTeamOfTeams
			}
		}

		node := team.New(tenantID, in.ProjectID, in.ManagerID, in.Name,
			team.WithDescription(in.Description),
			team.WithKind(kind),
			team.WithMemberIDs(in.MemberIDs),
		)

		if in.ParentID != nil {
			parent, err := s.repo.LockByID(txCtx, tenantID, *in.ParentID)
			if err != nil {
				return nil, mapPgError(err)
			}
			if err := s.attachableParent(txCtx, tenantID, parent); err != nil {
				return nil, err
			}
			if parent.ProjectID() != in.ProjectID {
				return nil, newServiceError(http.StatusUnprocessableEntity, CodeScope, "parent team belongs to another project", nil)
			}
			p, err := parent.Path().Child(node.ID())
			if err != nil {
				return nil, newServiceError(http.StatusUnprocessableEntity, CodeInvalidPath, "cannot extend parent path", err)
			}
			node.Reparent(in.ParentID, p)
			if parent.Kind() == team.KindUnset {
				parent.SetKind(team.KindTeamOfTeams)
				if err := s.repo.Update(txCtx, parent); err != nil {
					return nil, mapPgError(err)
				}
			}
		}

		if err := s.repo.Insert(txCtx, node); err != nil {
			return nil, mapPgError(err)
		}

		for _, childID := range in.SubTeamIDs {
			if _, err := s.reparentLocked(txCtx, tenantID, childID, node, false); err != nil {
				return nil, err
			}
		}
		return node, nil
	})
	if err != nil {
		return nil, err
	}

	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "team.created", "planning_team", created.ID())
	ev.NewValues = mustMarshalJSON(teamSnapshot(created))
	s.publish(ctx, ev)

	return &CreateTeamResult{
		TeamID:          created.ID(),
		Path:            created.Path(),
		GeneratedEvents: []events.PlanningEventV1{ev},
	}, nil
}

type SetParentInput struct {
	TeamID           uuid.UUID
	NewParentID      *uuid.UUID
	ForceRecalculate bool
}

type SetParentResult struct {
	ChangedTeamIDs  []uuid.UUID
	GeneratedEvents []events.PlanningEventV1
}

// SetParent moves a team (and implicitly its whole subtree) under a new
// parent, or to the root when newParentID is nil. The changed set contains
// every team whose stored path was rewritten, the moved node included.
func (s *TeamService) SetParent(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, in SetParentInput) (*SetParentResult, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	if in.TeamID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeInvalidBody, "team_id is required", nil)
	}

	var oldVals, newVals json.RawMessage
	changed, err := inTx(ctx, tenantID, func(txCtx context.Context) ([]*team.Team, error) {
		var newParent *team.Team
		if in.NewParentID != nil {
			if *in.NewParentID == in.TeamID {
				return nil, newServiceError(http.StatusUnprocessableEntity, CodeCycle, "a team cannot be its own parent", nil)
			}
			parent, err := s.repo.LockByID(txCtx, tenantID, *in.NewParentID)
			if err != nil {
				return nil, mapPgError(err)
			}
			newParent = parent
		}
		node, err := s.repo.GetByID(txCtx, tenantID, in.TeamID)
		if err != nil {
			return nil, mapPgError(err)
		}
		oldVals = mustMarshalJSON(teamSnapshot(node))
		out, err := s.reparentLocked(txCtx, tenantID, in.TeamID, newParent, in.ForceRecalculate)
		if err != nil {
			return nil, err
		}
		newVals = mustMarshalJSON(teamSnapshot(out[0]))
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	pathsRecomputed.Add(float64(len(changed)))
	logWithFields(ctx, logrus.InfoLevel, "team reparented", logrus.Fields{
		"team_id":       in.TeamID,
		"changed_paths": len(changed),
	})

	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "team.moved", "planning_team", in.TeamID)
	ev.OldValues = oldVals
	ev.NewValues = newVals
	s.publish(ctx, ev)

	ids := make([]uuid.UUID, len(changed))
	for i, t := range changed {
		ids[i] = t.ID()
	}
	return &SetParentResult{
		ChangedTeamIDs:  ids,
		GeneratedEvents: []events.PlanningEventV1{ev},
	}, nil
}

// reparentLocked performs the move inside the caller's transaction. The new
// parent, when non-nil, must already be locked by the caller.
func (s *TeamService) reparentLocked(ctx context.Context, tenantID, teamID uuid.UUID, newParent *team.Team, force bool) ([]*team.Team, error) {
	node, err := s.repo.LockByID(ctx, tenantID, teamID)
	if err != nil {
		return nil, mapPgError(err)
	}

	var parentID *uuid.UUID
	newPath := path.Root(node.ID())
	if newParent != nil {
		if newParent.ID() == node.ID() {
			return nil, newServiceError(http.StatusUnprocessableEntity, CodeCycle, "a team cannot be its own parent", nil)
		}
		// The materialized path holds every ancestor: finding the moved
		// node in it means the new parent sits inside the moved subtree.
		if newParent.Path().Contains(node.ID()) {
			return nil, newServiceError(http.StatusUnprocessableEntity, CodeCycle, "new parent is a descendant of the team being moved", nil)
		}
		if err := s.attachableParent(ctx, tenantID, newParent); err != nil {
			return nil, err
		}
		if newParent.ProjectID() != node.ProjectID() {
			return nil, newServiceError(http.StatusUnprocessableEntity, CodeScope, "parent team belongs to another project", nil)
		}
		id := newParent.ID()
		parentID = &id
		newPath, err = newParent.Path().Child(node.ID())
		if err != nil {
			return nil, newServiceError(http.StatusUnprocessableEntity, CodeInvalidPath, "cannot extend parent path", err)
		}
	}

	oldPath := node.Path()
	descendants, err := s.repo.ListDescendants(ctx, tenantID, oldPath)
	if err != nil {
		return nil, mapPgError(err)
	}
	// Parent before children, so every rebase sees a settled ancestor chain.
	sort.Slice(descendants, func(i, j int) bool {
		return descendants[i].Path().Depth() < descendants[j].Path().Depth()
	})

	node.Reparent(parentID, newPath)
	changed := []*team.Team{node}
	for _, d := range descendants {
		if d.ID() == node.ID() {
			continue
		}
		rebased, err := d.Path().Rebase(oldPath, newPath)
		if err != nil {
			return nil, newServiceError(http.StatusInternalServerError, CodeIntegrity, "descendant path does not extend its ancestor path", err)
		}
		if !force && rebased.Equal(d.Path()) {
			continue
		}
		d.SetPath(rebased)
		changed = append(changed, d)
	}

	if err := s.repo.UpdatePaths(ctx, tenantID, changed); err != nil {
		return nil, mapPgError(err)
	}

	if newParent != nil && newParent.Kind() == team.KindUnset {
		// Auto-typing on first sub-team attachment.
		newParent.SetKind(team.KindTeamOfTeams)
		if err := s.repo.Update(ctx, newParent); err != nil {
			return nil, mapPgError(err)
		}
	}
	return changed, nil
}

func (s *TeamService) attachableParent(ctx context.Context, tenantID uuid.UUID, parent *team.Team) error {
	if parent.IsDeleted() {
		return newServiceError(http.StatusUnprocessableEntity, CodeNotFound, "parent team is deleted", nil)
	}
	if parent.Kind() == team.KindTeamOfUsers {
		return newServiceError(http.StatusUnprocessableEntity, CodeKindMismatch, "a team of users cannot hold sub teams", nil)
	}
	if parent.HasMembers() {
		return newServiceError(http.StatusUnprocessableEntity, CodeExclusivity, "parent team already holds member users", nil)
	}
	return nil
}

type SetSubTeamsInput struct {
	TeamID     uuid.UUID
	SubTeamIDs []uuid.UUID
}

type SetSubTeamsResult struct {
	Attached        []uuid.UUID
	Detached        []uuid.UUID
	GeneratedEvents []events.PlanningEventV1
}

// SetSubTeams replaces the child set of a team: missing children are
// re-rooted, new children are attached. All validation runs before the
// first write.
func (s *TeamService) SetSubTeams(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, in SetSubTeamsInput) (*SetSubTeamsResult, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	if in.TeamID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeInvalidBody, "team_id is required", nil)
	}

	type out struct {
		attached []uuid.UUID
		detached []uuid.UUID
	}

	var oldVals, newVals json.RawMessage
	result, err := inTx(ctx, tenantID, func(txCtx context.Context) (out, error) {
		node, err := s.repo.LockByID(txCtx, tenantID, in.TeamID)
		if err != nil {
			return out{}, mapPgError(err)
		}
		oldVals = mustMarshalJSON(teamSnapshot(node))
		if node.HasMembers() && len(in.SubTeamIDs) > 0 {
			return out{}, newServiceError(http.StatusUnprocessableEntity, CodeExclusivity, "a team with member users cannot hold sub teams", nil)
		}
		if node.Kind() == team.KindTeamOfUsers && len(in.SubTeamIDs) > 0 {
			return out{}, newServiceError(http.StatusUnprocessableEntity, CodeKindMismatch, "a team of users cannot hold sub teams", nil)
		}

		proposed := make(map[uuid.UUID]struct{}, len(in.SubTeamIDs))
		for _, childID := range in.SubTeamIDs {
			if childID == node.ID() {
				return out{}, newServiceError(http.StatusUnprocessableEntity, CodeCycle, "a team cannot be its own sub team", nil)
			}
			child, err := s.repo.GetByID(txCtx, tenantID, childID)
			if err != nil {
				return out{}, mapPgError(err)
			}
			if node.Path().IsDescendantOf(child.Path()) {
				return out{}, newServiceError(http.StatusUnprocessableEntity, CodeCycle, "proposed sub team is an ancestor of the team", nil)
			}
			if child.ProjectID() != node.ProjectID() {
				return out{}, newServiceError(http.StatusUnprocessableEntity, CodeScope, "sub team belongs to another project", nil)
			}
			proposed[childID] = struct{}{}
		}

		current, err := s.repo.ListChildren(txCtx, tenantID, node.ID())
		if err != nil {
			return out{}, mapPgError(err)
		}
		currentSet := make(map[uuid.UUID]struct{}, len(current))
		for _, c := range current {
			currentSet[c.ID()] = struct{}{}
		}

		var res out
		for _, c := range current {
			if _, keep := proposed[c.ID()]; keep {
				continue
			}
			if _, err := s.reparentLocked(txCtx, tenantID, c.ID(), nil, false); err != nil {
				return out{}, err
			}
			res.detached = append(res.detached, c.ID())
		}
		for _, childID := range in.SubTeamIDs {
			if _, exists := currentSet[childID]; exists {
				continue
			}
			if _, err := s.reparentLocked(txCtx, tenantID, childID, node, false); err != nil {
				return out{}, err
			}
			res.attached = append(res.attached, childID)
		}
		newVals = mustMarshalJSON(teamSnapshot(node))
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "team.subteams_replaced", "planning_team", in.TeamID)
	ev.OldValues = oldVals
	ev.NewValues = newVals
	s.publish(ctx, ev)

	return &SetSubTeamsResult{
		Attached:        result.attached,
		Detached:        result.detached,
		GeneratedEvents: []events.PlanningEventV1{ev},
	}, nil
}

type SetMembersInput struct {
	TeamID    uuid.UUID
	MemberIDs []uuid.UUID
}

type SetMembersResult struct {
	Kind            team.Kind
	GeneratedEvents []events.PlanningEventV1
}

func (s *TeamService) SetMembers(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, in SetMembersInput) (*SetMembersResult, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	if in.TeamID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeInvalidBody, "team_id is required", nil)
	}

	var oldVals json.RawMessage
	node, err := inTx(ctx, tenantID, func(txCtx context.Context) (*team.Team, error) {
		node, err := s.repo.LockByID(txCtx, tenantID, in.TeamID)
		if err != nil {
			return nil, mapPgError(err)
		}
		oldVals = mustMarshalJSON(teamSnapshot(node))
		if len(in.MemberIDs) > 0 {
			children, err := s.repo.ListChildren(txCtx, tenantID, node.ID())
			if err != nil {
				return nil, mapPgError(err)
			}
			if len(children) > 0 {
				return nil, newServiceError(http.StatusUnprocessableEntity, CodeExclusivity, "a team with sub teams cannot hold member users", nil)
			}
			if node.Kind() == team.KindTeamOfTeams {
				return nil, newServiceError(http.StatusUnprocessableEntity, CodeKindMismatch, "a team of teams cannot hold member users", nil)
			}
			missing, err := s.users.MissingFromProject(txCtx, tenantID, node.ProjectID(), in.MemberIDs)
			if err != nil {
				return nil, mapPgError(err)
			}
			if len(missing) > 0 {
				return nil, newServiceError(http.StatusUnprocessableEntity, CodeScope, fmt.Sprintf("%d member(s) do not belong to the project", len(missing)), nil)
			}
		}

		node.ReplaceMembers(in.MemberIDs)
		if node.Kind() == team.KindUnset && len(in.MemberIDs) > 0 {
			node.SetKind(team.KindTeamOfUsers)
		}
		if err := s.repo.Update(txCtx, node); err != nil {
			return nil, mapPgError(err)
		}
		return node, nil
	})
	if err != nil {
		return nil, err
	}

	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "team.members_replaced", "planning_team", in.TeamID)
	ev.OldValues = oldVals
	ev.NewValues = mustMarshalJSON(teamSnapshot(node))
	s.publish(ctx, ev)

	return &SetMembersResult{
		Kind:            node.Kind(),
		GeneratedEvents: []events.PlanningEventV1{ev},
	}, nil
}

// SoftDelete marks a team as removed without touching its children: each
// node carries an independent soft-delete state.
func (s *TeamService) SoftDelete(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, teamID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	var oldVals, newVals json.RawMessage
	_, err := inTx(ctx, tenantID, func(txCtx context.Context) (struct{}, error) {
		node, err := s.repo.LockByID(txCtx, tenantID, teamID)
		if err != nil {
			return struct{}{}, mapPgError(err)
		}
		if node.IsDeleted() {
			return struct{}{}, newServiceError(http.StatusConflict, CodeAlreadyDeleted, "team is already deleted", nil)
		}
		oldVals = mustMarshalJSON(teamSnapshot(node))
		node.SoftDelete(time.Now())
		if err := s.repo.Update(txCtx, node); err != nil {
			return struct{}{}, mapPgError(err)
		}
		newVals = mustMarshalJSON(teamSnapshot(node))
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}
	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "team.deleted", "planning_team", teamID)
	ev.OldValues = oldVals
	ev.NewValues = newVals
	s.publish(ctx, ev)
	return nil
}

func (s *TeamService) Restore(ctx context.Context, tenantID uuid.UUID, requestID string, initiatorID uuid.UUID, teamID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	var oldVals, newVals json.RawMessage
	_, err := inTx(ctx, tenantID, func(txCtx context.Context) (struct{}, error) {
		node, err := s.repo.LockByID(txCtx, tenantID, teamID)
		if err != nil {
			return struct{}{}, mapPgError(err)
		}
		if !node.IsDeleted() {
			return struct{}{}, nil
		}
		oldVals = mustMarshalJSON(teamSnapshot(node))
		node.Restore()
		if err := s.repo.Update(txCtx, node); err != nil {
			return struct{}{}, mapPgError(err)
		}
		newVals = mustMarshalJSON(teamSnapshot(node))
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}
	ev := buildEventV1(requestID, tenantID, initiatorID, time.Now().UTC(), "team.restored", "planning_team", teamID)
	if newVals != nil {
		ev.OldValues = oldVals
		ev.NewValues = newVals
	}
	s.publish(ctx, ev)
	return nil
}

// FilterForTenant returns every live team of the tenant.
func (s *TeamService) FilterForTenant(ctx context.Context, tenantID uuid.UUID) ([]*team.Team, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	return inTx(ctx, tenantID, func(txCtx context.Context) ([]*team.Team, error) {
		out, err := s.repo.ListForTenant(txCtx, tenantID)
		if err != nil {
			return nil, mapPgError(err)
		}
		return out, nil
	})
}

// HierarchyOf returns the union of the descendant closures of the given
// teams: each team plus everything under it, deduplicated.
func (s *TeamService) HierarchyOf(ctx context.Context, tenantID uuid.UUID, teamIDs []uuid.UUID) ([]*team.Team, error) {
	if tenantID == uuid.Nil {
		return nil, newServiceError(http.StatusBadRequest, CodeNoTenant, "tenant_id is required", nil)
	}
	return inTx(ctx, tenantID, func(txCtx context.Context) ([]*team.Team, error) {
		seen := make(map[uuid.UUID]struct{})
		var out []*team.Team
		for _, id := range teamIDs {
			node, err := s.repo.GetByID(txCtx, tenantID, id)
			if err != nil {
				return nil, mapPgError(err)
			}
			closure, err := s.repo.ListDescendants(txCtx, tenantID, node.Path())
			if err != nil {
				return nil, mapPgError(err)
			}
			for _, t := range closure {
				if _, dup := seen[t.ID()]; dup {
					continue
				}
				seen[t.ID()] = struct{}{}
				out = append(out, t)
			}
		}
		return out, nil
	})
}

func (s *TeamService) publish(_ context.Context, ev events.PlanningEventV1) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ev)
}
