package services

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/microplan/modules/planning/domain/assignment"
	"github.com/iota-uz/microplan/modules/planning/domain/planning"
	"github.com/iota-uz/microplan/modules/planning/domain/team"
)

// Snapshot payloads carried on mutation events and appended to the audit
// trail. Scalars only: ids render as strings, timestamps as RFC3339Nano,
// absent optionals as empty strings.

func teamSnapshot(t *team.Team) map[string]any {
	memberIDs := t.MemberIDs()
	members := make([]string, len(memberIDs))
	for i, id := range memberIDs {
		members[i] = id.String()
	}
	return map[string]any{
		"team_id":     t.ID().String(),
		"project_id":  t.ProjectID().String(),
		"name":        t.Name(),
		"description": t.Description(),
		"kind":        string(t.Kind()),
		"parent_id":   uuidOrEmpty(t.ParentID()),
		"path":        t.Path().String(),
		"manager_id":  t.ManagerID().String(),
		"member_ids":  members,
		"deleted_at":  timeOrEmpty(t.DeletedAt()),
	}
}

func planningSnapshot(p *planning.Planning) map[string]any {
	formIDs := p.FormIDs()
	forms := make([]string, len(formIDs))
	for i, id := range formIDs {
		forms[i] = id.String()
	}
	return map[string]any{
		"planning_id":             p.ID().String(),
		"project_id":              p.ProjectID().String(),
		"name":                    p.Name(),
		"description":             p.Description(),
		"root_org_unit_id":        p.RootOrgUnitID().String(),
		"team_id":                 p.TeamID().String(),
		"form_ids":                forms,
		"target_org_unit_type_id": uuidOrEmpty(p.TargetOrgUnitTypeID()),
		"selected_sampling_id":    uuidOrEmpty(p.SelectedSamplingID()),
		"started_at":              timeOrEmpty(p.StartedAt()),
		"ended_at":                timeOrEmpty(p.EndedAt()),
		"published_at":            timeOrEmpty(p.PublishedAt()),
		"deleted_at":              timeOrEmpty(p.DeletedAt()),
	}
}

func assignmentSnapshot(a *assignment.Assignment) map[string]any {
	return map[string]any{
		"assignment_id": a.ID().String(),
		"planning_id":   a.PlanningID().String(),
		"org_unit_id":   a.OrgUnitID().String(),
		"team_id":       uuidOrEmpty(a.TeamID()),
		"user_id":       uuidOrEmpty(a.UserID()),
		"created_by":    a.CreatedBy().String(),
		"deleted_at":    timeOrEmpty(a.DeletedAt()),
	}
}

func uuidOrEmpty(id *uuid.UUID) string {
	if id == nil || *id == uuid.Nil {
		return ""
	}
	return id.String()
}

func timeOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func mustMarshalJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
