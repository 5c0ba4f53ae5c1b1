package planning

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/microplan/modules/planning/domain/events"
	"github.com/iota-uz/microplan/modules/planning/infrastructure/persistence"
	"github.com/iota-uz/microplan/modules/planning/services"
	"github.com/iota-uz/microplan/pkg/eventbus"
)

// Module assembles the planning engine over its pgx-backed repositories.
// Callers embed it into their application and invoke services directly.
type Module struct {
	Teams       *services.TeamService
	Plannings   *services.PlanningService
	Assignments *services.AssignmentService
	Scope       *services.ScopeResolver
}

func NewModule(bus eventbus.EventBus) *Module {
	orgUnits := persistence.NewPgOrgUnitRepository()
	sampling := persistence.NewPgSamplingRepository()
	scope := services.NewScopeResolver(orgUnits, sampling)

	teamRepo := persistence.NewPgTeamRepository()
	planningRepo := persistence.NewPgPlanningRepository()

	return &Module{
		Teams:       services.NewTeamService(teamRepo, persistence.NewPgUserDirectory(), bus),
		Plannings:   services.NewPlanningService(planningRepo, teamRepo, orgUnits, persistence.NewPgFormRepository(), scope, bus),
		Assignments: services.NewAssignmentService(persistence.NewPgAssignmentRepository(), planningRepo, scope, bus),
		Scope:       scope,
	}
}

// RegisterSubscribers wires the in-process consumers of mutation events:
// the audit trail and the scope cache invalidation. base must carry the
// database pool.
func (m *Module) RegisterSubscribers(base context.Context, bus eventbus.EventBus, log *logrus.Logger) {
	audit := services.NewAuditTrail(base, persistence.NewPgAuditSink(), log)
	bus.Subscribe(audit.Handle)
	bus.Subscribe(func(ev events.PlanningEventV1) {
		m.Scope.InvalidateTenant(ev.TenantID)
	})
}

func (m *Module) Name() string {
	return "planning"
}
