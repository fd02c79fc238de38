// Package turns decides what a message does to the combat Turn of its
// scene. The plan is pure; the committer applies it.
package turns

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/initiative"
	"github.com/jwebster45206/pbem-engine/pkg/state"
)

// PlanInput is the scene as assembled plus the phase the message moves it to
type PlanInput struct {
	Context     *state.Context
	Actor       *game.Character
	PhaseBefore game.Phase
	PhaseAfter  game.Phase
}

// Plan is the turn bookkeeping for one message
type Plan struct {
	state.TurnPlan

	// OutOfTurn is set when the actor is not the character expected to act
	OutOfTurn  bool
	ExpectedID *int64
	// NextActiveID is whose turn it is after the commit, nil outside combat
	NextActiveID *int64
}

// Manager computes turn plans with one initiative strategy
type Manager struct {
	strategy initiative.Strategy
	logger   *slog.Logger
}

// New creates a manager. A nil strategy falls back to ordering by id.
func New(strategy initiative.Strategy, logger *slog.Logger) *Manager {
	if strategy == nil {
		strategy = initiative.ByID{}
	}
	return &Manager{strategy: strategy, logger: logger}
}

// Plan returns the turn action for a message.
//
//	narration -> combat: open a turn with a fresh initiative order
//	combat -> narration: close the open turn
//	combat -> combat:    advance when the actor is in turn, else flag out of turn
//
// A scene whose turn row disagrees with its phase is repaired.
func (m *Manager) Plan(ctx context.Context, in PlanInput) (Plan, error) {
	if in.Context == nil {
		return Plan{}, errors.New("context is required")
	}

	before, after := in.PhaseBefore, in.PhaseAfter
	if after == "" {
		after = before
	}
	turn := in.Context.Turn

	switch {
	case after == game.PhaseCombat && before != game.PhaseCombat:
		return m.open(ctx, in), nil

	case after == game.PhaseCombat && turn == nil:
		m.logger.WarnContext(ctx, "Scene in combat without an open turn, opening one",
			"scene_id", in.Context.Scene.ID)
		return m.open(ctx, in), nil

	case after == game.PhaseCombat:
		return m.inCombat(ctx, in, turn), nil

	case before == game.PhaseCombat:
		// leaving combat; the out-of-turn flag still reaches the reply
		var plan Plan
		if turn != nil {
			plan = m.check(turn, in.Actor)
			plan.TurnPlan = state.TurnPlan{Action: state.TurnClose, TurnID: turn.ID}
		}
		return plan, nil

	case turn != nil:
		m.logger.WarnContext(ctx, "Open turn on a scene in narration, closing it",
			"scene_id", in.Context.Scene.ID, "turn_id", turn.ID)
		return Plan{TurnPlan: state.TurnPlan{Action: state.TurnClose, TurnID: turn.ID}}, nil
	}

	return Plan{}, nil
}

// open computes a fresh initiative order over the player characters. An
// existing turn row is replaced.
func (m *Manager) open(ctx context.Context, in PlanInput) Plan {
	order := m.strategy.Order(in.Context.PlayerCharacters())

	plan := Plan{TurnPlan: state.TurnPlan{
		Action: state.TurnOpen,
		Order:  order,
	}}
	if in.Context.Turn != nil {
		plan.TurnID = in.Context.Turn.ID
	}
	if len(order) > 0 {
		first := order[0]
		plan.ActiveCharacterID = &first
		plan.NextActiveID = &first
	}

	m.logger.DebugContext(ctx, "Initiative computed",
		"scene_id", in.Context.Scene.ID,
		"strategy", m.strategy.Name(),
		"order", order)
	return plan
}

func (m *Manager) inCombat(ctx context.Context, in PlanInput, turn *game.Turn) Plan {
	plan := m.check(turn, in.Actor)
	if len(turn.InitiativeOrder) == 0 {
		return plan
	}
	if plan.OutOfTurn {
		m.logger.InfoContext(ctx, "Action out of turn",
			"scene_id", in.Context.Scene.ID,
			"character_id", in.Actor.ID,
			"expected_id", *plan.ExpectedID)
		plan.NextActiveID = plan.ExpectedID
		return plan
	}

	next := turn.TurnNumber + 1
	nextID, _ := initiative.Expected(turn.InitiativeOrder, next)
	plan.TurnPlan = state.TurnPlan{
		Action:            state.TurnAdvance,
		TurnID:            turn.ID,
		TurnNumber:        next,
		ActiveCharacterID: &nextID,
	}
	plan.NextActiveID = &nextID
	return plan
}

// check compares the actor with the initiative slot of turn. An empty
// order enforces nothing.
func (m *Manager) check(turn *game.Turn, actor *game.Character) Plan {
	expected, ok := initiative.Expected(turn.InitiativeOrder, turn.TurnNumber)
	if !ok {
		return Plan{}
	}
	plan := Plan{ExpectedID: &expected}
	if actor != nil && actor.ID != expected {
		plan.OutOfTurn = true
	}
	return plan
}
