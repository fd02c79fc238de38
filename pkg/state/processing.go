package state

import (
	"fmt"

	"github.com/jwebster45206/pbem-engine/pkg/game"
)

// TurnAction is what the commit must do to the scene's Turn row
type TurnAction string

const (
	TurnNone    TurnAction = ""
	TurnOpen    TurnAction = "open"
	TurnClose   TurnAction = "close"
	TurnAdvance TurnAction = "advance"
)

// TurnPlan is computed before the commit and applied inside it
type TurnPlan struct {
	Action TurnAction
	// TurnID is the open turn for close and advance
	TurnID int64
	// Order is the initiative order of a new turn
	Order []int64
	// TurnNumber and ActiveCharacterID are the values after the action
	TurnNumber        int
	ActiveCharacterID *int64
}

// Processing is the working record of one pipeline run. Stages fill it in
// order; nil fields have not been produced yet.
type Processing struct {
	Message   *game.Message
	Scene     *game.Scene
	Story     *game.Story
	Campaign  *game.Campaign
	Character *game.Character

	Context        *Context
	Classification *Classification

	PhaseBefore game.Phase
	PhaseAfter  game.Phase
	TurnPlan    TurnPlan
	OutOfTurn   bool
	StateDelta  StateDelta

	Reply         string
	ReplyFallback bool

	Errors []string
}

// New starts a run for msg
func New(msg *game.Message) *Processing {
	return &Processing{
		Message:    msg,
		StateDelta: StateDelta{},
		Errors:     make([]string, 0),
	}
}

// AddError records a recovered failure of a stage
func (p *Processing) AddError(stage string, err error) {
	p.Errors = append(p.Errors, fmt.Sprintf("%s: %v", stage, err))
}

// PhaseChanged reports whether the run moves the scene to another phase
func (p *Processing) PhaseChanged() bool {
	return p.PhaseAfter != "" && p.PhaseAfter != p.PhaseBefore
}

// SceneID returns the scene of the message, or 0 when it has none
func (p *Processing) SceneID() int64 {
	if p.Message == nil || p.Message.SceneID == nil {
		return 0
	}
	return *p.Message.SceneID
}
