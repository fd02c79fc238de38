package prompts

import (
	"github.com/jwebster45206/pbem-engine/pkg/actor"
	"github.com/jwebster45206/pbem-engine/pkg/state"
)

// PromptCharacter is a character as shown to the model
type PromptCharacter struct {
	ID     int64          `json:"id"`
	Name   string         `json:"name"`
	Kind   string         `json:"kind,omitempty"`
	Player bool           `json:"player"`
	Combat string         `json:"combat,omitempty"`
	Sheet  map[string]any `json:"sheet,omitempty"`
	State  map[string]any `json:"state,omitempty"`
}

// PromptTurn describes the open turn by character names
type PromptTurn struct {
	TurnNumber int      `json:"turn_number"`
	Order      []string `json:"initiative_order"`
	Active     string   `json:"active,omitempty"`
}

// PromptState is the reduced world state included in prompts
type PromptState struct {
	Phase      string            `json:"phase"`
	Scene      string            `json:"scene"`
	Characters []PromptCharacter `json:"characters"`
	Turn       *PromptTurn       `json:"turn,omitempty"`
}

func ToPromptState(c *state.Context) *PromptState {
	ps := &PromptState{
		Phase:      string(c.Scene.Phase),
		Scene:      c.Scene.Title,
		Characters: make([]PromptCharacter, 0, len(c.Characters)),
	}

	for _, ch := range c.Characters {
		if !ch.Active {
			continue
		}
		pc := PromptCharacter{
			ID:     ch.ID,
			Name:   ch.Name,
			Kind:   ch.Kind,
			Player: ch.PlayerID != nil,
			Sheet:  ch.Sheet,
			State:  ch.State,
		}
		if combatant, err := actor.NewCombatant(ch); err == nil {
			pc.Combat = combatant.Summary()
		}
		ps.Characters = append(ps.Characters, pc)
	}

	if c.Turn != nil {
		ps.Turn = &PromptTurn{
			TurnNumber: c.Turn.TurnNumber,
			Order:      characterNames(c, c.Turn.InitiativeOrder),
		}
		if c.Turn.ActiveCharacterID != nil {
			ps.Turn.Active = characterName(c, *c.Turn.ActiveCharacterID)
		}
	}

	return ps
}

func characterNames(c *state.Context, ids []int64) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, characterName(c, id))
	}
	return names
}

func characterName(c *state.Context, id int64) string {
	if ch := c.Character(id); ch != nil {
		return ch.Name
	}
	return "unknown"
}
