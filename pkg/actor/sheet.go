package actor

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/jwebster45206/d20"
	"github.com/jwebster45206/pbem-engine/pkg/game"
)

const (
	defaultMaxHP = 1
	defaultAC    = 10
)

// Stats5e represents the six core ability scores
type Stats5e struct {
	Strength     int `json:"strength"`
	Dexterity    int `json:"dexterity"`
	Constitution int `json:"constitution"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Charisma     int `json:"charisma"`
}

// ToAttributes converts Stats5e to a map for d20.Actor compatibility.
// Zero scores are left out so sheets without stats do not shadow attributes.
func (s *Stats5e) ToAttributes() map[string]int {
	attrs := map[string]int{
		"strength":     s.Strength,
		"dexterity":    s.Dexterity,
		"constitution": s.Constitution,
		"intelligence": s.Intelligence,
		"wisdom":       s.Wisdom,
		"charisma":     s.Charisma,
	}
	for k, v := range attrs {
		if v == 0 {
			delete(attrs, k)
		}
	}
	return attrs
}

// SheetSpec is the part of a character sheet the rules engine understands.
// Unknown sheet keys are ignored; a sheet for a system without these
// fields still produces a valid actor.
type SheetSpec struct {
	Stats           Stats5e        `json:"stats,omitempty"`
	HP              int            `json:"hp,omitempty"`
	MaxHP           int            `json:"max_hp,omitempty"`
	AC              int            `json:"ac,omitempty"`
	CombatModifiers map[string]int `json:"combat_modifiers,omitempty"`
	Attributes      map[string]int `json:"attributes,omitempty"`
}

// Combatant pairs a stored character with its runtime d20 actor
type Combatant struct {
	Character game.Character
	Actor     *d20.Actor
}

// ParseSheet decodes the structured part of a character sheet blob
func ParseSheet(sheet map[string]any) (*SheetSpec, error) {
	spec := &SheetSpec{}
	if len(sheet) == 0 {
		return spec, nil
	}
	data, err := json.Marshal(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sheet: %w", err)
	}
	if err := json.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("failed to parse sheet: %w", err)
	}
	return spec, nil
}

// NewCombatant builds a d20 actor from a character's sheet. Current HP is
// taken from the state blob when present, since that is what the pipeline
// keeps up to date.
func NewCombatant(ch game.Character) (*Combatant, error) {
	spec, err := ParseSheet(ch.Sheet)
	if err != nil {
		return nil, fmt.Errorf("character %d: %w", ch.ID, err)
	}

	allAttrs := spec.Stats.ToAttributes()
	maps.Copy(allAttrs, lowerKeys(spec.Attributes))

	maxHP := spec.MaxHP
	if maxHP <= 0 {
		maxHP = max(spec.HP, defaultMaxHP)
	}
	ac := spec.AC
	if ac <= 0 {
		ac = defaultAC
	}

	a, err := d20.NewActor(fmt.Sprintf("character-%d", ch.ID)).
		WithHP(maxHP).
		WithAC(ac).
		WithAttributes(allAttrs).
		WithCombatModifiers(spec.CombatModifiers).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build actor for character %d: %w", ch.ID, err)
	}

	hp := spec.HP
	if v, ok := intFromState(ch.State, "hp"); ok {
		hp = v
	}
	if hp > 0 && hp != maxHP {
		if err := a.SetHP(min(hp, maxHP)); err != nil {
			return nil, fmt.Errorf("failed to set HP: %w", err)
		}
	}

	return &Combatant{Character: ch, Actor: a}, nil
}

// Attribute returns a sheet attribute by case-insensitive name
func (c *Combatant) Attribute(name string) (int, bool) {
	return c.Actor.Attribute(strings.ToLower(name))
}

// Summary is a one-line status used in prompts
func (c *Combatant) Summary() string {
	return fmt.Sprintf("%s (HP %d/%d, AC %d)", c.Character.Name, c.Actor.HP(), c.Actor.MaxHP(), c.Actor.AC())
}

func lowerKeys(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

func intFromState(state map[string]any, key string) (int, bool) {
	switch v := state[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}
