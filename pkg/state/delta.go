package state

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/textfilter"
)

// CharacterRef names a character by id or by name. The classifier emits
// either a JSON number or a string; null means the sender.
type CharacterRef string

// unresolvable marks a ref of any other JSON type. It matches no character.
const unresolvable CharacterRef = "\x00unresolvable"

func (r *CharacterRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*r = CharacterRef(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*r = unresolvable
		return nil
	}
	*r = CharacterRef(s)
	return nil
}

// StateChange assigns one key of a character's current state
type StateChange struct {
	Character CharacterRef `json:"character"`
	Field     string       `json:"field"`
	NewValue  any          `json:"new_value"`
	Reason    string       `json:"reason,omitempty"`
	Phrase    string       `json:"phrase,omitempty"`
}

// StateDelta holds the new state blob of every character touched by a
// message, keyed by character id
type StateDelta map[int64]map[string]any

// IsEmpty checks if the delta changes nothing
func (d StateDelta) IsEmpty() bool {
	return len(d) == 0
}

// ApplyStateChanges folds changes into copies of the characters' states.
// A change naming an unknown or malformed character, or carrying no field,
// is returned in skipped. Changes with an empty character ref apply to actor.
func ApplyStateChanges(changes []StateChange, characters []game.Character, actor *game.Character) (StateDelta, []StateChange) {
	delta := StateDelta{}
	var skipped []StateChange

	for _, change := range changes {
		field := strings.TrimSpace(change.Field)
		if field == "" {
			skipped = append(skipped, change)
			continue
		}

		target := resolveCharacter(change.Character, characters, actor)
		if target == nil {
			skipped = append(skipped, change)
			continue
		}

		st, ok := delta[target.ID]
		if !ok {
			st = game.CloneState(target.State)
			delta[target.ID] = st
		}
		st[field] = change.NewValue
	}

	return delta, skipped
}

func resolveCharacter(ref CharacterRef, characters []game.Character, actor *game.Character) *game.Character {
	if ref == unresolvable {
		return nil
	}
	name := strings.TrimSpace(string(ref))
	if name == "" {
		return actor
	}

	if id, err := strconv.ParseInt(name, 10, 64); err == nil {
		for i := range characters {
			if characters[i].ID == id {
				return &characters[i]
			}
		}
		if actor != nil && actor.ID == id {
			return actor
		}
		return nil
	}

	for i := range characters {
		if textfilter.SameName(characters[i].Name, name) {
			return &characters[i]
		}
	}
	if actor != nil && textfilter.SameName(actor.Name, name) {
		return actor
	}
	return nil
}
