package game

import (
	"fmt"

	"github.com/jwebster45206/pbem-engine/pkg/textfilter"
)

// Phase is the scene-level mode of play
type Phase string

const (
	PhaseNarration Phase = "narration"
	PhaseCombat    Phase = "combat"
)

// phaseAliases maps normalized labels (lowercase, no diacritics) to phases.
// Models answer in whatever language the campaign is played in.
var phaseAliases = map[string]Phase{
	"narration":   PhaseNarration,
	"narrative":   PhaseNarration,
	"narracion":   PhaseNarration,
	"narrativa":   PhaseNarration,
	"exploracion": PhaseNarration,
	"combat":      PhaseCombat,
	"combate":     PhaseCombat,
	"fight":       PhaseCombat,
	"battle":      PhaseCombat,
}

// Valid reports whether p is one of the known phases
func (p Phase) Valid() bool {
	return p == PhaseNarration || p == PhaseCombat
}

func (p Phase) String() string {
	return string(p)
}

// ParsePhase resolves a free-form phase label into a Phase.
func ParsePhase(label string) (Phase, error) {
	key := textfilter.NormalizeLabel(label)
	if p, ok := phaseAliases[key]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unknown phase %q", label)
}
