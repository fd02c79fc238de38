package state

import (
	"github.com/jwebster45206/pbem-engine/pkg/game"
)

// PhaseTransition is the classifier's view on whether the scene should
// switch between narration and combat
type PhaseTransition struct {
	Detected    bool   `json:"detected"`
	TargetPhase string `json:"target_phase"`
	Phrase      string `json:"phrase,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// NarratorQuery is an out-of-fiction question addressed to the narrator
type NarratorQuery struct {
	Present  bool   `json:"present"`
	Question string `json:"question,omitempty"`
}

// Subplot flags a side thread the player is opening
type Subplot struct {
	Present bool   `json:"present"`
	Summary string `json:"summary,omitempty"`
}

// Tags are the structured narrative intentions of a message
type Tags struct {
	ActionType    string        `json:"action_type,omitempty"`
	ActionTarget  string        `json:"action_target,omitempty"`
	PlayerIntent  string        `json:"player_intent,omitempty"`
	NarratorQuery NarratorQuery `json:"narrator_query"`
	Metagame      bool          `json:"metagame"`
	InventoryRefs []string      `json:"inventory_refs,omitempty"`
	Urgency       string        `json:"urgency,omitempty"`
	PlotProgress  string        `json:"plot_progress,omitempty"`
	KeyDecision   bool          `json:"key_decision"`
	Subplot       Subplot       `json:"subplot"`
}

// Classification is the parsed output of the phase classifier
type Classification struct {
	PhaseTransition PhaseTransition `json:"phase_transition"`
	StateChanges    []StateChange   `json:"state_changes"`
	Tags            Tags            `json:"tags"`

	// Fallback is set when the model output could not be used
	Fallback bool `json:"-"`
}

// DefaultClassification is the safe result used when the classifier output
// cannot be parsed: stay in the current phase, change nothing.
func DefaultClassification(current game.Phase) Classification {
	return Classification{
		PhaseTransition: PhaseTransition{TargetPhase: string(current)},
		StateChanges:    []StateChange{},
		Fallback:        true,
	}
}

// Target returns the phase the scene should move to. A transition counts
// only when it is flagged, names a known phase and differs from current.
func (c Classification) Target(current game.Phase) (game.Phase, bool) {
	if !c.PhaseTransition.Detected {
		return current, false
	}
	target, err := game.ParsePhase(c.PhaseTransition.TargetPhase)
	if err != nil || target == current {
		return current, false
	}
	return target, true
}
