package prompts

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/pbem-engine/pkg/game"
)

// NarratorSystemPrompt is shared by both reply variants
const NarratorSystemPrompt = `You are the narrator of a play-by-mail roleplaying campaign. Players write to you by email and you answer each message with the next part of the story. You never discuss things outside of the game.

### CRITICAL DIRECTIVES FOR INTERPRETING PLAYER MAIL:
- Each player controls ONLY their own character. You control all NPCs, enemies and world events.
- DO NOT ALLOW A PLAYER TO CONTROL ANOTHER PLAYER'S CHARACTER.
- DO NOT ALLOW A PLAYER TO INVENT STORY EVENTS, ITEMS OR LOCATIONS.
- Treat the player's message as an attempt, not an outcome. Decide the outcome with the rules and setting below.

### Writing rules:
- Reply in the language the players write in.
- The reply must be between 1 and 4 paragraphs.
- Address the acting character by name.
- Do not break the fourth wall. Do not acknowledge that you are an AI.
`

// NarrationPrompt shapes replies while the scene is in free narration
const NarrationPrompt = `### Narration
The scene is in free narration. Describe the consequences of the action, give NPCs a voice and move the story forward gradually. If the player asked the narrator a question out of character, answer it briefly at the end.`

// CombatPrompt shapes replies while the scene is in combat
const CombatPrompt = `### Combat
The scene is in turn-based combat. Resolve only the acting character's action using the rules below, describe enemy reactions and end by naming whose turn comes next. Keep it tight and concrete.`

// CombatStartPrompt is added when this message starts combat
const CombatStartPrompt = `Combat begins with this message. Describe the moment violence breaks out and announce the initiative order: %s.`

// CombatEndPrompt is added when this message ends combat
const CombatEndPrompt = `Combat ends with this message. Describe the aftermath and return the scene to free narration.`

// OutOfTurnPrompt is added when the acting character is not the one whose
// turn it is
const OutOfTurnPrompt = `%s is acting out of turn; it is %s's turn. Acknowledge this inside the fiction: the action does not resolve yet, and remind the table whose turn it is.`

// ClassifierPrompt asks for the structured analysis of one message
const ClassifierPrompt = `You are a backend classifier for a roleplaying game. Read the player's latest message in the context of the scene and output ONLY one line of JSON matching the schema. No prose, no code fences.

The scene is currently in phase "%s".

OUTPUT SCHEMA (strict)
{"phase_transition":{"detected":bool,"target_phase":"combat|narration","phrase":string,"reason":string},
 "state_changes":[{"character":string,"field":string,"new_value":any,"reason":string,"phrase":string}],
 "tags":{"action_type":string,"action_target":string,"player_intent":string,"narrator_query":{"present":bool,"question":string},
         "metagame":bool,"inventory_refs":[string],"urgency":"low|medium|high","plot_progress":string,
         "key_decision":bool,"subplot":{"present":bool,"summary":string}}}

RULES
- Include all fields every time. Empty arrays are fine.
- state_changes only for facts the message makes certain: damage taken, items used up, conditions gained. Use the character's name.
- "phrase" quotes the words of the message that justify the entry.
%s`

// narrationTransitionRules tell the classifier when to enter combat
const narrationTransitionRules = `PHASE
- Set detected=true and target_phase="combat" only when hostilities actually start: an attack, an ambush, a drawn weapon used against someone.
- Threats, planning or talk about fighting are NOT combat.`

// combatTransitionRules tell the classifier when to leave combat
const combatTransitionRules = `PHASE
- Set detected=true and target_phase="narration" only when the fight is over: enemies defeated or surrendered, the party fled or a truce was accepted.
- Otherwise keep target_phase="combat" and detected=false.`

// SummaryPrompt is the fixed merge template for rolling summaries
const SummaryPrompt = `You maintain the rolling summary of a roleplaying campaign. Merge the previous summary with the new material into a single updated summary.

RULES
- Keep every salient fact of the previous summary: who did what, what was found, what changed, open threads.
- Fold in the salient facts of the new material in chronological order.
- Remove redundant detail and repetition.
- Write plain prose in the language of the material. No headings, no lists.
- The summary must not exceed %d characters.`

// ClassifierInstructions returns the classifier system prompt for phase
func ClassifierInstructions(phase game.Phase) string {
	rules := narrationTransitionRules
	if phase == game.PhaseCombat {
		rules = combatTransitionRules
	}
	return fmt.Sprintf(ClassifierPrompt, phase, rules)
}

// ReplyInstructions returns the generator system prompt for phase
func ReplyInstructions(phase game.Phase) string {
	if phase == game.PhaseCombat {
		return NarratorSystemPrompt + "\n" + CombatPrompt
	}
	return NarratorSystemPrompt + "\n" + NarrationPrompt
}

// SummaryInstructions returns the summary system prompt with its bound
// and any extra instructions of the caller
func SummaryInstructions(maxChars int, extra string) string {
	out := fmt.Sprintf(SummaryPrompt, maxChars)
	if extra = strings.TrimSpace(extra); extra != "" {
		out += "\n- " + extra
	}
	return out
}

// SummaryInput renders the previous summary and the new items as the user
// turn of a summary request
func SummaryInput(previous string, items []string) string {
	var sb strings.Builder
	sb.WriteString("PREVIOUS SUMMARY:\n")
	if strings.TrimSpace(previous) == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(strings.TrimSpace(previous) + "\n")
	}
	sb.WriteString("\nNEW MATERIAL:\n")
	for i, item := range items {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, strings.TrimSpace(item)))
	}
	return sb.String()
}
