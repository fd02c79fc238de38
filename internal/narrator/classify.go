package narrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jwebster45206/pbem-engine/internal/services"
	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/prompts"
	"github.com/jwebster45206/pbem-engine/pkg/state"
	"github.com/jwebster45206/pbem-engine/pkg/textfilter"
)

const classifierHistory = 4

// ParseClassification extracts the outermost JSON object from raw model
// output. Any failure wraps ErrParse.
func ParseClassification(raw string) (state.Classification, error) {
	var c state.Classification

	s := textfilter.StripCodeFences(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return c, fmt.Errorf("%w: no JSON object found", ErrParse)
	}

	if err := json.Unmarshal([]byte(s[start:end+1]), &c); err != nil {
		return state.Classification{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if p, err := game.ParsePhase(c.PhaseTransition.TargetPhase); err == nil {
		c.PhaseTransition.TargetPhase = string(p)
	}
	if c.StateChanges == nil {
		c.StateChanges = []state.StateChange{}
	}
	return c, nil
}

func (b *base) classify(ctx context.Context, in ClassifyInput) (state.Classification, error) {
	start := time.Now()

	prompt, err := prompts.New(prompts.ClassifierInstructions(b.phase)).
		WithContext(in.Context).
		WithMessage(in.Message, actorName(in.Actor)).
		WithSection(knownCharacters(in.Context, in.Actor)).
		WithHistoryLimit(classifierHistory).
		Build()
	if err != nil {
		return state.Classification{}, fmt.Errorf("failed to build classifier prompt: %w", err)
	}

	raw, err := b.llm.Complete(ctx, services.CompletionRequest{
		System:  prompt.System,
		History: prompt.History,
		User:    prompt.User,
		Profile: services.ProfilePrecise,
	})
	if err != nil {
		b.logger.Warn("Classifier call failed", "phase", b.phase, "error", err)
		return state.Classification{}, fmt.Errorf("classifier call failed: %w", err)
	}

	c, err := ParseClassification(raw)
	if err != nil {
		b.logger.Warn("Classifier output unparseable", "phase", b.phase, "error", err, "raw_length", len(raw))
		return state.Classification{}, err
	}

	b.logger.Debug("Message classified",
		"phase", b.phase,
		"transition", c.PhaseTransition.Detected,
		"target_phase", c.PhaseTransition.TargetPhase,
		"state_changes", len(c.StateChanges),
		"duration_ms", time.Since(start).Milliseconds())

	return c, nil
}

func knownCharacters(c *state.Context, actor *game.Character) string {
	if c == nil || len(c.Characters) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("KNOWN CHARACTERS\n")
	for _, ch := range c.Characters {
		sb.WriteString(fmt.Sprintf("- %s (id %d)\n", ch.Name, ch.ID))
	}
	if actor != nil {
		sb.WriteString(fmt.Sprintf("The message was written by the player of %s.", actor.Name))
	}
	return sb.String()
}

func actorName(actor *game.Character) string {
	if actor == nil {
		return ""
	}
	return actor.Name
}
