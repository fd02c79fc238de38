package narrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jwebster45206/pbem-engine/internal/services"
	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/prompts"
	"github.com/jwebster45206/pbem-engine/pkg/state"
	"github.com/jwebster45206/pbem-engine/pkg/textfilter"
)

// base holds what both phase variants share
type base struct {
	llm    services.LLMService
	phase  game.Phase
	logger *slog.Logger
}

func (b *base) Phase() game.Phase {
	return b.phase
}

func (b *base) Classify(ctx context.Context, in ClassifyInput) (state.Classification, error) {
	return b.classify(ctx, in)
}

// generate runs the reply request with the variant's extra sections and
// applies the apology fallback
func (b *base) generate(ctx context.Context, in GenerateInput, sections []string) Reply {
	start := time.Now()

	builder := prompts.New(prompts.ReplyInstructions(b.phase)).
		WithContext(in.Context).
		WithMessage(in.Message, actorName(in.Actor)).
		WithSection(analysisSection(in.Classification))
	for _, s := range sections {
		builder.WithSection(s)
	}

	prompt, err := builder.Build()
	if err != nil {
		return b.fallback(fmt.Errorf("failed to build reply prompt: %w", err))
	}

	raw, err := b.llm.Complete(ctx, services.CompletionRequest{
		System:  prompt.System,
		History: prompt.History,
		User:    prompt.User,
		Profile: services.ProfileCreative,
	})
	if err != nil {
		return b.fallback(fmt.Errorf("reply generation failed: %w", err))
	}

	text := textfilter.CleanReply(raw)
	if text == "" {
		return b.fallback(ErrEmptyReply)
	}

	b.logger.Debug("Reply generated",
		"phase", b.phase,
		"target_phase", in.TargetPhase,
		"chars", len(text),
		"duration_ms", time.Since(start).Milliseconds())

	return Reply{Text: text}
}

func (b *base) fallback(err error) Reply {
	b.logger.Warn("Using apology reply", "phase", b.phase, "error", err)
	return Reply{Text: ApologyText, Fallback: true, Err: err}
}

func analysisSection(c state.Classification) string {
	if c.Fallback {
		return ""
	}
	data, err := json.Marshal(c.Tags)
	if err != nil {
		return ""
	}
	out := "### Analysis of the player's message\n" + string(data)
	if c.Tags.NarratorQuery.Present && c.Tags.NarratorQuery.Question != "" {
		out += "\nThe player asks the narrator: " + c.Tags.NarratorQuery.Question
	}
	return out
}

func names(c *state.Context, ids []int64) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if ch := c.Character(id); ch != nil {
			out = append(out, ch.Name)
		}
	}
	return strings.Join(out, ", ")
}

func nameOf(c *state.Context, id *int64) string {
	if id == nil {
		return ""
	}
	if ch := c.Character(*id); ch != nil {
		return ch.Name
	}
	return ""
}

// narration replies in free narration and announces combat when the
// message starts it
type narration struct {
	base
}

func (n *narration) Generate(ctx context.Context, in GenerateInput) Reply {
	var sections []string
	if in.TargetPhase == game.PhaseCombat {
		order := names(in.Context, in.Order)
		if order == "" {
			order = "no fixed order"
		}
		sections = append(sections, fmt.Sprintf(prompts.CombatStartPrompt, order))
	}
	return n.generate(ctx, in, sections)
}

// combat resolves one action in turn order and closes the fight when the
// message ends it
type combat struct {
	base
}

func (c *combat) Generate(ctx context.Context, in GenerateInput) Reply {
	var sections []string
	switch {
	case in.TargetPhase == game.PhaseNarration:
		sections = append(sections, prompts.CombatEndPrompt)
	case in.OutOfTurn:
		sections = append(sections, fmt.Sprintf(prompts.OutOfTurnPrompt, actorName(in.Actor), nameOf(in.Context, in.ExpectedID)))
	}
	if next := nameOf(in.Context, in.NextActiveID); next != "" && in.TargetPhase == game.PhaseCombat {
		sections = append(sections, "Next to act: "+next+".")
	}
	return c.generate(ctx, in, sections)
}
