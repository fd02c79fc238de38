package narrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jwebster45206/pbem-engine/internal/services"
	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/state"
)

// ApologyText is the reply stored when generation fails
const ApologyText = "Lo siento, ha ocurrido un error procesando tu mensaje. Por favor, intenta de nuevo."

var (
	// ErrParse is returned when classifier output holds no usable JSON
	ErrParse = errors.New("unparseable classifier output")
	// ErrEmptyReply is returned when the model produced no reply text
	ErrEmptyReply = errors.New("empty reply")
)

// ClassifyInput is what the classifier sees of one message
type ClassifyInput struct {
	Context *state.Context
	Message *game.Message
	Actor   *game.Character
}

// GenerateInput carries everything the reply depends on
type GenerateInput struct {
	Context        *state.Context
	Message        *game.Message
	Actor          *game.Character
	Classification state.Classification
	// TargetPhase is the phase the scene ends in after this message
	TargetPhase game.Phase
	// Order is the initiative order of a combat that starts now
	Order []int64
	// OutOfTurn is set when Actor is not ExpectedID
	OutOfTurn  bool
	ExpectedID *int64
	// NextActiveID is whose turn it is once this message is committed
	NextActiveID *int64
}

// Reply is the generated text. Fallback replies carry ApologyText and the
// error that caused them.
type Reply struct {
	Text     string
	Fallback bool
	Err      error
}

// Strategy is the classify/generate pair for one phase
type Strategy interface {
	Phase() game.Phase
	// Classify returns the parsed analysis. On error the caller substitutes
	// state.DefaultClassification.
	Classify(ctx context.Context, in ClassifyInput) (state.Classification, error)
	// Generate always returns a reply; failures yield ApologyText
	Generate(ctx context.Context, in GenerateInput) Reply
}

// For returns the strategy for the scene's current phase
func For(phase game.Phase, llm services.LLMService, logger *slog.Logger) Strategy {
	b := base{llm: llm, logger: logger}
	if phase == game.PhaseCombat {
		b.phase = game.PhaseCombat
		return &combat{base: b}
	}
	b.phase = game.PhaseNarration
	return &narration{base: b}
}
