package summarize

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jwebster45206/pbem-engine/internal/services"
	"github.com/jwebster45206/pbem-engine/pkg/prompts"
	"github.com/jwebster45206/pbem-engine/pkg/textfilter"
)

// DefaultMaxChars bounds every rolling summary
const DefaultMaxChars = 4000

var errEmptySummary = errors.New("model returned an empty summary")

// MergeResult is the outcome of one merge. Degraded results carry the
// previous summary unchanged and must not cause items to be marked
// summarized.
type MergeResult struct {
	Summary  string
	Degraded bool
	Err      error
}

// Engine folds new items into a rolling summary with the LLM
type Engine struct {
	llm      services.LLMService
	maxChars int
	logger   *slog.Logger
}

func New(llm services.LLMService, maxChars int, logger *slog.Logger) *Engine {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Engine{llm: llm, maxChars: maxChars, logger: logger}
}

// MaxChars is the bound every summary is held to
func (e *Engine) MaxChars() int {
	return e.maxChars
}

// Merge returns previous with items folded in. It never fails: on any
// model error the previous summary is returned and the result is marked
// degraded.
func (e *Engine) Merge(ctx context.Context, previous string, items []string, extra string) MergeResult {
	if len(items) == 0 {
		return MergeResult{Summary: previous}
	}

	start := time.Now()
	text, err := e.llm.Complete(ctx, services.CompletionRequest{
		System:  prompts.SummaryInstructions(e.maxChars, extra),
		User:    prompts.SummaryInput(previous, items),
		Profile: services.ProfileSummary,
	})
	if err == nil {
		text = textfilter.CleanReply(textfilter.StripCodeFences(text))
		if strings.TrimSpace(text) == "" {
			err = errEmptySummary
		}
	}
	if err != nil {
		e.logger.Warn("Summary merge degraded, keeping previous summary",
			"error", err,
			"items", len(items),
			"duration_ms", time.Since(start).Milliseconds())
		return MergeResult{Summary: previous, Degraded: true, Err: err}
	}

	summary := textfilter.Truncate(text, e.maxChars)
	e.logger.Debug("Summary merged",
		"items", len(items),
		"chars", len([]rune(summary)),
		"duration_ms", time.Since(start).Milliseconds())

	return MergeResult{Summary: summary}
}
