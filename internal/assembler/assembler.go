package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/pbem-engine/internal/config"
	"github.com/jwebster45206/pbem-engine/internal/summarize"
	"github.com/jwebster45206/pbem-engine/pkg/chat"
	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/state"
	"github.com/jwebster45206/pbem-engine/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// Thresholds control the two-tier summarize-older/keep-recent policy at
// each level of the hierarchy
type Thresholds struct {
	MaxRaw      int
	NPure       int
	MaxScenes   int
	ScenesPure  int
	MaxStories  int
	StoriesPure int
}

// DefaultThresholds match the configuration defaults
func DefaultThresholds() Thresholds {
	return Thresholds{MaxRaw: 10, NPure: 3, MaxScenes: 5, ScenesPure: 2, MaxStories: 5, StoriesPure: 2}
}

// ThresholdsFromConfig maps the summary settings
func ThresholdsFromConfig(c config.SummaryConfig) Thresholds {
	return Thresholds{
		MaxRaw:      c.MaxRaw,
		NPure:       c.NPure,
		MaxScenes:   c.MaxScenes,
		ScenesPure:  c.ScenesPure,
		MaxStories:  c.MaxStories,
		StoriesPure: c.StoriesPure,
	}
}

// Assembler builds the bounded context for one scene
type Assembler struct {
	store      storage.Storage
	summarizer *summarize.Engine
	th         Thresholds
	logger     *slog.Logger
}

func New(store storage.Storage, summarizer *summarize.Engine, th Thresholds, logger *slog.Logger) *Assembler {
	return &Assembler{
		store:      store,
		summarizer: summarizer,
		th:         th,
		logger:     logger,
	}
}

// Assemble loads everything the generation stages need for sceneID and
// folds overflowing raw material into the rolling summaries first. Calling
// it again with nothing new to fold writes nothing.
func (a *Assembler) Assemble(ctx context.Context, sceneID int64) (*state.Context, error) {
	start := time.Now()

	scene, err := a.store.GetScene(ctx, sceneID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scene %d: %w", sceneID, err)
	}
	story, err := a.store.GetStory(ctx, scene.StoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load story %d: %w", scene.StoryID, err)
	}

	out := &state.Context{Scene: *scene, Story: *story}
	var raw []game.Message

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := a.store.GetCampaign(gctx, story.CampaignID)
		if err != nil {
			return fmt.Errorf("failed to load campaign %d: %w", story.CampaignID, err)
		}
		out.Campaign = *c
		return nil
	})
	g.Go(func() error {
		r, err := a.store.GetRulesetByCampaign(gctx, story.CampaignID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load ruleset: %w", err)
		}
		out.Ruleset = r
		return nil
	})
	g.Go(func() error {
		cs, err := a.store.GetCharactersForScene(gctx, sceneID)
		if err != nil {
			return fmt.Errorf("failed to load characters: %w", err)
		}
		out.Characters = cs
		return nil
	})
	g.Go(func() error {
		t, err := a.store.GetActiveTurn(gctx, sceneID)
		if err != nil {
			return fmt.Errorf("failed to load turn: %w", err)
		}
		out.Turn = t
		return nil
	})
	g.Go(func() error {
		msgs, err := a.store.ListUnsummarizedMessages(gctx, sceneID)
		if err != nil {
			return fmt.Errorf("failed to load messages: %w", err)
		}
		raw = msgs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	recent, err := a.compactMessages(ctx, out, raw)
	if err != nil {
		return nil, err
	}
	out.Recent = recent

	if err := a.compactScenes(ctx, out); err != nil {
		return nil, err
	}
	if err := a.compactStories(ctx, out); err != nil {
		return nil, err
	}

	a.logger.Debug("Context assembled",
		"scene_id", sceneID,
		"recent", len(out.Recent),
		"characters", len(out.Characters),
		"degraded", out.Degraded,
		"duration_ms", time.Since(start).Milliseconds())

	return out, nil
}

// split returns the older batch to summarize and the pure batch kept raw.
// Nothing is split until count exceeds max.
func split(count, max, pure int) (older int, ok bool) {
	if count <= max {
		return 0, false
	}
	if pure < 0 {
		pure = 0
	}
	return count - pure, true
}

// compactMessages folds all but the newest NPure raw messages into the
// scene summary once there are more than MaxRaw of them
func (a *Assembler) compactMessages(ctx context.Context, out *state.Context, raw []game.Message) ([]game.Message, error) {
	n, ok := split(len(raw), a.th.MaxRaw, a.th.NPure)
	if !ok {
		return raw, nil
	}
	older := raw[:n]

	items := make([]string, 0, len(older))
	ids := make([]int64, 0, len(older))
	for _, m := range older {
		items = append(items, messageText(out, m))
		ids = append(ids, m.ID)
	}

	res := a.summarizer.Merge(ctx, out.Scene.Summary, items, "")
	if res.Degraded {
		out.Degraded = true
		a.logger.Warn("Scene summary degraded, keeping raw messages", "scene_id", out.Scene.ID, "messages", len(older))
		return raw, nil
	}

	err := a.store.WithinTx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdateSceneSummary(ctx, out.Scene.ID, res.Summary); err != nil {
			return err
		}
		return tx.MarkMessagesSummarized(ctx, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist scene summary: %w", err)
	}

	out.Scene.Summary = res.Summary
	a.logger.Info("Scene summary updated", "scene_id", out.Scene.ID, "summarized", len(ids), "kept", len(raw)-n)
	return raw[n:], nil
}

// compactScenes folds closed scene summaries into the story summary. The
// scenes left out of the fold stay on the context.
func (a *Assembler) compactScenes(ctx context.Context, out *state.Context) error {
	scenes, err := a.store.ListUnsummarizedScenes(ctx, out.Story.ID)
	if err != nil {
		return fmt.Errorf("failed to list scenes: %w", err)
	}
	n, ok := split(len(scenes), a.th.MaxScenes, a.th.ScenesPure)
	out.RecentScenes = scenes
	if !ok {
		return nil
	}

	items := make([]string, 0, n)
	ids := make([]int64, 0, n)
	for _, s := range scenes[:n] {
		items = append(items, s.Title+": "+s.Summary)
		ids = append(ids, s.ID)
	}

	res := a.summarizer.Merge(ctx, out.Story.Summary, items, "Each item is the summary of one finished scene.")
	if res.Degraded {
		out.Degraded = true
		a.logger.Warn("Story summary degraded", "story_id", out.Story.ID)
		return nil
	}

	err = a.store.WithinTx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdateStorySummary(ctx, out.Story.ID, res.Summary); err != nil {
			return err
		}
		return tx.MarkScenesSummarized(ctx, ids)
	})
	if err != nil {
		return fmt.Errorf("failed to persist story summary: %w", err)
	}

	out.Story.Summary = res.Summary
	out.RecentScenes = scenes[n:]
	a.logger.Info("Story summary updated", "story_id", out.Story.ID, "scenes", len(ids))
	return nil
}

// compactStories folds closed story summaries into the campaign summary
func (a *Assembler) compactStories(ctx context.Context, out *state.Context) error {
	stories, err := a.store.ListUnsummarizedStories(ctx, out.Campaign.ID)
	if err != nil {
		return fmt.Errorf("failed to list stories: %w", err)
	}
	n, ok := split(len(stories), a.th.MaxStories, a.th.StoriesPure)
	out.RecentStories = stories
	if !ok {
		return nil
	}

	items := make([]string, 0, n)
	ids := make([]int64, 0, n)
	for _, s := range stories[:n] {
		items = append(items, s.Title+": "+s.Summary)
		ids = append(ids, s.ID)
	}

	res := a.summarizer.Merge(ctx, out.Campaign.Summary, items, "Each item is the summary of one finished story arc.")
	if res.Degraded {
		out.Degraded = true
		a.logger.Warn("Campaign summary degraded", "campaign_id", out.Campaign.ID)
		return nil
	}

	err = a.store.WithinTx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdateCampaignSummary(ctx, out.Campaign.ID, res.Summary); err != nil {
			return err
		}
		return tx.MarkStoriesSummarized(ctx, ids)
	})
	if err != nil {
		return fmt.Errorf("failed to persist campaign summary: %w", err)
	}

	out.Campaign.Summary = res.Summary
	out.RecentStories = stories[n:]
	a.logger.Info("Campaign summary updated", "campaign_id", out.Campaign.ID, "stories", len(ids))
	return nil
}

func messageText(c *state.Context, m game.Message) string {
	if m.IsReply() {
		return chat.FormatWithSpeaker(m.Body, "Narrator")
	}
	speaker := m.Sender
	if m.CharacterID != nil {
		if ch := c.Character(*m.CharacterID); ch != nil {
			speaker = ch.Name
		}
	}
	return chat.FormatWithSpeaker(m.Body, speaker)
}
