package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jwebster45206/pbem-engine/internal/services"
	"github.com/jwebster45206/pbem-engine/internal/summarize"
	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store      *storage.MockStorage
	llm        *services.MockLLM
	asm        *Assembler
	campaignID int64
	storyID    int64
	sceneID    int64
	heroID     int64
}

func newFixture(t *testing.T, th Thresholds) *fixture {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := storage.NewMockStorage()
	llm := services.NewMockLLM()
	llm.SetResponse("merged summary")

	f := &fixture{store: store, llm: llm}
	var err error
	f.campaignID, err = store.CreateCampaign(ctx, &game.Campaign{Name: "Shadows", Active: true})
	require.NoError(t, err)
	f.storyID, err = store.CreateStory(ctx, &game.Story{CampaignID: f.campaignID, Title: "Act I", Active: true})
	require.NoError(t, err)
	f.sceneID, err = store.CreateScene(ctx, &game.Scene{StoryID: f.storyID, Title: "Crypt", Active: true, Summary: "old scene summary"})
	require.NoError(t, err)
	playerID, err := store.CreatePlayer(ctx, &game.Player{Email: "aria@example.com"})
	require.NoError(t, err)
	f.heroID, err = store.CreateCharacter(ctx, &game.Character{Name: "Aria", PlayerID: &playerID, Active: true}, f.campaignID)
	require.NoError(t, err)
	_, err = store.CreateRuleset(ctx, &game.Ruleset{CampaignID: f.campaignID, Name: "core", Rules: "d20", Active: true})
	require.NoError(t, err)

	f.asm = New(store, summarize.New(llm, 4000, log), th, log)
	return f
}

// addProcessed seeds n processed raw messages in the scene, oldest first
func (f *fixture) addProcessed(t *testing.T, n int) []int64 {
	t.Helper()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := f.store.CreateMessage(context.Background(), &game.Message{
			CampaignID:  f.campaignID,
			SceneID:     &f.sceneID,
			CharacterID: &f.heroID,
			Body:        fmt.Sprintf("message %d", i),
			Processed:   true,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestAssemble_SummarizesOlderKeepsPure(t *testing.T) {
	f := newFixture(t, DefaultThresholds())
	ctx := context.Background()
	ids := f.addProcessed(t, 12)

	out, err := f.asm.Assemble(ctx, f.sceneID)
	require.NoError(t, err)

	require.Len(t, out.Recent, 3)
	assert.Equal(t, ids[9:], []int64{out.Recent[0].ID, out.Recent[1].ID, out.Recent[2].ID})
	assert.Equal(t, "merged summary", out.Scene.Summary)
	assert.False(t, out.Degraded)

	calls := f.llm.GetCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].User, "old scene summary")
	assert.Contains(t, calls[0].User, "Aria: message 0")
	assert.Contains(t, calls[0].User, "Aria: message 8")
	assert.NotContains(t, calls[0].User, "message 9")

	for i, id := range ids {
		msg, err := f.store.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i < 9, msg.Summarized, "message %d", i)
	}

	scene, err := f.store.GetScene(ctx, f.sceneID)
	require.NoError(t, err)
	assert.Equal(t, "merged summary", scene.Summary)
}

func TestAssemble_Idempotent(t *testing.T) {
	f := newFixture(t, DefaultThresholds())
	ctx := context.Background()
	f.addProcessed(t, 12)

	_, err := f.asm.Assemble(ctx, f.sceneID)
	require.NoError(t, err)
	writes := len(f.store.WriteCalls())

	out, err := f.asm.Assemble(ctx, f.sceneID)
	require.NoError(t, err)

	assert.Len(t, f.llm.GetCalls(), 1, "second pass must not summarize again")
	assert.Len(t, f.store.WriteCalls(), writes, "second pass must not write")
	assert.Len(t, out.Recent, 3)
}

func TestAssemble_UnderThresholdIsNoop(t *testing.T) {
	f := newFixture(t, DefaultThresholds())
	f.addProcessed(t, 10)

	out, err := f.asm.Assemble(context.Background(), f.sceneID)
	require.NoError(t, err)

	assert.Len(t, out.Recent, 10)
	assert.Empty(t, f.llm.GetCalls())
	assert.Empty(t, f.store.WriteCalls())
	assert.Equal(t, "old scene summary", out.Scene.Summary)
}

func TestAssemble_DegradedSummaryMarksNothing(t *testing.T) {
	f := newFixture(t, DefaultThresholds())
	ctx := context.Background()
	ids := f.addProcessed(t, 12)
	f.llm.SetError(services.ErrTimeout)

	out, err := f.asm.Assemble(ctx, f.sceneID)
	require.NoError(t, err)

	assert.True(t, out.Degraded)
	assert.Len(t, out.Recent, 12)
	assert.Equal(t, "old scene summary", out.Scene.Summary)
	assert.Empty(t, f.store.WriteCalls())

	msg, err := f.store.GetMessage(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, msg.Summarized)
}

func TestAssemble_SummaryWriteFailureRollsBack(t *testing.T) {
	f := newFixture(t, DefaultThresholds())
	ctx := context.Background()
	f.addProcessed(t, 12)
	f.store.FailOn["MarkMessagesSummarized"] = errors.New("disk full")

	_, err := f.asm.Assemble(ctx, f.sceneID)
	require.Error(t, err)

	scene, err := f.store.GetScene(ctx, f.sceneID)
	require.NoError(t, err)
	assert.Equal(t, "old scene summary", scene.Summary, "summary must roll back with the flags")
}

func TestAssemble_SceneLevelFeedsStory(t *testing.T) {
	f := newFixture(t, DefaultThresholds())
	ctx := context.Background()

	var closed []int64
	for i := 0; i < 6; i++ {
		id, err := f.store.CreateScene(ctx, &game.Scene{StoryID: f.storyID, Title: fmt.Sprintf("Scene %d", i), Summary: fmt.Sprintf("summary %d", i)})
		require.NoError(t, err)
		closed = append(closed, id)
	}

	out, err := f.asm.Assemble(ctx, f.sceneID)
	require.NoError(t, err)
	assert.Equal(t, "merged summary", out.Story.Summary)

	calls := f.llm.GetCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].User, "Scene 3: summary 3")
	assert.NotContains(t, calls[0].User, "Scene 4")

	left, err := f.store.ListUnsummarizedScenes(ctx, f.storyID)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, closed[4], left[0].ID)
}

func TestAssemble_ClosedScenesUnderThresholdPassThrough(t *testing.T) {
	f := newFixture(t, DefaultThresholds())
	ctx := context.Background()

	for _, sum := range []string{"The dragon fled north.", "Aria lost her sword."} {
		_, err := f.store.CreateScene(ctx, &game.Scene{StoryID: f.storyID, Title: "Closed", Summary: sum})
		require.NoError(t, err)
	}
	_, err := f.store.CreateStory(ctx, &game.Story{CampaignID: f.campaignID, Title: "Prologue", Summary: "The relic was stolen."})
	require.NoError(t, err)

	out, err := f.asm.Assemble(ctx, f.sceneID)
	require.NoError(t, err)

	assert.Empty(t, f.llm.GetCalls())
	assert.Empty(t, out.Story.Summary)
	require.Len(t, out.RecentScenes, 2)
	assert.Equal(t, "The dragon fled north.", out.RecentScenes[0].Summary)
	assert.Equal(t, "Aria lost her sword.", out.RecentScenes[1].Summary)
	require.Len(t, out.RecentStories, 1)
	assert.Equal(t, "The relic was stolen.", out.RecentStories[0].Summary)
}

func TestAssemble_ScenesPureTailKeptAfterFold(t *testing.T) {
	f := newFixture(t, DefaultThresholds())
	ctx := context.Background()

	var closed []int64
	for i := 0; i < 6; i++ {
		id, err := f.store.CreateScene(ctx, &game.Scene{StoryID: f.storyID, Title: fmt.Sprintf("Scene %d", i), Summary: fmt.Sprintf("summary %d", i)})
		require.NoError(t, err)
		closed = append(closed, id)
	}

	out, err := f.asm.Assemble(ctx, f.sceneID)
	require.NoError(t, err)

	assert.Equal(t, "merged summary", out.Story.Summary)
	require.Len(t, out.RecentScenes, 2)
	assert.Equal(t, closed[4], out.RecentScenes[0].ID)
	assert.Equal(t, closed[5], out.RecentScenes[1].ID)
}

func TestAssemble_DegradedSceneFoldKeepsAllScenes(t *testing.T) {
	f := newFixture(t, DefaultThresholds())
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := f.store.CreateScene(ctx, &game.Scene{StoryID: f.storyID, Title: fmt.Sprintf("Scene %d", i), Summary: "s"})
		require.NoError(t, err)
	}
	f.llm.SetError(services.ErrTimeout)

	out, err := f.asm.Assemble(ctx, f.sceneID)
	require.NoError(t, err)

	assert.True(t, out.Degraded)
	assert.Len(t, out.RecentScenes, 6)
}

func TestAssemble_StoryLevelFeedsCampaign(t *testing.T) {
	f := newFixture(t, Thresholds{MaxRaw: 10, NPure: 3, MaxScenes: 5, ScenesPure: 2, MaxStories: 2, StoriesPure: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.store.CreateStory(ctx, &game.Story{CampaignID: f.campaignID, Title: fmt.Sprintf("Arc %d", i), Summary: "done"})
		require.NoError(t, err)
	}

	out, err := f.asm.Assemble(ctx, f.sceneID)
	require.NoError(t, err)
	assert.Equal(t, "merged summary", out.Campaign.Summary)

	left, err := f.store.ListUnsummarizedStories(ctx, f.campaignID)
	require.NoError(t, err)
	assert.Len(t, left, 1)
	require.Len(t, out.RecentStories, 1)
	assert.Equal(t, left[0].ID, out.RecentStories[0].ID)
}

func TestAssemble_LoadsWorld(t *testing.T) {
	f := newFixture(t, DefaultThresholds())

	out, err := f.asm.Assemble(context.Background(), f.sceneID)
	require.NoError(t, err)

	require.NotNil(t, out.Ruleset)
	assert.Equal(t, "d20", out.Ruleset.Rules)
	require.Len(t, out.Characters, 1)
	assert.Equal(t, "Aria", out.Characters[0].Name)
	assert.Nil(t, out.Turn)
	assert.Equal(t, f.campaignID, out.Campaign.ID)
}

func TestAssemble_MissingScene(t *testing.T) {
	f := newFixture(t, DefaultThresholds())

	_, err := f.asm.Assemble(context.Background(), 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
