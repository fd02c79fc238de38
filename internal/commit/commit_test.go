package commit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/state"
	"github.com/jwebster45206/pbem-engine/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *storage.MockStorage
	committer *Committer
	sceneID   int64
	ariaID    int64
	borinID   int64
	msgID     int64
}

func newFixture(t *testing.T, phase game.Phase) *fixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMockStorage()
	f := &fixture{store: store}

	campaignID, err := store.CreateCampaign(ctx, &game.Campaign{Name: "Shadows", Active: true})
	require.NoError(t, err)
	storyID, err := store.CreateStory(ctx, &game.Story{CampaignID: campaignID, Title: "Act I", Active: true})
	require.NoError(t, err)
	f.sceneID, err = store.CreateScene(ctx, &game.Scene{StoryID: storyID, Title: "Crypt", Phase: phase, Active: true})
	require.NoError(t, err)
	playerID, err := store.CreatePlayer(ctx, &game.Player{Email: "aria@example.com"})
	require.NoError(t, err)
	f.ariaID, err = store.CreateCharacter(ctx, &game.Character{Name: "Aria", PlayerID: &playerID, Active: true, State: map[string]any{"hp": 12}}, campaignID)
	require.NoError(t, err)
	f.borinID, err = store.CreateCharacter(ctx, &game.Character{Name: "Borin", PlayerID: &playerID, Active: true}, campaignID)
	require.NoError(t, err)
	f.msgID, err = store.CreateMessage(ctx, &game.Message{
		Sender:        "aria@example.com",
		Recipients:    []string{"IA_Narrator@aimailrol.com", "borin@example.com", "ARIA@example.com"},
		Subject:       "La cripta",
		Body:          "Ataco al ghoul.",
		ThreadID:      "thread-1",
		MailMessageID: "<abc@example.com>",
		CampaignID:    campaignID,
		SceneID:       &f.sceneID,
		CharacterID:   &f.ariaID,
	})
	require.NoError(t, err)

	f.committer = New(store, "", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.committer.newID = func() string { return "fixed-id" }
	return f
}

func (f *fixture) processing(t *testing.T) *state.Processing {
	t.Helper()
	msg, err := f.store.GetMessage(context.Background(), f.msgID)
	require.NoError(t, err)
	p := state.New(msg)
	p.Reply = "El ghoul retrocede."
	p.PhaseBefore = game.PhaseNarration
	p.PhaseAfter = game.PhaseNarration
	return p
}

func TestCommit_EnterCombat(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	ctx := context.Background()

	p := f.processing(t)
	p.PhaseAfter = game.PhaseCombat
	p.TurnPlan = state.TurnPlan{Action: state.TurnOpen, Order: []int64{f.ariaID, f.borinID}, ActiveCharacterID: &f.ariaID}
	p.StateDelta = state.StateDelta{f.ariaID: {"hp": 9, "status": "herida"}}

	replyID, err := f.committer.Commit(ctx, p)
	require.NoError(t, err)

	msg, err := f.store.GetMessage(ctx, f.msgID)
	require.NoError(t, err)
	assert.True(t, msg.Processed)

	reply, err := f.store.GetMessage(ctx, replyID)
	require.NoError(t, err)
	assert.True(t, reply.IsReply())
	assert.True(t, reply.Processed)
	assert.Equal(t, "El ghoul retrocede.", reply.Body)
	assert.Equal(t, DefaultNarratorAddress, reply.Sender)
	assert.Equal(t, []string{"aria@example.com", "borin@example.com"}, reply.Recipients)
	assert.Equal(t, "Re: La cripta", reply.Subject)
	assert.Equal(t, "<fixed-id@aimailrol.com>", reply.MailMessageID)
	assert.Equal(t, "<abc@example.com>", reply.InReplyTo)
	assert.Equal(t, "thread-1", reply.ThreadID)

	scene, err := f.store.GetScene(ctx, f.sceneID)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseCombat, scene.Phase)

	turn, err := f.store.GetActiveTurn(ctx, f.sceneID)
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, []int64{f.ariaID, f.borinID}, turn.InitiativeOrder)
	assert.Equal(t, 0, turn.TurnNumber)
	assert.Equal(t, f.ariaID, *turn.ActiveCharacterID)

	aria, err := f.store.GetCharacter(ctx, f.ariaID)
	require.NoError(t, err)
	assert.Equal(t, 9, aria.State["hp"])
	assert.Equal(t, "herida", aria.State["status"])
}

func TestCommit_AdvanceAndClose(t *testing.T) {
	f := newFixture(t, game.PhaseCombat)
	ctx := context.Background()

	var turnID int64
	require.NoError(t, f.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		turnID, err = tx.CreateTurn(ctx, &game.Turn{SceneID: f.sceneID, InitiativeOrder: []int64{f.ariaID, f.borinID}, ActiveCharacterID: &f.ariaID})
		return err
	}))

	p := f.processing(t)
	p.PhaseBefore, p.PhaseAfter = game.PhaseCombat, game.PhaseCombat
	p.TurnPlan = state.TurnPlan{Action: state.TurnAdvance, TurnID: turnID, TurnNumber: 1, ActiveCharacterID: &f.borinID}
	_, err := f.committer.Commit(ctx, p)
	require.NoError(t, err)

	turn, err := f.store.GetActiveTurn(ctx, f.sceneID)
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, 1, turn.TurnNumber)
	assert.Equal(t, f.borinID, *turn.ActiveCharacterID)
	assert.NotContains(t, f.store.WriteCalls(), "UpdateScenePhase")

	second, err := f.store.CreateMessage(ctx, &game.Message{Sender: "borin@example.com", Body: "Huimos.", SceneID: &f.sceneID, CharacterID: &f.borinID})
	require.NoError(t, err)
	msg, err := f.store.GetMessage(ctx, second)
	require.NoError(t, err)

	p = state.New(msg)
	p.Reply = "Escapáis."
	p.PhaseBefore, p.PhaseAfter = game.PhaseCombat, game.PhaseNarration
	p.TurnPlan = state.TurnPlan{Action: state.TurnClose, TurnID: turnID}
	_, err = f.committer.Commit(ctx, p)
	require.NoError(t, err)

	turn, err = f.store.GetActiveTurn(ctx, f.sceneID)
	require.NoError(t, err)
	assert.Nil(t, turn)
	scene, err := f.store.GetScene(ctx, f.sceneID)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseNarration, scene.Phase)
}

func TestCommit_RollsBackEverything(t *testing.T) {
	for _, op := range []string{"MarkMessageProcessed", "CreateReplyMessage", "UpdateScenePhase", "CreateTurn", "UpdateCharacterState"} {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t, game.PhaseNarration)
			ctx := context.Background()
			f.store.FailOn[op] = errors.New("disk full")

			p := f.processing(t)
			p.PhaseAfter = game.PhaseCombat
			p.TurnPlan = state.TurnPlan{Action: state.TurnOpen, Order: []int64{f.ariaID}, ActiveCharacterID: &f.ariaID}
			p.StateDelta = state.StateDelta{f.ariaID: {"hp": 1}}

			_, err := f.committer.Commit(ctx, p)
			require.Error(t, err)

			msg, err := f.store.GetMessage(ctx, f.msgID)
			require.NoError(t, err)
			assert.False(t, msg.Processed)

			scene, err := f.store.GetScene(ctx, f.sceneID)
			require.NoError(t, err)
			assert.Equal(t, game.PhaseNarration, scene.Phase)

			turn, err := f.store.GetActiveTurn(ctx, f.sceneID)
			require.NoError(t, err)
			assert.Nil(t, turn)

			aria, err := f.store.GetCharacter(ctx, f.ariaID)
			require.NoError(t, err)
			assert.Equal(t, 12, aria.State["hp"])

			stats, err := f.store.Stats(ctx, f.store.Now(), 5)
			require.NoError(t, err)
			assert.Zero(t, stats.RepliesToday)
		})
	}
}

func TestCommit_AlreadyProcessed(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	ctx := context.Background()

	_, err := f.committer.Commit(ctx, f.processing(t))
	require.NoError(t, err)

	_, err = f.committer.Commit(ctx, f.processing(t))
	assert.ErrorIs(t, err, storage.ErrAlreadyProcessed)
}

func TestCommit_RequiresReply(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	p := f.processing(t)
	p.Reply = "  "

	_, err := f.committer.Commit(context.Background(), p)
	require.Error(t, err)
	assert.Empty(t, f.store.WriteCalls())
}

func TestReplySubject(t *testing.T) {
	tests := map[string]string{
		"La cripta":     "Re: La cripta",
		"Re: La cripta": "Re: La cripta",
		"RE: hola":      "RE: hola",
		"  ":            "Re:",
		"Reunion":       "Re: Reunion",
	}
	for in, want := range tests {
		if got := replySubject(in); got != want {
			t.Errorf("replySubject(%q) = %q, want %q", in, got, want)
		}
	}
}
