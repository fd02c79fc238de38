package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jwebster45206/pbem-engine/internal/assembler"
	"github.com/jwebster45206/pbem-engine/internal/commit"
	"github.com/jwebster45206/pbem-engine/internal/lock"
	"github.com/jwebster45206/pbem-engine/internal/narrator"
	"github.com/jwebster45206/pbem-engine/internal/services"
	"github.com/jwebster45206/pbem-engine/internal/services/events"
	"github.com/jwebster45206/pbem-engine/internal/summarize"
	"github.com/jwebster45206/pbem-engine/internal/turns"
	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/initiative"
	"github.com/jwebster45206/pbem-engine/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	noTransition = `{"phase_transition":{"detected":false,"target_phase":"%s"},"state_changes":[],"tags":{"action_type":"talk"}}`
	toCombat     = `{"phase_transition":{"detected":true,"target_phase":"combat","phrase":"ataco","reason":"attack"},"state_changes":[],"tags":{"action_type":"attack"}}`
	toNarration  = `{"phase_transition":{"detected":true,"target_phase":"Narración","phrase":"huyen","reason":"enemies fled"},"state_changes":[],"tags":{}}`
	hurtActor    = `{"phase_transition":{"detected":false,"target_phase":"%s"},"state_changes":[{"character":"","field":"hp","new_value":5,"reason":"bite"}],"tags":{}}`
	replyText    = "El ghoul retrocede entre las tumbas."
)

// recorder is an events.Publisher that keeps what was published
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) MessageProcessing(_ context.Context, _, messageID int64) error {
	return r.add(fmt.Sprintf("processing:%d", messageID))
}

func (r *recorder) MessageProcessed(_ context.Context, _, messageID, _ int64, _, _ string, _ bool) error {
	return r.add(fmt.Sprintf("processed:%d", messageID))
}

func (r *recorder) MessageFailed(_ context.Context, _, messageID int64, _ string) error {
	return r.add(fmt.Sprintf("failed:%d", messageID))
}

func (r *recorder) PhaseChanged(_ context.Context, _, _ int64, from, to string) error {
	return r.add(fmt.Sprintf("phase:%s->%s", from, to))
}

// panicOnProcessed blows up after the commit has gone through
type panicOnProcessed struct {
	*recorder
}

func (p panicOnProcessed) MessageProcessed(context.Context, int64, int64, int64, string, string, bool) error {
	panic("publisher exploded")
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fixture struct {
	store  *storage.MockStorage
	llm    *services.MockLLM
	events *recorder
	pub    events.Publisher // overrides events when set
	proc   *Processor
	opts   Options
	now    time.Time

	campaignID int64
	sceneID    int64
	ariaID     int64
	borinID    int64
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultOptions() Options {
	return Options{
		PollInterval:        5 * time.Millisecond,
		GuardAcquireTimeout: 30 * time.Millisecond,
		RetryDelay:          time.Minute,
		MaxAttempts:         3,
		BatchErrorCap:       20,
	}
}

func newFixture(t *testing.T, phase game.Phase) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:  storage.NewMockStorage(),
		llm:    services.NewMockLLM(),
		events: &recorder{},
		opts:   defaultOptions(),
		now:    time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC),
	}
	f.store.Now = func() time.Time { return f.now }

	var err error
	f.campaignID, err = f.store.CreateCampaign(ctx, &game.Campaign{Name: "Sombras", Active: true})
	require.NoError(t, err)
	storyID, err := f.store.CreateStory(ctx, &game.Story{CampaignID: f.campaignID, Title: "Acto I", Active: true})
	require.NoError(t, err)
	f.sceneID, err = f.store.CreateScene(ctx, &game.Scene{StoryID: storyID, Title: "Cripta", Phase: phase, Active: true})
	require.NoError(t, err)

	ariaPlayer, err := f.store.CreatePlayer(ctx, &game.Player{Email: "aria@example.com"})
	require.NoError(t, err)
	borinPlayer, err := f.store.CreatePlayer(ctx, &game.Player{Email: "borin@example.com"})
	require.NoError(t, err)
	f.ariaID, err = f.store.CreateCharacter(ctx, &game.Character{Name: "Aria", PlayerID: &ariaPlayer, Active: true, State: map[string]any{"hp": 12}}, f.campaignID)
	require.NoError(t, err)
	f.borinID, err = f.store.CreateCharacter(ctx, &game.Character{Name: "Borin", PlayerID: &borinPlayer, Active: true, State: map[string]any{"hp": 15}}, f.campaignID)
	require.NoError(t, err)
	_, err = f.store.CreateCharacter(ctx, &game.Character{Name: "Ghoul", Kind: "npc", Active: true}, f.campaignID)
	require.NoError(t, err)

	f.answer(fmt.Sprintf(noTransition, phase), replyText)
	f.build(f.llm)
	return f
}

// build wires a processor over llm
func (f *fixture) build(llm services.LLMService) {
	log := discardLogger()
	var pub events.Publisher = f.events
	if f.pub != nil {
		pub = f.pub
	}
	f.proc = NewProcessor(Deps{
		Store:     f.store,
		Assembler: assembler.New(f.store, summarize.New(llm, 4000, log), assembler.DefaultThresholds(), log),
		LLM:       llm,
		Turns:     turns.New(initiative.ByID{}, log),
		Committer: commit.New(f.store, "", "", log),
		Events:    pub,
	}, f.opts, log)
	f.proc.now = func() time.Time { return f.now }
}

// answer sets the classifier and generator outputs
func (f *fixture) answer(classification, reply string) {
	f.llm.SetProfileResponses(map[services.Profile]string{
		services.ProfilePrecise:  classification,
		services.ProfileCreative: reply,
		services.ProfileSummary:  "resumen",
	})
}

func (f *fixture) addEntry(t *testing.T, sender string, characterID *int64, body string) int64 {
	t.Helper()
	id, err := f.store.CreateMessage(context.Background(), &game.Message{
		Sender:      sender,
		Recipients:  []string{commit.DefaultNarratorAddress},
		Subject:     "Cripta",
		Body:        body,
		CampaignID:  f.campaignID,
		SceneID:     &f.sceneID,
		CharacterID: characterID,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) openTurn(t *testing.T, order []int64, turnNumber int) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	require.NoError(t, f.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		id, err = tx.CreateTurn(ctx, &game.Turn{SceneID: f.sceneID, InitiativeOrder: order})
		if err != nil {
			return err
		}
		active := order[turnNumber%len(order)]
		return tx.UpdateTurn(ctx, id, turnNumber, &active)
	}))
	return id
}

func (f *fixture) message(t *testing.T, id int64) *game.Message {
	t.Helper()
	msg, err := f.store.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return msg
}

func (f *fixture) scene(t *testing.T) *game.Scene {
	t.Helper()
	s, err := f.store.GetScene(context.Background(), f.sceneID)
	require.NoError(t, err)
	return s
}

func (f *fixture) turn(t *testing.T) *game.Turn {
	t.Helper()
	turn, err := f.store.GetActiveTurn(context.Background(), f.sceneID)
	require.NoError(t, err)
	return turn
}

func hasErrorPrefix(errs []string, prefix string) bool {
	for _, e := range errs {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

func TestProcessNext_EmptyQueue(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Processed)
	assert.Nil(t, res.MessageID)
	assert.Empty(t, res.Errors)
	assert.Empty(t, f.llm.GetCalls())
}

func TestProcessNext_Narration(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.answer(fmt.Sprintf(hurtActor, "narration"), replyText)
	id := f.addEntry(t, "ARIA@example.com", nil, "Abro el sarcófago.")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Processed)
	assert.True(t, res.ReplyGenerated)
	assert.False(t, res.ReplyFallback)
	assert.Equal(t, id, *res.MessageID)
	assert.Equal(t, game.PhaseNarration, res.PhaseBefore)
	assert.Equal(t, game.PhaseNarration, res.PhaseAfter)
	assert.Empty(t, res.Errors)

	assert.True(t, f.message(t, id).Processed)
	reply := f.message(t, *res.ReplyID)
	assert.Equal(t, replyText, reply.Body)
	assert.Equal(t, []string{"ARIA@example.com"}, reply.Recipients)

	aria, err := f.store.GetCharacter(context.Background(), f.ariaID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, aria.State["hp"], "sender resolved by address and state change applied")

	assert.Nil(t, f.turn(t))
	assert.Equal(t, []string{fmt.Sprintf("processing:%d", id), fmt.Sprintf("processed:%d", id)}, f.events.list())
}

func TestProcessNext_EntersCombat(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.answer(toCombat, replyText)
	f.addEntry(t, "aria@example.com", &f.ariaID, "¡Ataco al ghoul!")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, res.Processed)

	assert.Equal(t, game.PhaseNarration, res.PhaseBefore)
	assert.Equal(t, game.PhaseCombat, res.PhaseAfter)
	assert.Equal(t, game.PhaseCombat, f.scene(t).Phase)

	turn := f.turn(t)
	require.NotNil(t, turn)
	assert.Equal(t, []int64{f.ariaID, f.borinID}, turn.InitiativeOrder, "player characters only")
	assert.Equal(t, 0, turn.TurnNumber)
	assert.Equal(t, f.ariaID, *turn.ActiveCharacterID)

	gen := f.llm.CallsFor(services.ProfileCreative)
	require.Len(t, gen, 1)
	assert.Contains(t, gen[0].System, "Combat begins with this message")
	assert.Contains(t, gen[0].System, "Aria, Borin")
	assert.Contains(t, f.events.list(), "phase:narration->combat")
}

func TestProcessNext_ReenteringCombatRecomputesOrder(t *testing.T) {
	f := newFixture(t, game.PhaseCombat)
	f.openTurn(t, []int64{f.ariaID}, 0)

	f.answer(toNarration, replyText)
	f.addEntry(t, "aria@example.com", &f.ariaID, "Los enemigos huyen.")
	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, res.Processed)
	assert.Equal(t, game.PhaseNarration, f.scene(t).Phase)
	assert.Nil(t, f.turn(t))

	f.answer(toCombat, replyText)
	f.addEntry(t, "borin@example.com", &f.borinID, "Otro ghoul. Cargo.")
	res, err = f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, res.Processed)

	turn := f.turn(t)
	require.NotNil(t, turn)
	assert.Equal(t, []int64{f.ariaID, f.borinID}, turn.InitiativeOrder)
}

func TestProcessNext_UnparseableClassifier(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.answer("Sure! The player is attacking.", replyText)
	id := f.addEntry(t, "aria@example.com", &f.ariaID, "¡Ataco!")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Processed)
	assert.True(t, hasErrorPrefix(res.Errors, "classify:"), "errors: %v", res.Errors)
	assert.Equal(t, game.PhaseNarration, res.PhaseAfter)
	assert.Equal(t, game.PhaseNarration, f.scene(t).Phase)
	assert.Nil(t, f.turn(t))
	assert.True(t, f.message(t, id).Processed)
	assert.Equal(t, replyText, f.message(t, *res.ReplyID).Body)
}

func TestProcessNext_OutOfTurn(t *testing.T) {
	f := newFixture(t, game.PhaseCombat)
	f.openTurn(t, []int64{f.ariaID, f.borinID}, 0)
	f.answer(fmt.Sprintf(hurtActor, "combat"), replyText)
	id := f.addEntry(t, "borin@example.com", &f.borinID, "Golpeo con el hacha.")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Processed)
	assert.True(t, res.OutOfTurn)
	assert.True(t, f.message(t, id).Processed)

	turn := f.turn(t)
	require.NotNil(t, turn)
	assert.Equal(t, 0, turn.TurnNumber, "out-of-turn actions do not advance")
	assert.Equal(t, f.ariaID, *turn.ActiveCharacterID)

	borin, err := f.store.GetCharacter(context.Background(), f.borinID)
	require.NoError(t, err)
	assert.Equal(t, 15, borin.State["hp"], "state changes withheld")

	gen := f.llm.CallsFor(services.ProfileCreative)
	require.Len(t, gen, 1)
	assert.Contains(t, gen[0].System, "Borin is acting out of turn; it is Aria's turn")
}

func TestProcessNext_InTurnAdvances(t *testing.T) {
	f := newFixture(t, game.PhaseCombat)
	f.openTurn(t, []int64{f.ariaID, f.borinID}, 1)
	f.answer(fmt.Sprintf(hurtActor, "combat"), replyText)
	f.addEntry(t, "borin@example.com", &f.borinID, "Golpeo con el hacha.")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, res.Processed)
	assert.False(t, res.OutOfTurn)

	turn := f.turn(t)
	require.NotNil(t, turn)
	assert.Equal(t, 2, turn.TurnNumber)
	assert.Equal(t, f.ariaID, *turn.ActiveCharacterID)

	borin, err := f.store.GetCharacter(context.Background(), f.borinID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, borin.State["hp"])
}

func TestProcessNext_CombatEnds(t *testing.T) {
	f := newFixture(t, game.PhaseCombat)
	f.openTurn(t, []int64{f.ariaID, f.borinID}, 0)
	f.answer(toNarration, replyText)
	f.addEntry(t, "aria@example.com", &f.ariaID, "Rematamos al último.")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, res.Processed)

	assert.Equal(t, game.PhaseCombat, res.PhaseBefore)
	assert.Equal(t, game.PhaseNarration, res.PhaseAfter)
	assert.Equal(t, game.PhaseNarration, f.scene(t).Phase)
	assert.Nil(t, f.turn(t))

	gen := f.llm.CallsFor(services.ProfileCreative)
	require.Len(t, gen, 1)
	assert.Contains(t, gen[0].System, "Combat ends with this message")
}

func TestProcessNext_EmptyInitiativeOrder(t *testing.T) {
	f := newFixture(t, game.PhaseCombat)
	ctx := context.Background()
	require.NoError(t, f.store.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := tx.CreateTurn(ctx, &game.Turn{SceneID: f.sceneID})
		return err
	}))
	f.answer(fmt.Sprintf(noTransition, "combat"), replyText)
	f.addEntry(t, "borin@example.com", &f.borinID, "Disparo.")

	res, err := f.proc.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.False(t, res.OutOfTurn)
	assert.Empty(t, res.Errors)
}

func TestProcessNext_GeneratorTimeout(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.llm.CompleteFunc = func(ctx context.Context, req services.CompletionRequest) (string, error) {
		if req.Profile == services.ProfileCreative {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return fmt.Sprintf(noTransition, "narration"), nil
	}
	f.build(services.WithTimeout(f.llm, 20*time.Millisecond, discardLogger()))
	id := f.addEntry(t, "aria@example.com", &f.ariaID, "Espero.")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Processed)
	assert.True(t, res.ReplyFallback)
	assert.True(t, hasErrorPrefix(res.Errors, "generate:"), "errors: %v", res.Errors)
	assert.True(t, f.message(t, id).Processed)
	assert.Equal(t, narrator.ApologyText, f.message(t, *res.ReplyID).Body)
}

func TestProcessNext_MissingCharacter(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	id := f.addEntry(t, "stranger@example.com", nil, "Hola?")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Processed)
	assert.False(t, res.ReplyGenerated)
	assert.Equal(t, id, *res.MessageID)
	assert.True(t, hasErrorPrefix(res.Errors, "pipeline:"), "errors: %v", res.Errors)

	msg := f.message(t, id)
	assert.False(t, msg.Processed)
	assert.Equal(t, 1, msg.Attempts)
	assert.Contains(t, msg.LastError, "not found")
	require.NotNil(t, msg.RetryAfter)
	assert.Equal(t, f.now.Add(f.opts.RetryDelay), *msg.RetryAfter)
	assert.Contains(t, f.events.list(), fmt.Sprintf("failed:%d", id))
	assert.Empty(t, f.llm.CallsFor(services.ProfileCreative))

	res, err = f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.MessageID, "deferred until the retry is due")

	f.now = f.now.Add(2 * time.Minute)
	res, err = f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, *res.MessageID)
	assert.Equal(t, 2, f.message(t, id).Attempts)
}

func TestProcessNext_MissingCharacterID(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.addEntry(t, "aria@example.com", game.Int64Ptr(404), "Hola.")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Processed)
	assert.True(t, hasErrorPrefix(res.Errors, "pipeline:"))
}

func TestProcessNext_DeferredMessageBlocksItsScene(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	first := f.addEntry(t, "stranger@example.com", nil, "Hola?")
	f.addEntry(t, "aria@example.com", &f.ariaID, "Sigo adelante.")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, *res.MessageID)
	assert.False(t, res.Processed)

	res, err = f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.MessageID, "newer messages of the scene wait for the failed one")
}

func TestProcessNext_CommitFailureRollsBack(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.answer(fmt.Sprintf(hurtActor, "narration"), replyText)
	f.store.FailOn["UpdateCharacterState"] = fmt.Errorf("disk I/O error")
	id := f.addEntry(t, "aria@example.com", &f.ariaID, "Bebo la poción.")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Processed)
	assert.Nil(t, res.ReplyID)
	assert.True(t, hasErrorPrefix(res.Errors, "pipeline: failed to commit"), "errors: %v", res.Errors)

	msg := f.message(t, id)
	assert.False(t, msg.Processed)
	assert.Equal(t, 1, msg.Attempts)

	stats, err := f.store.Stats(context.Background(), f.now, 3)
	require.NoError(t, err)
	assert.Zero(t, stats.RepliesToday, "no reply without the processed flag")

	aria, err := f.store.GetCharacter(context.Background(), f.ariaID)
	require.NoError(t, err)
	assert.Equal(t, 12, aria.State["hp"])
}

func TestProcessNext_RecoversPanic(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.llm.CompleteFunc = func(ctx context.Context, req services.CompletionRequest) (string, error) {
		panic("provider exploded")
	}
	id := f.addEntry(t, "aria@example.com", &f.ariaID, "Hola.")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Processed)
	assert.True(t, hasErrorPrefix(res.Errors, "pipeline: panic: provider exploded"), "errors: %v", res.Errors)
	assert.Equal(t, 1, f.message(t, id).Attempts)

	// the guard was released
	res, err = f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.MessageID)
}

func TestProcessNext_PanickingProviderBehindTimeout(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.llm.CompleteFunc = func(ctx context.Context, req services.CompletionRequest) (string, error) {
		panic("provider exploded")
	}
	f.build(services.WithTimeout(f.llm, time.Second, discardLogger()))
	id := f.addEntry(t, "aria@example.com", &f.ariaID, "Hola.")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Processed)
	assert.True(t, res.ReplyFallback)
	assert.True(t, hasErrorPrefix(res.Errors, "classify:"), "errors: %v", res.Errors)
	assert.True(t, hasErrorPrefix(res.Errors, "generate:"), "errors: %v", res.Errors)
	assert.True(t, f.message(t, id).Processed)
	assert.Equal(t, narrator.ApologyText, f.message(t, *res.ReplyID).Body)
}

func TestProcessNext_PanicAfterCommitKeepsCommit(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.pub = panicOnProcessed{recorder: f.events}
	f.build(f.llm)
	id := f.addEntry(t, "aria@example.com", &f.ariaID, "Abro la puerta.")

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Processed)
	require.NotNil(t, res.ReplyID)
	assert.True(t, hasErrorPrefix(res.Errors, "pipeline: panic after commit: publisher exploded"), "errors: %v", res.Errors)

	msg := f.message(t, id)
	assert.True(t, msg.Processed)
	assert.Zero(t, msg.Attempts)
	assert.Empty(t, msg.LastError)
	assert.Nil(t, msg.RetryAfter)
	assert.Equal(t, replyText, f.message(t, *res.ReplyID).Body)
	assert.NotContains(t, f.events.list(), fmt.Sprintf("failed:%d", id))
}

func TestProcessNext_ParkedAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	id := f.addEntry(t, "stranger@example.com", nil, "Hola?")
	other := f.addEntry(t, "aria@example.com", &f.ariaID, "Sigo.")

	for i := 0; i < f.opts.MaxAttempts; i++ {
		res, err := f.proc.ProcessNext(context.Background())
		require.NoError(t, err)
		require.Equal(t, id, *res.MessageID)
		f.now = f.now.Add(2 * f.opts.RetryDelay)
	}

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, other, *res.MessageID, "parked message no longer blocks the scene")
	assert.True(t, res.Processed)

	stats, err := f.proc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Parked)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.ProcessedToday)
	assert.Equal(t, 1, stats.RepliesToday)
}

func TestProcessNext_Busy(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.addEntry(t, "aria@example.com", &f.ariaID, "Hola.")
	require.True(t, f.proc.guard.TryAcquire(1))

	start := time.Now()
	_, err := f.proc.ProcessNext(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.GreaterOrEqual(t, time.Since(start), f.opts.GuardAcquireTimeout)

	f.proc.guard.Release(1)
	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Processed)
}

func TestProcessNext_WaitsForGuard(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.opts.GuardAcquireTimeout = time.Second
	f.build(f.llm)
	f.addEntry(t, "aria@example.com", &f.ariaID, "Hola.")
	require.True(t, f.proc.guard.TryAcquire(1))

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.proc.guard.Release(1)
	}()

	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Processed)
}

func TestProcessNext_DistributedLock(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := lock.NewRedisLock(client, "", time.Minute, discardLogger())
	f.proc.lock = l
	f.addEntry(t, "aria@example.com", &f.ariaID, "Hola.")

	other := lock.NewRedisLock(client, "", time.Minute, discardLogger())
	token, ok, err := other.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.proc.ProcessNext(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, other.Release(context.Background(), token))
	res, err := f.proc.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.False(t, mr.Exists(lock.DefaultKey), "released after the run")
}

func TestProcessBatch(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.addEntry(t, "aria@example.com", &f.ariaID, "Uno.")
	f.addEntry(t, "borin@example.com", &f.borinID, "Dos.")
	bad := f.addEntry(t, "stranger@example.com", nil, "Tres.")

	out := f.proc.ProcessBatch(context.Background(), 10)
	assert.Equal(t, 3, out.Processed)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Errors, 1)
	assert.True(t, strings.HasPrefix(out.Errors[0], fmt.Sprintf("message %d: ", bad)), out.Errors[0])
	assert.Len(t, out.Results, 3)

	again := f.proc.ProcessBatch(context.Background(), 10)
	assert.Zero(t, again.Processed)
	assert.Empty(t, again.Errors)
}

func TestProcessBatch_StopsAtN(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	for i := 0; i < 4; i++ {
		f.addEntry(t, "aria@example.com", &f.ariaID, fmt.Sprintf("mensaje %d", i))
	}

	out := f.proc.ProcessBatch(context.Background(), 3)
	assert.Equal(t, 3, out.Processed)
	assert.Equal(t, 3, out.Succeeded)

	stats, err := f.proc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, stats.ProcessedToday, stats.RepliesToday, "every processed message has a reply")
}

func TestProcessBatch_ErrorCap(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.opts.BatchErrorCap = 1
	f.build(f.llm)

	ctx := context.Background()
	scene, err := f.store.GetScene(ctx, f.sceneID)
	require.NoError(t, err)
	second, err := f.store.CreateScene(ctx, &game.Scene{StoryID: scene.StoryID, Title: "Pasillo", Active: true})
	require.NoError(t, err)

	f.addEntry(t, "stranger@example.com", nil, "Uno.")
	_, err = f.store.CreateMessage(ctx, &game.Message{Sender: "nobody@example.com", Body: "Dos.", CampaignID: f.campaignID, SceneID: &second})
	require.NoError(t, err)

	out := f.proc.ProcessBatch(ctx, 10)
	assert.Equal(t, 2, out.Failed)
	assert.Len(t, out.Errors, 1)
}

func TestProcessBatch_StopsWhenBusy(t *testing.T) {
	f := newFixture(t, game.PhaseNarration)
	f.addEntry(t, "aria@example.com", &f.ariaID, "Uno.")
	require.True(t, f.proc.guard.TryAcquire(1))
	defer f.proc.guard.Release(1)

	out := f.proc.ProcessBatch(context.Background(), 5)
	assert.Zero(t, out.Processed)
	assert.True(t, out.Busy)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], ErrBusy.Error())
}
