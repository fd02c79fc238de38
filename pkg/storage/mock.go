package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jwebster45206/pbem-engine/pkg/game"
)

// MockStorage is an in-memory Storage for testing. Transactions work on a
// copy of the data that replaces the original only when fn succeeds.
type MockStorage struct {
	mu        sync.Mutex
	data      *mockData
	pingError error

	// FailOn makes the named write method (e.g. "CreateReplyMessage") fail
	FailOn map[string]error
	// Calls records every write method invoked, in order
	Calls []string
	// Now is the clock used for timestamps
	Now func() time.Time
}

type mockData struct {
	nextID         int64
	campaigns      map[int64]game.Campaign
	stories        map[int64]game.Story
	scenes         map[int64]game.Scene
	players        map[int64]game.Player
	characters     map[int64]game.Character
	campaignMember map[int64][]int64
	rulesets       map[int64]game.Ruleset
	messages       map[int64]game.Message
	turns          map[int64]game.Turn
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		data: &mockData{
			campaigns:      make(map[int64]game.Campaign),
			stories:        make(map[int64]game.Story),
			scenes:         make(map[int64]game.Scene),
			players:        make(map[int64]game.Player),
			characters:     make(map[int64]game.Character),
			campaignMember: make(map[int64][]int64),
			rulesets:       make(map[int64]game.Ruleset),
			messages:       make(map[int64]game.Message),
			turns:          make(map[int64]game.Turn),
		},
		FailOn: make(map[string]error),
		Now:    time.Now,
	}
}

func (d *mockData) clone() *mockData {
	c := &mockData{
		nextID:         d.nextID,
		campaigns:      make(map[int64]game.Campaign, len(d.campaigns)),
		stories:        make(map[int64]game.Story, len(d.stories)),
		scenes:         make(map[int64]game.Scene, len(d.scenes)),
		players:        make(map[int64]game.Player, len(d.players)),
		characters:     make(map[int64]game.Character, len(d.characters)),
		campaignMember: make(map[int64][]int64, len(d.campaignMember)),
		rulesets:       make(map[int64]game.Ruleset, len(d.rulesets)),
		messages:       make(map[int64]game.Message, len(d.messages)),
		turns:          make(map[int64]game.Turn, len(d.turns)),
	}
	for k, v := range d.campaigns {
		c.campaigns[k] = v
	}
	for k, v := range d.stories {
		c.stories[k] = v
	}
	for k, v := range d.scenes {
		c.scenes[k] = v
	}
	for k, v := range d.players {
		c.players[k] = v
	}
	for k, v := range d.characters {
		c.characters[k] = copyCharacter(v)
	}
	for k, v := range d.campaignMember {
		c.campaignMember[k] = slices.Clone(v)
	}
	for k, v := range d.rulesets {
		c.rulesets[k] = v
	}
	for k, v := range d.messages {
		c.messages[k] = copyMessage(v)
	}
	for k, v := range d.turns {
		v.InitiativeOrder = slices.Clone(v.InitiativeOrder)
		c.turns[k] = v
	}
	return c
}

func copyMessage(m game.Message) game.Message {
	m.Recipients = slices.Clone(m.Recipients)
	return m
}

func copyCharacter(c game.Character) game.Character {
	c.State = game.CloneState(c.State)
	return c
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// Ping mocks storage ping
func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingError
}

// Close mocks storage close
func (m *MockStorage) Close() error {
	return nil
}

// WithinTx runs fn against a copy of the data and keeps it only on success
func (m *MockStorage) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(&mockTx{m: m, d: work}); err != nil {
		return err
	}
	m.data = work
	return nil
}

// WriteCalls returns a copy of the recorded write calls
func (m *MockStorage) WriteCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.Calls)
}

// do runs op against the live data under the lock
func (m *MockStorage) do(op func(tx *mockTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return op(&mockTx{m: m, d: m.data})
}

// mockTx implements Tx over a mockData. The owning MockStorage lock is held
// by the caller.
type mockTx struct {
	m *MockStorage
	d *mockData
}

func (t *mockTx) write(name string) error {
	t.m.Calls = append(t.m.Calls, name)
	if err := t.m.FailOn[name]; err != nil {
		return err
	}
	return nil
}

func (t *mockTx) id() int64 {
	t.d.nextID++
	return t.d.nextID
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
}

func (t *mockTx) NextUnprocessedMessage(ctx context.Context, now time.Time, maxAttempts int) (*game.Message, error) {
	pending := make([]game.Message, 0)
	for _, msg := range t.d.messages {
		if msg.Kind == game.MessageKindEntry && !msg.Processed {
			pending = append(pending, msg)
		}
	}
	sortMessages(pending)

	blocked := make(map[int64]bool)
	for _, msg := range pending {
		if maxAttempts > 0 && msg.Attempts >= maxAttempts {
			continue
		}
		scene := int64(0)
		if msg.SceneID != nil {
			scene = *msg.SceneID
		}
		if blocked[scene] {
			continue
		}
		if msg.RetryAfter != nil && msg.RetryAfter.After(now) {
			blocked[scene] = true
			continue
		}
		out := copyMessage(msg)
		return &out, nil
	}
	return nil, nil
}

func sortMessages(msgs []game.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func (t *mockTx) GetMessage(ctx context.Context, id int64) (*game.Message, error) {
	msg, ok := t.d.messages[id]
	if !ok {
		return nil, notFound("message", id)
	}
	out := copyMessage(msg)
	return &out, nil
}

func (t *mockTx) GetScene(ctx context.Context, id int64) (*game.Scene, error) {
	s, ok := t.d.scenes[id]
	if !ok {
		return nil, notFound("scene", id)
	}
	return &s, nil
}

func (t *mockTx) GetStory(ctx context.Context, id int64) (*game.Story, error) {
	s, ok := t.d.stories[id]
	if !ok {
		return nil, notFound("story", id)
	}
	return &s, nil
}

func (t *mockTx) GetCampaign(ctx context.Context, id int64) (*game.Campaign, error) {
	c, ok := t.d.campaigns[id]
	if !ok {
		return nil, notFound("campaign", id)
	}
	return &c, nil
}

func (t *mockTx) GetRulesetByCampaign(ctx context.Context, campaignID int64) (*game.Ruleset, error) {
	var found *game.Ruleset
	for _, r := range t.d.rulesets {
		if r.CampaignID == campaignID && r.Active && (found == nil || r.ID > found.ID) {
			rs := r
			found = &rs
		}
	}
	if found == nil {
		return nil, fmt.Errorf("ruleset for campaign %d: %w", campaignID, ErrNotFound)
	}
	return found, nil
}

func (t *mockTx) GetCharacter(ctx context.Context, id int64) (*game.Character, error) {
	c, ok := t.d.characters[id]
	if !ok {
		return nil, notFound("character", id)
	}
	out := copyCharacter(c)
	return &out, nil
}

func (t *mockTx) campaignOfScene(sceneID int64) (int64, error) {
	scene, ok := t.d.scenes[sceneID]
	if !ok {
		return 0, notFound("scene", sceneID)
	}
	story, ok := t.d.stories[scene.StoryID]
	if !ok {
		return 0, notFound("story", scene.StoryID)
	}
	return story.CampaignID, nil
}

func (t *mockTx) GetCharactersForScene(ctx context.Context, sceneID int64) ([]game.Character, error) {
	campaignID, err := t.campaignOfScene(sceneID)
	if err != nil {
		return nil, err
	}
	out := make([]game.Character, 0)
	for _, id := range t.d.campaignMember[campaignID] {
		if c, ok := t.d.characters[id]; ok && c.Active {
			out = append(out, copyCharacter(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *mockTx) FindCharacterBySender(ctx context.Context, campaignID int64, sender string) (*game.Character, error) {
	var best *game.Character
	for _, id := range t.d.campaignMember[campaignID] {
		c, ok := t.d.characters[id]
		if !ok || !c.Active || c.PlayerID == nil {
			continue
		}
		p, ok := t.d.players[*c.PlayerID]
		if !ok || !strings.EqualFold(p.Email, sender) {
			continue
		}
		if best == nil || c.ID < best.ID {
			cc := copyCharacter(c)
			best = &cc
		}
	}
	if best == nil {
		return nil, fmt.Errorf("character for sender %q: %w", sender, ErrNotFound)
	}
	return best, nil
}

func (t *mockTx) GetActiveTurn(ctx context.Context, sceneID int64) (*game.Turn, error) {
	var found *game.Turn
	for _, turn := range t.d.turns {
		if turn.SceneID == sceneID && turn.Active && (found == nil || turn.ID > found.ID) {
			tt := turn
			tt.InitiativeOrder = slices.Clone(turn.InitiativeOrder)
			found = &tt
		}
	}
	return found, nil
}

func (t *mockTx) ListUnsummarizedMessages(ctx context.Context, sceneID int64) ([]game.Message, error) {
	out := make([]game.Message, 0)
	for _, msg := range t.d.messages {
		if msg.SceneID != nil && *msg.SceneID == sceneID && msg.Processed && !msg.Summarized {
			out = append(out, copyMessage(msg))
		}
	}
	sortMessages(out)
	return out, nil
}

func (t *mockTx) ListUnsummarizedScenes(ctx context.Context, storyID int64) ([]game.Scene, error) {
	out := make([]game.Scene, 0)
	for _, s := range t.d.scenes {
		if s.StoryID == storyID && !s.Active && !s.Summarized {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *mockTx) ListUnsummarizedStories(ctx context.Context, campaignID int64) ([]game.Story, error) {
	out := make([]game.Story, 0)
	for _, s := range t.d.stories {
		if s.CampaignID == campaignID && !s.Active && !s.Summarized {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *mockTx) Stats(ctx context.Context, now time.Time, maxAttempts int) (game.Stats, error) {
	var st game.Stats
	y, mo, d := now.Date()
	dayStart := time.Date(y, mo, d, 0, 0, 0, 0, now.Location())
	for _, msg := range t.d.messages {
		switch {
		case msg.Kind == game.MessageKindReply:
			if !msg.CreatedAt.Before(dayStart) {
				st.RepliesToday++
			}
		case !msg.Processed && maxAttempts > 0 && msg.Attempts >= maxAttempts:
			st.Parked++
		case !msg.Processed:
			st.Pending++
		case msg.ProcessedAt != nil && !msg.ProcessedAt.Before(dayStart):
			st.ProcessedToday++
		}
	}
	return st, nil
}

func (t *mockTx) UpdateSceneSummary(ctx context.Context, id int64, summary string) error {
	if err := t.write("UpdateSceneSummary"); err != nil {
		return err
	}
	s, ok := t.d.scenes[id]
	if !ok {
		return notFound("scene", id)
	}
	s.Summary = summary
	t.d.scenes[id] = s
	return nil
}

func (t *mockTx) MarkMessagesSummarized(ctx context.Context, ids []int64) error {
	if err := t.write("MarkMessagesSummarized"); err != nil {
		return err
	}
	for _, id := range ids {
		if msg, ok := t.d.messages[id]; ok {
			msg.Summarized = true
			t.d.messages[id] = msg
		}
	}
	return nil
}

func (t *mockTx) UpdateStorySummary(ctx context.Context, id int64, summary string) error {
	if err := t.write("UpdateStorySummary"); err != nil {
		return err
	}
	s, ok := t.d.stories[id]
	if !ok {
		return notFound("story", id)
	}
	s.Summary = summary
	t.d.stories[id] = s
	return nil
}

func (t *mockTx) MarkScenesSummarized(ctx context.Context, ids []int64) error {
	if err := t.write("MarkScenesSummarized"); err != nil {
		return err
	}
	for _, id := range ids {
		if s, ok := t.d.scenes[id]; ok {
			s.Summarized = true
			t.d.scenes[id] = s
		}
	}
	return nil
}

func (t *mockTx) UpdateCampaignSummary(ctx context.Context, id int64, summary string) error {
	if err := t.write("UpdateCampaignSummary"); err != nil {
		return err
	}
	c, ok := t.d.campaigns[id]
	if !ok {
		return notFound("campaign", id)
	}
	c.Summary = summary
	t.d.campaigns[id] = c
	return nil
}

func (t *mockTx) MarkStoriesSummarized(ctx context.Context, ids []int64) error {
	if err := t.write("MarkStoriesSummarized"); err != nil {
		return err
	}
	for _, id := range ids {
		if s, ok := t.d.stories[id]; ok {
			s.Summarized = true
			t.d.stories[id] = s
		}
	}
	return nil
}

func (t *mockTx) UpdateScenePhase(ctx context.Context, id int64, phase game.Phase) error {
	if err := t.write("UpdateScenePhase"); err != nil {
		return err
	}
	s, ok := t.d.scenes[id]
	if !ok {
		return notFound("scene", id)
	}
	s.Phase = phase
	t.d.scenes[id] = s
	return nil
}

func (t *mockTx) UpdateCharacterState(ctx context.Context, id int64, state map[string]any) error {
	if err := t.write("UpdateCharacterState"); err != nil {
		return err
	}
	c, ok := t.d.characters[id]
	if !ok {
		return notFound("character", id)
	}
	c.State = game.CloneState(state)
	t.d.characters[id] = c
	return nil
}

func (t *mockTx) CreateTurn(ctx context.Context, turn *game.Turn) (int64, error) {
	if err := t.write("CreateTurn"); err != nil {
		return 0, err
	}
	tt := *turn
	tt.ID = t.id()
	tt.InitiativeOrder = slices.Clone(turn.InitiativeOrder)
	tt.Active = true
	tt.CreatedAt = t.m.Now()
	t.d.turns[tt.ID] = tt
	return tt.ID, nil
}

func (t *mockTx) UpdateTurn(ctx context.Context, id int64, turnNumber int, activeCharacterID *int64) error {
	if err := t.write("UpdateTurn"); err != nil {
		return err
	}
	turn, ok := t.d.turns[id]
	if !ok {
		return notFound("turn", id)
	}
	turn.TurnNumber = turnNumber
	turn.ActiveCharacterID = activeCharacterID
	t.d.turns[id] = turn
	return nil
}

func (t *mockTx) CloseTurn(ctx context.Context, id int64) error {
	if err := t.write("CloseTurn"); err != nil {
		return err
	}
	turn, ok := t.d.turns[id]
	if !ok {
		return notFound("turn", id)
	}
	now := t.m.Now()
	turn.Active = false
	turn.ActiveCharacterID = nil
	turn.ClosedAt = &now
	t.d.turns[id] = turn
	return nil
}

func (t *mockTx) CreateReplyMessage(ctx context.Context, msg *game.Message) (int64, error) {
	if err := t.write("CreateReplyMessage"); err != nil {
		return 0, err
	}
	now := t.m.Now()
	reply := copyMessage(*msg)
	reply.ID = t.id()
	reply.Kind = game.MessageKindReply
	reply.Processed = true
	reply.CreatedAt = now
	reply.ProcessedAt = &now
	t.d.messages[reply.ID] = reply
	return reply.ID, nil
}

func (t *mockTx) MarkMessageProcessed(ctx context.Context, id int64) error {
	if err := t.write("MarkMessageProcessed"); err != nil {
		return err
	}
	msg, ok := t.d.messages[id]
	if !ok {
		return notFound("message", id)
	}
	if msg.Processed {
		return fmt.Errorf("message %d: %w", id, ErrAlreadyProcessed)
	}
	now := t.m.Now()
	msg.Processed = true
	msg.ProcessedAt = &now
	msg.RetryAfter = nil
	t.d.messages[id] = msg
	return nil
}

func (t *mockTx) RecordMessageFailure(ctx context.Context, id int64, errText string, retryAfter time.Time) error {
	if err := t.write("RecordMessageFailure"); err != nil {
		return err
	}
	msg, ok := t.d.messages[id]
	if !ok {
		return notFound("message", id)
	}
	msg.Attempts++
	msg.LastError = errText
	msg.RetryAfter = &retryAfter
	t.d.messages[id] = msg
	return nil
}

func (t *mockTx) CreateCampaign(ctx context.Context, c *game.Campaign) (int64, error) {
	cc := *c
	cc.ID = t.id()
	t.d.campaigns[cc.ID] = cc
	return cc.ID, nil
}

func (t *mockTx) CreateStory(ctx context.Context, s *game.Story) (int64, error) {
	ss := *s
	ss.ID = t.id()
	t.d.stories[ss.ID] = ss
	return ss.ID, nil
}

func (t *mockTx) CreateScene(ctx context.Context, s *game.Scene) (int64, error) {
	ss := *s
	ss.ID = t.id()
	if ss.Phase == "" {
		ss.Phase = game.PhaseNarration
	}
	if ss.CreatedAt.IsZero() {
		ss.CreatedAt = t.m.Now()
	}
	t.d.scenes[ss.ID] = ss
	return ss.ID, nil
}

func (t *mockTx) CreatePlayer(ctx context.Context, p *game.Player) (int64, error) {
	pp := *p
	pp.ID = t.id()
	t.d.players[pp.ID] = pp
	return pp.ID, nil
}

func (t *mockTx) CreateCharacter(ctx context.Context, c *game.Character, campaignID int64) (int64, error) {
	cc := copyCharacter(*c)
	cc.ID = t.id()
	t.d.characters[cc.ID] = cc
	if campaignID != 0 {
		t.d.campaignMember[campaignID] = append(t.d.campaignMember[campaignID], cc.ID)
	}
	return cc.ID, nil
}

func (t *mockTx) CreateRuleset(ctx context.Context, r *game.Ruleset) (int64, error) {
	rr := *r
	rr.ID = t.id()
	t.d.rulesets[rr.ID] = rr
	return rr.ID, nil
}

func (t *mockTx) CreateMessage(ctx context.Context, m *game.Message) (int64, error) {
	mm := copyMessage(*m)
	mm.ID = t.id()
	if mm.Kind == "" {
		mm.Kind = game.MessageKindEntry
	}
	if mm.CreatedAt.IsZero() {
		mm.CreatedAt = t.m.Now()
	}
	t.d.messages[mm.ID] = mm
	return mm.ID, nil
}

// Wrappers binding each Tx method to the live data

func (m *MockStorage) NextUnprocessedMessage(ctx context.Context, now time.Time, maxAttempts int) (msg *game.Message, err error) {
	err = m.do(func(tx *mockTx) error { msg, err = tx.NextUnprocessedMessage(ctx, now, maxAttempts); return err })
	return msg, err
}

func (m *MockStorage) GetMessage(ctx context.Context, id int64) (msg *game.Message, err error) {
	err = m.do(func(tx *mockTx) error { msg, err = tx.GetMessage(ctx, id); return err })
	return msg, err
}

func (m *MockStorage) GetScene(ctx context.Context, id int64) (s *game.Scene, err error) {
	err = m.do(func(tx *mockTx) error { s, err = tx.GetScene(ctx, id); return err })
	return s, err
}

func (m *MockStorage) GetStory(ctx context.Context, id int64) (s *game.Story, err error) {
	err = m.do(func(tx *mockTx) error { s, err = tx.GetStory(ctx, id); return err })
	return s, err
}

func (m *MockStorage) GetCampaign(ctx context.Context, id int64) (c *game.Campaign, err error) {
	err = m.do(func(tx *mockTx) error { c, err = tx.GetCampaign(ctx, id); return err })
	return c, err
}

func (m *MockStorage) GetRulesetByCampaign(ctx context.Context, campaignID int64) (r *game.Ruleset, err error) {
	err = m.do(func(tx *mockTx) error { r, err = tx.GetRulesetByCampaign(ctx, campaignID); return err })
	return r, err
}

func (m *MockStorage) GetCharacter(ctx context.Context, id int64) (c *game.Character, err error) {
	err = m.do(func(tx *mockTx) error { c, err = tx.GetCharacter(ctx, id); return err })
	return c, err
}

func (m *MockStorage) GetCharactersForScene(ctx context.Context, sceneID int64) (cs []game.Character, err error) {
	err = m.do(func(tx *mockTx) error { cs, err = tx.GetCharactersForScene(ctx, sceneID); return err })
	return cs, err
}

func (m *MockStorage) FindCharacterBySender(ctx context.Context, campaignID int64, sender string) (c *game.Character, err error) {
	err = m.do(func(tx *mockTx) error { c, err = tx.FindCharacterBySender(ctx, campaignID, sender); return err })
	return c, err
}

func (m *MockStorage) GetActiveTurn(ctx context.Context, sceneID int64) (turn *game.Turn, err error) {
	err = m.do(func(tx *mockTx) error { turn, err = tx.GetActiveTurn(ctx, sceneID); return err })
	return turn, err
}

func (m *MockStorage) ListUnsummarizedMessages(ctx context.Context, sceneID int64) (msgs []game.Message, err error) {
	err = m.do(func(tx *mockTx) error { msgs, err = tx.ListUnsummarizedMessages(ctx, sceneID); return err })
	return msgs, err
}

func (m *MockStorage) ListUnsummarizedScenes(ctx context.Context, storyID int64) (ss []game.Scene, err error) {
	err = m.do(func(tx *mockTx) error { ss, err = tx.ListUnsummarizedScenes(ctx, storyID); return err })
	return ss, err
}

func (m *MockStorage) ListUnsummarizedStories(ctx context.Context, campaignID int64) (ss []game.Story, err error) {
	err = m.do(func(tx *mockTx) error { ss, err = tx.ListUnsummarizedStories(ctx, campaignID); return err })
	return ss, err
}

func (m *MockStorage) Stats(ctx context.Context, now time.Time, maxAttempts int) (st game.Stats, err error) {
	err = m.do(func(tx *mockTx) error { st, err = tx.Stats(ctx, now, maxAttempts); return err })
	return st, err
}

func (m *MockStorage) UpdateSceneSummary(ctx context.Context, id int64, summary string) error {
	return m.do(func(tx *mockTx) error { return tx.UpdateSceneSummary(ctx, id, summary) })
}

func (m *MockStorage) MarkMessagesSummarized(ctx context.Context, ids []int64) error {
	return m.do(func(tx *mockTx) error { return tx.MarkMessagesSummarized(ctx, ids) })
}

func (m *MockStorage) UpdateStorySummary(ctx context.Context, id int64, summary string) error {
	return m.do(func(tx *mockTx) error { return tx.UpdateStorySummary(ctx, id, summary) })
}

func (m *MockStorage) MarkScenesSummarized(ctx context.Context, ids []int64) error {
	return m.do(func(tx *mockTx) error { return tx.MarkScenesSummarized(ctx, ids) })
}

func (m *MockStorage) UpdateCampaignSummary(ctx context.Context, id int64, summary string) error {
	return m.do(func(tx *mockTx) error { return tx.UpdateCampaignSummary(ctx, id, summary) })
}

func (m *MockStorage) MarkStoriesSummarized(ctx context.Context, ids []int64) error {
	return m.do(func(tx *mockTx) error { return tx.MarkStoriesSummarized(ctx, ids) })
}

func (m *MockStorage) UpdateScenePhase(ctx context.Context, id int64, phase game.Phase) error {
	return m.do(func(tx *mockTx) error { return tx.UpdateScenePhase(ctx, id, phase) })
}

func (m *MockStorage) UpdateCharacterState(ctx context.Context, id int64, state map[string]any) error {
	return m.do(func(tx *mockTx) error { return tx.UpdateCharacterState(ctx, id, state) })
}

func (m *MockStorage) CreateTurn(ctx context.Context, turn *game.Turn) (id int64, err error) {
	err = m.do(func(tx *mockTx) error { id, err = tx.CreateTurn(ctx, turn); return err })
	return id, err
}

func (m *MockStorage) UpdateTurn(ctx context.Context, id int64, turnNumber int, activeCharacterID *int64) error {
	return m.do(func(tx *mockTx) error { return tx.UpdateTurn(ctx, id, turnNumber, activeCharacterID) })
}

func (m *MockStorage) CloseTurn(ctx context.Context, id int64) error {
	return m.do(func(tx *mockTx) error { return tx.CloseTurn(ctx, id) })
}

func (m *MockStorage) CreateReplyMessage(ctx context.Context, msg *game.Message) (id int64, err error) {
	err = m.do(func(tx *mockTx) error { id, err = tx.CreateReplyMessage(ctx, msg); return err })
	return id, err
}

func (m *MockStorage) MarkMessageProcessed(ctx context.Context, id int64) error {
	return m.do(func(tx *mockTx) error { return tx.MarkMessageProcessed(ctx, id) })
}

func (m *MockStorage) RecordMessageFailure(ctx context.Context, id int64, errText string, retryAfter time.Time) error {
	return m.do(func(tx *mockTx) error { return tx.RecordMessageFailure(ctx, id, errText, retryAfter) })
}

func (m *MockStorage) CreateCampaign(ctx context.Context, c *game.Campaign) (id int64, err error) {
	err = m.do(func(tx *mockTx) error { id, err = tx.CreateCampaign(ctx, c); return err })
	return id, err
}

func (m *MockStorage) CreateStory(ctx context.Context, s *game.Story) (id int64, err error) {
	err = m.do(func(tx *mockTx) error { id, err = tx.CreateStory(ctx, s); return err })
	return id, err
}

func (m *MockStorage) CreateScene(ctx context.Context, s *game.Scene) (id int64, err error) {
	err = m.do(func(tx *mockTx) error { id, err = tx.CreateScene(ctx, s); return err })
	return id, err
}

func (m *MockStorage) CreatePlayer(ctx context.Context, p *game.Player) (id int64, err error) {
	err = m.do(func(tx *mockTx) error { id, err = tx.CreatePlayer(ctx, p); return err })
	return id, err
}

func (m *MockStorage) CreateCharacter(ctx context.Context, c *game.Character, campaignID int64) (id int64, err error) {
	err = m.do(func(tx *mockTx) error { id, err = tx.CreateCharacter(ctx, c, campaignID); return err })
	return id, err
}

func (m *MockStorage) CreateRuleset(ctx context.Context, r *game.Ruleset) (id int64, err error) {
	err = m.do(func(tx *mockTx) error { id, err = tx.CreateRuleset(ctx, r); return err })
	return id, err
}

func (m *MockStorage) CreateMessage(ctx context.Context, msg *game.Message) (id int64, err error) {
	err = m.do(func(tx *mockTx) error { id, err = tx.CreateMessage(ctx, msg); return err })
	return id, err
}
