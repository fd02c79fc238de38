package game

import (
	"time"
)

// MessageKind distinguishes inbound player mail from narrator replies
type MessageKind string

const (
	MessageKindEntry MessageKind = "entry"
	MessageKindReply MessageKind = "reply"
)

// Message is one mail item in a campaign thread. Entries are created
// unprocessed by the mail ingestion side; replies are born processed.
type Message struct {
	ID            int64       `json:"id" yaml:"-"`
	Kind          MessageKind `json:"kind" yaml:"kind"`
	Sender        string      `json:"sender" yaml:"sender"`
	Recipients    []string    `json:"recipients" yaml:"recipients"`
	Subject       string      `json:"subject" yaml:"subject"`
	Body          string      `json:"body" yaml:"body"`
	ThreadID      string      `json:"thread_id,omitempty" yaml:"thread_id"`
	MailMessageID string      `json:"mail_message_id,omitempty" yaml:"mail_message_id"`
	InReplyTo     string      `json:"in_reply_to,omitempty" yaml:"in_reply_to"`
	CampaignID    int64       `json:"campaign_id" yaml:"-"`
	SceneID       *int64      `json:"scene_id,omitempty" yaml:"-"`
	CharacterID   *int64      `json:"character_id,omitempty" yaml:"-"`
	Processed     bool        `json:"processed" yaml:"-"`
	Summarized    bool        `json:"summarized" yaml:"-"`
	Attempts      int         `json:"attempts" yaml:"-"`
	LastError     string      `json:"last_error,omitempty" yaml:"-"`
	RetryAfter    *time.Time  `json:"retry_after,omitempty" yaml:"-"`
	CreatedAt     time.Time   `json:"created_at" yaml:"-"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty" yaml:"-"`
}

// IsReply reports whether the message was written by the narrator
func (m *Message) IsReply() bool {
	return m.Kind == MessageKindReply
}

// Campaign is the top of the narrative hierarchy
type Campaign struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Active      bool   `json:"active"`
}

// Story groups scenes inside a campaign
type Story struct {
	ID          int64  `json:"id"`
	CampaignID  int64  `json:"campaign_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Active      bool   `json:"active"`
	Summarized  bool   `json:"summarized"`
}

// Scene is where messages are exchanged. Phase is the single source of
// truth for narration vs combat.
type Scene struct {
	ID          int64     `json:"id"`
	StoryID     int64     `json:"story_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Phase       Phase     `json:"phase"`
	Active      bool      `json:"active"`
	Summarized  bool      `json:"summarized"`
	CreatedAt   time.Time `json:"created_at"`
}

// Player owns characters and is identified by mail address
type Player struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Nickname string `json:"nickname,omitempty"`
}

// Character has a static sheet and a mutable current state. Only State is
// rewritten by the pipeline.
type Character struct {
	ID       int64          `json:"id"`
	PlayerID *int64         `json:"player_id,omitempty"`
	Name     string         `json:"name"`
	Kind     string         `json:"kind,omitempty"`
	Sheet    map[string]any `json:"sheet,omitempty"`
	State    map[string]any `json:"state,omitempty"`
	Active   bool           `json:"active"`
}

// Ruleset holds the rules and setting text for a campaign
type Ruleset struct {
	ID         int64  `json:"id"`
	CampaignID int64  `json:"campaign_id"`
	Name       string `json:"name"`
	Rules      string `json:"rules,omitempty"`
	Setting    string `json:"setting,omitempty"`
	Active     bool   `json:"active"`
}

// Turn tracks initiative for a scene while it is in combat
type Turn struct {
	ID                int64      `json:"id"`
	SceneID           int64      `json:"scene_id"`
	InitiativeOrder   []int64    `json:"initiative_order"`
	TurnNumber        int        `json:"turn_number"`
	ActiveCharacterID *int64     `json:"active_character_id,omitempty"`
	Active            bool       `json:"active"`
	CreatedAt         time.Time  `json:"created_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

// Stats is a snapshot of queue health
type Stats struct {
	Pending        int `json:"pending"`
	Parked         int `json:"parked"`
	ProcessedToday int `json:"processed_today"`
	RepliesToday   int `json:"replies_today"`
}

// CloneState returns a shallow copy of a character state blob
func CloneState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

// Int64Ptr is a helper for optional ids
func Int64Ptr(v int64) *int64 {
	return &v
}
