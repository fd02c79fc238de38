package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jwebster45206/pbem-engine/pkg/game"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyProcessed is returned when a message was processed by another run
	ErrAlreadyProcessed = errors.New("message already processed")
)

// Reader is the read side of the context store
type Reader interface {
	// NextUnprocessedMessage returns the oldest eligible entry or nil when the
	// queue is empty. Messages with maxAttempts failures are parked; a scene
	// with a deferred message yields nothing newer until the retry is due.
	NextUnprocessedMessage(ctx context.Context, now time.Time, maxAttempts int) (*game.Message, error)
	GetMessage(ctx context.Context, id int64) (*game.Message, error)

	GetScene(ctx context.Context, id int64) (*game.Scene, error)
	GetStory(ctx context.Context, id int64) (*game.Story, error)
	GetCampaign(ctx context.Context, id int64) (*game.Campaign, error)
	GetRulesetByCampaign(ctx context.Context, campaignID int64) (*game.Ruleset, error)

	GetCharacter(ctx context.Context, id int64) (*game.Character, error)
	GetCharactersForScene(ctx context.Context, sceneID int64) ([]game.Character, error)
	FindCharacterBySender(ctx context.Context, campaignID int64, sender string) (*game.Character, error)

	// GetActiveTurn returns nil when the scene has no open turn
	GetActiveTurn(ctx context.Context, sceneID int64) (*game.Turn, error)

	// Summarization candidates, oldest first
	ListUnsummarizedMessages(ctx context.Context, sceneID int64) ([]game.Message, error)
	ListUnsummarizedScenes(ctx context.Context, storyID int64) ([]game.Scene, error)
	ListUnsummarizedStories(ctx context.Context, campaignID int64) ([]game.Story, error)

	Stats(ctx context.Context, now time.Time, maxAttempts int) (game.Stats, error)
}

// Writer is the write side of the context store
type Writer interface {
	UpdateSceneSummary(ctx context.Context, id int64, summary string) error
	MarkMessagesSummarized(ctx context.Context, ids []int64) error
	UpdateStorySummary(ctx context.Context, id int64, summary string) error
	MarkScenesSummarized(ctx context.Context, ids []int64) error
	UpdateCampaignSummary(ctx context.Context, id int64, summary string) error
	MarkStoriesSummarized(ctx context.Context, ids []int64) error

	UpdateScenePhase(ctx context.Context, id int64, phase game.Phase) error
	UpdateCharacterState(ctx context.Context, id int64, state map[string]any) error

	CreateTurn(ctx context.Context, turn *game.Turn) (int64, error)
	UpdateTurn(ctx context.Context, id int64, turnNumber int, activeCharacterID *int64) error
	CloseTurn(ctx context.Context, id int64) error

	CreateReplyMessage(ctx context.Context, msg *game.Message) (int64, error)
	// MarkMessageProcessed returns ErrAlreadyProcessed if the flag was set
	MarkMessageProcessed(ctx context.Context, id int64) error
	RecordMessageFailure(ctx context.Context, id int64, errText string, retryAfter time.Time) error
}

// Tx is a view of the store bound to one transaction
type Tx interface {
	Reader
	Writer
}

// Seeder creates the entities the pipeline reads. The pipeline itself never
// calls it; fixtures and the mail ingestion side do.
type Seeder interface {
	CreateCampaign(ctx context.Context, c *game.Campaign) (int64, error)
	CreateStory(ctx context.Context, s *game.Story) (int64, error)
	CreateScene(ctx context.Context, s *game.Scene) (int64, error)
	CreatePlayer(ctx context.Context, p *game.Player) (int64, error)
	CreateCharacter(ctx context.Context, c *game.Character, campaignID int64) (int64, error)
	CreateRuleset(ctx context.Context, r *game.Ruleset) (int64, error)
	CreateMessage(ctx context.Context, m *game.Message) (int64, error)
}

// Storage defines a unified interface for all context store operations
type Storage interface {
	Tx
	Seeder

	// WithinTx runs fn in a single transaction. Any error from fn rolls
	// everything back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error
}
