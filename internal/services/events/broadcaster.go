package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeMessageProcessing EventType = "message.processing"
	EventTypeMessageProcessed  EventType = "message.processed"
	EventTypeMessageFailed     EventType = "message.failed"
	EventTypePhaseChanged      EventType = "scene.phase_changed"
)

// Event represents a generic event structure
type Event struct {
	Type       EventType      `json:"type"`
	CampaignID int64          `json:"campaign_id"`
	MessageID  int64          `json:"message_id,omitempty"`
	SceneID    int64          `json:"scene_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}

// Publisher is what the pipeline needs from an event sink
type Publisher interface {
	MessageProcessing(ctx context.Context, campaignID, messageID int64) error
	MessageProcessed(ctx context.Context, campaignID, messageID, replyID int64, phaseBefore, phaseAfter string, outOfTurn bool) error
	MessageFailed(ctx context.Context, campaignID, messageID int64, errMsg string) error
	PhaseChanged(ctx context.Context, campaignID, sceneID int64, from, to string) error
}

// Channel returns the pub/sub channel for a campaign
func Channel(campaignID int64) string {
	return fmt.Sprintf("campaign-events:%d", campaignID)
}

// Broadcaster publishes events to Redis Pub/Sub
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
	now         func() time.Time
}

var _ Publisher = (*Broadcaster)(nil)

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
		now:         time.Now,
	}
}

func (b *Broadcaster) MessageProcessing(ctx context.Context, campaignID, messageID int64) error {
	return b.publish(ctx, Event{
		Type:       EventTypeMessageProcessing,
		CampaignID: campaignID,
		MessageID:  messageID,
		Data:       map[string]any{"status": "processing"},
	})
}

func (b *Broadcaster) MessageProcessed(ctx context.Context, campaignID, messageID, replyID int64, phaseBefore, phaseAfter string, outOfTurn bool) error {
	return b.publish(ctx, Event{
		Type:       EventTypeMessageProcessed,
		CampaignID: campaignID,
		MessageID:  messageID,
		Data: map[string]any{
			"status":       "processed",
			"reply_id":     replyID,
			"phase_before": phaseBefore,
			"phase_after":  phaseAfter,
			"out_of_turn":  outOfTurn,
		},
	})
}

func (b *Broadcaster) MessageFailed(ctx context.Context, campaignID, messageID int64, errMsg string) error {
	return b.publish(ctx, Event{
		Type:       EventTypeMessageFailed,
		CampaignID: campaignID,
		MessageID:  messageID,
		Data: map[string]any{
			"status": "failed",
			"error":  errMsg,
		},
	})
}

func (b *Broadcaster) PhaseChanged(ctx context.Context, campaignID, sceneID int64, from, to string) error {
	return b.publish(ctx, Event{
		Type:       EventTypePhaseChanged,
		CampaignID: campaignID,
		SceneID:    sceneID,
		Data: map[string]any{
			"from": from,
			"to":   to,
		},
	})
}

// publish sends an event to the campaign channel
func (b *Broadcaster) publish(ctx context.Context, event Event) error {
	channel := Channel(event.CampaignID)
	event.Timestamp = b.now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
		"message_id", event.MessageID,
	)

	return nil
}

// Nop discards every event. Used when Redis is not configured.
type Nop struct{}

var _ Publisher = Nop{}

func (Nop) MessageProcessing(context.Context, int64, int64) error {
	return nil
}

func (Nop) MessageProcessed(context.Context, int64, int64, int64, string, string, bool) error {
	return nil
}

func (Nop) MessageFailed(context.Context, int64, int64, string) error {
	return nil
}

func (Nop) PhaseChanged(context.Context, int64, int64, string, string) error {
	return nil
}
