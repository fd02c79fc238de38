// Package commit writes everything one message changes in a single
// transaction: the reply, the processed flag, the phase and turn, and the
// character states.
package commit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/state"
	"github.com/jwebster45206/pbem-engine/pkg/storage"
)

const (
	DefaultNarratorAddress = "ia_narrator@aimailrol.com"
	DefaultMailDomain      = "aimailrol.com"
)

// Committer applies a finished Processing to the store
type Committer struct {
	store    storage.Storage
	narrator string
	domain   string
	logger   *slog.Logger
	newID    func() string
}

// New creates a committer. Empty addresses fall back to the defaults.
func New(store storage.Storage, narratorAddress, mailDomain string, logger *slog.Logger) *Committer {
	if narratorAddress == "" {
		narratorAddress = DefaultNarratorAddress
	}
	if mailDomain == "" {
		mailDomain = DefaultMailDomain
	}
	return &Committer{
		store:    store,
		narrator: narratorAddress,
		domain:   mailDomain,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Commit persists p atomically and returns the id of the reply. Nothing is
// written when any part fails.
func (c *Committer) Commit(ctx context.Context, p *state.Processing) (int64, error) {
	if p == nil || p.Message == nil {
		return 0, fmt.Errorf("nothing to commit")
	}
	if strings.TrimSpace(p.Reply) == "" {
		return 0, fmt.Errorf("refusing to commit message %d without a reply", p.Message.ID)
	}

	reply := c.BuildReply(p.Message, p.Reply)
	var replyID int64

	err := c.store.WithinTx(ctx, func(tx storage.Tx) error {
		if err := tx.MarkMessageProcessed(ctx, p.Message.ID); err != nil {
			return fmt.Errorf("failed to mark message processed: %w", err)
		}

		id, err := tx.CreateReplyMessage(ctx, reply)
		if err != nil {
			return fmt.Errorf("failed to create reply: %w", err)
		}
		replyID = id

		if sceneID := p.SceneID(); sceneID != 0 {
			if p.PhaseChanged() {
				if err := tx.UpdateScenePhase(ctx, sceneID, p.PhaseAfter); err != nil {
					return fmt.Errorf("failed to update scene phase: %w", err)
				}
			}
			if err := applyTurn(ctx, tx, sceneID, p.TurnPlan); err != nil {
				return err
			}
		}

		return applyStates(ctx, tx, p.StateDelta)
	})
	if err != nil {
		return 0, err
	}

	c.logger.Debug("Message committed",
		"message_id", p.Message.ID,
		"reply_id", replyID,
		"phase_after", p.PhaseAfter,
		"turn_action", p.TurnPlan.Action,
		"characters_updated", len(p.StateDelta))
	return replyID, nil
}

func applyTurn(ctx context.Context, tx storage.Tx, sceneID int64, plan state.TurnPlan) error {
	switch plan.Action {
	case state.TurnOpen:
		if plan.TurnID != 0 {
			if err := tx.CloseTurn(ctx, plan.TurnID); err != nil {
				return fmt.Errorf("failed to close stale turn: %w", err)
			}
		}
		_, err := tx.CreateTurn(ctx, &game.Turn{
			SceneID:           sceneID,
			InitiativeOrder:   plan.Order,
			TurnNumber:        0,
			ActiveCharacterID: plan.ActiveCharacterID,
		})
		if err != nil {
			return fmt.Errorf("failed to create turn: %w", err)
		}
	case state.TurnAdvance:
		if err := tx.UpdateTurn(ctx, plan.TurnID, plan.TurnNumber, plan.ActiveCharacterID); err != nil {
			return fmt.Errorf("failed to advance turn: %w", err)
		}
	case state.TurnClose:
		if err := tx.CloseTurn(ctx, plan.TurnID); err != nil {
			return fmt.Errorf("failed to close turn: %w", err)
		}
	}
	return nil
}

func applyStates(ctx context.Context, tx storage.Tx, delta state.StateDelta) error {
	ids := make([]int64, 0, len(delta))
	for id := range delta {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		if err := tx.UpdateCharacterState(ctx, id, delta[id]); err != nil {
			return fmt.Errorf("failed to update state of character %d: %w", id, err)
		}
	}
	return nil
}

// BuildReply addresses the narrator's answer to msg: back to the sender and
// everyone else on the thread, never to the narrator itself.
func (c *Committer) BuildReply(msg *game.Message, body string) *game.Message {
	return &game.Message{
		Kind:          game.MessageKindReply,
		Sender:        c.narrator,
		Recipients:    c.recipients(msg),
		Subject:       replySubject(msg.Subject),
		Body:          body,
		ThreadID:      msg.ThreadID,
		MailMessageID: fmt.Sprintf("<%s@%s>", c.newID(), c.domain),
		InReplyTo:     msg.MailMessageID,
		CampaignID:    msg.CampaignID,
		SceneID:       msg.SceneID,
		CharacterID:   msg.CharacterID,
	}
}

func (c *Committer) recipients(msg *game.Message) []string {
	seen := map[string]bool{strings.ToLower(c.narrator): true}
	out := make([]string, 0, len(msg.Recipients)+1)
	for _, addr := range append([]string{msg.Sender}, msg.Recipients...) {
		addr = strings.TrimSpace(addr)
		key := strings.ToLower(addr)
		if addr == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, addr)
	}
	return out
}

func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if len(subject) >= 3 && strings.EqualFold(subject[:3], "re:") {
		return subject
	}
	if subject == "" {
		return "Re:"
	}
	return "Re: " + subject
}
