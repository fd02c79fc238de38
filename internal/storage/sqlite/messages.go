package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/storage"
)

const messageColumns = `m.id, m.kind, m.sender, m.recipients, m.subject, m.body, m.thread_id,
	m.mail_message_id, m.in_reply_to, m.campaign_id, m.scene_id, m.character_id,
	m.processed, m.summarized, m.attempts, m.last_error, m.retry_after, m.created_at, m.processed_at`

func scanMessage(row rowScanner) (*game.Message, error) {
	var (
		msg         game.Message
		kind        string
		recipients  string
		sceneID     sql.NullInt64
		characterID sql.NullInt64
		retryAfter  sql.NullInt64
		createdAt   int64
		processedAt sql.NullInt64
	)
	if err := row.Scan(
		&msg.ID, &kind, &msg.Sender, &recipients, &msg.Subject, &msg.Body, &msg.ThreadID,
		&msg.MailMessageID, &msg.InReplyTo, &msg.CampaignID, &sceneID, &characterID,
		&msg.Processed, &msg.Summarized, &msg.Attempts, &msg.LastError, &retryAfter, &createdAt, &processedAt,
	); err != nil {
		return nil, err
	}
	msg.Kind = game.MessageKind(kind)
	if err := json.Unmarshal([]byte(recipients), &msg.Recipients); err != nil {
		return nil, fmt.Errorf("failed to decode recipients of message %d: %w", msg.ID, err)
	}
	msg.SceneID = nullID(sceneID)
	msg.CharacterID = nullID(characterID)
	msg.RetryAfter = nullTime(retryAfter)
	msg.CreatedAt = fromMillis(createdAt)
	msg.ProcessedAt = nullTime(processedAt)
	return &msg, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]game.Message, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]game.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}

// NextUnprocessedMessage returns the oldest eligible entry, or nil
func (s *Store) NextUnprocessedMessage(ctx context.Context, now time.Time, maxAttempts int) (*game.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := s.q.QueryRowContext(ctx, `
SELECT `+messageColumns+`
FROM messages m
WHERE m.kind = 'entry'
  AND m.processed = 0
  AND (?1 <= 0 OR m.attempts < ?1)
  AND (m.retry_after IS NULL OR m.retry_after <= ?2)
  AND NOT EXISTS (
    SELECT 1 FROM messages d
    WHERE d.kind = 'entry'
      AND d.processed = 0
      AND d.scene_id IS m.scene_id
      AND (?1 <= 0 OR d.attempts < ?1)
      AND d.retry_after IS NOT NULL AND d.retry_after > ?2
      AND (d.created_at < m.created_at OR (d.created_at = m.created_at AND d.id < m.id))
  )
ORDER BY m.created_at, m.id
LIMIT 1`, maxAttempts, toMillis(now))

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load next unprocessed message: %w", err)
	}
	return msg, nil
}

// GetMessage loads one message by id
func (s *Store) GetMessage(ctx context.Context, id int64) (*game.Message, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, notFound("message", id, err)
	}
	return msg, nil
}

// ListUnsummarizedMessages returns processed messages of a scene that have
// not been folded into its summary yet, oldest first
func (s *Store) ListUnsummarizedMessages(ctx context.Context, sceneID int64) ([]game.Message, error) {
	return s.queryMessages(ctx, `
SELECT `+messageColumns+`
FROM messages m
WHERE m.scene_id = ? AND m.processed = 1 AND m.summarized = 0
ORDER BY m.created_at, m.id`, sceneID)
}

// MarkMessagesSummarized flags messages as folded into the scene summary
func (s *Store) MarkMessagesSummarized(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	marks, args := inClause(ids)
	if _, err := s.q.ExecContext(ctx, `UPDATE messages SET summarized = 1 WHERE id IN (`+marks+`)`, args...); err != nil {
		return fmt.Errorf("failed to mark messages summarized: %w", err)
	}
	return nil
}

func (s *Store) insertMessage(ctx context.Context, msg *game.Message, processed bool) (int64, error) {
	recipients, err := encodeJSON(msg.Recipients, "[]")
	if err != nil {
		return 0, fmt.Errorf("failed to encode recipients: %w", err)
	}
	created := msg.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	var processedAt any
	if processed {
		processedAt = toMillis(s.now())
	}

	res, err := s.q.ExecContext(ctx, `
INSERT INTO messages (
	kind, sender, recipients, subject, body, thread_id, mail_message_id, in_reply_to,
	campaign_id, scene_id, character_id, processed, created_at, processed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(msg.Kind), msg.Sender, recipients, msg.Subject, msg.Body, msg.ThreadID, msg.MailMessageID, msg.InReplyTo,
		msg.CampaignID, idArg(msg.SceneID), idArg(msg.CharacterID), boolInt(processed), toMillis(created), processedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return res.LastInsertId()
}

// CreateReplyMessage stores a narrator reply. Replies are born processed.
func (s *Store) CreateReplyMessage(ctx context.Context, msg *game.Message) (int64, error) {
	reply := *msg
	reply.Kind = game.MessageKindReply
	reply.CreatedAt = s.now()
	return s.insertMessage(ctx, &reply, true)
}

// CreateMessage stores an inbound entry
func (s *Store) CreateMessage(ctx context.Context, msg *game.Message) (int64, error) {
	entry := *msg
	if entry.Kind == "" {
		entry.Kind = game.MessageKindEntry
	}
	return s.insertMessage(ctx, &entry, entry.Kind == game.MessageKindReply)
}

// MarkMessageProcessed flips the processed flag exactly once
func (s *Store) MarkMessageProcessed(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE messages SET processed = 1, processed_at = ?, retry_after = NULL WHERE id = ? AND processed = 0`,
		toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetMessage(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("message %d: %w", id, storage.ErrAlreadyProcessed)
}

// RecordMessageFailure bumps the attempt counter and defers the message
func (s *Store) RecordMessageFailure(ctx context.Context, id int64, errText string, retryAfter time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE messages SET attempts = attempts + 1, last_error = ?, retry_after = ? WHERE id = ?`,
		errText, toMillis(retryAfter), id)
	if err != nil {
		return fmt.Errorf("failed to record message failure: %w", err)
	}
	return expectRow(res, "message", id)
}

// Stats counts queue state relative to the day containing now
func (s *Store) Stats(ctx context.Context, now time.Time, maxAttempts int) (game.Stats, error) {
	y, mo, d := now.Date()
	dayStart := toMillis(time.Date(y, mo, d, 0, 0, 0, 0, now.Location()))

	var st game.Stats
	err := s.q.QueryRowContext(ctx, `
SELECT
  COALESCE(SUM(CASE WHEN kind = 'entry' AND processed = 0 AND (?1 <= 0 OR attempts < ?1) THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN kind = 'entry' AND processed = 0 AND ?1 > 0 AND attempts >= ?1 THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN kind = 'entry' AND processed = 1 AND processed_at >= ?2 THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN kind = 'reply' AND created_at >= ?2 THEN 1 ELSE 0 END), 0)
FROM messages`, maxAttempts, dayStart).Scan(&st.Pending, &st.Parked, &st.ProcessedToday, &st.RepliesToday)
	if err != nil {
		return st, fmt.Errorf("failed to compute stats: %w", err)
	}
	return st, nil
}
