package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jwebster45206/pbem-engine/pkg/game"
)

// GetActiveTurn returns the open turn of a scene, or nil
func (s *Store) GetActiveTurn(ctx context.Context, sceneID int64) (*game.Turn, error) {
	var (
		turn      game.Turn
		order     string
		activeID  sql.NullInt64
		createdAt int64
		closedAt  sql.NullInt64
	)
	err := s.q.QueryRowContext(ctx, `
SELECT id, scene_id, initiative_order, turn_number, active_character_id, active, created_at, closed_at
FROM turns
WHERE scene_id = ? AND active = 1
ORDER BY id DESC
LIMIT 1`, sceneID).Scan(&turn.ID, &turn.SceneID, &order, &turn.TurnNumber, &activeID, &turn.Active, &createdAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active turn for scene %d: %w", sceneID, err)
	}
	if err := json.Unmarshal([]byte(order), &turn.InitiativeOrder); err != nil {
		return nil, fmt.Errorf("failed to decode initiative order of turn %d: %w", turn.ID, err)
	}
	turn.ActiveCharacterID = nullID(activeID)
	turn.CreatedAt = fromMillis(createdAt)
	turn.ClosedAt = nullTime(closedAt)
	return &turn, nil
}

// CreateTurn opens a turn for a scene. The unique index on open turns
// rejects a second open turn for the same scene.
func (s *Store) CreateTurn(ctx context.Context, turn *game.Turn) (int64, error) {
	order, err := encodeJSON(turn.InitiativeOrder, "[]")
	if err != nil {
		return 0, fmt.Errorf("failed to encode initiative order: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `
INSERT INTO turns (scene_id, initiative_order, turn_number, active_character_id, active, created_at)
VALUES (?, ?, ?, ?, 1, ?)`,
		turn.SceneID, order, turn.TurnNumber, idArg(turn.ActiveCharacterID), toMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to create turn: %w", err)
	}
	return res.LastInsertId()
}

// UpdateTurn moves the active-turn pointer
func (s *Store) UpdateTurn(ctx context.Context, id int64, turnNumber int, activeCharacterID *int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE turns SET turn_number = ?, active_character_id = ? WHERE id = ? AND active = 1`,
		turnNumber, idArg(activeCharacterID), id)
	if err != nil {
		return fmt.Errorf("failed to update turn: %w", err)
	}
	return expectRow(res, "turn", id)
}

// CloseTurn marks a turn inactive and clears its pointer
func (s *Store) CloseTurn(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE turns SET active = 0, active_character_id = NULL, closed_at = ? WHERE id = ? AND active = 1`,
		toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to close turn: %w", err)
	}
	return expectRow(res, "turn", id)
}
