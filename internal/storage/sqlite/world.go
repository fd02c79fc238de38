package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/storage"
)

const (
	sceneColumns     = `s.id, s.story_id, s.title, s.description, s.summary, s.phase, s.active, s.summarized, s.created_at`
	storyColumns     = `st.id, st.campaign_id, st.title, st.description, st.summary, st.active, st.summarized`
	characterColumns = `c.id, c.player_id, c.name, c.kind, c.sheet, c.state, c.active`
)

func scanScene(row rowScanner) (*game.Scene, error) {
	var (
		scene     game.Scene
		phase     string
		createdAt int64
	)
	if err := row.Scan(&scene.ID, &scene.StoryID, &scene.Title, &scene.Description, &scene.Summary,
		&phase, &scene.Active, &scene.Summarized, &createdAt); err != nil {
		return nil, err
	}
	scene.Phase = game.Phase(phase)
	scene.CreatedAt = fromMillis(createdAt)
	return &scene, nil
}

func scanStory(row rowScanner) (*game.Story, error) {
	var story game.Story
	if err := row.Scan(&story.ID, &story.CampaignID, &story.Title, &story.Description, &story.Summary,
		&story.Active, &story.Summarized); err != nil {
		return nil, err
	}
	return &story, nil
}

func scanCharacter(row rowScanner) (*game.Character, error) {
	var (
		ch       game.Character
		playerID sql.NullInt64
		sheet    string
		state    string
	)
	if err := row.Scan(&ch.ID, &playerID, &ch.Name, &ch.Kind, &sheet, &state, &ch.Active); err != nil {
		return nil, err
	}
	ch.PlayerID = nullID(playerID)
	var err error
	if ch.Sheet, err = decodeObject(sheet); err != nil {
		return nil, fmt.Errorf("failed to decode sheet of character %d: %w", ch.ID, err)
	}
	if ch.State, err = decodeObject(state); err != nil {
		return nil, fmt.Errorf("failed to decode state of character %d: %w", ch.ID, err)
	}
	return &ch, nil
}

// GetScene loads a scene; its phase is always read fresh
func (s *Store) GetScene(ctx context.Context, id int64) (*game.Scene, error) {
	scene, err := scanScene(s.q.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes s WHERE s.id = ?`, id))
	if err != nil {
		return nil, notFound("scene", id, err)
	}
	return scene, nil
}

// GetStory loads a story
func (s *Store) GetStory(ctx context.Context, id int64) (*game.Story, error) {
	story, err := scanStory(s.q.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories st WHERE st.id = ?`, id))
	if err != nil {
		return nil, notFound("story", id, err)
	}
	return story, nil
}

// GetCampaign loads a campaign
func (s *Store) GetCampaign(ctx context.Context, id int64) (*game.Campaign, error) {
	var c game.Campaign
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, description, summary, active FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Description, &c.Summary, &c.Active)
	if err != nil {
		return nil, notFound("campaign", id, err)
	}
	return &c, nil
}

// GetRulesetByCampaign returns the newest active ruleset of a campaign
func (s *Store) GetRulesetByCampaign(ctx context.Context, campaignID int64) (*game.Ruleset, error) {
	var r game.Ruleset
	err := s.q.QueryRowContext(ctx, `
SELECT id, campaign_id, name, rules, setting, active
FROM rulesets
WHERE campaign_id = ? AND active = 1
ORDER BY id DESC
LIMIT 1`, campaignID).Scan(&r.ID, &r.CampaignID, &r.Name, &r.Rules, &r.Setting, &r.Active)
	if err != nil {
		return nil, notFound("ruleset for campaign", campaignID, err)
	}
	return &r, nil
}

// GetCharacter loads a character
func (s *Store) GetCharacter(ctx context.Context, id int64) (*game.Character, error) {
	ch, err := scanCharacter(s.q.QueryRowContext(ctx, `SELECT `+characterColumns+` FROM characters c WHERE c.id = ?`, id))
	if err != nil {
		return nil, notFound("character", id, err)
	}
	return ch, nil
}

func (s *Store) queryCharacters(ctx context.Context, query string, args ...any) ([]game.Character, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query characters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]game.Character, 0)
	for rows.Next() {
		ch, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan character: %w", err)
		}
		out = append(out, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate characters: %w", err)
	}
	return out, nil
}

// GetCharactersForScene lists the active characters of the scene's campaign
func (s *Store) GetCharactersForScene(ctx context.Context, sceneID int64) ([]game.Character, error) {
	if _, err := s.GetScene(ctx, sceneID); err != nil {
		return nil, err
	}
	return s.queryCharacters(ctx, `
SELECT `+characterColumns+`
FROM characters c
JOIN campaign_characters cc ON cc.character_id = c.id
JOIN stories st ON st.campaign_id = cc.campaign_id
JOIN scenes s ON s.story_id = st.id
WHERE s.id = ? AND c.active = 1
ORDER BY c.id`, sceneID)
}

// FindCharacterBySender resolves the character a player plays in a campaign
func (s *Store) FindCharacterBySender(ctx context.Context, campaignID int64, sender string) (*game.Character, error) {
	chars, err := s.queryCharacters(ctx, `
SELECT `+characterColumns+`
FROM characters c
JOIN players p ON p.id = c.player_id
JOIN campaign_characters cc ON cc.character_id = c.id
WHERE cc.campaign_id = ? AND p.email = ? COLLATE NOCASE AND c.active = 1
ORDER BY c.id
LIMIT 1`, campaignID, sender)
	if err != nil {
		return nil, err
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("character for sender %q: %w", sender, storage.ErrNotFound)
	}
	return &chars[0], nil
}

// ListUnsummarizedScenes returns closed scenes of a story not yet folded
// into the story summary
func (s *Store) ListUnsummarizedScenes(ctx context.Context, storyID int64) ([]game.Scene, error) {
	rows, err := s.q.QueryContext(ctx, `
SELECT `+sceneColumns+`
FROM scenes s
WHERE s.story_id = ? AND s.active = 0 AND s.summarized = 0
ORDER BY s.id`, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scenes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]game.Scene, 0)
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scene: %w", err)
		}
		out = append(out, *scene)
	}
	return out, rows.Err()
}

// ListUnsummarizedStories returns closed stories of a campaign not yet
// folded into the campaign summary
func (s *Store) ListUnsummarizedStories(ctx context.Context, campaignID int64) ([]game.Story, error) {
	rows, err := s.q.QueryContext(ctx, `
SELECT `+storyColumns+`
FROM stories st
WHERE st.campaign_id = ? AND st.active = 0 AND st.summarized = 0
ORDER BY st.id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]game.Story, 0)
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		out = append(out, *story)
	}
	return out, rows.Err()
}

func (s *Store) updateSummary(ctx context.Context, table string, id int64, summary string) error {
	res, err := s.q.ExecContext(ctx, `UPDATE `+table+` SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("failed to update %s summary: %w", table, err)
	}
	return expectRow(res, table, id)
}

func (s *Store) markSummarized(ctx context.Context, table string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	marks, args := inClause(ids)
	if _, err := s.q.ExecContext(ctx, `UPDATE `+table+` SET summarized = 1 WHERE id IN (`+marks+`)`, args...); err != nil {
		return fmt.Errorf("failed to mark %s summarized: %w", table, err)
	}
	return nil
}

// UpdateSceneSummary replaces the rolling summary of a scene
func (s *Store) UpdateSceneSummary(ctx context.Context, id int64, summary string) error {
	return s.updateSummary(ctx, "scenes", id, summary)
}

// UpdateStorySummary replaces the rolling summary of a story
func (s *Store) UpdateStorySummary(ctx context.Context, id int64, summary string) error {
	return s.updateSummary(ctx, "stories", id, summary)
}

// UpdateCampaignSummary replaces the rolling summary of a campaign
func (s *Store) UpdateCampaignSummary(ctx context.Context, id int64, summary string) error {
	return s.updateSummary(ctx, "campaigns", id, summary)
}

func (s *Store) MarkScenesSummarized(ctx context.Context, ids []int64) error {
	return s.markSummarized(ctx, "scenes", ids)
}

func (s *Store) MarkStoriesSummarized(ctx context.Context, ids []int64) error {
	return s.markSummarized(ctx, "stories", ids)
}

// UpdateScenePhase sets the scene phase
func (s *Store) UpdateScenePhase(ctx context.Context, id int64, phase game.Phase) error {
	if !phase.Valid() {
		return fmt.Errorf("invalid phase %q", phase)
	}
	res, err := s.q.ExecContext(ctx, `UPDATE scenes SET phase = ? WHERE id = ?`, string(phase), id)
	if err != nil {
		return fmt.Errorf("failed to update scene phase: %w", err)
	}
	return expectRow(res, "scene", id)
}

// UpdateCharacterState replaces the current-state blob of a character
func (s *Store) UpdateCharacterState(ctx context.Context, id int64, state map[string]any) error {
	blob, err := encodeJSON(state, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode character state: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `UPDATE characters SET state = ? WHERE id = ?`, blob, id)
	if err != nil {
		return fmt.Errorf("failed to update character state: %w", err)
	}
	return expectRow(res, "character", id)
}
