package sqlite

import (
	"context"
	"fmt"

	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/storage"
)

// CreateCampaign inserts a campaign
func (s *Store) CreateCampaign(ctx context.Context, c *game.Campaign) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO campaigns (name, description, summary, active) VALUES (?, ?, ?, ?)`,
		c.Name, c.Description, c.Summary, boolInt(c.Active))
	if err != nil {
		return 0, fmt.Errorf("failed to create campaign: %w", err)
	}
	return res.LastInsertId()
}

// CreateStory inserts a story
func (s *Store) CreateStory(ctx context.Context, st *game.Story) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO stories (campaign_id, title, description, summary, active, summarized) VALUES (?, ?, ?, ?, ?, ?)`,
		st.CampaignID, st.Title, st.Description, st.Summary, boolInt(st.Active), boolInt(st.Summarized))
	if err != nil {
		return 0, fmt.Errorf("failed to create story: %w", err)
	}
	return res.LastInsertId()
}

// CreateScene inserts a scene, defaulting to narration
func (s *Store) CreateScene(ctx context.Context, sc *game.Scene) (int64, error) {
	phase := sc.Phase
	if phase == "" {
		phase = game.PhaseNarration
	}
	created := sc.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	res, err := s.q.ExecContext(ctx, `
INSERT INTO scenes (story_id, title, description, summary, phase, active, summarized, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.StoryID, sc.Title, sc.Description, sc.Summary, string(phase), boolInt(sc.Active), boolInt(sc.Summarized), toMillis(created))
	if err != nil {
		return 0, fmt.Errorf("failed to create scene: %w", err)
	}
	return res.LastInsertId()
}

// CreatePlayer inserts a player
func (s *Store) CreatePlayer(ctx context.Context, p *game.Player) (int64, error) {
	res, err := s.q.ExecContext(ctx, `INSERT INTO players (email, nickname) VALUES (?, ?)`, p.Email, p.Nickname)
	if err != nil {
		return 0, fmt.Errorf("failed to create player: %w", err)
	}
	return res.LastInsertId()
}

// CreateCharacter inserts a character and links it to a campaign
func (s *Store) CreateCharacter(ctx context.Context, c *game.Character, campaignID int64) (int64, error) {
	sheet, err := encodeJSON(c.Sheet, "{}")
	if err != nil {
		return 0, fmt.Errorf("failed to encode sheet: %w", err)
	}
	state, err := encodeJSON(c.State, "{}")
	if err != nil {
		return 0, fmt.Errorf("failed to encode state: %w", err)
	}

	var id int64
	err = s.WithinTx(ctx, func(tx storage.Tx) error {
		st := tx.(*Store)
		res, err := st.q.ExecContext(ctx,
			`INSERT INTO characters (player_id, name, kind, sheet, state, active) VALUES (?, ?, ?, ?, ?, ?)`,
			idArg(c.PlayerID), c.Name, c.Kind, sheet, state, boolInt(c.Active))
		if err != nil {
			return fmt.Errorf("failed to create character: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if campaignID == 0 {
			return nil
		}
		if _, err := st.q.ExecContext(ctx,
			`INSERT INTO campaign_characters (campaign_id, character_id) VALUES (?, ?)`, campaignID, id); err != nil {
			return fmt.Errorf("failed to link character to campaign: %w", err)
		}
		return nil
	})
	return id, err
}

// CreateRuleset inserts a ruleset
func (s *Store) CreateRuleset(ctx context.Context, r *game.Ruleset) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO rulesets (campaign_id, name, rules, setting, active) VALUES (?, ?, ?, ?, ?)`,
		r.CampaignID, r.Name, r.Rules, r.Setting, boolInt(r.Active))
	if err != nil {
		return 0, fmt.Errorf("failed to create ruleset: %w", err)
	}
	return res.LastInsertId()
}
