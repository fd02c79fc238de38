// Package seed loads a campaign fixture from YAML into the context store.
// The pipeline never writes campaigns, players or entries itself; fixtures
// stand in for the mail ingestion side in development and tests.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/storage"
	"gopkg.in/yaml.v3"
)

// File is the on-disk fixture layout
type File struct {
	Campaign   CampaignSpec    `yaml:"campaign"`
	Ruleset    *RulesetSpec    `yaml:"ruleset"`
	Players    []PlayerSpec    `yaml:"players"`
	Characters []CharacterSpec `yaml:"characters"`
	Stories    []StorySpec     `yaml:"stories"`
}

type CampaignSpec struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type RulesetSpec struct {
	Name    string `yaml:"name"`
	Rules   string `yaml:"rules"`
	Setting string `yaml:"setting"`
}

type PlayerSpec struct {
	Email    string `yaml:"email"`
	Nickname string `yaml:"nickname"`
}

// CharacterSpec links to its player by email. NPCs leave Player empty.
type CharacterSpec struct {
	Name     string         `yaml:"name"`
	Player   string         `yaml:"player"`
	Kind     string         `yaml:"kind"`
	Sheet    map[string]any `yaml:"sheet"`
	State    map[string]any `yaml:"state"`
	Inactive bool           `yaml:"inactive"`
}

type StorySpec struct {
	Title       string      `yaml:"title"`
	Description string      `yaml:"description"`
	Scenes      []SceneSpec `yaml:"scenes"`
}

type SceneSpec struct {
	Title       string        `yaml:"title"`
	Description string        `yaml:"description"`
	Phase       string        `yaml:"phase"`
	Messages    []MessageSpec `yaml:"messages"`
}

// MessageSpec is an inbound entry. Character names the sending character;
// when empty the sender address resolves it at processing time.
type MessageSpec struct {
	game.Message `yaml:",inline"`
	Character    string `yaml:"character"`
}

// Result reports what was created
type Result struct {
	CampaignID   int64            `json:"campaign_id"`
	StoryIDs     []int64          `json:"story_ids"`
	SceneIDs     []int64          `json:"scene_ids"`
	CharacterIDs map[string]int64 `json:"character_ids"`
	MessageIDs   []int64          `json:"message_ids"`
}

// Parse decodes and validates a fixture. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("seed file is empty")
		}
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks references between sections
func (f *File) Validate() error {
	if strings.TrimSpace(f.Campaign.Name) == "" {
		return errors.New("campaign.name is required")
	}

	players := make(map[string]bool, len(f.Players))
	for i, p := range f.Players {
		email := strings.ToLower(strings.TrimSpace(p.Email))
		if email == "" {
			return fmt.Errorf("players[%d]: email is required", i)
		}
		if players[email] {
			return fmt.Errorf("players[%d]: duplicate email %q", i, p.Email)
		}
		players[email] = true
	}

	characters := make(map[string]bool, len(f.Characters))
	for i, c := range f.Characters {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("characters[%d]: name is required", i)
		}
		if characters[c.Name] {
			return fmt.Errorf("characters[%d]: duplicate name %q", i, c.Name)
		}
		characters[c.Name] = true
		if c.Player != "" && !players[strings.ToLower(c.Player)] {
			return fmt.Errorf("characters[%d]: unknown player %q", i, c.Player)
		}
	}

	for si, st := range f.Stories {
		if strings.TrimSpace(st.Title) == "" {
			return fmt.Errorf("stories[%d]: title is required", si)
		}
		for sci, sc := range st.Scenes {
			if sc.Phase != "" {
				if _, err := game.ParsePhase(sc.Phase); err != nil {
					return fmt.Errorf("stories[%d].scenes[%d]: %w", si, sci, err)
				}
			}
			for mi, m := range sc.Messages {
				if strings.TrimSpace(m.Sender) == "" {
					return fmt.Errorf("stories[%d].scenes[%d].messages[%d]: sender is required", si, sci, mi)
				}
				if m.Kind != "" && m.Kind != game.MessageKindEntry {
					return fmt.Errorf("stories[%d].scenes[%d].messages[%d]: only entries can be seeded", si, sci, mi)
				}
				if m.Character != "" && !characters[m.Character] {
					return fmt.Errorf("stories[%d].scenes[%d].messages[%d]: unknown character %q", si, sci, mi, m.Character)
				}
			}
		}
	}
	return nil
}

// LoadFile parses path and writes it through s
func LoadFile(ctx context.Context, s storage.Seeder, path string, logger *slog.Logger) (*Result, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer fh.Close()

	f, err := Parse(fh)
	if err != nil {
		return nil, err
	}
	return Load(ctx, s, f, logger)
}

// Load writes a parsed fixture. The last story and last scene are marked
// active, matching how a campaign in progress looks.
func Load(ctx context.Context, s storage.Seeder, f *File, logger *slog.Logger) (*Result, error) {
	res := &Result{CharacterIDs: make(map[string]int64, len(f.Characters))}

	campaignID, err := s.CreateCampaign(ctx, &game.Campaign{
		Name:        f.Campaign.Name,
		Description: f.Campaign.Description,
		Active:      true,
	})
	if err != nil {
		return nil, err
	}
	res.CampaignID = campaignID

	if f.Ruleset != nil {
		if _, err := s.CreateRuleset(ctx, &game.Ruleset{
			CampaignID: campaignID,
			Name:       f.Ruleset.Name,
			Rules:      f.Ruleset.Rules,
			Setting:    f.Ruleset.Setting,
			Active:     true,
		}); err != nil {
			return nil, err
		}
	}

	playerIDs := make(map[string]int64, len(f.Players))
	for _, p := range f.Players {
		email := strings.ToLower(strings.TrimSpace(p.Email))
		id, err := s.CreatePlayer(ctx, &game.Player{Email: email, Nickname: p.Nickname})
		if err != nil {
			return nil, err
		}
		playerIDs[email] = id
	}

	for _, c := range f.Characters {
		ch := &game.Character{
			Name:   c.Name,
			Kind:   c.Kind,
			Sheet:  c.Sheet,
			State:  c.State,
			Active: !c.Inactive,
		}
		if c.Player != "" {
			ch.PlayerID = game.Int64Ptr(playerIDs[strings.ToLower(c.Player)])
		}
		id, err := s.CreateCharacter(ctx, ch, campaignID)
		if err != nil {
			return nil, err
		}
		res.CharacterIDs[c.Name] = id
	}

	for si, st := range f.Stories {
		storyID, err := s.CreateStory(ctx, &game.Story{
			CampaignID:  campaignID,
			Title:       st.Title,
			Description: st.Description,
			Active:      si == len(f.Stories)-1,
		})
		if err != nil {
			return nil, err
		}
		res.StoryIDs = append(res.StoryIDs, storyID)

		for sci, sc := range st.Scenes {
			phase := game.PhaseNarration
			if sc.Phase != "" {
				phase, _ = game.ParsePhase(sc.Phase)
			}
			sceneID, err := s.CreateScene(ctx, &game.Scene{
				StoryID:     storyID,
				Title:       sc.Title,
				Description: sc.Description,
				Phase:       phase,
				Active:      sci == len(st.Scenes)-1,
			})
			if err != nil {
				return nil, err
			}
			res.SceneIDs = append(res.SceneIDs, sceneID)

			for _, m := range sc.Messages {
				msg := m.Message
				msg.Kind = game.MessageKindEntry
				msg.CampaignID = campaignID
				msg.SceneID = game.Int64Ptr(sceneID)
				if m.Character != "" {
					msg.CharacterID = game.Int64Ptr(res.CharacterIDs[m.Character])
				}
				id, err := s.CreateMessage(ctx, &msg)
				if err != nil {
					return nil, err
				}
				res.MessageIDs = append(res.MessageIDs, id)
			}
		}
	}

	logger.Info("Seed loaded",
		"campaign_id", campaignID,
		"characters", len(res.CharacterIDs),
		"scenes", len(res.SceneIDs),
		"messages", len(res.MessageIDs))
	return res, nil
}
