package state

import (
	"github.com/jwebster45206/pbem-engine/pkg/game"
)

// Context is the bounded context handed to the classifier and generator.
// Summaries live on Scene, Story and Campaign after the assembler has
// folded older material into them.
type Context struct {
	Scene      game.Scene
	Story      game.Story
	Campaign   game.Campaign
	Ruleset    *game.Ruleset
	Characters []game.Character
	Turn       *game.Turn

	// Recent is the raw tail of the scene, oldest first
	Recent []game.Message

	// RecentScenes and RecentStories are the closed scenes of the story and
	// closed stories of the campaign not yet folded into a summary, oldest
	// first. Their own summaries go to the prompt as they are.
	RecentScenes  []game.Scene
	RecentStories []game.Story

	// Degraded is set when any summary merge fell back to the previous text
	Degraded bool
}

// Character returns the character with id, or nil
func (c *Context) Character(id int64) *game.Character {
	for i := range c.Characters {
		if c.Characters[i].ID == id {
			return &c.Characters[i]
		}
	}
	return nil
}

// PlayerCharacters returns the active characters owned by a player, the
// population that takes part in initiative
func (c *Context) PlayerCharacters() []game.Character {
	out := make([]game.Character, 0, len(c.Characters))
	for _, ch := range c.Characters {
		if ch.Active && ch.PlayerID != nil {
			out = append(out, ch)
		}
	}
	return out
}
