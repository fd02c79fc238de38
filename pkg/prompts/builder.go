package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jwebster45206/pbem-engine/pkg/chat"
	"github.com/jwebster45206/pbem-engine/pkg/game"
	"github.com/jwebster45206/pbem-engine/pkg/state"
)

// Prompt is a provider-neutral request: one system prompt, prior turns
// and the user text
type Prompt struct {
	System  string
	History []chat.ChatMessage
	User    string
}

// Builder constructs prompts from an assembled context using a fluent
// interface.
type Builder struct {
	instructions string
	ctx          *state.Context
	message      *game.Message
	speaker      string
	sections     []string
	historyLimit int
}

// New creates a new prompt builder with default settings.
func New(instructions string) *Builder {
	return &Builder{
		instructions: instructions,
		historyLimit: 10,
		sections:     make([]string, 0),
	}
}

// WithContext sets the assembled context.
func (b *Builder) WithContext(c *state.Context) *Builder {
	b.ctx = c
	return b
}

// WithMessage sets the incoming message and the name of the character
// that sent it.
func (b *Builder) WithMessage(msg *game.Message, speaker string) *Builder {
	b.message = msg
	b.speaker = speaker
	return b
}

// WithSection appends an extra block to the system prompt. Empty bodies
// are ignored.
func (b *Builder) WithSection(body string) *Builder {
	if strings.TrimSpace(body) != "" {
		b.sections = append(b.sections, body)
	}
	return b
}

// WithHistoryLimit sets how many recent raw messages are replayed.
func (b *Builder) WithHistoryLimit(limit int) *Builder {
	b.historyLimit = limit
	return b
}

// Build constructs the final prompt.
func (b *Builder) Build() (Prompt, error) {
	if b.ctx == nil {
		return Prompt{}, fmt.Errorf("context is required")
	}
	if b.message == nil {
		return Prompt{}, fmt.Errorf("message is required")
	}

	system, err := b.systemPrompt()
	if err != nil {
		return Prompt{}, fmt.Errorf("error building system prompt: %w", err)
	}

	return Prompt{
		System:  system,
		History: b.history(),
		User:    chat.FormatWithSpeaker(b.message.Body, b.speaker),
	}, nil
}

// systemPrompt joins the instructions, the world and the summaries
func (b *Builder) systemPrompt() (string, error) {
	var sb strings.Builder
	sb.WriteString(b.instructions)

	if r := b.ctx.Ruleset; r != nil {
		if r.Setting != "" {
			sb.WriteString("\n\n### Setting\n" + r.Setting)
		}
		if r.Rules != "" {
			sb.WriteString("\n\n### Rules\n" + r.Rules)
		}
	}

	writeSummary(&sb, "Campaign so far", b.ctx.Campaign.Summary)
	writeRecent(&sb, "Recent stories", storyItems(b.ctx.RecentStories))
	writeSummary(&sb, "Story so far", b.ctx.Story.Summary)
	writeRecent(&sb, "Recent scenes", sceneItems(b.ctx.RecentScenes))
	writeSummary(&sb, "Scene so far", b.ctx.Scene.Summary)

	if b.ctx.Scene.Description != "" {
		sb.WriteString("\n\n### Current scene: " + b.ctx.Scene.Title + "\n" + b.ctx.Scene.Description)
	}

	world, err := json.Marshal(ToPromptState(b.ctx))
	if err != nil {
		return "", err
	}
	sb.WriteString("\n\n### World state\n```json\n" + string(world) + "\n```")

	for _, s := range b.sections {
		sb.WriteString("\n\n" + s)
	}

	return sb.String(), nil
}

func writeSummary(sb *strings.Builder, title, summary string) {
	if strings.TrimSpace(summary) == "" {
		return
	}
	sb.WriteString("\n\n### " + title + "\n" + summary)
}

// writeRecent lists closed scenes or stories, one per line
func writeRecent(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString("\n\n### " + title)
	for _, item := range items {
		sb.WriteString("\n- " + item)
	}
}

func sceneItems(scenes []game.Scene) []string {
	items := make([]string, 0, len(scenes))
	for _, s := range scenes {
		if strings.TrimSpace(s.Summary) != "" {
			items = append(items, s.Title+": "+s.Summary)
		}
	}
	return items
}

func storyItems(stories []game.Story) []string {
	items := make([]string, 0, len(stories))
	for _, s := range stories {
		if strings.TrimSpace(s.Summary) != "" {
			items = append(items, s.Title+": "+s.Summary)
		}
	}
	return items
}

// history replays the raw tail of the scene. Player mail is attributed to
// its character; narrator replies become assistant turns.
func (b *Builder) history() []chat.ChatMessage {
	recent := b.ctx.Recent
	if b.historyLimit >= 0 && len(recent) > b.historyLimit {
		recent = recent[len(recent)-b.historyLimit:]
	}

	out := make([]chat.ChatMessage, 0, len(recent))
	for _, m := range recent {
		if m.ID == b.message.ID {
			continue
		}
		if m.IsReply() {
			out = append(out, chat.ChatMessage{Role: chat.ChatRoleAgent, Content: m.Body})
			continue
		}
		speaker := m.Sender
		if m.CharacterID != nil {
			if ch := b.ctx.Character(*m.CharacterID); ch != nil {
				speaker = ch.Name
			}
		}
		out = append(out, chat.ChatMessage{
			Role:    chat.ChatRoleUser,
			Content: chat.FormatWithSpeaker(m.Body, speaker),
		})
	}
	return out
}
