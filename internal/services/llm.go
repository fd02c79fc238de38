package services

import (
	"context"
	"errors"

	"github.com/jwebster45206/pbem-engine/pkg/chat"
)

// ErrTimeout is returned when an LLM call exceeds its deadline
var ErrTimeout = errors.New("llm call timed out")

// Profile selects a sampling preset for a completion
type Profile string

const (
	ProfilePrecise  Profile = "precise"  // classification
	ProfileCreative Profile = "creative" // narration and combat replies
	ProfileSummary  Profile = "summary"  // rolling summaries
)

// ProfileSettings are the provider-neutral sampling parameters of a profile
type ProfileSettings struct {
	Temperature float64
	MaxTokens   int
}

var profileSettings = map[Profile]ProfileSettings{
	ProfilePrecise:  {Temperature: 0.1, MaxTokens: 1024},
	ProfileCreative: {Temperature: 0.9, MaxTokens: 2048},
	ProfileSummary:  {Temperature: 0.4, MaxTokens: 1536},
}

// SettingsFor returns the sampling parameters for p. Unknown profiles
// fall back to the summary preset.
func SettingsFor(p Profile) ProfileSettings {
	if s, ok := profileSettings[p]; ok {
		return s
	}
	return profileSettings[ProfileSummary]
}

// CompletionRequest is one call to the model
type CompletionRequest struct {
	System  string
	History []chat.ChatMessage
	User    string
	Profile Profile
}

// Messages returns the prior turns followed by the user text
func (r CompletionRequest) Messages() []chat.ChatMessage {
	msgs := make([]chat.ChatMessage, 0, len(r.History)+1)
	for _, m := range r.History {
		if m.Role == chat.ChatRoleSystem || m.Content == "" {
			continue
		}
		msgs = append(msgs, m)
	}
	if r.User != "" {
		msgs = append(msgs, chat.ChatMessage{Role: chat.ChatRoleUser, Content: r.User})
	}
	return msgs
}

// LLMService defines the interface for interacting with the LLM API
type LLMService interface {
	// Complete sends one request and returns the raw model text
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Name identifies the provider and model
	Name() string
}
