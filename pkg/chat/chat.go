package chat

import (
	"strings"
)

const (
	ChatRoleUser   = "user"      // Player mail
	ChatRoleAgent  = "assistant" // Narrator replies
	ChatRoleSystem = "system"    // Instructions and context
)

const maxSpeakerLength = 50

// ChatMessage represents a single chat message in the conversation
// sent to the LLM.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// FormatWithSpeaker prefixes a message with the speaker's name unless the
// text already opens with a "Name:" tag.
func FormatWithSpeaker(message, speaker string) string {
	if speaker == "" {
		return message
	}
	if i := strings.Index(message, ":"); i > 0 && i <= maxSpeakerLength {
		tag := message[:i]
		if !strings.ContainsAny(tag, ".!?\n") && len(strings.Fields(tag)) <= 3 {
			return message
		}
	}
	return speaker + ": " + message
}
