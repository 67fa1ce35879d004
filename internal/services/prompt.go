package services

import (
	"strings"

	"chat-relay/internal/models"
)

// buildTranscriptPrompt renders the conversation as a plain transcript that
// ends on an open "Assistant:" turn for the model to complete.
func buildTranscriptPrompt(history []models.Message, message string) string {
	var b strings.Builder

	for _, m := range history {
		if m.Role == models.RoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n")
	}

	b.WriteString("User: ")
	b.WriteString(strings.TrimSpace(message))
	b.WriteString("\nAssistant:")

	return b.String()
}
