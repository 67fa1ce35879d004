package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one stored turn of a conversation.
type Message struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatRequest is the payload sent to the chat endpoint.
type ChatRequest struct {
	Message      string `json:"message"`
	SessionID    string `json:"session_id,omitempty"`
	HistoryLimit int    `json:"history_limit,omitempty"`
}

// ChatResponse is the reply from the AI chat.
type ChatResponse struct {
	Reply     string    `json:"reply"`
	SessionID uuid.UUID `json:"session_id"`
}

type StartSessionResponse struct {
	SessionID uuid.UUID `json:"session_id"`
}

type HistoryResponse struct {
	Messages []Message `json:"messages"`
}
