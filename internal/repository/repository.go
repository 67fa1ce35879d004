package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chat-relay/internal/models"
)

// MessageStore persists conversation turns per session.
//
// Append writes all messages or none. AppendWithGreeting does the same but
// first writes greeting if, and only if, greeting's session has no messages
// yet; the check and the writes are one atomic step. Recent returns at most n
// messages of the session, oldest first, in insertion order.
type MessageStore interface {
	Append(ctx context.Context, msgs ...*models.Message) error
	AppendWithGreeting(ctx context.Context, greeting *models.Message, msgs ...*models.Message) error
	Recent(ctx context.Context, sessionID uuid.UUID, n int) ([]models.Message, error)
}

// stamp fills in the id and timestamp of messages that do not have one yet.
func stamp(msgs []*models.Message, now time.Time) {
	for _, m := range msgs {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
	}
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
