package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-relay/internal/models"
)

// MemoryMessageRepo is a process-local store. Conversations are lost on restart.
type MemoryMessageRepo struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID][]models.Message
	now      func() time.Time
}

func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{
		sessions: make(map[uuid.UUID][]models.Message),
		now:      time.Now,
	}
}

func (r *MemoryMessageRepo) Append(_ context.Context, msgs ...*models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stamp(msgs, r.now().UTC())
	for _, m := range msgs {
		r.sessions[m.SessionID] = append(r.sessions[m.SessionID], *m)
	}
	return nil
}

func (r *MemoryMessageRepo) AppendWithGreeting(_ context.Context, greeting *models.Message, msgs ...*models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if len(r.sessions[greeting.SessionID]) == 0 {
		stamp([]*models.Message{greeting}, now)
		r.sessions[greeting.SessionID] = append(r.sessions[greeting.SessionID], *greeting)
	}
	stamp(msgs, now)
	for _, m := range msgs {
		r.sessions[m.SessionID] = append(r.sessions[m.SessionID], *m)
	}
	return nil
}

func (r *MemoryMessageRepo) Recent(_ context.Context, sessionID uuid.UUID, n int) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.sessions[sessionID]
	if n >= 0 && len(history) > n {
		history = history[len(history)-n:]
	}
	return append([]models.Message(nil), history...), nil
}
