package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"chat-relay/internal/logger"
	"chat-relay/internal/models"
	"chat-relay/internal/repository"
)

const (
	Greeting = "Hello! I'm ready to help. Ask me anything."

	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 50

	DefaultTranscriptLimit = 50
	MaxTranscriptLimit     = 200
)

// Generator turns a prompt into model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type ChatService struct {
	store           repository.MessageStore
	generator       Generator
	maxMessageChars int
	timeout         time.Duration
}

func NewChatService(store repository.MessageStore, generator Generator, maxMessageChars int, timeout time.Duration) *ChatService {
	return &ChatService{
		store:           store,
		generator:       generator,
		maxMessageChars: maxMessageChars,
		timeout:         timeout,
	}
}

// Relay forwards one user message to the model, in the context of the
// session's recent history, and records the exchange once the model answers.
// A failed relay records nothing.
func (s *ChatService) Relay(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, newValidationError("message", "Message is required")
	}
	if s.maxMessageChars > 0 && utf8.RuneCountInString(message) > s.maxMessageChars {
		return nil, newValidationError("message", fmt.Sprintf("Message must be at most %d characters", s.maxMessageChars))
	}

	sessionID := uuid.New()
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			return nil, newValidationError("session_id", "Invalid session ID")
		}
		sessionID = id
	}

	limit := clamp(req.HistoryLimit, DefaultHistoryLimit, MaxHistoryLimit)

	history, err := s.store.Recent(ctx, sessionID, limit*2)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var greeting *models.Message
	if len(history) == 0 {
		greeting = &models.Message{SessionID: sessionID, Role: models.RoleAssistant, Content: Greeting}
		history = append(history, *greeting)
	}

	prompt := buildTranscriptPrompt(history, message)

	log := logger.Ctx(ctx).With().Str(logger.FieldSessionID, sessionID.String()).Logger()

	reply, err := s.generate(ctx, prompt)
	if err != nil {
		log.Error().Err(err).Int("history", len(history)).Msg("relay to model failed")
		return nil, &UpstreamError{Err: err}
	}

	exchange := []*models.Message{
		{SessionID: sessionID, Role: models.RoleUser, Content: message},
		{SessionID: sessionID, Role: models.RoleAssistant, Content: reply},
	}
	// A concurrent first request may have seeded the session already; the
	// store only writes the greeting if it has not.
	if greeting != nil {
		err = s.store.AppendWithGreeting(ctx, greeting, exchange...)
	} else {
		err = s.store.Append(ctx, exchange...)
	}
	if err != nil {
		return nil, fmt.Errorf("save exchange: %w", err)
	}

	log.Debug().Int("reply_chars", utf8.RuneCountInString(reply)).Msg("relayed message")

	return &models.ChatResponse{Reply: reply, SessionID: sessionID}, nil
}

// StartSession creates a session seeded with the greeting message.
func (s *ChatService) StartSession(ctx context.Context) (uuid.UUID, error) {
	sessionID := uuid.New()
	greeting := &models.Message{SessionID: sessionID, Role: models.RoleAssistant, Content: Greeting}
	if err := s.store.Append(ctx, greeting); err != nil {
		return uuid.Nil, fmt.Errorf("seed session: %w", err)
	}
	return sessionID, nil
}

// History returns the last limit exchanges (2*limit messages), oldest first.
func (s *ChatService) History(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, newValidationError("session_id", "Invalid session ID")
	}

	msgs, err := s.store.Recent(ctx, id, clamp(limit, DefaultTranscriptLimit, MaxTranscriptLimit)*2)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

func (s *ChatService) generate(ctx context.Context, prompt string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	reply, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// clamp applies the default for non-positive values and caps at max.
func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

