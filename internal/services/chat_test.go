package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/models"
	"chat-relay/internal/repository"
)

type stubGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	return g.reply(prompt)
}

func fixedReply(text string) *stubGenerator {
	return &stubGenerator{reply: func(string) (string, error) { return text, nil }}
}

type failingStore struct {
	repository.MessageStore
	appendErr error
	recentErr error
}

func (s failingStore) Append(ctx context.Context, msgs ...*models.Message) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.MessageStore.Append(ctx, msgs...)
}

func (s failingStore) AppendWithGreeting(ctx context.Context, greeting *models.Message, msgs ...*models.Message) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.MessageStore.AppendWithGreeting(ctx, greeting, msgs...)
}

func (s failingStore) Recent(ctx context.Context, id uuid.UUID, n int) ([]models.Message, error) {
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	return s.MessageStore.Recent(ctx, id, n)
}

func TestRelay_NewSessionSeedsGreeting(t *testing.T) {
	store := repository.NewMemoryMessageRepo()
	gen := fixedReply("  Hi there!  ")
	svc := NewChatService(store, gen, 100, time.Second)

	resp, err := svc.Relay(context.Background(), models.ChatRequest{Message: "  hello  "})
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", resp.Reply)
	assert.NotEqual(t, uuid.Nil, resp.SessionID)

	require.Len(t, gen.prompts, 1)
	assert.Equal(t, "Assistant: "+Greeting+"\nUser: hello\nAssistant:", gen.prompts[0])

	msgs, err := store.Recent(context.Background(), resp.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, Greeting, msgs[0].Content)
	assert.Equal(t, models.RoleUser, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, "Hi there!", msgs[2].Content)
}

func TestRelay_ContinuesExistingSession(t *testing.T) {
	store := repository.NewMemoryMessageRepo()
	gen := fixedReply("second answer")
	svc := NewChatService(store, gen, 0, 0)

	sessionID, err := svc.StartSession(context.Background())
	require.NoError(t, err)

	_, err = svc.Relay(context.Background(), models.ChatRequest{Message: "first", SessionID: sessionID.String()})
	require.NoError(t, err)
	resp, err := svc.Relay(context.Background(), models.ChatRequest{Message: "second", SessionID: sessionID.String()})
	require.NoError(t, err)
	assert.Equal(t, sessionID, resp.SessionID)

	want := strings.Join([]string{
		"Assistant: " + Greeting,
		"User: first",
		"Assistant: second answer",
		"User: second",
		"Assistant:",
	}, "\n")
	assert.Equal(t, want, gen.prompts[1])

	msgs, _ := store.Recent(context.Background(), sessionID, 100)
	assert.Len(t, msgs, 5, "greeting is seeded once")
}

func TestRelay_HistoryLimitBoundsPrompt(t *testing.T) {
	store := repository.NewMemoryMessageRepo()
	gen := fixedReply("ok")
	svc := NewChatService(store, gen, 0, 0)

	sessionID := uuid.New()
	for i := 0; i < 5; i++ {
		_, err := svc.Relay(context.Background(), models.ChatRequest{Message: "m", SessionID: sessionID.String()})
		require.NoError(t, err)
	}

	_, err := svc.Relay(context.Background(), models.ChatRequest{Message: "last", SessionID: sessionID.String(), HistoryLimit: 1})
	require.NoError(t, err)

	assert.Equal(t, "User: m\nAssistant: ok\nUser: last\nAssistant:", gen.prompts[len(gen.prompts)-1])
}

func TestRelay_Validation(t *testing.T) {
	gen := fixedReply("never")
	svc := NewChatService(repository.NewMemoryMessageRepo(), gen, 5, 0)

	tests := []struct {
		name  string
		req   models.ChatRequest
		field string
	}{
		{"missing message", models.ChatRequest{}, "message"},
		{"whitespace message", models.ChatRequest{Message: " \n\t "}, "message"},
		{"too long", models.ChatRequest{Message: "abcdef"}, "message"},
		{"bad session id", models.ChatRequest{Message: "hi", SessionID: "not-a-uuid"}, "session_id"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Relay(context.Background(), tc.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}
	assert.Empty(t, gen.prompts, "model must not be called for invalid input")
}

func TestRelay_UpstreamFailurePersistsNothing(t *testing.T) {
	tests := []struct {
		name string
		gen  Generator
		want error
	}{
		{"api error", &stubGenerator{reply: func(string) (string, error) { return "", errors.New("quota exceeded") }}, nil},
		{"empty reply", fixedReply("   "), ErrEmptyReply},
		{"not configured", UnavailableGenerator{Err: ErrNotConfigured}, ErrNotConfigured},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := repository.NewMemoryMessageRepo()
			svc := NewChatService(store, tc.gen, 0, 0)
			sessionID := uuid.New()

			_, err := svc.Relay(context.Background(), models.ChatRequest{Message: "hi", SessionID: sessionID.String()})
			var upstream *UpstreamError
			require.ErrorAs(t, err, &upstream)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}

			msgs, _ := store.Recent(context.Background(), sessionID, 10)
			assert.Empty(t, msgs)
		})
	}
}

func TestRelay_TimeoutIsUpstreamError(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	svc := NewChatService(repository.NewMemoryMessageRepo(), generatorFunc(func(ctx context.Context, _ string) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-block:
			return "late", nil
		}
	}), 0, 20*time.Millisecond)

	_, err := svc.Relay(context.Background(), models.ChatRequest{Message: "hi"})
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRelay_StoreFailures(t *testing.T) {
	boom := errors.New("disk full")

	svc := NewChatService(failingStore{MessageStore: repository.NewMemoryMessageRepo(), recentErr: boom}, fixedReply("x"), 0, 0)
	_, err := svc.Relay(context.Background(), models.ChatRequest{Message: "hi"})
	assert.ErrorIs(t, err, boom)

	svc = NewChatService(failingStore{MessageStore: repository.NewMemoryMessageRepo(), appendErr: boom}, fixedReply("x"), 0, 0)
	_, err = svc.Relay(context.Background(), models.ChatRequest{Message: "hi"})
	assert.ErrorIs(t, err, boom)
	var upstream *UpstreamError
	assert.False(t, errors.As(err, &upstream))
}

func TestRelay_ConcurrentRequestsArePaired(t *testing.T) {
	gen := &stubGenerator{reply: func(prompt string) (string, error) {
		lines := strings.Split(prompt, "\n")
		question := strings.TrimPrefix(lines[len(lines)-2], "User: ")
		time.Sleep(time.Millisecond)
		return "echo " + question, nil
	}}
	svc := NewChatService(repository.NewMemoryMessageRepo(), gen, 0, 0)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := "question-" + uuid.NewString()
			resp, err := svc.Relay(context.Background(), models.ChatRequest{Message: msg})
			if assert.NoError(t, err) {
				assert.Equal(t, "echo "+msg, resp.Reply)
			}
		}(i)
	}
	wg.Wait()
}

func TestRelay_ConcurrentFirstRequestsSeedOneGreeting(t *testing.T) {
	const n = 4

	// Every request reaches the model before any of them saves, so all of
	// them see the session as empty.
	var arrived sync.WaitGroup
	arrived.Add(n)
	gen := &stubGenerator{reply: func(string) (string, error) {
		arrived.Done()
		arrived.Wait()
		return "ok", nil
	}}
	store := repository.NewMemoryMessageRepo()
	svc := NewChatService(store, gen, 0, 0)
	sessionID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Relay(context.Background(), models.ChatRequest{Message: "hi", SessionID: sessionID.String()})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := store.Recent(context.Background(), sessionID, 100)
	require.NoError(t, err)
	require.Len(t, msgs, 1+2*n)
	assert.Equal(t, Greeting, msgs[0].Content)
	for _, m := range msgs[1:] {
		assert.NotEqual(t, Greeting, m.Content)
	}
}

func TestHistory(t *testing.T) {
	store := repository.NewMemoryMessageRepo()
	svc := NewChatService(store, fixedReply("a"), 0, 0)

	sessionID, err := svc.StartSession(context.Background())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := svc.Relay(context.Background(), models.ChatRequest{Message: "q", SessionID: sessionID.String()})
		require.NoError(t, err)
	}

	all, err := svc.History(context.Background(), sessionID.String(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 7)
	assert.Equal(t, Greeting, all[0].Content)

	last, err := svc.History(context.Background(), sessionID.String(), 1)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, models.RoleUser, last[0].Role)
	assert.Equal(t, models.RoleAssistant, last[1].Role)

	empty, err := svc.History(context.Background(), uuid.NewString(), 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = svc.History(context.Background(), "nope", 10)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 10, clamp(0, 10, 50))
	assert.Equal(t, 10, clamp(-3, 10, 50))
	assert.Equal(t, 7, clamp(7, 10, 50))
	assert.Equal(t, 50, clamp(500, 10, 50))
}

func TestExtractText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello, "), genai.Text("world")}}},
			{Content: nil},
		},
	}
	assert.Equal(t, "Hello, world", extractText(resp))
	assert.Equal(t, "", extractText(&genai.GenerateContentResponse{}))
}

func TestNewGeminiService_RequiresKey(t *testing.T) {
	_, err := NewGeminiService("", GeminiOptions{Model: "gemini-1.5-flash"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

type generatorFunc func(ctx context.Context, prompt string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
