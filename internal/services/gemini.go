package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"chat-relay/internal/logger"
)

type GeminiOptions struct {
	Model           string
	MaxOutputTokens int
	Temperature     float64
	ConcurrentReqs  int
}

type GeminiService struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	rateChan chan struct{} // Token bucket
}

func NewGeminiService(apiKey string, opts GeminiOptions) (*GeminiService, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(opts.Model)
	model.SetTemperature(float32(opts.Temperature))
	if opts.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxOutputTokens))
	}

	concurrent := opts.ConcurrentReqs
	if concurrent < 1 {
		concurrent = 1
	}

	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrent)
	for i := 0; i < concurrent; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		client:   client,
		model:    model,
		rateChan: rateChan,
	}, nil
}

func (s *GeminiService) Close() {
	s.client.Close()
}

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// Generate sends a single text prompt and returns the concatenated text parts
// of the answer.
func (s *GeminiService) Generate(ctx context.Context, prompt string) (string, error) {
	if err := s.acquireRate(ctx); err != nil {
		return "", err
	}
	defer s.releaseRate()

	resp, err := s.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}

	log := logger.Ctx(ctx)
	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop {
			log.Warn().
				Int("candidate", i).
				Str("finish_reason", cand.FinishReason.String()).
				Int32("token_count", cand.TokenCount).
				Msg("Gemini did not finish normally")
		}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		log.Warn().Str("block_reason", resp.PromptFeedback.BlockReason.String()).Msg("Gemini blocked the prompt")
	}

	text := strings.TrimSpace(extractText(resp))
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// UnavailableGenerator stands in for Gemini when it cannot be configured, so
// the server still starts and every relay reports an upstream error.
type UnavailableGenerator struct {
	Err error
}

func (g UnavailableGenerator) Generate(context.Context, string) (string, error) {
	return "", g.Err
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
