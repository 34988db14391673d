package generation

import (
	"context"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evidenceworks/paperchat/internal/config"
	"github.com/evidenceworks/paperchat/internal/models"
)

// OpenAIGenerator calls an OpenAI-compatible chat completion endpoint.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIGenerator creates a generator from cfg. The API key is read from
// the environment variable named by cfg.APIKeyEnv.
func NewOpenAIGenerator(cfg *config.GenerationConfig) (*OpenAIGenerator, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, models.Ef(models.KindConfig, "missing API key in env %s", cfg.APIKeyEnv)
	}
	clientCfg := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Generate runs a chat completion with instruction as the system message.
// Deadline expiry and cancellation surface as generation_timeout; every other
// provider failure surfaces as generation.
func (g *OpenAIGenerator) Generate(ctx context.Context, instruction, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", models.E(models.KindGenerationTimeout, err)
		}
		return "", models.E(models.KindGeneration, fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", models.Ef(models.KindGeneration, "no choices returned by %s", g.model)
	}
	return resp.Choices[0].Message.Content, nil
}
