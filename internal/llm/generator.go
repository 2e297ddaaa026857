// Package llm provides reply-generation back-ends for the language-model capability.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/NewComer00/TalkyTalky/internal/config"
)

// ErrNoChoices is returned when the model answers with no completion.
var ErrNoChoices = errors.New("model returned no choices")

// Generator produces a reply to a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// OpenAIGenerator talks to an OpenAI-compatible chat completion endpoint and
// keeps the session's history across calls.
type OpenAIGenerator struct {
	client       *openai.Client
	model        string
	systemPrompt string
	temperature  float32
	conv         *Conversation
	logger       zerolog.Logger
}

// NewOpenAIGenerator creates a generator from the llm config section.
func NewOpenAIGenerator(cfg config.LLMConfig, logger zerolog.Logger) (*OpenAIGenerator, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("llm: OpenAI API key not configured")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIGenerator{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		conv: NewConversation(ConversationConfig{
			MaxExchanges:      cfg.MaxExchanges,
			InactivityTimeout: cfg.InactivityTimeout,
		}),
		logger: logger.With().Str("provider", "openai-chat").Str("model", model).Logger(),
	}, nil
}

// Conversation exposes the session history.
func (g *OpenAIGenerator) Conversation() *Conversation {
	return g.conv
}

// Generate sends the prompt with the session history and records the exchange.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	// The field is omitempty, so a literal zero would fall back to the server default.
	temperature := g.temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	if g.conv.IsExpired() {
		g.logger.Info().Int("history", g.conv.ExchangeCount()).Msg("Conversation idle too long, starting over")
		g.conv.Clear()
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    g.conv.Messages(g.systemPrompt, prompt),
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	g.conv.AddExchange(prompt, reply)

	g.logger.Info().
		Int("history", g.conv.ExchangeCount()).
		Int("tokens", resp.Usage.TotalTokens).
		Dur("time", time.Since(start)).
		Msg("Reply generated")
	return reply, nil
}

// EchoGenerator repeats the prompt back. Useful without a model.
type EchoGenerator struct {
	Prefix string
}

// Generate returns Prefix + prompt.
func (g EchoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	return g.Prefix + prompt, nil
}

// New selects the generator named by cfg.Engine.
func New(cfg config.LLMConfig, logger zerolog.Logger) (Generator, error) {
	switch strings.ToLower(cfg.Engine) {
	case "", "openai":
		return NewOpenAIGenerator(cfg, logger)
	case "echo":
		return EchoGenerator{Prefix: "You said: "}, nil
	default:
		return nil, fmt.Errorf("llm: unknown engine %q", cfg.Engine)
	}
}
