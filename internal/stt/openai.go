package stt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// OpenAITranscriber calls an OpenAI-compatible /audio/transcriptions endpoint.
// Setting BaseURL points it at a local whisper server instead.
type OpenAITranscriber struct {
	client *openai.Client
	logger zerolog.Logger
	config *OpenAIConfig
}

// OpenAIConfig holds Whisper API configuration
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string // "whisper-1"
	Language string // Optional language hint
}

// NewOpenAITranscriber creates a transcriber. Without an API key it needs a BaseURL.
func NewOpenAITranscriber(logger zerolog.Logger, cfg *OpenAIConfig) (*OpenAITranscriber, error) {
	if cfg == nil {
		cfg = &OpenAIConfig{}
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not configured", ErrProviderUnavailable)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAITranscriber{
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger.With().Str("provider", "openai-whisper").Logger(),
		config: cfg,
	}, nil
}

// Transcribe uploads the WAV file and returns the recognized text.
func (p *OpenAITranscriber) Transcribe(ctx context.Context, wavPath string) (string, error) {
	if _, err := os.Stat(wavPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrAudioNotFound, wavPath)
		}
		return "", err
	}

	start := time.Now()
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.config.Model,
		FilePath: wavPath,
		Language: p.config.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	p.logger.Info().
		Str("text", resp.Text).
		Dur("time", time.Since(start)).
		Msg("Transcription complete")
	return resp.Text, nil
}
