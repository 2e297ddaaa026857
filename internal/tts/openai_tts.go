package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// OpenAI TTS voices
const (
	VoiceAlloy   = "alloy"   // Neutral, balanced
	VoiceEcho    = "echo"    // Male, warm
	VoiceFable   = "fable"   // British, expressive
	VoiceOnyx    = "onyx"    // Male, deep
	VoiceNova    = "nova"    // Female, warm and natural
	VoiceShimmer = "shimmer" // Female, clear and bright
)

// OpenAIEngine synthesizes speech with an OpenAI-compatible /audio/speech
// endpoint into a temp file, then plays it with an external player.
type OpenAIEngine struct {
	client *openai.Client
	logger zerolog.Logger
	config *OpenAIConfig
}

// OpenAIConfig holds OpenAI TTS configuration
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string   // tts-1 or tts-1-hd
	Voice   string   // alloy, echo, fable, onyx, nova, shimmer
	Speed   float64  // 0.25 to 4.0; zero leaves the server default
	Player  []string // argv; the audio file path is appended
}

// NewOpenAIEngine creates an engine. The player must be on PATH.
func NewOpenAIEngine(logger zerolog.Logger, cfg *OpenAIConfig) (*OpenAIEngine, error) {
	if cfg == nil {
		cfg = &OpenAIConfig{}
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = VoiceAlloy
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not configured", ErrProviderUnavailable)
	}
	if len(cfg.Player) == 0 {
		return nil, fmt.Errorf("%w: no audio player configured", ErrProviderUnavailable)
	}
	if _, err := exec.LookPath(cfg.Player[0]); err != nil {
		return nil, fmt.Errorf("%w: player %s not found", ErrProviderUnavailable, cfg.Player[0])
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEngine{
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger.With().Str("provider", "openai-tts").Str("voice", cfg.Voice).Logger(),
		config: cfg,
	}, nil
}

// Speak synthesizes text, reports the start, plays the audio, and removes the file.
func (p *OpenAIEngine) Speak(ctx context.Context, text string, onStart func()) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	start := time.Now()
	path, err := p.synthesize(ctx, text)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	p.logger.Debug().
		Int("textLen", len(text)).
		Dur("latency", time.Since(start)).
		Msg("Synthesis complete")

	args := append(append([]string(nil), p.config.Player[1:]...), path)
	cmd := exec.CommandContext(ctx, p.config.Player[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	if onStart != nil {
		onStart()
	}
	if err := cmd.Wait(); err != nil {
		p.logger.Error().Err(err).Str("stderr", strings.TrimSpace(stderr.String())).Msg("Player failed")
		return fmt.Errorf("player: %w", err)
	}
	return nil
}

func (p *OpenAIEngine) synthesize(ctx context.Context, text string) (string, error) {
	resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(p.config.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(p.config.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          p.config.Speed,
	})
	if err != nil {
		return "", fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Close()

	f, err := os.CreateTemp("", "talkytalky-tts-*.mp3")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, resp); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
