// Package tts provides speech-synthesis engines and the two-phase reading
// handle shared by the synthesis capability and its clients.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/NewComer00/TalkyTalky/internal/config"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("TTS provider unavailable")
	ErrEmptyText           = errors.New("nothing to speak")
)

// Engine speaks text aloud. It calls onStart exactly once, right before audio
// begins, and returns after playback ends. onStart is not called when the
// engine fails before producing audio.
type Engine interface {
	Speak(ctx context.Context, text string, onStart func()) error
}

// NewEngine selects the engine named by cfg.Engine. The choice is made once at
// start-up and never changes for the life of the process.
func NewEngine(cfg config.TTSConfig, logger zerolog.Logger) (Engine, error) {
	switch strings.ToLower(cfg.Engine) {
	case "", "command":
		return NewCommandEngine(logger, cfg.Command)
	case "openai":
		return NewOpenAIEngine(logger, &OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Voice:   cfg.Voice,
			Player:  cfg.Player,
		})
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrProviderUnavailable, cfg.Engine)
	}
}
