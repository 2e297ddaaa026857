// Package stt provides speech-to-text back-ends for the transcription capability.
package stt

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
	ErrProviderUnavailable = errors.New("STT provider unavailable")
	ErrAudioNotFound       = errors.New("audio file not found")
)

// Transcriber turns a WAV file on disk into text.
// Blank results are legal and mean the recording held no speech.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (string, error)
}

// TranscriberFunc adapts a function to Transcriber
type TranscriberFunc func(ctx context.Context, wavPath string) (string, error)

// Transcribe calls f
func (f TranscriberFunc) Transcribe(ctx context.Context, wavPath string) (string, error) {
	return f(ctx, wavPath)
}

// New selects the back-end named by cfg.Engine and wraps it in the noise filter.
func New(cfg config.STTConfig, logger zerolog.Logger) (Transcriber, error) {
	var t Transcriber
	switch strings.ToLower(cfg.Engine) {
	case "", "openai":
		o, err := NewOpenAITranscriber(logger, &OpenAIConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Language: cfg.Language,
		})
		if err != nil {
			return nil, err
		}
		t = o
	case "command":
		c, err := NewCommandTranscriber(logger, cfg.Command)
		if err != nil {
			return nil, err
		}
		t = c
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrProviderUnavailable, cfg.Engine)
	}
	return Filtered(t, NewNoiseFilter(nil)), nil
}
