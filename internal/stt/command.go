package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// CommandTranscriber runs a local recognizer (whisper.cpp and friends) with the
// WAV path as its last argument and takes its stdout as the transcript.
type CommandTranscriber struct {
	argv   []string
	logger zerolog.Logger
}

// NewCommandTranscriber checks that argv[0] is on PATH.
func NewCommandTranscriber(logger zerolog.Logger, argv []string) (*CommandTranscriber, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: no command configured", ErrProviderUnavailable)
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrProviderUnavailable, argv[0])
	}
	return &CommandTranscriber{
		argv:   append([]string(nil), argv...),
		logger: logger.With().Str("provider", "command").Str("command", argv[0]).Logger(),
	}, nil
}

// Transcribe runs the command and returns its trimmed stdout.
func (p *CommandTranscriber) Transcribe(ctx context.Context, wavPath string) (string, error) {
	if _, err := os.Stat(wavPath); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrAudioNotFound, wavPath)
	}

	args := append(append([]string(nil), p.argv[1:]...), wavPath)
	cmd := exec.CommandContext(ctx, p.argv[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		p.logger.Error().Err(err).Str("stderr", strings.TrimSpace(stderr.String())).Msg("Recognizer failed")
		return "", fmt.Errorf("%s: %w", p.argv[0], err)
	}

	text := strings.TrimSpace(stdout.String())
	p.logger.Info().Str("text", text).Dur("time", time.Since(start)).Msg("Transcription complete")
	return text, nil
}
