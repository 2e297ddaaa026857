package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// CommandEngine speaks through a local speech program (espeak, say, ...)
// that takes the text as its last argument and returns when done speaking.
type CommandEngine struct {
	argv   []string
	logger zerolog.Logger
}

// NewCommandEngine checks that argv[0] is on PATH.
func NewCommandEngine(logger zerolog.Logger, argv []string) (*CommandEngine, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: no command configured", ErrProviderUnavailable)
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrProviderUnavailable, argv[0])
	}
	return &CommandEngine{
		argv:   append([]string(nil), argv...),
		logger: logger.With().Str("provider", "command").Str("command", argv[0]).Logger(),
	}, nil
}

// Speak starts the program, reports the start, and waits for it to exit.
func (p *CommandEngine) Speak(ctx context.Context, text string, onStart func()) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	args := append(append([]string(nil), p.argv[1:]...), text)
	cmd := exec.CommandContext(ctx, p.argv[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: %w", p.argv[0], err)
	}
	if onStart != nil {
		onStart()
	}

	if err := cmd.Wait(); err != nil {
		p.logger.Error().Err(err).Str("stderr", strings.TrimSpace(stderr.String())).Msg("Speech program failed")
		return fmt.Errorf("%s: %w", p.argv[0], err)
	}

	p.logger.Debug().Int("textLen", len(text)).Dur("duration", time.Since(start)).Msg("Spoken")
	return nil
}
