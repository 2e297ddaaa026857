// Package pipeline runs the dialogue: it starts a process per capability and
// drives the transcribe, generate, speak-and-animate loop against them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// Exit reports a capability process that stopped.
type Exit struct {
	Capability string
	Err        error
}

// Supervisor starts one process per capability by re-executing a binary
// with `serve <capability>`. Children are not restarted.
type Supervisor struct {
	// Executable defaults to the running binary.
	Executable string
	// ConfigPath is passed on as --config when set.
	ConfigPath string
	// ExtraArgs are appended to every child's arguments.
	ExtraArgs []string
	// Quiet discards the children's output.
	Quiet bool
	// Stdout and Stderr default to the supervisor's own.
	Stdout io.Writer
	Stderr io.Writer
	Log    zerolog.Logger

	mu       sync.Mutex
	children map[string]*exec.Cmd
	exits    chan Exit
	wg       sync.WaitGroup
	stopping bool
}

// Args returns the command-line arguments for a capability's process.
func (s *Supervisor) Args(capability string) []string {
	args := []string{"serve", capability}
	if s.ConfigPath != "" {
		args = append(args, "--config", s.ConfigPath)
	}
	return append(args, s.ExtraArgs...)
}

// Start launches the capabilities in the given order. On failure the
// processes already started are stopped.
func (s *Supervisor) Start(ctx context.Context, capabilities []string) error {
	exe := s.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		exe = self
	}

	s.mu.Lock()
	if s.children == nil {
		s.children = make(map[string]*exec.Cmd)
		s.exits = make(chan Exit, len(capabilities))
	}
	s.mu.Unlock()

	for _, capability := range capabilities {
		if err := s.start(ctx, exe, capability); err != nil {
			s.Stop()
			return err
		}
	}
	return nil
}

func (s *Supervisor) start(ctx context.Context, exe, capability string) error {
	cmd := exec.CommandContext(ctx, exe, s.Args(capability)...)
	switch {
	case s.Quiet:
		cmd.Stdout, cmd.Stderr = io.Discard, io.Discard
	default:
		cmd.Stdout, cmd.Stderr = s.Stdout, s.Stderr
		if cmd.Stdout == nil {
			cmd.Stdout = os.Stdout
		}
		if cmd.Stderr == nil {
			cmd.Stderr = os.Stderr
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.children[capability]; ok {
		return fmt.Errorf("capability %s already started", capability)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", capability, err)
	}
	s.children[capability] = cmd
	s.Log.Info().Str("capability", capability).Int("pid", cmd.Process.Pid).Msg("Capability process started")

	s.wg.Add(1)
	go s.wait(capability, cmd)
	return nil
}

func (s *Supervisor) wait(capability string, cmd *exec.Cmd) {
	defer s.wg.Done()
	err := cmd.Wait()

	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()

	ev := s.Log.Warn()
	if stopping {
		ev = s.Log.Debug()
	}
	ev.Err(err).Str("capability", capability).Msg("Capability process exited")

	select {
	case s.exits <- Exit{Capability: capability, Err: err}:
	default:
	}
}

// Exits delivers one Exit per child that stops.
func (s *Supervisor) Exits() <-chan Exit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exits
}

// Running returns the capabilities started so far.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.children))
	for name := range s.children {
		names = append(names, name)
	}
	return names
}

// Stop kills every child and waits for them to be reaped.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	s.stopping = true
	var errs []error
	for name, cmd := range s.children {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("kill %s: %w", name, err))
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	return errors.Join(errs...)
}
