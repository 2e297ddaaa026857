package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Utterance is one recorded WAV file waiting for a turn.
type Utterance struct {
	Path string
	// Done, when set, is called once the turn is over.
	Done func()
}

// Source yields utterances. Next returns io.EOF when there are no more.
type Source interface {
	Next(ctx context.Context) (Utterance, error)
}

// LineSource reads one WAV path per line, for example from stdin.
// Blank lines are skipped.
type LineSource struct {
	r     io.Reader
	once  sync.Once
	lines chan string
	err   error
}

// NewLineSource reads paths from r.
func NewLineSource(r io.Reader) *LineSource {
	return &LineSource{r: r, lines: make(chan string)}
}

func (s *LineSource) scan() {
	defer close(s.lines)
	sc := bufio.NewScanner(s.r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			s.lines <- line
		}
	}
	s.err = sc.Err()
}

// Next returns the next path. The reader is scanned in the background so a
// blocked read does not hold up cancellation.
func (s *LineSource) Next(ctx context.Context) (Utterance, error) {
	s.once.Do(func() { go s.scan() })
	select {
	case line, ok := <-s.lines:
		if !ok {
			if s.err != nil {
				return Utterance{}, s.err
			}
			return Utterance{}, io.EOF
		}
		return Utterance{Path: line}, nil
	case <-ctx.Done():
		return Utterance{}, ctx.Err()
	}
}

// InboxSource watches a directory and yields every *.wav file that appears
// in it, oldest name first for files already present. Recorders should write
// elsewhere and rename into the inbox so a file is complete when seen.
type InboxSource struct {
	dir         string
	removeAfter bool
	watcher     *fsnotify.Watcher
	log         zerolog.Logger

	pending []string
	seen    map[string]bool
}

// NewInboxSource creates dir if needed and starts watching it. With
// removeAfter, each file is deleted once its turn is over.
func NewInboxSource(dir string, removeAfter bool, log zerolog.Logger) (*InboxSource, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch inbox: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch inbox: %w", err)
	}

	s := &InboxSource{
		dir:         dir,
		removeAfter: removeAfter,
		watcher:     watcher,
		log:         log,
		seen:        make(map[string]bool),
	}

	existing, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		watcher.Close()
		return nil, err
	}
	sort.Strings(existing)
	for _, p := range existing {
		s.enqueue(p)
	}

	log.Info().Str("dir", dir).Int("pending", len(s.pending)).Msg("Watching inbox")
	return s, nil
}

func isWAV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}

func (s *InboxSource) enqueue(path string) {
	if s.seen[path] {
		return
	}
	s.seen[path] = true
	s.pending = append(s.pending, path)
}

// Next blocks until a WAV file is available.
func (s *InboxSource) Next(ctx context.Context) (Utterance, error) {
	for len(s.pending) == 0 {
		select {
		case <-ctx.Done():
			return Utterance{}, ctx.Err()
		case event, ok := <-s.watcher.Events:
			if !ok {
				return Utterance{}, io.EOF
			}
			if !(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) || !isWAV(event.Name) {
				continue
			}
			// stale events can outlive a file already handled and removed
			if _, err := os.Stat(event.Name); err == nil {
				s.enqueue(event.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return Utterance{}, io.EOF
			}
			s.log.Warn().Err(err).Msg("Inbox watcher error")
		}
	}

	path := s.pending[0]
	s.pending = s.pending[1:]
	return Utterance{Path: path, Done: func() { s.done(path) }}, nil
}

func (s *InboxSource) done(path string) {
	if !s.removeAfter {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("wav", path).Msg("Failed to remove recording")
		return
	}
	// a later recording may reuse the name
	delete(s.seen, path)
}

// Close stops watching.
func (s *InboxSource) Close() error {
	return s.watcher.Close()
}
