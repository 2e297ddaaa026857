package stt

import (
	"context"
	"regexp"
	"strings"
	"sync"
)

// DefaultFillerWords are utterances that carry no request on their own.
var DefaultFillerWords = []string{
	"um", "uh", "uhh", "umm",
	"er", "ah", "hmm", "mm",
}

// noiseMarkers are the annotations recognizers emit for non-speech audio,
// e.g. "[BLANK_AUDIO]" from whisper.cpp or "(silence)".
var noiseMarkers = regexp.MustCompile(`(?i)[\[(]\s*(blank_audio|silence|music|noise|inaudible|no speech|sound|applause|laughter)[^\])]*[\])]`)

var (
	spaces     = regexp.MustCompile(`\s+`)
	punctOnly  = regexp.MustCompile(`^[.,!?;:\-\s]*$`)
	fillerSeps = regexp.MustCompile(`[.,!?;:\-\s]+`)
)

// NoiseFilter strips recognizer noise annotations and detects transcripts
// that hold nothing but fillers. Words inside real sentences are kept.
type NoiseFilter struct {
	mu          sync.RWMutex
	fillerWords map[string]struct{}
}

// NewNoiseFilter creates a filter. A nil list uses DefaultFillerWords.
func NewNoiseFilter(fillerWords []string) *NoiseFilter {
	if fillerWords == nil {
		fillerWords = DefaultFillerWords
	}

	f := &NoiseFilter{fillerWords: make(map[string]struct{}, len(fillerWords))}
	for _, w := range fillerWords {
		f.fillerWords[strings.ToLower(w)] = struct{}{}
	}
	return f
}

// AddFillerWord adds a word to the filler list.
func (f *NoiseFilter) AddFillerWord(word string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fillerWords[strings.ToLower(word)] = struct{}{}
}

// Clean removes noise markers and normalizes whitespace.
// The bool is false when nothing meaningful is left.
func (f *NoiseFilter) Clean(text string) (string, bool) {
	cleaned := noiseMarkers.ReplaceAllString(text, " ")
	cleaned = strings.TrimSpace(spaces.ReplaceAllString(cleaned, " "))

	if punctOnly.MatchString(cleaned) || f.IsFillerOnly(cleaned) {
		return "", false
	}
	return cleaned, true
}

// IsFillerOnly reports whether every word of text is a filler.
func (f *NoiseFilter) IsFillerOnly(text string) bool {
	words := fillerSeps.Split(strings.ToLower(text), -1)

	f.mu.RLock()
	defer f.mu.RUnlock()

	seen := false
	for _, w := range words {
		if w == "" {
			continue
		}
		if _, ok := f.fillerWords[w]; !ok {
			return false
		}
		seen = true
	}
	return seen
}

// Filtered returns a Transcriber whose output has passed through f.
func Filtered(t Transcriber, f *NoiseFilter) Transcriber {
	return TranscriberFunc(func(ctx context.Context, wavPath string) (string, error) {
		text, err := t.Transcribe(ctx, wavPath)
		if err != nil {
			return "", err
		}
		cleaned, _ := f.Clean(text)
		return cleaned, nil
	})
}
