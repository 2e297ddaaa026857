package actor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/NewComer00/TalkyTalky/internal/bus"
	"github.com/NewComer00/TalkyTalky/internal/metrics"
	"github.com/NewComer00/TalkyTalky/internal/tts"
)

// ErrNotStarted means the reading ended without a start acknowledgement.
var ErrNotStarted = errors.New("reading ended before it started")

// Reader starts a two-phase read-aloud on the synthesis capability.
type Reader interface {
	ReadAloud(ctx context.Context, text string) (*tts.Reading, error)
}

// Actor is the request-handling side of the avatar. It is the only writer of Flag.
type Actor struct {
	Flag    *StateFlag
	Reader  Reader
	Bus     *bus.EventBus
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// Act reads text aloud and keeps the flag in step with the speech: Speaking
// from the start acknowledgement until the finish acknowledgement, Idle
// otherwise. A reading that fails before starting leaves the flag Idle.
func (a *Actor) Act(ctx context.Context, text string) error {
	r, err := a.Reader.ReadAloud(ctx, text)
	if err != nil {
		return fmt.Errorf("read aloud: %w", err)
	}

	select {
	case <-r.Started():
	case <-r.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if !r.HasStarted() {
		if err := r.Err(); err != nil {
			return fmt.Errorf("read aloud: %w", err)
		}
		return ErrNotStarted
	}

	a.set(Speaking, text)
	defer a.set(Idle, text)

	if err := r.Wait(ctx); err != nil {
		return fmt.Errorf("read aloud: %w", err)
	}
	return nil
}

func (a *Actor) set(s State, text string) {
	prev := a.Flag.Swap(s)
	if prev == s {
		return
	}

	a.Log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("Actor state changed")
	a.Metrics.Transition(s.String(), s == Speaking)
	a.Bus.PublishSync(bus.NewEvent(bus.EventTypeActorStateChanged, map[string]any{
		"from": prev.String(),
		"to":   s.String(),
		"text": text,
	}))
}
