package actor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/NewComer00/TalkyTalky/internal/metrics"
)

// DefaultFPS is the frame rate of the recorded OpenSeeFace sequences.
const DefaultFPS = 24

// Daemon streams the sequence of the current state to the sink at a fixed
// rate. It reads the flag before every frame; on a change the rest of the
// sequence is dropped and the new state's sequence starts at frame 0. An
// unchanged state loops its sequence forever.
type Daemon struct {
	Flag    *StateFlag
	Library Library
	Sink    FrameSink
	FPS     int
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// Run blocks until ctx ends, which is the only way it stops.
func (d *Daemon) Run(ctx context.Context) error {
	if d.Flag == nil || d.Sink == nil {
		return errors.New("actor: daemon needs a flag and a sink")
	}
	fps := d.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	delay := time.Second / time.Duration(fps)

	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	tick := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			return true
		}
	}

	d.Log.Info().Int("fps", fps).Dur("delay", delay).Msg("Frame daemon started")
	defer d.Log.Info().Msg("Frame daemon stopped")

	failing := false
	for {
		state := d.Flag.Load()
		seq := d.Library[state]
		if seq.Len() == 0 {
			// nothing to show for this state; idle one frame and look again
			if !tick() {
				return nil
			}
			continue
		}

		for i := 0; i < seq.Len(); i++ {
			if now := d.Flag.Load(); now != state {
				d.Log.Debug().
					Str("from", state.String()).
					Str("to", now.String()).
					Int("abandoned_at", i).
					Msg("State changed, restarting sequence")
				break
			}

			if err := d.Sink.Send(seq.Frame(i)); err != nil {
				if !failing {
					d.Log.Warn().Err(err).Msg("Frame send failed")
					failing = true
				}
			} else {
				if failing {
					d.Log.Info().Msg("Frame sends recovered")
					failing = false
				}
				d.Metrics.FrameSent(state.String())
			}

			if !tick() {
				return nil
			}
		}
	}
}
