package tts

import (
	"context"
	"sync"
)

// Reading tracks one read-aloud operation through its two acknowledgements:
// started (audio is about to play) and done (playback finished or failed).
type Reading struct {
	started   chan struct{}
	done      chan struct{}
	startOnce sync.Once
	doneOnce  sync.Once
	err       error
}

// NewReading returns a reading that has neither started nor finished.
func NewReading() *Reading {
	return &Reading{
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start marks the start acknowledgement. Later calls do nothing.
func (r *Reading) Start() {
	r.startOnce.Do(func() { close(r.started) })
}

// Finish marks the finish acknowledgement with the outcome. Later calls do nothing.
func (r *Reading) Finish(err error) {
	r.doneOnce.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Started is closed once the start acknowledgement has been observed.
func (r *Reading) Started() <-chan struct{} { return r.started }

// Done is closed once the reading has finished, successfully or not.
func (r *Reading) Done() <-chan struct{} { return r.done }

// Err is the outcome; only meaningful after Done is closed.
func (r *Reading) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// HasStarted reports whether the start acknowledgement was observed.
func (r *Reading) HasStarted() bool {
	select {
	case <-r.started:
		return true
	default:
		return false
	}
}

// Wait blocks until the reading is done or ctx ends.
func (r *Reading) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadAloud runs e.Speak in the background and reports its progress.
func ReadAloud(ctx context.Context, e Engine, text string) *Reading {
	r := NewReading()
	go func() {
		r.Finish(e.Speak(ctx, text, r.Start))
	}()
	return r
}
