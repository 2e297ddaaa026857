// Package actor drives the avatar: an Idle/Speaking state flag written by the
// request handler and a frame daemon that streams the matching animation.
package actor

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// State is what the avatar is displaying
type State int32

const (
	Idle State = iota
	Speaking
)

// States lists every state, in declaration order.
var States = []State{Idle, Speaking}

// String returns the state name, which is also its frame file name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Speaking:
		return "speaking"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ParseState maps a name back to a State.
func ParseState(name string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "idle":
		return Idle, nil
	case "speaking":
		return Speaking, nil
	default:
		return Idle, fmt.Errorf("unknown actor state %q", name)
	}
}

// StateFlag is the only value shared between the request handler (writer) and
// the frame daemon (reader). The zero value is Idle.
type StateFlag struct {
	v atomic.Int32
}

// NewStateFlag returns a flag holding s.
func NewStateFlag(s State) *StateFlag {
	f := &StateFlag{}
	f.Store(s)
	return f
}

// Load returns the current state.
func (f *StateFlag) Load() State {
	return State(f.v.Load())
}

// Store sets the state.
func (f *StateFlag) Store(s State) {
	f.v.Store(int32(s))
}

// Swap sets the state and returns the previous one.
func (f *StateFlag) Swap(s State) State {
	return State(f.v.Swap(int32(s)))
}
