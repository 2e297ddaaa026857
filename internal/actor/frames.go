package actor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// OpenSeeFaceFrameLen is the size of one OpenSeeFace tracking packet.
const OpenSeeFaceFrameLen = 1785

var (
	// ErrBadFrameFile is returned for a frame file whose size is not a
	// positive multiple of the frame length.
	ErrBadFrameFile = errors.New("bad frame file")
	// ErrMissingSequence is returned when a state has no frame file.
	ErrMissingSequence = errors.New("missing frame sequence")
)

// Sequence is an immutable run of fixed-size frames.
type Sequence struct {
	frames [][]byte
}

// NewSequence splits data into frames of frameLen bytes.
func NewSequence(data []byte, frameLen int) (Sequence, error) {
	if frameLen <= 0 {
		return Sequence{}, fmt.Errorf("%w: frame length %d", ErrBadFrameFile, frameLen)
	}
	if len(data) == 0 || len(data)%frameLen != 0 {
		return Sequence{}, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrBadFrameFile, len(data), frameLen)
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	frames := make([][]byte, 0, len(buf)/frameLen)
	for off := 0; off < len(buf); off += frameLen {
		frames = append(frames, buf[off:off+frameLen:off+frameLen])
	}
	return Sequence{frames: frames}, nil
}

// LoadSequence reads one frame file. The file has no header.
func LoadSequence(path string, frameLen int) (Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sequence{}, err
	}
	seq, err := NewSequence(data, frameLen)
	if err != nil {
		return Sequence{}, fmt.Errorf("%s: %w", path, err)
	}
	return seq, nil
}

// Len returns the number of frames.
func (s Sequence) Len() int { return len(s.frames) }

// Frame returns frame i. Callers must not modify it.
func (s Sequence) Frame(i int) []byte { return s.frames[i] }

// Library maps every state to its sequence.
type Library map[State]Sequence

// LoadLibrary reads one file per state, named after the state, from dir.
// Other files in dir are ignored. Every state must have a file.
func LoadLibrary(dir string, frameLen int) (Library, error) {
	lib := make(Library, len(States))
	for _, s := range States {
		path := filepath.Join(dir, s.String())
		seq, err := LoadSequence(path, frameLen)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSequence, path)
		}
		if err != nil {
			return nil, err
		}
		lib[s] = seq
	}
	return lib, nil
}
