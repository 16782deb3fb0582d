package stream

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/machinefabric/dcp-go/message"
)

var (
	// ErrSequenceGap reports a missing or repeated chunk.
	ErrSequenceGap = errors.New("stream sequence gap")

	// ErrWrongStream reports a chunk for a different stream id.
	ErrWrongStream = errors.New("chunk belongs to another stream")

	// ErrTooLarge reports reassembled data above the assembler limit.
	ErrTooLarge = errors.New("stream too large")
)

// StreamFailedError carries the reason from a producer's error chunk.
type StreamFailedError struct {
	StreamID uint64
	Reason   string
}

func (e *StreamFailedError) Error() string {
	return fmt.Sprintf("stream %d failed: %s", e.StreamID, e.Reason)
}

// Assembler reassembles one incoming stream. Sequences must start at zero
// and increase by one.
type Assembler struct {
	streamID uint64
	maxBytes int
	next     uint32
	done     bool
	buf      bytes.Buffer
}

// NewAssembler creates an assembler. maxBytes <= 0 means unlimited.
func NewAssembler(streamID uint64, maxBytes int) *Assembler {
	return &Assembler{streamID: streamID, maxBytes: maxBytes}
}

// Add appends one chunk. It returns true once the terminal chunk arrives.
func (a *Assembler) Add(c message.StreamChunk) (bool, error) {
	if c.StreamID != a.streamID {
		return false, fmt.Errorf("%w: got %d, want %d", ErrWrongStream, c.StreamID, a.streamID)
	}
	if a.done {
		return true, fmt.Errorf("%w: stream %d", ErrStreamAlreadyClosed, a.streamID)
	}
	if c.Sequence != a.next {
		return false, fmt.Errorf("%w: stream %d expected %d, got %d", ErrSequenceGap, a.streamID, a.next, c.Sequence)
	}
	a.next++

	if c.Failed() {
		a.done = true
		return true, &StreamFailedError{StreamID: a.streamID, Reason: string(c.Data)}
	}
	if a.maxBytes > 0 && a.buf.Len()+len(c.Data) > a.maxBytes {
		return false, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, a.maxBytes)
	}
	a.buf.Write(c.Data)
	if c.Terminal() {
		a.done = true
	}
	return a.done, nil
}

// Done reports whether the terminal chunk was added.
func (a *Assembler) Done() bool {
	return a.done
}

// Bytes returns the data reassembled so far.
func (a *Assembler) Bytes() []byte {
	return a.buf.Bytes()
}
