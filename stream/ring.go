// Package stream buffers chunked tool output between a producing handler
// and the connection writer.
//
// A Ring never grows: a full ring answers Push with ErrBufferFull and the
// producer waits on Space() before retrying. Chunks pop in push order, so
// every stream is delivered in order.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/machinefabric/dcp-go/message"
)

var (
	// ErrBufferFull is backpressure, not a failure: retry after Space() fires.
	ErrBufferFull = errors.New("stream buffer full")

	// ErrStreamAlreadyClosed rejects pushes after a terminal chunk, a
	// Cancel, or idle reclamation.
	ErrStreamAlreadyClosed = errors.New("stream already closed")

	// ErrOutOfOrder rejects a sequence lower than one already pushed.
	ErrOutOfOrder = errors.New("stream chunk out of order")
)

const (
	DefaultCapacity    = 64
	DefaultMaxBytes    = 16 * 1024 * 1024
	DefaultIdleTimeout = 30 * time.Second
)

// Config sizes a Ring.
type Config struct {
	Capacity    int              // chunk slots
	MaxBytes    int              // total queued data bytes
	IdleTimeout time.Duration    // streams idle longer than this are reclaimed
	Clock       func() time.Time // defaults to time.Now
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

type streamState struct {
	lastSeq    uint32
	started    bool
	closed     bool
	queued     int
	lastActive time.Time
}

// Ring is a bounded FIFO of stream chunks shared by every stream of one
// connection. It is safe for one or more producers and one consumer.
type Ring struct {
	mu      sync.Mutex
	cfg     Config
	slots   []message.StreamChunk
	head    int
	count   int
	bytes   int
	streams map[uint64]*streamState

	space chan struct{}
	ready chan struct{}
}

// NewRing creates a ring; zero Config fields take defaults.
func NewRing(cfg Config) *Ring {
	cfg = cfg.withDefaults()
	return &Ring{
		cfg:     cfg,
		slots:   make([]message.StreamChunk, cfg.Capacity),
		streams: make(map[uint64]*streamState),
		space:   make(chan struct{}),
		ready:   make(chan struct{}),
	}
}

// Push enqueues c. A chunk larger than MaxBytes is still accepted into an
// empty ring so oversized chunks cannot wedge a stream.
func (r *Ring) Push(c message.StreamChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.streams[c.StreamID]
	if st != nil {
		if st.closed {
			return fmt.Errorf("%w: stream %d", ErrStreamAlreadyClosed, c.StreamID)
		}
		if st.started && c.Sequence < st.lastSeq {
			return fmt.Errorf("%w: stream %d sequence %d after %d", ErrOutOfOrder, c.StreamID, c.Sequence, st.lastSeq)
		}
	}
	if r.count == len(r.slots) || (r.count > 0 && r.bytes+len(c.Data) > r.cfg.MaxBytes) {
		return ErrBufferFull
	}

	if st == nil {
		st = &streamState{}
		r.streams[c.StreamID] = st
	}
	r.slots[(r.head+r.count)%len(r.slots)] = c
	r.count++
	r.bytes += len(c.Data)

	st.started = true
	st.lastSeq = c.Sequence
	st.queued++
	st.lastActive = r.cfg.Clock()
	if c.Terminal() {
		st.closed = true
	}

	r.ready = broadcast(r.ready)
	return nil
}

// Pop dequeues the oldest chunk.
func (r *Ring) Pop() (message.StreamChunk, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return message.StreamChunk{}, false
	}
	c := r.slots[r.head]
	r.slots[r.head] = message.StreamChunk{}
	r.head = (r.head + 1) % len(r.slots)
	r.count--
	r.bytes -= len(c.Data)

	if st := r.streams[c.StreamID]; st != nil {
		st.queued--
		st.lastActive = r.cfg.Clock()
	}

	r.space = broadcast(r.space)
	return c, true
}

// Space returns a channel closed by the next Pop or drop that frees
// capacity. Take it before the Push it guards so no wakeup is missed.
func (r *Ring) Space() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.space
}

// Ready returns a channel closed by the next Push. Take it before
// draining so no wakeup is missed.
func (r *Ring) Ready() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Len returns the number of queued chunks.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Bytes returns the queued data size.
func (r *Ring) Bytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// Cap returns the chunk capacity.
func (r *Ring) Cap() int {
	return len(r.slots)
}

// Queued returns the number of chunks of streamID waiting to be popped.
func (r *Ring) Queued(streamID uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st := r.streams[streamID]; st != nil {
		return st.queued
	}
	return 0
}

// Open reports whether a stream has been started and not closed.
func (r *Ring) Open(streamID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.streams[streamID]
	return st != nil && !st.closed
}

// Closed reports whether a known stream was terminated, cancelled or
// reclaimed. Streams never pushed to are not closed.
func (r *Ring) Closed(streamID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.streams[streamID]
	return st != nil && st.closed
}

// Cancel closes a stream and drops its queued chunks. It returns the
// number of chunks dropped.
func (r *Ring) Cancel(streamID uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.streams[streamID]
	if st == nil {
		st = &streamState{started: true}
		r.streams[streamID] = st
	}
	st.closed = true
	st.lastActive = r.cfg.Clock()
	return r.dropLocked(func(id uint64) bool { return id == streamID })
}

// Reclaim frees capacity held by abandoned streams. Streams with no push
// or pop for longer than the idle timeout are closed and their queued
// chunks dropped; records of closed, drained streams idle that long are
// forgotten. It returns the number of chunks dropped.
func (r *Ring) Reclaim(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	stale := make(map[uint64]bool)
	for id, st := range r.streams {
		if now.Sub(st.lastActive) <= r.cfg.IdleTimeout {
			continue
		}
		if st.closed && st.queued == 0 {
			delete(r.streams, id)
			continue
		}
		st.closed = true
		stale[id] = true
	}
	if len(stale) == 0 {
		return 0
	}
	dropped := r.dropLocked(func(id uint64) bool { return stale[id] })
	if dropped == 0 {
		// wake producers blocked on a stream that just closed
		r.space = broadcast(r.space)
	}
	return dropped
}

// dropLocked removes queued chunks whose stream matches, preserving the
// order of the rest. Must be called with mu held.
func (r *Ring) dropLocked(match func(uint64) bool) int {
	kept := 0
	dropped := 0
	for i := 0; i < r.count; i++ {
		c := r.slots[(r.head+i)%len(r.slots)]
		if match(c.StreamID) {
			r.bytes -= len(c.Data)
			if st := r.streams[c.StreamID]; st != nil {
				st.queued--
			}
			dropped++
			continue
		}
		r.slots[(r.head+kept)%len(r.slots)] = c
		kept++
	}
	for i := kept; i < r.count; i++ {
		r.slots[(r.head+i)%len(r.slots)] = message.StreamChunk{}
	}
	r.count = kept
	if dropped > 0 {
		r.space = broadcast(r.space)
	}
	return dropped
}

// broadcast wakes every waiter on ch and returns its replacement.
func broadcast(ch chan struct{}) chan struct{} {
	close(ch)
	return make(chan struct{})
}
