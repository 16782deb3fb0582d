package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/dcp-go/message"
)

func chunk(stream uint64, seq uint32, more bool, data string) message.StreamChunk {
	c := message.StreamChunk{StreamID: stream, Sequence: seq, Data: []byte(data)}
	if more {
		c.Flags = message.ChunkMore
	}
	return c
}

type manualClock struct{ now time.Time }

func (m *manualClock) Now() time.Time { return m.now }

// TEST301: Chunks pop in push order across interleaved streams
func Test301_fifo_per_stream(t *testing.T) {
	r := NewRing(Config{Capacity: 8})
	pushed := []message.StreamChunk{
		chunk(1, 0, true, "a"),
		chunk(2, 0, true, "x"),
		chunk(1, 1, true, "b"),
		chunk(2, 1, false, "y"),
		chunk(1, 2, false, "c"),
	}
	for _, c := range pushed {
		require.NoError(t, r.Push(c))
	}

	lastSeq := map[uint64]int{}
	terminal := map[uint64]bool{}
	for i := range pushed {
		c, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, pushed[i], c)

		assert.False(t, terminal[c.StreamID], "chunk after terminal on stream %d", c.StreamID)
		if prev, seen := lastSeq[c.StreamID]; seen {
			assert.GreaterOrEqual(t, int(c.Sequence), prev)
		}
		lastSeq[c.StreamID] = int(c.Sequence)
		terminal[c.StreamID] = c.Terminal()
	}
	_, ok := r.Pop()
	assert.False(t, ok)
}

// TEST302: A full ring signals backpressure until a pop frees a slot
func Test302_backpressure(t *testing.T) {
	r := NewRing(Config{Capacity: 2})
	require.NoError(t, r.Push(chunk(1, 0, true, "a")))
	require.NoError(t, r.Push(chunk(1, 1, true, "b")))

	assert.ErrorIs(t, r.Push(chunk(1, 2, true, "c")), ErrBufferFull)
	assert.Equal(t, 2, r.Len())

	space := r.Space()
	_, ok := r.Pop()
	require.True(t, ok)
	select {
	case <-space:
	default:
		t.Fatal("expected space notification after pop")
	}
	assert.NoError(t, r.Push(chunk(1, 2, false, "c")))
}

// TEST303: Byte capacity also applies, but an empty ring takes any chunk
func Test303_byte_capacity(t *testing.T) {
	r := NewRing(Config{Capacity: 10, MaxBytes: 4})
	require.NoError(t, r.Push(chunk(1, 0, true, "abc")))
	assert.ErrorIs(t, r.Push(chunk(1, 1, true, "de")), ErrBufferFull)
	assert.Equal(t, 3, r.Bytes())

	r.Pop()
	assert.NoError(t, r.Push(chunk(1, 1, true, "oversized")))
}

// TEST304: Pushing after the terminal chunk is StreamAlreadyClosed
func Test304_stream_already_closed(t *testing.T) {
	r := NewRing(Config{})
	require.NoError(t, r.Push(chunk(5, 0, false, "done")))
	assert.False(t, r.Open(5))
	assert.ErrorIs(t, r.Push(chunk(5, 1, true, "late")), ErrStreamAlreadyClosed)

	r.Pop()
	assert.ErrorIs(t, r.Push(chunk(5, 1, true, "late")), ErrStreamAlreadyClosed)
}

// TEST305: Decreasing sequence is rejected
func Test305_out_of_order(t *testing.T) {
	r := NewRing(Config{})
	require.NoError(t, r.Push(chunk(1, 3, true, "")))
	assert.ErrorIs(t, r.Push(chunk(1, 2, true, "")), ErrOutOfOrder)
	assert.NoError(t, r.Push(chunk(1, 3, true, "")))
}

// TEST306: Idle streams are reclaimed and their capacity freed
func Test306_reclaim_abandoned(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	r := NewRing(Config{Capacity: 4, IdleTimeout: time.Second, Clock: clock.Now})

	require.NoError(t, r.Push(chunk(1, 0, true, "stuck")))
	require.NoError(t, r.Push(chunk(2, 0, true, "live")))

	clock.now = clock.now.Add(800 * time.Millisecond)
	require.NoError(t, r.Push(chunk(2, 1, true, "live")))

	clock.now = clock.now.Add(500 * time.Millisecond)
	assert.Equal(t, 1, r.Reclaim(clock.now))
	assert.Equal(t, 2, r.Len())
	assert.False(t, r.Open(1))
	assert.True(t, r.Open(2))
	assert.ErrorIs(t, r.Push(chunk(1, 1, true, "")), ErrStreamAlreadyClosed)

	c, _ := r.Pop()
	assert.Equal(t, uint64(2), c.StreamID)
}

func TestRingCancel(t *testing.T) {
	r := NewRing(Config{Capacity: 4})
	require.NoError(t, r.Push(chunk(1, 0, true, "a")))
	require.NoError(t, r.Push(chunk(2, 0, true, "b")))
	require.NoError(t, r.Push(chunk(1, 1, true, "c")))

	assert.False(t, r.Closed(1))
	assert.Equal(t, 2, r.Cancel(1))
	assert.True(t, r.Closed(1))
	assert.False(t, r.Closed(9))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, r.Bytes())
	assert.ErrorIs(t, r.Push(chunk(1, 2, true, "")), ErrStreamAlreadyClosed)

	c, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", string(c.Data))
}

func TestRingWrapAround(t *testing.T) {
	r := NewRing(Config{Capacity: 3})
	for i := uint32(0); i < 10; i++ {
		require.NoError(t, r.Push(chunk(1, i, true, "")))
		c, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, i, c.Sequence)
	}
	assert.Equal(t, 3, r.Cap())
}

func TestRingReadyNotification(t *testing.T) {
	r := NewRing(Config{})
	ready := r.Ready()
	select {
	case <-ready:
		t.Fatal("unexpected ready before push")
	default:
	}
	require.NoError(t, r.Push(chunk(1, 0, false, "")))
	select {
	case <-ready:
	default:
		t.Fatal("expected ready after push")
	}
}

func TestRingReclaimWakesBlockedProducer(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	r := NewRing(Config{Capacity: 1, IdleTimeout: time.Second, Clock: clock.Now})

	require.NoError(t, r.Push(chunk(1, 0, true, "a")))
	_, ok := r.Pop()
	require.True(t, ok)

	space := r.Space()
	clock.now = clock.now.Add(2 * time.Second)
	assert.Equal(t, 0, r.Reclaim(clock.now))
	select {
	case <-space:
	default:
		t.Fatal("Space not signalled after reclaim closed the stream")
	}
	assert.True(t, r.Closed(1))
	assert.ErrorIs(t, r.Push(chunk(1, 1, true, "b")), ErrStreamAlreadyClosed)
}
