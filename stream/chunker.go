package stream

import "github.com/machinefabric/dcp-go/message"

// Chunker numbers the chunks of one outgoing stream and splits data at
// the negotiated chunk size.
type Chunker struct {
	streamID uint64
	maxChunk int
	seq      uint32
}

// NewChunker creates a chunker. maxChunk <= 0 disables splitting.
func NewChunker(streamID uint64, maxChunk int) *Chunker {
	return &Chunker{streamID: streamID, maxChunk: maxChunk}
}

// StreamID returns the stream this chunker numbers.
func (c *Chunker) StreamID() uint64 {
	return c.streamID
}

// Split cuts data into non-terminal chunks. Empty data yields none.
func (c *Chunker) Split(data []byte) []message.StreamChunk {
	if len(data) == 0 {
		return nil
	}
	size := c.maxChunk
	if size <= 0 {
		size = len(data)
	}
	out := make([]message.StreamChunk, 0, (len(data)+size-1)/size)
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		out = append(out, c.next(data[off:end:end], message.ChunkMore))
	}
	return out
}

// End returns the terminal chunk.
func (c *Chunker) End() message.StreamChunk {
	return c.next(nil, 0)
}

// Fail returns a terminal chunk carrying reason.
func (c *Chunker) Fail(reason string) message.StreamChunk {
	return c.next([]byte(reason), message.ChunkError)
}

// All splits data and appends the terminal chunk.
func (c *Chunker) All(data []byte) []message.StreamChunk {
	return append(c.Split(data), c.End())
}

// Rewind returns the most recent sequence number after its chunk was
// rejected, so the next chunk reuses it.
func (c *Chunker) Rewind() {
	if c.seq > 0 {
		c.seq--
	}
}

// Next returns one chunk of data, marked non-terminal.
func (c *Chunker) Next(data []byte) message.StreamChunk {
	return c.next(data, message.ChunkMore)
}

// MaxChunk returns the split size.
func (c *Chunker) MaxChunk() int {
	return c.maxChunk
}

func (c *Chunker) next(data []byte, flags message.ChunkFlags) message.StreamChunk {
	ch := message.StreamChunk{StreamID: c.streamID, Sequence: c.seq, Flags: flags, Data: data}
	c.seq++
	return ch
}
