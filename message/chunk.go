package message

import (
	"encoding/binary"
	"fmt"

	"github.com/machinefabric/dcp-go/frame"
)

// ChunkFlags marks continuation and failure of a stream chunk.
type ChunkFlags uint8

const (
	ChunkMore  ChunkFlags = 0x01 // more chunks follow
	ChunkError ChunkFlags = 0x02 // producer failed; data carries the reason
)

// ChunkHeaderSize is stream_id + sequence + flags + data_len.
const ChunkHeaderSize = 8 + 4 + 1 + 4

// ChunkOverhead is the framed size of a chunk envelope minus its data.
const ChunkOverhead = HeaderSize + ChunkHeaderSize

// FitLimits normalizes l and lowers MaxChunk so a full chunk envelope
// fits in MaxFrame.
func FitLimits(l frame.Limits) frame.Limits {
	l = l.Normalize()
	if limit := l.MaxFrame - ChunkOverhead; l.MaxChunk > limit {
		l.MaxChunk = max(limit, 1)
	}
	return l
}

// StreamChunk is an ordered fragment of a long-running tool's output.
//
// Body layout: [stream_id:8][sequence:4][flags:1][data_len:4][data]
type StreamChunk struct {
	StreamID uint64
	Sequence uint32
	Flags    ChunkFlags
	Data     []byte
}

// More reports whether further chunks follow.
func (c StreamChunk) More() bool {
	return c.Flags&ChunkMore != 0
}

// Failed reports whether the chunk carries a producer error.
func (c StreamChunk) Failed() bool {
	return c.Flags&ChunkError != 0
}

// Terminal reports whether this is the last chunk of its stream.
func (c StreamChunk) Terminal() bool {
	return !c.More()
}

// Size is the encoded body size.
func (c StreamChunk) Size() int {
	return ChunkHeaderSize + len(c.Data)
}

func (c StreamChunk) String() string {
	return fmt.Sprintf("StreamChunk{stream=%d seq=%d more=%t error=%t len=%d}",
		c.StreamID, c.Sequence, c.More(), c.Failed(), len(c.Data))
}

// EncodeChunk encodes a chunk body.
func EncodeChunk(c StreamChunk) []byte {
	return AppendChunk(make([]byte, 0, c.Size()), c)
}

// AppendChunk appends the encoded chunk body to dst.
func AppendChunk(dst []byte, c StreamChunk) []byte {
	dst = binary.BigEndian.AppendUint64(dst, c.StreamID)
	dst = binary.BigEndian.AppendUint32(dst, c.Sequence)
	dst = append(dst, byte(c.Flags))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(c.Data)))
	return append(dst, c.Data...)
}

// DecodeChunk parses a chunk body. Data aliases body.
func DecodeChunk(body []byte) (StreamChunk, error) {
	r := &reader{b: body}
	id, err := r.u64("stream_id")
	if err != nil {
		return StreamChunk{}, err
	}
	seq, err := r.u32("sequence")
	if err != nil {
		return StreamChunk{}, err
	}
	flags, err := r.u8("flags")
	if err != nil {
		return StreamChunk{}, err
	}
	n, err := r.u32("data_len")
	if err != nil {
		return StreamChunk{}, err
	}
	if uint64(n) > uint64(len(body)-r.off) {
		return StreamChunk{}, truncated("chunk data: declared %d bytes, have %d", n, len(body)-r.off)
	}
	data, _ := r.take(int(n), "data")
	return StreamChunk{StreamID: id, Sequence: seq, Flags: ChunkFlags(flags), Data: data}, nil
}

// NewChunkEnvelope wraps a chunk in a STREAM_CHUNK envelope correlated to its invocation.
func NewChunkEnvelope(correlationID uint64, c StreamChunk) Envelope {
	return Envelope{
		Type:          TypeStreamChunk,
		Flags:         FlagStreaming,
		CorrelationID: correlationID,
		Body:          EncodeChunk(c),
	}
}
