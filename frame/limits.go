package frame

// DefaultMaxStreamBuffer is the default stream ring capacity (64 chunks)
const DefaultMaxStreamBuffer int = 64

// Limits represents protocol negotiation limits
type Limits struct {
	MaxFrame        int `cbor:"max_frame" yaml:"max_frame"`
	MaxChunk        int `cbor:"max_chunk" yaml:"max_chunk"`
	MaxStreamBuffer int `cbor:"max_stream_buffer" yaml:"max_stream_buffer"`
}

// DefaultLimits returns the default protocol limits
func DefaultLimits() Limits {
	return Limits{
		MaxFrame:        DefaultMaxFrame,
		MaxChunk:        DefaultMaxChunk,
		MaxStreamBuffer: DefaultMaxStreamBuffer,
	}
}

// NegotiateLimits returns the minimum of two limit sets.
// A zero field on either side is treated as "unspecified" and the other side wins.
func NegotiateLimits(a, b Limits) Limits {
	return Limits{
		MaxFrame:        minPositive(a.MaxFrame, b.MaxFrame),
		MaxChunk:        minPositive(a.MaxChunk, b.MaxChunk),
		MaxStreamBuffer: minPositive(a.MaxStreamBuffer, b.MaxStreamBuffer),
	}
}

// Normalize fills unset fields with defaults and clamps MaxFrame to the hard limit.
func (l Limits) Normalize() Limits {
	d := DefaultLimits()
	if l.MaxFrame <= 0 {
		l.MaxFrame = d.MaxFrame
	}
	if l.MaxFrame > MaxFrameHardLimit {
		l.MaxFrame = MaxFrameHardLimit
	}
	if l.MaxChunk <= 0 {
		l.MaxChunk = d.MaxChunk
	}
	if l.MaxStreamBuffer <= 0 {
		l.MaxStreamBuffer = d.MaxStreamBuffer
	}
	return l
}

func minPositive(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
