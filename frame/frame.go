// Package frame delimits protocol messages on a byte stream.
//
// Wire layout:
//
//	[version:1][length:4 BE][payload: length bytes]
//
// The codec knows nothing about payload semantics.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol version carried in every frame header.
const ProtocolVersion uint8 = 1

// HeaderSize is the fixed frame header length (version + length).
const HeaderSize = 5

// Default maximum frame size (3.5 MB). Larger results are streamed as chunks.
const DefaultMaxFrame int = 3_670_016

// Default maximum stream chunk size (256 KB)
const DefaultMaxChunk int = 262_144

// Hard limit on frame size (16 MB) - prevents DoS
const MaxFrameHardLimit int = 16_777_216

var (
	// ErrFrameTooLarge is returned when a declared or encoded length exceeds the limit.
	ErrFrameTooLarge = errors.New("frame: payload exceeds maximum size")

	// ErrVersionMismatch is returned when the version byte is unsupported.
	ErrVersionMismatch = errors.New("frame: unsupported protocol version")
)

// Frame is one length-delimited unit on the byte stream.
type Frame struct {
	Version uint8
	Payload []byte
}

// Len returns the declared payload length.
func (f *Frame) Len() int {
	return len(f.Payload)
}

// Encode prefixes payload with the version byte and a big-endian length.
func Encode(payload []byte) ([]byte, error) {
	return AppendEncode(make([]byte, 0, HeaderSize+len(payload)), payload)
}

// AppendEncode appends the encoded frame to dst.
func AppendEncode(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameHardLimit {
		return dst, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), MaxFrameHardLimit)
	}
	var hdr [HeaderSize]byte
	hdr[0] = ProtocolVersion
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...), nil
}

// Decode parses one frame from the front of buf.
//
// It returns n == 0 with a nil error when buf does not yet hold a complete
// frame; the caller should wait for more bytes and retry with the same
// (extended) buffer. On success n is the number of bytes consumed and the
// frame payload aliases buf.
func Decode(buf []byte, maxFrame int) (Frame, int, error) {
	if maxFrame <= 0 || maxFrame > MaxFrameHardLimit {
		maxFrame = MaxFrameHardLimit
	}
	if len(buf) < 1 {
		return Frame{}, 0, nil
	}
	if buf[0] != ProtocolVersion {
		return Frame{}, 0, fmt.Errorf("%w: got %d, expected %d", ErrVersionMismatch, buf[0], ProtocolVersion)
	}
	if len(buf) < HeaderSize {
		return Frame{}, 0, nil
	}
	length := binary.BigEndian.Uint32(buf[1:HeaderSize])
	if uint64(length) > uint64(maxFrame) {
		return Frame{}, 0, fmt.Errorf("%w: declared %d, max %d", ErrFrameTooLarge, length, maxFrame)
	}
	end := HeaderSize + int(length)
	if len(buf) < end {
		return Frame{}, 0, nil
	}
	return Frame{Version: buf[0], Payload: buf[HeaderSize:end:end]}, end, nil
}

// Decoder accumulates bytes from successive reads and yields complete frames.
//
// Payload slices returned by Next remain valid after later Feed calls: the
// internal buffer is never overwritten in place, only reallocated.
type Decoder struct {
	buf      []byte
	off      int
	maxFrame int
}

// NewDecoder creates a decoder enforcing maxFrame (0 means the hard limit).
func NewDecoder(maxFrame int) *Decoder {
	return &Decoder{maxFrame: maxFrame}
}

// SetMaxFrame updates the enforced frame size limit.
func (d *Decoder) SetMaxFrame(maxFrame int) {
	d.maxFrame = maxFrame
}

// Feed appends newly read bytes.
func (d *Decoder) Feed(p []byte) {
	if len(p) == 0 {
		return
	}
	if d.off > 0 && d.off == len(d.buf) {
		d.buf = nil
		d.off = 0
	} else if d.off > 0 && d.off >= len(d.buf)/2 {
		rest := make([]byte, len(d.buf)-d.off, len(d.buf)-d.off+len(p))
		copy(rest, d.buf[d.off:])
		d.buf = rest
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Next returns the next complete frame, or (nil, nil) if more bytes are needed.
func (d *Decoder) Next() (*Frame, error) {
	f, n, err := Decode(d.buf[d.off:], d.maxFrame)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	d.off += n
	return &f, nil
}

// Buffered returns the number of bytes held that do not yet form a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}
