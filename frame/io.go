package frame

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

const readChunkSize = 32 * 1024

// FrameReader reads length-prefixed frames from a stream.
// Partial frames spanning several reads are reassembled by an internal Decoder.
type FrameReader struct {
	reader  io.Reader
	limits  Limits
	decoder *Decoder
	scratch []byte
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	limits := DefaultLimits()
	return &FrameReader{
		reader:  r,
		limits:  limits,
		decoder: NewDecoder(limits.MaxFrame),
		scratch: make([]byte, readChunkSize),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits.Normalize()
	fr.decoder.SetMaxFrame(fr.limits.MaxFrame)
}

// Limits returns the reader's current limits
func (fr *FrameReader) Limits() Limits {
	return fr.limits
}

// ReadFrame reads a single frame from the stream.
// io.EOF is returned only on a clean boundary; a stream ending mid-frame
// yields io.ErrUnexpectedEOF.
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	for {
		f, err := fr.decoder.Next()
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}

		n, err := fr.reader.Read(fr.scratch)
		if n > 0 {
			fr.decoder.Feed(fr.scratch[:n])
			continue
		}
		if err == io.EOF && fr.decoder.Buffered() > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}
	}
}

// FrameWriter writes length-prefixed frames to a stream.
// It is safe for concurrent use; each frame is written atomically.
type FrameWriter struct {
	mu     sync.Mutex
	writer io.Writer
	limits Limits
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.limits = limits.Normalize()
}

// WriteFrame writes a single frame carrying payload to the stream
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	// Enforce max_frame limit
	if len(payload) > fw.limits.MaxFrame {
		return fmt.Errorf("%w: encoded size %d exceeds max_frame limit %d", ErrFrameTooLarge, len(payload), fw.limits.MaxFrame)
	}

	var hdr [HeaderSize]byte
	hdr[0] = ProtocolVersion
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := fw.writer.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := fw.writer.Write(payload)
	return err
}
