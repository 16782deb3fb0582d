package dcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/frame"
	"github.com/machinefabric/dcp-go/message"
	"github.com/machinefabric/dcp-go/router"
	"github.com/machinefabric/dcp-go/stream"
)

// responseWriter answers one invocation.
type responseWriter struct {
	s        *Session
	ctx      context.Context
	corr     uint64
	manifest capability.Manifest
	limits   frame.Limits

	replied bool
	stream  *streamWriter
}

// Reply sends body as a RESPONSE. A body too large for one frame is
// streamed instead when streaming was negotiated.
func (w *responseWriter) Reply(body []byte) error {
	if w.replied || w.stream != nil {
		return ErrAlreadyResponded
	}
	if message.HeaderSize+len(body) > w.limits.MaxFrame {
		if !w.manifest.Has(capability.Streaming) {
			return fmt.Errorf("%w: response of %d bytes needs streaming", frame.ErrFrameTooLarge, len(body))
		}
		sw, err := w.OpenStream()
		if err != nil {
			return err
		}
		if err := sw.Write(w.ctx, body); err != nil {
			return err
		}
		return sw.Close()
	}
	w.replied = true
	return w.s.send(message.NewResponse(w.corr, body))
}

// OpenStream starts a chunked result correlated to the invocation.
func (w *responseWriter) OpenStream() (router.StreamWriter, error) {
	if w.replied || w.stream != nil {
		return nil, ErrAlreadyResponded
	}
	if err := capability.Require(w.manifest, capability.Streaming); err != nil {
		return nil, err
	}
	w.stream = w.s.openStream(w.ctx, w.corr, w.limits)
	return w.stream, nil
}

// streamWriter pushes one stream's chunks into the session ring.
type streamWriter struct {
	mu      sync.Mutex
	ctx     context.Context
	ring    *stream.Ring
	chunker *stream.Chunker
	done    bool
}

func (sw *streamWriter) StreamID() uint64 {
	return sw.chunker.StreamID()
}

// TryWrite queues data as one chunk without waiting. Data larger than the
// negotiated chunk size must go through Write.
func (sw *streamWriter) TryWrite(data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.done {
		return stream.ErrStreamAlreadyClosed
	}
	if limit := sw.chunker.MaxChunk(); limit > 0 && len(data) > limit {
		return fmt.Errorf("%w: %d bytes exceeds max chunk %d", frame.ErrFrameTooLarge, len(data), limit)
	}
	if err := sw.ring.Push(sw.chunker.Next(clone(data))); err != nil {
		sw.chunker.Rewind()
		return err
	}
	return nil
}

// Write queues data split at the chunk size, waiting for ring space. If
// ctx ends first the stream is cancelled.
func (sw *streamWriter) Write(ctx context.Context, data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.done {
		return stream.ErrStreamAlreadyClosed
	}
	for _, c := range sw.chunker.Split(clone(data)) {
		if err := sw.push(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Close sends the terminal chunk, waiting for space while the call's
// context lasts.
func (sw *streamWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.done {
		return nil
	}
	sw.done = true
	return sw.push(sw.ctx, sw.chunker.End())
}

// Fail sends a terminal error chunk.
func (sw *streamWriter) Fail(reason string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.done {
		return stream.ErrStreamAlreadyClosed
	}
	sw.done = true
	if limit := sw.chunker.MaxChunk(); limit > 0 && len(reason) > limit {
		reason = reason[:limit]
	}
	return sw.push(sw.ctx, sw.chunker.Fail(reason))
}

// push must be called with mu held.
func (sw *streamWriter) push(ctx context.Context, c message.StreamChunk) error {
	for {
		space := sw.ring.Space()
		err := sw.ring.Push(c)
		if err == nil {
			return nil
		}
		if !errors.Is(err, stream.ErrBufferFull) {
			sw.done = true
			return err
		}
		select {
		case <-space:
		case <-ctx.Done():
			sw.done = true
			sw.ring.Cancel(c.StreamID)
			return ctx.Err()
		}
	}
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
