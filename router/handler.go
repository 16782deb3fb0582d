package router

import (
	"context"

	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/message"
)

// Call is a verified, resolved invocation handed to a handler.
type Call struct {
	ToolID        string
	Args          message.Args
	CorrelationID uint64
	Signer        string

	// Manifest is the capability set negotiated for the connection.
	Manifest capability.Manifest
}

// Arg returns the first argument named name.
func (c *Call) Arg(name string) (message.Arg, bool) {
	return c.Args.Get(name)
}

// ResponseWriter delivers a handler's result. A handler either replies
// once or opens one stream.
type ResponseWriter interface {
	// Reply sends body as the single RESPONSE to the call.
	Reply(body []byte) error

	// OpenStream starts a chunked result. It fails with
	// capability.ErrUnsupportedCapability when streaming was not negotiated.
	OpenStream() (StreamWriter, error)
}

// StreamWriter produces the chunks of one stream.
type StreamWriter interface {
	StreamID() uint64

	// TryWrite queues data without waiting; stream.ErrBufferFull means the
	// caller should wait and retry.
	TryWrite(data []byte) error

	// Write queues data, waiting for buffer space until ctx is done.
	Write(ctx context.Context, data []byte) error

	// Close sends the terminal chunk.
	Close() error

	// Fail sends a terminal error chunk.
	Fail(reason string) error
}

// Handler executes a tool. A returned error becomes a HANDLER_ERROR reply,
// or an error chunk when a stream is open. A handler that returns without
// replying sends an empty RESPONSE; an open stream is closed on return.
type Handler interface {
	Serve(ctx context.Context, call *Call, w ResponseWriter) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call *Call, w ResponseWriter) error

// Serve calls f(ctx, call, w).
func (f HandlerFunc) Serve(ctx context.Context, call *Call, w ResponseWriter) error {
	return f(ctx, call, w)
}
