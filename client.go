package dcp

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/frame"
	"github.com/machinefabric/dcp-go/message"
	"github.com/machinefabric/dcp-go/security"
	"github.com/machinefabric/dcp-go/stream"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Key signs every invocation. Nil sends unsigned invocations.
	Key ed25519.PrivateKey

	// Manifest is announced in HELLO; zero means capability.Protocol().
	Manifest capability.Manifest
	Limits   frame.Limits

	// MaxResultBytes bounds a reassembled streamed result; zero is unlimited.
	MaxResultBytes int

	Clock  security.Clock
	Logger zerolog.Logger
}

// Result is the outcome of one call.
type Result struct {
	CorrelationID uint64
	Body          []byte
	Streamed      bool
	Chunks        int
}

// Client calls tools over one connection. Calls are serialized.
type Client struct {
	id     string
	opts   ClientOptions
	rw     io.ReadWriter
	reader *frame.FrameReader
	writer *frame.FrameWriter
	nonces *security.NonceSource
	logger zerolog.Logger

	nextCorr atomic.Uint64

	mu         sync.Mutex
	negotiated *Negotiated
}

// NewClient wraps rw.
func NewClient(rw io.ReadWriter, opts ClientOptions) *Client {
	if opts.Manifest.IsZero() {
		opts.Manifest = capability.Protocol()
	}
	if opts.Key == nil {
		opts.Manifest = opts.Manifest.Clear(capability.SignedInvocations)
	}
	opts.Limits = message.FitLimits(opts.Limits)

	id := uuid.New().String()
	c := &Client{
		id:     id,
		opts:   opts,
		rw:     rw,
		reader: frame.NewFrameReader(rw),
		writer: frame.NewFrameWriter(rw),
		nonces: security.NewNonceSource(opts.Clock),
		logger: opts.Logger.With().Str("client", id).Logger(),
	}
	c.reader.SetLimits(opts.Limits)
	c.writer.SetLimits(opts.Limits)
	return c
}

// Handshake exchanges HELLO with the server. It must precede Call.
func (c *Client) Handshake(ctx context.Context) (Negotiated, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.negotiated != nil {
		return *c.negotiated, nil
	}
	defer c.applyDeadline(ctx)()

	local := message.Hello{Manifest: c.opts.Manifest, Limits: c.opts.Limits}
	if c.opts.Key != nil {
		fp, err := security.Fingerprint(c.opts.Key.Public().(ed25519.PublicKey))
		if err != nil {
			return Negotiated{}, err
		}
		local.Signer = fp
	}
	n, err := HandshakeInitiate(c.reader, c.writer, local)
	if err != nil {
		return Negotiated{}, err
	}
	c.negotiated = &n
	c.logger.Debug().Stringer("manifest", n.Manifest).Msg("handshake complete")
	return n, nil
}

// NewInvocation builds a signed INVOCATION envelope with a fresh nonce and
// correlation id.
func (c *Client) NewInvocation(toolID string, args message.Args) (message.Envelope, error) {
	inv := &message.Invocation{ToolID: toolID, Args: args, Nonce: c.nonces.Next()}
	if c.opts.Key != nil {
		security.SignInvocation(c.opts.Key, inv)
	}
	return message.NewInvocationEnvelope(c.nextCorr.Add(1), inv)
}

// Send writes one envelope.
func (c *Client) Send(env message.Envelope) error {
	return c.writer.WriteFrame(message.EncodeEnvelope(env))
}

// Call invokes toolID and waits for its complete result. A streamed
// result is reassembled.
func (c *Client) Call(ctx context.Context, toolID string, args message.Args) (*Result, error) {
	env, err := c.NewInvocation(toolID, args)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.negotiated == nil {
		return nil, ErrHandshakeRequired
	}
	if err := c.Send(env); err != nil {
		return nil, fmt.Errorf("sending invocation: %w", err)
	}
	return c.await(ctx, env.CorrelationID)
}

// Await reads until the call with correlationID completes.
func (c *Client) Await(ctx context.Context, correlationID uint64) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.await(ctx, correlationID)
}

// Ping round-trips body through the server.
func (c *Client) Ping(ctx context.Context, body []byte) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	corr := c.nextCorr.Add(1)
	if err := c.Send(message.NewPing(corr, body)); err != nil {
		return 0, err
	}
	if _, err := c.await(ctx, corr); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (c *Client) await(ctx context.Context, corr uint64) (*Result, error) {
	defer c.applyDeadline(ctx)()

	var asm *stream.Assembler
	chunks := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := c.reader.ReadFrame()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		env, err := message.DecodeEnvelope(f.Payload)
		if err != nil {
			if IsTransportError(err) {
				return nil, err
			}
			c.logger.Debug().Err(err).Msg("skipping undecodable envelope")
			continue
		}

		if env.Type == message.TypePing && !env.Flags.Has(message.FlagReply) {
			if err := c.Send(message.NewPong(env)); err != nil {
				return nil, err
			}
			continue
		}
		if env.CorrelationID != corr {
			c.logger.Debug().Uint64("correlation_id", env.CorrelationID).Stringer("type", env.Type).Msg("skipping unrelated envelope")
			continue
		}

		switch env.Type {
		case message.TypeResponse, message.TypePing:
			return &Result{CorrelationID: corr, Body: env.Body}, nil
		case message.TypeError:
			return nil, remoteError(env)
		case message.TypeStreamChunk:
			ch, err := message.DecodeChunk(env.Body)
			if err != nil {
				return nil, err
			}
			if asm == nil {
				asm = stream.NewAssembler(ch.StreamID, c.opts.MaxResultBytes)
			}
			chunks++
			done, err := asm.Add(ch)
			if err != nil {
				return nil, err
			}
			if done {
				return &Result{CorrelationID: corr, Body: asm.Bytes(), Streamed: true, Chunks: chunks}, nil
			}
		default:
			return nil, fmt.Errorf("unexpected %s envelope for call %d", env.Type, corr)
		}
	}
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// applyDeadline mirrors ctx's deadline onto the connection when it
// supports read deadlines, and returns the reset.
func (c *Client) applyDeadline(ctx context.Context) func() {
	dl, ok := ctx.Deadline()
	rd, can := c.rw.(readDeadliner)
	if !ok || !can {
		return func() {}
	}
	if err := rd.SetReadDeadline(dl); err != nil {
		c.logger.Debug().Err(err).Msg("setting read deadline")
		return func() {}
	}
	return func() { _ = rd.SetReadDeadline(time.Time{}) }
}

// Close closes the underlying connection when it is an io.Closer.
func (c *Client) Close() error {
	if cl, ok := c.rw.(io.Closer); ok {
		return cl.Close()
	}
	return errors.New("connection is not closable")
}
