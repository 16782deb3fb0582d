package dcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/frame"
	"github.com/machinefabric/dcp-go/message"
	"github.com/machinefabric/dcp-go/router"
	"github.com/machinefabric/dcp-go/security"
	"github.com/machinefabric/dcp-go/stream"
)

// Outbound receives encoded envelopes. *frame.FrameWriter implements it.
type Outbound interface {
	WriteFrame(payload []byte) error
}

// SessionOptions configures one connection.
type SessionOptions struct {
	Router *router.Router

	// Verifier authenticates invocations as SignerID. Nil disables
	// signature checks and the signed-invocations capability. An empty
	// SignerID is taken from the peer's HELLO.
	Verifier *security.Verifier
	SignerID string

	// Manifest is the local manifest. Zero means capability.Protocol()
	// plus everything the router's routes require.
	Manifest capability.Manifest
	Limits   frame.Limits
	Stream   stream.Config

	Logger zerolog.Logger

	// OnNegotiated runs once after HELLO, on the receiving task.
	OnNegotiated func(manifest capability.Manifest, limits frame.Limits)

	Outbound Outbound
}

// Session runs the decode, verify, route and respond pipeline for one
// connection. Receive must be called from a single task so invocations
// are handled in arrival order; Flush may run concurrently on another.
type Session struct {
	id     string
	opts   SessionOptions
	local  capability.Manifest
	ring   *stream.Ring
	logger zerolog.Logger

	mu         sync.Mutex
	negotiated bool
	manifest   capability.Manifest
	limits     frame.Limits
	signer     string
	streams    map[uint64]uint64 // stream id -> correlation id

	nextStream atomic.Uint64
}

// NewSession creates a session. Router and Outbound are required.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Router == nil {
		return nil, errors.New("session requires a router")
	}
	if opts.Outbound == nil {
		return nil, errors.New("session requires an outbound writer")
	}

	local := opts.Manifest
	if local.IsZero() {
		local = capability.Protocol().Union(opts.Router.Manifest())
	}
	if opts.Verifier == nil {
		local = local.Clear(capability.SignedInvocations)
	}
	opts.Limits = message.FitLimits(opts.Limits)

	streamCfg := opts.Stream
	if streamCfg.Capacity <= 0 {
		streamCfg.Capacity = opts.Limits.MaxStreamBuffer
	}

	id := uuid.New().String()
	logger := opts.Logger.With().Str("session", id).Logger()
	if opts.SignerID != "" {
		logger = logger.With().Str("signer", opts.SignerID).Logger()
	}

	return &Session{
		id:      id,
		opts:    opts,
		local:   local,
		ring:    stream.NewRing(streamCfg),
		logger:  logger,
		signer:  opts.SignerID,
		streams: make(map[uint64]uint64),
	}, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// LocalManifest returns the manifest announced in HELLO.
func (s *Session) LocalManifest() capability.Manifest {
	return s.local
}

// Negotiated returns the agreed manifest and limits once HELLO completed.
func (s *Session) Negotiated() (capability.Manifest, frame.Limits, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest, s.limits, s.negotiated
}

// Signer returns the id invocations are verified against.
func (s *Session) Signer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signer
}

// Ring returns the outgoing stream buffer.
func (s *Session) Ring() *stream.Ring {
	return s.ring
}

// Receive handles one frame payload.
//
// A returned error is transport-level and the connection must close.
// Protocol, security and dispatch failures are answered with ERROR
// envelopes and Receive returns nil.
func (s *Session) Receive(ctx context.Context, payload []byte) error {
	env, err := message.DecodeEnvelope(payload)
	if err != nil {
		if errors.Is(err, message.ErrUnknownMessageType) {
			s.logger.Debug().Uint64("correlation_id", env.CorrelationID).Err(err).Msg("rejecting envelope")
			return s.sendError(env.CorrelationID, err)
		}
		return err
	}

	switch env.Type {
	case message.TypeHello:
		return s.handleHello(env)
	case message.TypePing:
		if env.Flags.Has(message.FlagReply) {
			return nil
		}
		manifest, _, ok := s.Negotiated()
		if !ok {
			return s.sendError(env.CorrelationID, ErrHandshakeRequired)
		}
		if err := capability.Require(manifest, capability.Ping); err != nil {
			return s.sendError(env.CorrelationID, err)
		}
		return s.send(message.NewPong(env))
	case message.TypeInvocation:
		return s.handleInvocation(ctx, env)
	default:
		s.logger.Debug().Stringer("type", env.Type).Uint64("correlation_id", env.CorrelationID).Msg("ignoring envelope")
		return nil
	}
}

func (s *Session) handleHello(env message.Envelope) error {
	hello, err := message.DecodeHello(env.Body)
	if err != nil {
		if errors.Is(err, message.ErrTruncated) {
			return err
		}
		return s.sendError(env.CorrelationID, err)
	}
	if hello.Version != frame.ProtocolVersion {
		return fmt.Errorf("%w: peer speaks %d, we speak %d", frame.ErrVersionMismatch, hello.Version, frame.ProtocolVersion)
	}

	s.mu.Lock()
	if s.negotiated {
		s.mu.Unlock()
		return s.sendError(env.CorrelationID, fmt.Errorf("%w: duplicate hello", message.ErrSchemaViolation))
	}
	manifest := capability.Negotiate(s.local, hello.Manifest)
	limits := message.FitLimits(frame.NegotiateLimits(s.opts.Limits, hello.Limits))
	s.manifest, s.limits, s.negotiated = manifest, limits, true
	if s.signer == "" {
		s.signer = hello.Signer
	}
	signer := s.signer
	s.mu.Unlock()

	reply, err := message.NewHello(s.local, s.opts.Limits, true)
	if err != nil {
		return err
	}
	reply.CorrelationID = env.CorrelationID
	if err := s.send(reply); err != nil {
		return err
	}

	s.logger.Info().
		Str("peer_signer", signer).
		Stringer("manifest", manifest).
		Int("max_frame", limits.MaxFrame).
		Int("max_chunk", limits.MaxChunk).
		Msg("capabilities negotiated")
	if s.opts.OnNegotiated != nil {
		s.opts.OnNegotiated(manifest, limits)
	}
	return nil
}

func (s *Session) handleInvocation(ctx context.Context, env message.Envelope) error {
	manifest, limits, ok := s.Negotiated()
	if !ok {
		return s.sendError(env.CorrelationID, ErrHandshakeRequired)
	}

	inv, err := message.DecodeInvocation(env.Body)
	if err != nil {
		if errors.Is(err, message.ErrTruncated) {
			_ = s.sendError(env.CorrelationID, err)
			return err
		}
		return s.sendError(env.CorrelationID, err)
	}
	signer := s.Signer()
	log := s.logger.With().Str("tool", inv.ToolID).Uint64("correlation_id", env.CorrelationID).Logger()

	if s.opts.Verifier != nil {
		if err := capability.Require(manifest, capability.SignedInvocations); err != nil {
			return s.sendError(env.CorrelationID, err)
		}
		if err := s.opts.Verifier.VerifyInvocation(signer, inv); err != nil {
			log.Warn().Err(err).Msg("invocation rejected")
			return s.sendError(env.CorrelationID, err)
		}
	}

	route, ok := s.opts.Router.Resolve(inv.ToolID)
	if !ok {
		return s.sendError(env.CorrelationID, fmt.Errorf("%w: '%s'", router.ErrToolNotFound, inv.ToolID))
	}
	if err := capability.RequireAll(manifest, route.Requires); err != nil {
		return s.sendError(env.CorrelationID, err)
	}
	if usesJSON(inv.Args) {
		if err := capability.Require(manifest, capability.JSONArgs); err != nil {
			return s.sendError(env.CorrelationID, err)
		}
	}
	if err := route.Schema.Validate(inv.Args); err != nil {
		return s.sendError(env.CorrelationID, err)
	}

	call := &router.Call{
		ToolID:        inv.ToolID,
		Args:          inv.Args,
		CorrelationID: env.CorrelationID,
		Signer:        signer,
		Manifest:      manifest,
	}
	w := &responseWriter{s: s, ctx: ctx, corr: env.CorrelationID, manifest: manifest, limits: limits}

	start := time.Now()
	herr := route.Handler.Serve(ctx, call, w)
	log.Debug().Dur("elapsed", time.Since(start)).Err(herr).Msg("handler finished")

	switch {
	case w.stream != nil && herr != nil:
		_ = w.stream.Fail(herr.Error())
	case w.stream != nil:
		if err := w.stream.Close(); err != nil {
			log.Debug().Err(err).Msg("closing stream")
		}
	case herr != nil && !w.replied:
		return s.sendError(env.CorrelationID, herr)
	case !w.replied:
		return s.send(message.NewResponse(env.CorrelationID, nil))
	}
	return nil
}

func usesJSON(args message.Args) bool {
	for _, a := range args {
		if a.Type == message.ArgJSON {
			return true
		}
	}
	return false
}

// Flush writes every queued stream chunk to the outbound writer and
// returns how many were written.
func (s *Session) Flush() (int, error) {
	n := 0
	for {
		c, ok := s.ring.Pop()
		if !ok {
			return n, nil
		}
		s.mu.Lock()
		corr, known := s.streams[c.StreamID]
		if known && c.Terminal() {
			delete(s.streams, c.StreamID)
		}
		s.mu.Unlock()
		if !known {
			continue
		}
		if err := s.send(message.NewChunkEnvelope(corr, c)); err != nil {
			return n, err
		}
		n++
	}
}

// Reclaim frees stream capacity held by consumers that stopped reading.
func (s *Session) Reclaim(now time.Time) int {
	dropped := s.ring.Reclaim(now)

	s.mu.Lock()
	for id := range s.streams {
		if s.ring.Closed(id) && s.ring.Queued(id) == 0 {
			delete(s.streams, id)
		}
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Debug().Int("chunks", dropped).Msg("reclaimed abandoned streams")
	}
	if s.opts.Verifier != nil && s.opts.Verifier.Nonces != nil {
		s.opts.Verifier.Nonces.Prune(now)
	}
	return dropped
}

// CancelStream abandons an outgoing stream and drops its queued chunks.
func (s *Session) CancelStream(streamID uint64) int {
	dropped := s.ring.Cancel(streamID)
	s.mu.Lock()
	delete(s.streams, streamID)
	s.mu.Unlock()
	return dropped
}

func (s *Session) send(env message.Envelope) error {
	return s.opts.Outbound.WriteFrame(message.EncodeEnvelope(env))
}

func (s *Session) sendError(correlationID uint64, err error) error {
	return s.send(message.NewError(correlationID, ErrorCode(err), err.Error()))
}

func (s *Session) openStream(ctx context.Context, corr uint64, limits frame.Limits) *streamWriter {
	id := s.nextStream.Add(1)
	s.mu.Lock()
	s.streams[id] = corr
	s.mu.Unlock()
	return &streamWriter{ctx: ctx, ring: s.ring, chunker: stream.NewChunker(id, limits.MaxChunk)}
}
