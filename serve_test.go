package dcp

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/frame"
	"github.com/machinefabric/dcp-go/message"
	"github.com/machinefabric/dcp-go/router"
	"github.com/machinefabric/dcp-go/security"
	"github.com/machinefabric/dcp-go/stream"
)

type served struct {
	client *Client
	cancel context.CancelFunc
	done   chan error
}

func startServe(t *testing.T, withKey bool, ring stream.Config) *served {
	t.Helper()
	pub, priv, err := security.GenerateKey()
	require.NoError(t, err)

	f := &fixture{}
	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, serverConn, ServeOptions{
			SessionOptions: SessionOptions{
				Router:   newRouter(t, f),
				Verifier: security.NewVerifier(security.StaticKeys{"agent": pub}, nil, nil),
				SignerID: "agent",
				Stream:   ring,
				Logger:   zerolog.Nop(),
			},
			HandshakeTimeout: 5 * time.Second,
			ReclaimInterval:  50 * time.Millisecond,
		})
	}()

	opts := ClientOptions{
		Manifest: capability.Protocol().Union(capability.New(capability.Filesystem)),
		Limits:   frame.Limits{MaxChunk: 8},
		Logger:   zerolog.Nop(),
	}
	if withKey {
		opts.Key = priv
	}
	s := &served{client: NewClient(clientConn, opts), cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		_ = s.client.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return")
		}
	})
	return s
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TEST601: Client and server negotiate, echo, stream and reject a replay over a pipe
func Test601_serve_end_to_end(t *testing.T) {
	s := startServe(t, true, stream.Config{Capacity: 2})
	ctx := testCtx(t)

	n, err := s.client.Handshake(ctx)
	require.NoError(t, err)
	assert.True(t, n.Manifest.Has(capability.SignedInvocations))
	assert.True(t, n.Manifest.Has(capability.Streaming))
	assert.Equal(t, 8, n.Limits.MaxChunk)

	res, err := s.client.Call(ctx, "echo", message.Args{message.String("msg", "hi")})
	require.NoError(t, err)
	assert.Equal(t, "hi", string(res.Body))
	assert.False(t, res.Streamed)

	res, err = s.client.Call(ctx, "count", message.Args{message.Int32("n", 20)})
	require.NoError(t, err)
	assert.True(t, res.Streamed)
	assert.Equal(t, 21, res.Chunks)
	assert.True(t, strings.HasPrefix(string(res.Body), "0;1;2;"))
	assert.True(t, strings.HasSuffix(string(res.Body), "18;19;"))

	env, err := s.client.NewInvocation("echo", message.Args{message.String("msg", "once")})
	require.NoError(t, err)
	require.NoError(t, s.client.Send(env))
	res, err = s.client.Await(ctx, env.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, "once", string(res.Body))

	require.NoError(t, s.client.Send(env))
	_, err = s.client.Await(ctx, env.CorrelationID)
	assert.ErrorIs(t, err, security.ErrReplayedNonce)

	_, err = s.client.Call(ctx, "missing", nil)
	assert.ErrorIs(t, err, router.ErrToolNotFound)

	rtt, err := s.client.Ping(ctx, []byte("x"))
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

// TEST602: An unsigned client cannot invoke a server that requires signatures
func Test602_unsigned_client_rejected(t *testing.T) {
	s := startServe(t, false, stream.Config{})
	ctx := testCtx(t)

	n, err := s.client.Handshake(ctx)
	require.NoError(t, err)
	assert.False(t, n.Manifest.Has(capability.SignedInvocations))

	_, err = s.client.Call(ctx, "echo", message.Args{message.String("msg", "hi")})
	assert.ErrorIs(t, err, capability.ErrUnsupportedCapability)
}

// TEST603: A handler streaming to a peer that stopped reading is released by idle reclamation
func Test603_stalled_reader_reclaimed(t *testing.T) {
	returned := make(chan error, 1)
	r := router.New(zerolog.Nop())
	r.MustRegister("flood", router.HandlerFunc(func(ctx context.Context, call *router.Call, w router.ResponseWriter) error {
		sw, err := w.OpenStream()
		if err != nil {
			returned <- err
			return err
		}
		for {
			if err := sw.Write(ctx, []byte("0123456789")); err != nil {
				returned <- err
				return err
			}
		}
	}), router.WithCapability(capability.Streaming))
	r.Freeze()

	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, serverConn, ServeOptions{
			SessionOptions: SessionOptions{
				Router: r,
				Stream: stream.Config{Capacity: 2, IdleTimeout: 100 * time.Millisecond},
				Logger: zerolog.Nop(),
			},
			ReclaimInterval: 20 * time.Millisecond,
		})
	}()
	client := NewClient(clientConn, ClientOptions{Limits: frame.Limits{MaxChunk: 8}, Logger: zerolog.Nop()})
	t.Cleanup(func() {
		cancel()
		_ = client.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return")
		}
	})

	_, err := client.Handshake(testCtx(t))
	require.NoError(t, err)
	env, err := client.NewInvocation("flood", nil)
	require.NoError(t, err)
	require.NoError(t, client.Send(env))

	select {
	case err := <-returned:
		assert.ErrorIs(t, err, stream.ErrStreamAlreadyClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("handler still blocked after the peer stopped reading")
	}
}

func TestCallBeforeHandshake(t *testing.T) {
	s := startServe(t, true, stream.Config{})
	_, err := s.client.Call(testCtx(t), "echo", nil)
	assert.ErrorIs(t, err, ErrHandshakeRequired)
}

func TestServeStopsOnCancel(t *testing.T) {
	s := startServe(t, true, stream.Config{})
	_, err := s.client.Handshake(testCtx(t))
	require.NoError(t, err)

	s.cancel()
	select {
	case err := <-s.done:
		assert.NoError(t, err)
		s.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestHandshakeAcceptInitiate(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	type result struct {
		n   Negotiated
		err error
	}
	accepted := make(chan result, 1)
	go func() {
		n, err := HandshakeAccept(frame.NewFrameReader(a), frame.NewFrameWriter(a), message.Hello{
			Manifest: capability.New(capability.Streaming, capability.Ping),
			Limits:   frame.Limits{MaxFrame: 1 << 20},
		})
		accepted <- result{n, err}
	}()

	n, err := HandshakeInitiate(frame.NewFrameReader(b), frame.NewFrameWriter(b), message.Hello{
		Manifest: capability.New(capability.Streaming, capability.Search),
		Limits:   frame.Limits{MaxChunk: 1024},
		Signer:   "initiator",
	})
	require.NoError(t, err)
	assert.Equal(t, capability.New(capability.Streaming), n.Manifest)
	assert.Equal(t, 1<<20, n.Limits.MaxFrame)
	assert.Equal(t, 1024, n.Limits.MaxChunk)

	r := <-accepted
	require.NoError(t, r.err)
	assert.Equal(t, n.Manifest, r.n.Manifest)
	assert.Equal(t, n.Limits, r.n.Limits)
	assert.Equal(t, "initiator", r.n.Remote.Signer)
}
