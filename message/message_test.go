package message

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/frame"
)

func sampleInvocation() *Invocation {
	return &Invocation{
		ToolID: "fs.read",
		Args: Args{
			String("path", "/etc/hosts"),
			Int64("offset", -42),
			Bool("follow", true),
			Float64("ratio", 0.25),
			Null("hint"),
		},
		Nonce:     0x0102030405060708,
		Signature: bytes.Repeat([]byte{0xEE}, 64),
	}
}

// TEST101: Envelope header is type, flags, big-endian correlation id
func Test101_envelope_layout(t *testing.T) {
	env := Envelope{Type: TypeResponse, Flags: FlagStreaming, CorrelationID: 7, Body: []byte("hi")}
	b := EncodeEnvelope(env)

	require.Len(t, b, HeaderSize+2)
	assert.Equal(t, byte(TypeResponse), b[0])
	assert.Equal(t, byte(FlagStreaming), b[1])
	assert.Equal(t, uint64(7), binary.BigEndian.Uint64(b[2:10]))

	back, err := DecodeEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, env, back)
}

// TEST102: Short envelope reports Truncated
func Test102_envelope_truncated(t *testing.T) {
	_, err := DecodeEnvelope([]byte{byte(TypePing), 0, 0, 0})
	assert.ErrorIs(t, err, ErrTruncated)

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, KindTruncated, de.Kind)
}

// TEST103: Unknown message type keeps the correlation id for the error reply
func Test103_unknown_message_type(t *testing.T) {
	b := EncodeEnvelope(Envelope{Type: 0x7F, CorrelationID: 99})
	env, err := DecodeEnvelope(b)
	assert.ErrorIs(t, err, ErrUnknownMessageType)
	assert.Equal(t, uint64(99), env.CorrelationID)

	_, err = DecodeEnvelope(EncodeEnvelope(Envelope{Type: 0}))
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

// TEST104: Invocation body encodes exactly as the documented layout
func Test104_invocation_layout(t *testing.T) {
	inv := &Invocation{ToolID: "echo", Args: Args{String("msg", "hi")}, Nonce: 5, Signature: []byte{0xAA, 0xBB}}
	body, err := EncodeInvocation(inv)
	require.NoError(t, err)

	want := []byte{
		0, 4, 'e', 'c', 'h', 'o',
		0, 0, 0, 0, 0, 0, 0, 5,
		0, 1,
		0, 3, 'm', 's', 'g', byte(ArgString), 0, 0, 0, 2, 'h', 'i',
		0, 2, 0xAA, 0xBB,
	}
	assert.Equal(t, want, body)
	assert.Equal(t, want[:len(want)-4], SigningBytes(inv.ToolID, inv.Args, inv.Nonce))
}

// TEST105: Invocation roundtrip preserves every field and is deterministic
func Test105_invocation_roundtrip(t *testing.T) {
	inv := sampleInvocation()
	a, err := EncodeInvocation(inv)
	require.NoError(t, err)
	b, err := EncodeInvocation(inv)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	back, err := DecodeInvocation(a)
	require.NoError(t, err)
	assert.Equal(t, inv.ToolID, back.ToolID)
	assert.Equal(t, inv.Nonce, back.Nonce)
	assert.Equal(t, inv.Signature, back.Signature)
	require.Len(t, back.Args, len(inv.Args))
	for i := range inv.Args {
		assert.Equal(t, inv.Args[i].Name, back.Args[i].Name)
		assert.Equal(t, inv.Args[i].Type, back.Args[i].Type)
		assert.True(t, bytes.Equal(inv.Args[i].Value, back.Args[i].Value))
	}

	reencoded, err := EncodeInvocation(back)
	require.NoError(t, err)
	assert.Equal(t, a, reencoded)
}

// TEST106: Every strict prefix of an invocation body reports Truncated, never panics
func Test106_invocation_truncated_everywhere(t *testing.T) {
	body, err := EncodeInvocation(sampleInvocation())
	require.NoError(t, err)

	for i := 0; i < len(body); i++ {
		_, err := DecodeInvocation(body[:i])
		require.Error(t, err, "prefix %d", i)
		assert.ErrorIs(t, err, ErrTruncated, "prefix %d", i)
	}
}

// TEST107: Trailing bytes after the signature are skipped
func Test107_invocation_trailing_fields_ignored(t *testing.T) {
	body, err := EncodeInvocation(sampleInvocation())
	require.NoError(t, err)
	body = append(body, 0x01, 0x02, 0x03)

	back, err := DecodeInvocation(body)
	require.NoError(t, err)
	assert.Equal(t, "fs.read", back.ToolID)
}

// TEST108: Unknown argument type tags decode opaquely
func Test108_unknown_arg_tag_skipped(t *testing.T) {
	inv := &Invocation{ToolID: "t", Args: Args{{Name: "future", Type: 0x42, Value: []byte{1, 2, 3}}, String("x", "y")}}
	body, err := EncodeInvocation(inv)
	require.NoError(t, err)

	back, err := DecodeInvocation(body)
	require.NoError(t, err)
	require.Len(t, back.Args, 2)
	assert.False(t, back.Args[0].Type.Known())
	s, err := back.Args[1].AsString()
	require.NoError(t, err)
	assert.Equal(t, "y", s)
}

// TEST109: A fixed-width tag with the wrong value size is a schema violation
func Test109_fixed_width_tag_size(t *testing.T) {
	inv := &Invocation{ToolID: "t", Args: Args{{Name: "n", Type: ArgInt64, Value: []byte{1}}}}
	body, err := EncodeInvocation(inv)
	require.NoError(t, err)

	_, err = DecodeInvocation(body)
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

// TEST110: Huge declared value length reports Truncated without allocating
func Test110_declared_value_len_overflow(t *testing.T) {
	body := []byte{
		0, 1, 't',
		0, 0, 0, 0, 0, 0, 0, 1,
		0, 1,
		0, 1, 'a', byte(ArgBytes), 0xFF, 0xFF, 0xFF, 0xFF,
	}
	_, err := DecodeInvocation(body)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestArgAccessors(t *testing.T) {
	i32, err := Int32("a", -7).AsInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-7), i32)

	i64, err := Int64("a", 1<<40).AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40), i64)

	f, err := Float64("a", 3.5).AsFloat64()
	require.NoError(t, err)
	assert.Equal(t, 3.5, f)

	b, err := Bool("a", true).AsBool()
	require.NoError(t, err)
	assert.True(t, b)

	raw, err := Bytes("a", []byte{9}).AsBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, raw)

	_, err = String("a", "x").AsInt64()
	assert.ErrorIs(t, err, ErrSchemaViolation)

	j, err := JSON("obj", map[string]int{"n": 1})
	require.NoError(t, err)
	var out map[string]int
	require.NoError(t, j.DecodeJSON(&out))
	assert.Equal(t, 1, out["n"])
}

func TestStreamChunkRoundtrip(t *testing.T) {
	c := StreamChunk{StreamID: 1 << 50, Sequence: 3, Flags: ChunkMore, Data: []byte("part")}
	body := EncodeChunk(c)
	require.Len(t, body, c.Size())

	back, err := DecodeChunk(body)
	require.NoError(t, err)
	assert.Equal(t, c, back)
	assert.True(t, back.More())
	assert.False(t, back.Terminal())

	for i := 0; i < len(body); i++ {
		_, err := DecodeChunk(body[:i])
		assert.ErrorIs(t, err, ErrTruncated)
	}

	env := NewChunkEnvelope(11, c)
	assert.Equal(t, TypeStreamChunk, env.Type)
	assert.True(t, env.Flags.Has(FlagStreaming))
}

func TestFitLimits(t *testing.T) {
	l := FitLimits(frame.Limits{MaxFrame: 4096})
	assert.Equal(t, 4096, l.MaxFrame)
	assert.Equal(t, 4096-ChunkOverhead, l.MaxChunk)
	assert.Equal(t, frame.DefaultMaxStreamBuffer, l.MaxStreamBuffer)

	c := StreamChunk{StreamID: 1, Data: make([]byte, l.MaxChunk)}
	assert.Equal(t, l.MaxFrame, len(EncodeEnvelope(NewChunkEnvelope(1, c))))

	assert.Equal(t, frame.DefaultLimits(), FitLimits(frame.Limits{}))
	assert.Equal(t, 100, FitLimits(frame.Limits{MaxFrame: 4096, MaxChunk: 100}).MaxChunk)
	assert.Equal(t, 1, FitLimits(frame.Limits{MaxFrame: 8}).MaxChunk)
}

func TestHelloRoundtrip(t *testing.T) {
	m := capability.New(capability.Streaming, capability.Filesystem)
	limits := frame.Limits{MaxFrame: 1 << 20, MaxChunk: 1 << 14, MaxStreamBuffer: 16}

	env, err := NewHello(m, limits, true)
	require.NoError(t, err)
	assert.True(t, env.Flags.Has(FlagReply))

	h, err := DecodeHello(env.Body)
	require.NoError(t, err)
	assert.Equal(t, frame.ProtocolVersion, h.Version)
	assert.Equal(t, m, h.Manifest)
	assert.Equal(t, limits, h.Limits)

	again, err := NewHello(m, limits, true)
	require.NoError(t, err)
	assert.Equal(t, env.Body, again.Body)

	_, err = DecodeHello(env.Body[:len(env.Body)-3])
	assert.Error(t, err)

	signed, err := EncodeHello(Hello{Manifest: m, Signer: "ab12"}, false)
	require.NoError(t, err)
	h, err = DecodeHello(signed.Body)
	require.NoError(t, err)
	assert.Equal(t, "ab12", h.Signer)
	assert.False(t, signed.Flags.Has(FlagReply))
}

func TestErrorBodyRoundtrip(t *testing.T) {
	env := NewError(42, CodeToolNotFound, "no tool 'nope'")
	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, uint64(42), env.CorrelationID)

	body, err := DecodeErrorBody(env.Body)
	require.NoError(t, err)
	assert.Equal(t, CodeToolNotFound, body.Code)
	assert.Equal(t, "no tool 'nope'", body.Message)
	assert.Equal(t, "TOOL_NOT_FOUND: no tool 'nope'", body.Error())
}

func TestPingPong(t *testing.T) {
	ping := NewPing(3, []byte("t0"))
	pong := NewPong(ping)
	assert.True(t, pong.Flags.Has(FlagReply))
	assert.Equal(t, ping.CorrelationID, pong.CorrelationID)
	assert.Equal(t, ping.Body, pong.Body)
}
