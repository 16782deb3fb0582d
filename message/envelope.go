// Package message defines the typed envelopes carried inside frames:
// invocations, responses, stream chunks, errors, pings and the handshake.
//
// Every envelope payload begins with
//
//	[message_type:1][flags:1][correlation_id:8 BE]
//
// followed by a type-specific body. Encoding is deterministic; signatures
// cover the encoded byte form.
package message

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed envelope header length.
const HeaderSize = 10

// MessageType is the envelope discriminator.
type MessageType uint8

const (
	TypeInvocation  MessageType = 1
	TypeResponse    MessageType = 2
	TypeStreamChunk MessageType = 3
	TypeError       MessageType = 4
	TypePing        MessageType = 5
	TypeHello       MessageType = 6 // handshake: manifest + limits
)

// String returns the message type name
func (t MessageType) String() string {
	switch t {
	case TypeInvocation:
		return "INVOCATION"
	case TypeResponse:
		return "RESPONSE"
	case TypeStreamChunk:
		return "STREAM_CHUNK"
	case TypeError:
		return "ERROR"
	case TypePing:
		return "PING"
	case TypeHello:
		return "HELLO"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t >= TypeInvocation && t <= TypeHello
}

// Flags is the envelope flag bitfield.
type Flags uint8

const (
	FlagReply      Flags = 0x01 // answer to a Ping or Hello
	FlagStreaming  Flags = 0x02
	FlagCompressed Flags = 0x04
	FlagSigned     Flags = 0x08
)

// Has reports whether every bit of f2 is set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Envelope is a typed message wrapper carrying a correlation id.
type Envelope struct {
	Type          MessageType
	Flags         Flags
	CorrelationID uint64
	Body          []byte
}

// EncodeEnvelope returns the frame-ready byte form of env.
func EncodeEnvelope(env Envelope) []byte {
	return AppendEnvelope(make([]byte, 0, HeaderSize+len(env.Body)), env)
}

// AppendEnvelope appends the encoded envelope to dst.
func AppendEnvelope(dst []byte, env Envelope) []byte {
	dst = append(dst, byte(env.Type), byte(env.Flags))
	dst = binary.BigEndian.AppendUint64(dst, env.CorrelationID)
	return append(dst, env.Body...)
}

// DecodeEnvelope parses an envelope. Body aliases b.
//
// On ErrUnknownMessageType the returned envelope still carries the
// correlation id so the caller can answer with an Error envelope.
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) < HeaderSize {
		return Envelope{}, truncated("envelope header needs %d bytes, got %d", HeaderSize, len(b))
	}
	env := Envelope{
		Type:          MessageType(b[0]),
		Flags:         Flags(b[1]),
		CorrelationID: binary.BigEndian.Uint64(b[2:HeaderSize]),
		Body:          b[HeaderSize:],
	}
	if !env.Type.Valid() {
		return env, &DecodeError{Kind: KindUnknownMessageType, Detail: fmt.Sprintf("type byte %d", b[0])}
	}
	return env, nil
}

// NewResponse creates a RESPONSE envelope
func NewResponse(correlationID uint64, body []byte) Envelope {
	return Envelope{Type: TypeResponse, CorrelationID: correlationID, Body: body}
}

// NewPing creates a PING envelope
func NewPing(correlationID uint64, body []byte) Envelope {
	return Envelope{Type: TypePing, CorrelationID: correlationID, Body: body}
}

// NewPong answers a PING with the same correlation id and body
func NewPong(ping Envelope) Envelope {
	return Envelope{Type: TypePing, Flags: FlagReply, CorrelationID: ping.CorrelationID, Body: ping.Body}
}
