package dcp

import (
	"errors"
	"fmt"

	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/frame"
	"github.com/machinefabric/dcp-go/message"
)

// Negotiated is the outcome of a HELLO exchange.
type Negotiated struct {
	Manifest capability.Manifest // mutually supported set
	Limits   frame.Limits        // element-wise minimum, chunk fitted to frame
	Remote   message.Hello       // what the peer announced
}

// HandshakeInitiate sends HELLO and waits for the peer's reply. Both the
// reader and writer are switched to the negotiated limits on success.
func HandshakeInitiate(reader *frame.FrameReader, writer *frame.FrameWriter, local message.Hello) (Negotiated, error) {
	hello, err := message.EncodeHello(local, false)
	if err != nil {
		return Negotiated{}, err
	}
	if err := writer.WriteFrame(message.EncodeEnvelope(hello)); err != nil {
		return Negotiated{}, fmt.Errorf("failed to write HELLO: %w", err)
	}

	f, err := reader.ReadFrame()
	if err != nil {
		return Negotiated{}, fmt.Errorf("failed to read HELLO response: %w", err)
	}
	env, err := message.DecodeEnvelope(f.Payload)
	if err != nil {
		return Negotiated{}, fmt.Errorf("failed to decode HELLO response: %w", err)
	}
	if env.Type == message.TypeError {
		return Negotiated{}, remoteError(env)
	}
	if env.Type != message.TypeHello || !env.Flags.Has(message.FlagReply) {
		return Negotiated{}, errors.New("expected HELLO response")
	}
	return finishHandshake(reader, writer, local, env.Body)
}

// HandshakeAccept waits for the peer's HELLO and answers with local.
func HandshakeAccept(reader *frame.FrameReader, writer *frame.FrameWriter, local message.Hello) (Negotiated, error) {
	f, err := reader.ReadFrame()
	if err != nil {
		return Negotiated{}, fmt.Errorf("failed to read HELLO: %w", err)
	}
	env, err := message.DecodeEnvelope(f.Payload)
	if err != nil {
		return Negotiated{}, fmt.Errorf("failed to decode HELLO: %w", err)
	}
	if env.Type != message.TypeHello {
		return Negotiated{}, errors.New("expected HELLO frame")
	}

	reply, err := message.EncodeHello(local, true)
	if err != nil {
		return Negotiated{}, err
	}
	reply.CorrelationID = env.CorrelationID
	if err := writer.WriteFrame(message.EncodeEnvelope(reply)); err != nil {
		return Negotiated{}, fmt.Errorf("failed to write HELLO response: %w", err)
	}
	return finishHandshake(reader, writer, local, env.Body)
}

func finishHandshake(reader *frame.FrameReader, writer *frame.FrameWriter, local message.Hello, body []byte) (Negotiated, error) {
	remote, err := message.DecodeHello(body)
	if err != nil {
		return Negotiated{}, fmt.Errorf("invalid HELLO: %w", err)
	}
	if remote.Version != frame.ProtocolVersion {
		return Negotiated{}, fmt.Errorf("%w: peer speaks %d", frame.ErrVersionMismatch, remote.Version)
	}

	n := Negotiated{
		Manifest: capability.Negotiate(local.Manifest, remote.Manifest),
		Limits:   message.FitLimits(frame.NegotiateLimits(local.Limits, remote.Limits)),
		Remote:   remote,
	}
	reader.SetLimits(n.Limits)
	writer.SetLimits(n.Limits)
	return n, nil
}

func remoteError(env message.Envelope) error {
	body, err := message.DecodeErrorBody(env.Body)
	if err != nil {
		return fmt.Errorf("undecodable ERROR envelope: %w", err)
	}
	return &RemoteError{CorrelationID: env.CorrelationID, Code: body.Code, Message: body.Message}
}
