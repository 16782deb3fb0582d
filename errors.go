package dcp

import (
	"errors"
	"fmt"

	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/frame"
	"github.com/machinefabric/dcp-go/message"
	"github.com/machinefabric/dcp-go/router"
	"github.com/machinefabric/dcp-go/security"
)

var (
	// ErrHandshakeRequired rejects invocations before HELLO completes.
	ErrHandshakeRequired = errors.New("handshake required")

	// ErrHandshakeTimeout closes connections that never send HELLO.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrAlreadyResponded is returned by a ResponseWriter used twice.
	ErrAlreadyResponded = errors.New("response already sent")
)

// ErrorCode maps an error to the code carried in an ERROR envelope.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, message.ErrTruncated):
		return message.CodeTruncated
	case errors.Is(err, message.ErrUnknownMessageType):
		return message.CodeUnknownMessageType
	case errors.Is(err, message.ErrSchemaViolation):
		return message.CodeSchemaViolation
	case errors.Is(err, security.ErrReplayedNonce):
		return message.CodeReplayedNonce
	case errors.Is(err, security.ErrExpiredNonce):
		return message.CodeExpiredNonce
	case errors.Is(err, security.ErrBadSignature):
		return message.CodeBadSignature
	case errors.Is(err, router.ErrToolNotFound):
		return message.CodeToolNotFound
	case errors.Is(err, capability.ErrUnsupportedCapability):
		return message.CodeUnsupportedCapability
	case errors.Is(err, ErrHandshakeRequired):
		return message.CodeHandshakeRequired
	default:
		return message.CodeHandlerError
	}
}

// IsTransportError reports whether err means the byte stream can no
// longer be trusted and the connection must close.
func IsTransportError(err error) bool {
	return errors.Is(err, message.ErrTruncated) ||
		errors.Is(err, frame.ErrFrameTooLarge) ||
		errors.Is(err, frame.ErrVersionMismatch)
}

// RemoteError is an ERROR envelope received from the peer. errors.Is
// matches it against the sentinel for its code, so a client can test
// errors.Is(err, security.ErrReplayedNonce).
type RemoteError struct {
	CorrelationID uint64
	Code          string
	Message       string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error %s", e.Code)
	}
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// Is matches the sentinel corresponding to e.Code.
func (e *RemoteError) Is(target error) bool {
	if s, ok := codeSentinels[e.Code]; ok {
		return s == target
	}
	return false
}

var codeSentinels = map[string]error{
	message.CodeTruncated:             message.ErrTruncated,
	message.CodeUnknownMessageType:    message.ErrUnknownMessageType,
	message.CodeSchemaViolation:       message.ErrSchemaViolation,
	message.CodeBadSignature:          security.ErrBadSignature,
	message.CodeReplayedNonce:         security.ErrReplayedNonce,
	message.CodeExpiredNonce:          security.ErrExpiredNonce,
	message.CodeToolNotFound:          router.ErrToolNotFound,
	message.CodeUnsupportedCapability: capability.ErrUnsupportedCapability,
	message.CodeHandshakeRequired:     ErrHandshakeRequired,
}
