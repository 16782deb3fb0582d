package message

import "fmt"

// Error codes carried in ERROR envelopes.
const (
	CodeTruncated             = "TRUNCATED"
	CodeUnknownMessageType    = "UNKNOWN_MESSAGE_TYPE"
	CodeSchemaViolation       = "SCHEMA_VIOLATION"
	CodeBadSignature          = "BAD_SIGNATURE"
	CodeReplayedNonce         = "REPLAYED_NONCE"
	CodeExpiredNonce          = "EXPIRED_NONCE"
	CodeToolNotFound          = "TOOL_NOT_FOUND"
	CodeUnsupportedCapability = "UNSUPPORTED_CAPABILITY"
	CodeHandshakeRequired     = "HANDSHAKE_REQUIRED"
	CodeHandlerError          = "HANDLER_ERROR"
)

// ErrorBody is the payload of an ERROR envelope.
type ErrorBody struct {
	Code    string `cbor:"0,keyasint"`
	Message string `cbor:"1,keyasint,omitempty"`
}

func (e ErrorBody) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates an ERROR envelope for correlationID.
func NewError(correlationID uint64, code, msg string) Envelope {
	body, err := cborEnc.Marshal(ErrorBody{Code: code, Message: msg})
	if err != nil {
		body, _ = cborEnc.Marshal(ErrorBody{Code: code})
	}
	return Envelope{Type: TypeError, CorrelationID: correlationID, Body: body}
}

// DecodeErrorBody parses an ERROR body.
func DecodeErrorBody(body []byte) (ErrorBody, error) {
	var e ErrorBody
	if err := decodeCBOR(body, &e, "error"); err != nil {
		return ErrorBody{}, err
	}
	return e, nil
}
