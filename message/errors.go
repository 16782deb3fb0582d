package message

import (
	"errors"
	"fmt"
)

// DecodeErrorKind classifies decode failures.
type DecodeErrorKind uint8

const (
	KindTruncated DecodeErrorKind = iota + 1
	KindUnknownMessageType
	KindSchemaViolation
)

func (k DecodeErrorKind) String() string {
	switch k {
	case KindTruncated:
		return "Truncated"
	case KindUnknownMessageType:
		return "UnknownMessageType"
	case KindSchemaViolation:
		return "SchemaViolation"
	default:
		return fmt.Sprintf("DecodeErrorKind(%d)", k)
	}
}

// Sentinels for errors.Is matching against *DecodeError.
var (
	ErrTruncated          = errors.New("message truncated")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrSchemaViolation    = errors.New("schema violation")
)

// DecodeError is returned by every decode path in this package.
type DecodeError struct {
	Kind     DecodeErrorKind
	Argument string // set for schema violations
	Detail   string
}

func (e *DecodeError) Error() string {
	if e.Argument != "" {
		return fmt.Sprintf("%s: argument '%s': %s", e.Kind, e.Argument, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is matches the sentinel for e.Kind.
func (e *DecodeError) Is(target error) bool {
	switch e.Kind {
	case KindTruncated:
		return target == ErrTruncated
	case KindUnknownMessageType:
		return target == ErrUnknownMessageType
	case KindSchemaViolation:
		return target == ErrSchemaViolation
	}
	return false
}

func truncated(format string, args ...interface{}) error {
	return &DecodeError{Kind: KindTruncated, Detail: fmt.Sprintf(format, args...)}
}

func schemaViolation(arg string, format string, args ...interface{}) error {
	return &DecodeError{Kind: KindSchemaViolation, Argument: arg, Detail: fmt.Sprintf(format, args...)}
}
