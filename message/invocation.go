package message

import (
	"encoding/binary"
	"math"
)

// Field limits implied by the wire widths.
const (
	MaxToolIDLen    = math.MaxUint16
	MaxArgCount     = math.MaxUint16
	MaxArgNameLen   = math.MaxUint16
	MaxSignatureLen = math.MaxUint16
)

// Invocation is a signed request to execute a named tool.
//
// Body layout:
//
//	[tool_id_len:2][tool_id][nonce:8][arg_count:2]
//	{[arg_name_len:2][arg_name][type_tag:1][value_len:4][value]}*
//	[signature_len:2][signature]
//
// Bytes following the signature are ignored so later revisions can append fields.
type Invocation struct {
	ToolID    string
	Args      Args
	Nonce     uint64
	Signature []byte
}

// SigningBytes returns the canonical bytes a signature covers: the
// invocation body up to, but excluding, the signature field.
func SigningBytes(toolID string, args Args, nonce uint64) []byte {
	return appendSigned(make([]byte, 0, signedSize(toolID, args)), toolID, args, nonce)
}

func signedSize(toolID string, args Args) int {
	n := 2 + len(toolID) + 8 + 2
	for _, a := range args {
		n += 2 + len(a.Name) + 1 + 4 + len(a.Value)
	}
	return n
}

func appendSigned(dst []byte, toolID string, args Args, nonce uint64) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(toolID)))
	dst = append(dst, toolID...)
	dst = binary.BigEndian.AppendUint64(dst, nonce)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(args)))
	for _, a := range args {
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(a.Name)))
		dst = append(dst, a.Name...)
		dst = append(dst, byte(a.Type))
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(a.Value)))
		dst = append(dst, a.Value...)
	}
	return dst
}

// Validate checks field lengths against the wire widths.
func (inv *Invocation) Validate() error {
	if len(inv.ToolID) == 0 {
		return schemaViolation("", "empty tool id")
	}
	if len(inv.ToolID) > MaxToolIDLen {
		return schemaViolation("", "tool id length %d exceeds %d", len(inv.ToolID), MaxToolIDLen)
	}
	if len(inv.Args) > MaxArgCount {
		return schemaViolation("", "argument count %d exceeds %d", len(inv.Args), MaxArgCount)
	}
	for _, a := range inv.Args {
		if len(a.Name) > MaxArgNameLen {
			return schemaViolation(a.Name, "name length %d exceeds %d", len(a.Name), MaxArgNameLen)
		}
		if uint64(len(a.Value)) > math.MaxUint32 {
			return schemaViolation(a.Name, "value too large")
		}
	}
	if len(inv.Signature) > MaxSignatureLen {
		return schemaViolation("", "signature length %d exceeds %d", len(inv.Signature), MaxSignatureLen)
	}
	return nil
}

// EncodeInvocation encodes the invocation body.
func EncodeInvocation(inv *Invocation) ([]byte, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, signedSize(inv.ToolID, inv.Args)+2+len(inv.Signature))
	out = appendSigned(out, inv.ToolID, inv.Args, inv.Nonce)
	out = binary.BigEndian.AppendUint16(out, uint16(len(inv.Signature)))
	return append(out, inv.Signature...), nil
}

// NewInvocationEnvelope wraps an encoded invocation in an INVOCATION envelope.
func NewInvocationEnvelope(correlationID uint64, inv *Invocation) (Envelope, error) {
	body, err := EncodeInvocation(inv)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{Type: TypeInvocation, CorrelationID: correlationID, Body: body}
	if len(inv.Signature) > 0 {
		env.Flags |= FlagSigned
	}
	return env, nil
}

// reader walks a body, reporting truncation with the field being read.
type reader struct {
	b   []byte
	off int
}

func (r *reader) take(n int, field string) ([]byte, error) {
	if n < 0 || len(r.b)-r.off < n {
		return nil, truncated("%s: need %d bytes at offset %d, have %d", field, n, r.off, len(r.b)-r.off)
	}
	v := r.b[r.off : r.off+n : r.off+n]
	r.off += n
	return v, nil
}

func (r *reader) u8(field string) (uint8, error) {
	v, err := r.take(1, field)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (r *reader) u16(field string) (uint16, error) {
	v, err := r.take(2, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(v), nil
}

func (r *reader) u32(field string) (uint32, error) {
	v, err := r.take(4, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(v), nil
}

func (r *reader) u64(field string) (uint64, error) {
	v, err := r.take(8, field)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

// DecodeInvocation parses an invocation body. Argument values and the
// signature alias body; no argument bytes are copied.
func DecodeInvocation(body []byte) (*Invocation, error) {
	r := &reader{b: body}

	idLen, err := r.u16("tool_id_len")
	if err != nil {
		return nil, err
	}
	id, err := r.take(int(idLen), "tool_id")
	if err != nil {
		return nil, err
	}
	nonce, err := r.u64("nonce")
	if err != nil {
		return nil, err
	}
	count, err := r.u16("arg_count")
	if err != nil {
		return nil, err
	}

	// Each argument needs at least 7 header bytes; bound the allocation by what is present.
	capHint := int(count)
	if avail := (len(body) - r.off) / 7; capHint > avail {
		capHint = avail
	}
	args := make(Args, 0, capHint)
	for i := 0; i < int(count); i++ {
		nameLen, err := r.u16("arg_name_len")
		if err != nil {
			return nil, err
		}
		name, err := r.take(int(nameLen), "arg_name")
		if err != nil {
			return nil, err
		}
		tag, err := r.u8("type_tag")
		if err != nil {
			return nil, err
		}
		valueLen, err := r.u32("value_len")
		if err != nil {
			return nil, err
		}
		if uint64(valueLen) > uint64(len(body)-r.off) {
			return nil, truncated("value of '%s': declared %d bytes, have %d", name, valueLen, len(body)-r.off)
		}
		value, err := r.take(int(valueLen), "value")
		if err != nil {
			return nil, err
		}
		arg := Arg{Name: string(name), Type: ArgType(tag), Value: value}
		if err := arg.checkSize(); err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	sigLen, err := r.u16("signature_len")
	if err != nil {
		return nil, err
	}
	sig, err := r.take(int(sigLen), "signature")
	if err != nil {
		return nil, err
	}
	if len(sig) == 0 {
		sig = nil
	}

	return &Invocation{
		ToolID:    string(id),
		Args:      args,
		Nonce:     nonce,
		Signature: sig,
	}, nil
}
