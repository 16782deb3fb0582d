package message

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// ArgType is the one-byte type tag preceding every argument value.
type ArgType uint8

const (
	ArgNull    ArgType = 0
	ArgBool    ArgType = 1
	ArgInt32   ArgType = 2
	ArgInt64   ArgType = 3
	ArgFloat64 ArgType = 4
	ArgString  ArgType = 5
	ArgBytes   ArgType = 6
	ArgJSON    ArgType = 7
)

// String returns the tag name
func (t ArgType) String() string {
	switch t {
	case ArgNull:
		return "null"
	case ArgBool:
		return "bool"
	case ArgInt32:
		return "i32"
	case ArgInt64:
		return "i64"
	case ArgFloat64:
		return "f64"
	case ArgString:
		return "string"
	case ArgBytes:
		return "bytes"
	case ArgJSON:
		return "json"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Known reports whether this implementation understands the tag. Unknown
// tags still decode; their values are carried opaquely.
func (t ArgType) Known() bool {
	return t <= ArgJSON
}

// Arg is one named, tagged argument value.
type Arg struct {
	Name  string
	Type  ArgType
	Value []byte
}

// Args is an ordered argument list.
type Args []Arg

// Get returns the first argument named name.
func (a Args) Get(name string) (Arg, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg, true
		}
	}
	return Arg{}, false
}

// Null creates a null argument
func Null(name string) Arg {
	return Arg{Name: name, Type: ArgNull}
}

// Bool creates a bool argument
func Bool(name string, v bool) Arg {
	b := byte(0)
	if v {
		b = 1
	}
	return Arg{Name: name, Type: ArgBool, Value: []byte{b}}
}

// Int32 creates an i32 argument (big-endian)
func Int32(name string, v int32) Arg {
	return Arg{Name: name, Type: ArgInt32, Value: binary.BigEndian.AppendUint32(nil, uint32(v))}
}

// Int64 creates an i64 argument (big-endian)
func Int64(name string, v int64) Arg {
	return Arg{Name: name, Type: ArgInt64, Value: binary.BigEndian.AppendUint64(nil, uint64(v))}
}

// Float64 creates an f64 argument (IEEE-754 bits, big-endian)
func Float64(name string, v float64) Arg {
	return Arg{Name: name, Type: ArgFloat64, Value: binary.BigEndian.AppendUint64(nil, math.Float64bits(v))}
}

// String creates a UTF-8 string argument
func String(name, v string) Arg {
	return Arg{Name: name, Type: ArgString, Value: []byte(v)}
}

// Bytes creates a raw bytes argument
func Bytes(name string, v []byte) Arg {
	return Arg{Name: name, Type: ArgBytes, Value: v}
}

// JSON creates a JSON argument from v
func JSON(name string, v interface{}) (Arg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Arg{}, fmt.Errorf("encoding JSON argument '%s': %w", name, err)
	}
	return Arg{Name: name, Type: ArgJSON, Value: data}, nil
}

func (a Arg) expect(t ArgType, size int) error {
	if a.Type != t {
		return schemaViolation(a.Name, "expected %s, got %s", t, a.Type)
	}
	if size >= 0 && len(a.Value) != size {
		return schemaViolation(a.Name, "%s value must be %d bytes, got %d", t, size, len(a.Value))
	}
	return nil
}

// AsBool decodes a bool argument
func (a Arg) AsBool() (bool, error) {
	if err := a.expect(ArgBool, 1); err != nil {
		return false, err
	}
	return a.Value[0] != 0, nil
}

// AsInt32 decodes an i32 argument
func (a Arg) AsInt32() (int32, error) {
	if err := a.expect(ArgInt32, 4); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(a.Value)), nil
}

// AsInt64 decodes an i64 argument
func (a Arg) AsInt64() (int64, error) {
	if err := a.expect(ArgInt64, 8); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(a.Value)), nil
}

// AsFloat64 decodes an f64 argument
func (a Arg) AsFloat64() (float64, error) {
	if err := a.expect(ArgFloat64, 8); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(a.Value)), nil
}

// AsString decodes a string argument
func (a Arg) AsString() (string, error) {
	if err := a.expect(ArgString, -1); err != nil {
		return "", err
	}
	return string(a.Value), nil
}

// AsBytes returns the raw value of a bytes argument
func (a Arg) AsBytes() ([]byte, error) {
	if err := a.expect(ArgBytes, -1); err != nil {
		return nil, err
	}
	return a.Value, nil
}

// DecodeJSON unmarshals a JSON argument into v
func (a Arg) DecodeJSON(v interface{}) error {
	if err := a.expect(ArgJSON, -1); err != nil {
		return err
	}
	if err := json.Unmarshal(a.Value, v); err != nil {
		return schemaViolation(a.Name, "invalid JSON: %v", err)
	}
	return nil
}

// checkSize validates fixed-width tags independent of any tool schema.
func (a Arg) checkSize() error {
	switch a.Type {
	case ArgNull:
		return a.expect(ArgNull, 0)
	case ArgBool:
		return a.expect(ArgBool, 1)
	case ArgInt32:
		return a.expect(ArgInt32, 4)
	case ArgInt64, ArgFloat64:
		return a.expect(a.Type, 8)
	}
	return nil
}
