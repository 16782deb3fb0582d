// Package capability implements the fixed-width capability manifest two
// endpoints exchange at handshake to agree on protocol features and tool
// categories.
package capability

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// Bits is the manifest width.
const Bits = 256

// Size is the manifest wire size in bytes.
const Size = Bits / 8

const words = Bits / 64

// ID is a statically assigned bit position. Positions are append-only.
type ID uint8

// ErrUnsupportedCapability is matched by every *UnsupportedCapabilityError.
var ErrUnsupportedCapability = errors.New("unsupported capability")

// UnsupportedCapabilityError reports a capability missing from a manifest.
type UnsupportedCapabilityError struct {
	ID ID
}

func (e *UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("unsupported capability: %s", Name(e.ID))
}

// Is reports whether target is ErrUnsupportedCapability.
func (e *UnsupportedCapabilityError) Is(target error) bool {
	return target == ErrUnsupportedCapability
}

// Manifest is a 256-bit capability set. The zero value supports nothing.
type Manifest [words]uint64

// New returns a manifest with the given ids set.
func New(ids ...ID) Manifest {
	var m Manifest
	for _, id := range ids {
		m = m.Set(id)
	}
	return m
}

// Negotiate returns the mutually supported set.
func Negotiate(local, remote Manifest) Manifest {
	var out Manifest
	for i := range out {
		out[i] = local[i] & remote[i]
	}
	return out
}

// Supports is a single bit test.
func Supports(m Manifest, id ID) bool {
	return m[id/64]&(1<<(id%64)) != 0
}

// Require fails with *UnsupportedCapabilityError when id is absent.
func Require(m Manifest, id ID) error {
	if !Supports(m, id) {
		return &UnsupportedCapabilityError{ID: id}
	}
	return nil
}

// RequireAll fails on the lowest id present in required but absent in m.
func RequireAll(m, required Manifest) error {
	for i := range m {
		missing := required[i] &^ m[i]
		if missing != 0 {
			return &UnsupportedCapabilityError{ID: ID(i*64 + bits.TrailingZeros64(missing))}
		}
	}
	return nil
}

// Set returns a copy of m with id set.
func (m Manifest) Set(id ID) Manifest {
	m[id/64] |= 1 << (id % 64)
	return m
}

// Clear returns a copy of m with id cleared.
func (m Manifest) Clear(id ID) Manifest {
	m[id/64] &^= 1 << (id % 64)
	return m
}

// Has is the method form of Supports.
func (m Manifest) Has(id ID) bool {
	return Supports(m, id)
}

// Union returns the bitwise OR of m and o.
func (m Manifest) Union(o Manifest) Manifest {
	for i := range m {
		m[i] |= o[i]
	}
	return m
}

// IsSupersetOf reports whether every bit of o is also set in m.
func (m Manifest) IsSupersetOf(o Manifest) bool {
	for i := range m {
		if o[i]&^m[i] != 0 {
			return false
		}
	}
	return true
}

// IsZero reports whether no bit is set.
func (m Manifest) IsZero() bool {
	return m == Manifest{}
}

// Count returns the number of set bits.
func (m Manifest) Count() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount64(w)
	}
	return n
}

// IDs returns the set ids in ascending order.
func (m Manifest) IDs() []ID {
	out := make([]ID, 0, m.Count())
	for i, w := range m {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			out = append(out, ID(i*64+b))
			w &= w - 1
		}
	}
	return out
}

// String lists set capability names.
func (m Manifest) String() string {
	ids := m.IDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = Name(id)
	}
	return fmt.Sprintf("%v", names)
}

// MarshalBinary encodes m as a 32-byte little-endian integer.
func (m Manifest) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, Size))
}

// AppendBinary appends the wire form of m to b.
func (m Manifest) AppendBinary(b []byte) ([]byte, error) {
	for _, w := range m {
		b = binary.LittleEndian.AppendUint64(b, w)
	}
	return b, nil
}

// UnmarshalBinary decodes the 32-byte little-endian wire form.
func (m *Manifest) UnmarshalBinary(b []byte) error {
	if len(b) != Size {
		return fmt.Errorf("capability manifest must be %d bytes, got %d", Size, len(b))
	}
	for i := range m {
		m[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return nil
}

// FromBytes decodes a manifest from its wire form.
func FromBytes(b []byte) (Manifest, error) {
	var m Manifest
	err := m.UnmarshalBinary(b)
	return m, err
}
