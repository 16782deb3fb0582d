package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateIsIntersection(t *testing.T) {
	local := New(Streaming, SignedInvocations, Filesystem, 200)
	remote := New(Streaming, Filesystem, Network, 255)

	got := Negotiate(local, remote)
	assert.Equal(t, []ID{Streaming, Filesystem}, got.IDs())
	assert.True(t, local.IsSupersetOf(got))
	assert.True(t, remote.IsSupersetOf(got))
}

func TestNegotiateIdempotent(t *testing.T) {
	cases := []struct{ a, b Manifest }{
		{New(), New()},
		{New(0, 1, 2, 63, 64, 127, 128, 255), New(1, 63, 128)},
		{New(7, 70, 140, 210), New(7, 8, 9, 70, 140, 211)},
	}
	for _, c := range cases {
		ab := Negotiate(c.a, c.b)
		assert.Equal(t, ab, Negotiate(ab, c.b))
		assert.Equal(t, ab, Negotiate(c.b, c.a))
	}
}

func TestSupportsAndRequire(t *testing.T) {
	m := New(Streaming, Memory)

	assert.True(t, Supports(m, Streaming))
	assert.True(t, m.Has(Memory))
	assert.False(t, Supports(m, Compression))

	assert.NoError(t, Require(m, Streaming))
	err := Require(m, Compression)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedCapability)

	var uc *UnsupportedCapabilityError
	require.ErrorAs(t, err, &uc)
	assert.Equal(t, Compression, uc.ID)
	assert.Contains(t, err.Error(), "compression")
}

func TestRequireAllReportsLowestMissing(t *testing.T) {
	m := New(Streaming, Filesystem)
	assert.NoError(t, RequireAll(m, New(Filesystem)))

	err := RequireAll(m, New(Filesystem, Browser, Network))
	var uc *UnsupportedCapabilityError
	require.ErrorAs(t, err, &uc)
	assert.Equal(t, Network, uc.ID)
}

func TestSetClearCount(t *testing.T) {
	var m Manifest
	assert.True(t, m.IsZero())

	m = m.Set(0).Set(64).Set(255)
	assert.Equal(t, 3, m.Count())
	m = m.Clear(64)
	assert.Equal(t, []ID{0, 255}, m.IDs())
	assert.Equal(t, New(0, 255, 3), m.Union(New(3)))
}

func TestWireFormLittleEndian(t *testing.T) {
	m := New(0, 9, 64, 255)
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, Size)

	assert.Equal(t, byte(0x01), b[0])  // bit 0
	assert.Equal(t, byte(0x02), b[1])  // bit 9
	assert.Equal(t, byte(0x01), b[8])  // bit 64
	assert.Equal(t, byte(0x80), b[31]) // bit 255

	back, err := FromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, m, back)

	_, err = FromBytes(b[:31])
	assert.Error(t, err)
}

func TestName(t *testing.T) {
	assert.Equal(t, "streaming", Name(Streaming))
	assert.Equal(t, "cap#250", Name(250))
	assert.True(t, IsCategory(Browser))
	assert.False(t, IsCategory(Ping))

	id, ok := Lookup("fs")
	assert.True(t, ok)
	assert.Equal(t, Filesystem, id)
	id, ok = Lookup(Name(250))
	assert.True(t, ok)
	assert.Equal(t, ID(250), id)
	id, ok = Lookup("filesystem")
	assert.True(t, ok)
	assert.Equal(t, Filesystem, id)
	_, ok = Lookup("teleport")
	assert.False(t, ok)
}

func TestProtocolAnnouncesImplementedExtensions(t *testing.T) {
	p := Protocol()
	assert.Equal(t, []ID{Streaming, SignedInvocations, JSONArgs, Ping}, p.IDs())
	assert.False(t, p.Has(Compression))
	assert.False(t, p.Has(Cancellation))
}
