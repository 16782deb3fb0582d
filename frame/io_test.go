package frame

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST020: FrameWriter output is read back by FrameReader frame by frame
func Test020_writer_reader_roundtrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	require.NoError(t, w.WriteFrame([]byte("alpha")))
	require.NoError(t, w.WriteFrame(nil))
	require.NoError(t, w.WriteFrame([]byte("gamma")))

	r := NewFrameReader(&buf)
	for _, want := range []string{"alpha", "", "gamma"} {
		f, err := r.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want, string(f.Payload))
	}
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

// TEST021: A reader delivering one byte at a time still yields whole frames
func Test021_reader_one_byte_reads(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	payload := bytes.Repeat([]byte("z"), 1000)
	require.NoError(t, w.WriteFrame(payload))

	r := NewFrameReader(iotest.OneByteReader(&buf))
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, payload, f.Payload)
}

// TEST022: Stream ending mid-frame reports io.ErrUnexpectedEOF
func Test022_reader_truncated_stream(t *testing.T) {
	encoded, err := Encode([]byte("cut short"))
	require.NoError(t, err)

	r := NewFrameReader(bytes.NewReader(encoded[:len(encoded)-2]))
	_, err = r.ReadFrame()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// TEST023: Writer and reader enforce negotiated max_frame
func Test023_limits_enforced(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	w.SetLimits(Limits{MaxFrame: 8})
	assert.ErrorIs(t, w.WriteFrame(make([]byte, 9)), ErrFrameTooLarge)
	assert.Zero(t, buf.Len())

	encoded, _ := Encode(make([]byte, 9))
	r := NewFrameReader(bytes.NewReader(encoded))
	r.SetLimits(Limits{MaxFrame: 8})
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
