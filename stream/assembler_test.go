package stream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerAssemblerRoundtrip(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 25)
	chunks := NewChunker(9, 64).All(data)
	require.Len(t, chunks, 5)
	for i, c := range chunks[:4] {
		assert.Equal(t, uint32(i), c.Sequence)
		assert.True(t, c.More())
	}
	assert.True(t, chunks[4].Terminal())
	assert.Empty(t, chunks[4].Data)

	a := NewAssembler(9, 0)
	for i, c := range chunks {
		done, err := a.Add(c)
		require.NoError(t, err)
		assert.Equal(t, i == len(chunks)-1, done)
	}
	assert.Equal(t, data, a.Bytes())
}

func TestAssemblerRejects(t *testing.T) {
	ch := NewChunker(1, 2)
	parts := ch.Split([]byte("abcd"))

	a := NewAssembler(1, 0)
	_, err := a.Add(parts[1])
	assert.ErrorIs(t, err, ErrSequenceGap)

	_, err = NewAssembler(2, 0).Add(parts[0])
	assert.ErrorIs(t, err, ErrWrongStream)

	_, err = NewAssembler(1, 1).Add(parts[0])
	assert.ErrorIs(t, err, ErrTooLarge)

	a = NewAssembler(1, 0)
	_, err = a.Add(parts[0])
	require.NoError(t, err)
	_, err = a.Add(parts[1])
	require.NoError(t, err)
	done, err := a.Add(ch.Fail("disk full"))
	assert.True(t, done)
	var failed *StreamFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "disk full", failed.Reason)

	_, err = a.Add(ch.End())
	assert.ErrorIs(t, err, ErrStreamAlreadyClosed)
}
