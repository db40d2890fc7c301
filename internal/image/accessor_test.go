package image

import (
	"testing"

	"github.com/s-hammon/patgen/internal/sig"
	"github.com/stretchr/testify/require"
)

func TestBufferSearchForward(t *testing.T) {
	data := []byte{0x00, 0xAA, 0xBB, 0x00, 0x00, 0xAA, 0xBB, 0x00}
	b := NewBuffer(0x1000, data)

	pat, err := sig.ParseSignature("AA BB")
	require.NoError(t, err)

	addr, err := b.SearchForward(b.Base(), pat)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1001), addr)

	addr, err = b.SearchForward(addr+2, pat)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1005), addr)

	_, err = b.SearchForward(addr+2, pat)
	require.ErrorIs(t, err, ErrNoMatch)

	// Starting past the end of the image is exhaustion, not a fault.
	_, err = b.SearchForward(0x2000, pat)
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestBufferReadU32(t *testing.T) {
	b := NewBuffer(0x1000, []byte{0x78, 0x56, 0x34, 0x12})

	v, err := b.ReadU32(0x1000)
	require.NoError(t, err)
	require.Equal(t, uint32(0x12345678), v)

	_, err = b.ReadU32(0x1001)
	require.Error(t, err)
	_, err = b.ReadU32(0x0FFF)
	require.Error(t, err)
}

func TestBufferReadCString(t *testing.T) {
	b := NewBuffer(0x1000, []byte("2.13\x00junk"))

	s, err := b.ReadCString(0x1000)
	require.NoError(t, err)
	require.Equal(t, []byte("2.13"), s)

	b = NewBuffer(0x1000, []byte("no terminator"))
	_, err = b.ReadCString(0x1000)
	require.Error(t, err)
}
