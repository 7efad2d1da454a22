package htif

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeToHost(t *testing.T, h *HTIF, v uint64) {
	t.Helper()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := h.Write(regToHost, buf[:])
	require.NoError(t, err)
}

func TestPowerOff(t *testing.T) {
	off := false
	h := New(0x4000_8000, nil, func() { off = true }, nil)

	// Writing only the low half does nothing.
	_, err := h.Write(regToHost, []byte{1, 0, 0, 0})
	require.NoError(t, err)
	require.False(t, off)

	_, err = h.Write(regToHostH, []byte{0, 0, 0, 0})
	require.NoError(t, err)
	require.True(t, off)
}

func TestPutchar(t *testing.T) {
	var out bytes.Buffer
	h := New(0, &out, nil, nil)
	writeToHost(t, h, 1<<56|1<<48|'A')
	require.Equal(t, "A", out.String())

	var buf [16]byte
	_, err := h.Read(0, buf[:])
	require.NoError(t, err)
	require.Zero(t, binary.LittleEndian.Uint64(buf[0:]))
	require.Equal(t, uint64(1<<56|1<<48), binary.LittleEndian.Uint64(buf[8:]))
}

func TestGetcharAck(t *testing.T) {
	h := New(0, nil, nil, nil)
	writeToHost(t, h, 1<<56)
	require.Zero(t, h.tohost)
}

func TestUnsupportedCommandIsKept(t *testing.T) {
	h := New(0, nil, nil, nil)
	writeToHost(t, h, 7<<56|3)
	require.Equal(t, uint64(7<<56|3), h.tohost)
}

func TestBadAccess(t *testing.T) {
	h := New(0, nil, nil, nil)
	_, err := h.Read(0, make([]byte, 2))
	require.ErrorIs(t, err, ErrAccessSize)
	_, err = h.Write(16, make([]byte, 4))
	require.Error(t, err)
}
