package ram

import (
	"testing"

	"github.com/Blameying/space-emu/internal/riscv"
	"github.com/stretchr/testify/require"
)

func TestReadWrite(t *testing.T) {
	r := New("ram", 0x8000_0000, 0x2000)
	require.NoError(t, r.Init())
	defer r.Release()

	require.Len(t, r.Bytes(), 0x2000)
	n, err := r.Write(0x1ffc, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, 4, n)

	buf := make([]byte, 4)
	_, err = r.Read(0x1ffc, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, buf)
}

func TestOutOfRange(t *testing.T) {
	r := New("ram", 0, 0x100)
	require.NoError(t, r.Init())
	defer r.Release()

	_, err := r.Read(0xfe, make([]byte, 4))
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = r.Write(^uint64(0), []byte{1})
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestUninitializedAccessFails(t *testing.T) {
	r := New("ram", 0, 0x100)
	_, err := r.Read(0, make([]byte, 1))
	require.Error(t, err)
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := New("ram", 0, 0x3000)
	require.NoError(t, r.Init())
	require.NoError(t, r.Release())
	require.NoError(t, r.Release())
	require.Nil(t, r.Bytes())
}

func TestStagedThroughDispatcher(t *testing.T) {
	d := riscv.NewDispatcher(nil)
	r := New("ram", 0x8000_0000, 0x1000)
	require.NoError(t, d.Register(r))
	defer d.Release()

	require.NoError(t, d.Stage(0x8000_0010, []byte{0xde, 0xad}))
	buf := make([]byte, 2)
	require.Equal(t, 2, d.ReadPhys(0x8000_0010, buf))
	require.Equal(t, []byte{0xde, 0xad}, buf)
}
