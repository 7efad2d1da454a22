package riscv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingRegion struct {
	Window
}

func (failingRegion) Init() error { return errors.New("no backing store") }
func (failingRegion) Read(uint64, []byte) (int, error) { return 0, nil }
func (failingRegion) Write(uint64, []byte) (int, error) { return 0, nil }
func (failingRegion) Release() error { return nil }

func TestRegisterRejectsOverlap(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Register(newTestRAM(0x1000, 0x1000)))

	err := d.Register(newTestRAM(0x1800, 0x1000))
	require.ErrorIs(t, err, ErrOverlap)

	// Adjacent regions are fine.
	require.NoError(t, d.Register(newTestRAM(0x2000, 0x1000)))
	require.Len(t, d.Regions(), 2)
}

func TestRegisterSkipsFailedInit(t *testing.T) {
	d := NewDispatcher(nil)
	err := d.Register(failingRegion{Window{Label: "broken", Base: 0, Length: 0x100}})
	require.Error(t, err)
	require.Empty(t, d.Regions())
}

func TestRegistryLimit(t *testing.T) {
	d := NewDispatcher(nil)
	for i := 0; i < MaxRegions; i++ {
		require.NoError(t, d.Register(newTestRAM(uint64(i)*0x10, 0x10)))
	}
	require.ErrorIs(t, d.Register(newTestRAM(0x1000_0000, 0x10)), ErrRegistryFull)
}

func TestPhysicalAccess(t *testing.T) {
	d := NewDispatcher(nil)
	ram := newTestRAM(0x1000, 0x100)
	require.NoError(t, d.Register(ram))

	require.Equal(t, 4, d.WritePhys(0x1010, []byte{1, 2, 3, 4}))
	buf := make([]byte, 4)
	require.Equal(t, 4, d.ReadPhys(0x1010, buf))
	require.Equal(t, []byte{1, 2, 3, 4}, buf)

	// Accesses must fit inside one region.
	require.Zero(t, d.ReadPhys(0x10fe, buf))
	require.Zero(t, d.ReadPhys(0x5000, buf))
}

func TestUnmappedAccessFaults(t *testing.T) {
	c, _ := newTestCPU(t, 64)
	_, err := c.LoadVirt(0x1000_0000, 4)
	var exc *Exception
	require.True(t, errors.As(err, &exc))
	require.Equal(t, CauseLoadAccessFault, exc.Cause)

	err = c.StoreVirt(0x1000_0000, 4, 0)
	require.True(t, errors.As(err, &exc))
	require.Equal(t, CauseStoreAccessFault, exc.Cause)
}

func TestResolveFindsRegion(t *testing.T) {
	c, _ := newTestCPU(t, 64)
	r, off, ok := c.Mem.Resolve(c, testRAMBase+0x40)
	require.True(t, ok)
	require.Equal(t, "ram", r.Name())
	require.Equal(t, uint64(0x40), off)

	_, _, ok = c.Mem.Resolve(c, 0x10)
	require.False(t, ok)
}

func TestReleaseAllRegions(t *testing.T) {
	d := NewDispatcher(nil)
	a, b := newTestRAM(0, 0x10), newTestRAM(0x10, 0x10)
	require.NoError(t, d.Register(a))
	require.NoError(t, d.Register(b))
	require.NoError(t, d.Release())
	require.True(t, a.released)
	require.True(t, b.released)
	require.Empty(t, d.Regions())
}

func TestStageCopiesIntoBacking(t *testing.T) {
	d := NewDispatcher(nil)
	ram := newTestRAM(0x1000, 0x100)
	require.NoError(t, d.Register(ram))

	require.NoError(t, d.Stage(0x1080, []byte{0xaa, 0xbb}))
	require.Equal(t, []byte{0xaa, 0xbb}, ram.mem[0x80:0x82])

	require.ErrorIs(t, d.Stage(0x10ff, []byte{1, 2}), ErrNoRegion)
	require.ErrorIs(t, d.Stage(0x9000, []byte{1}), ErrNoRegion)
}

func TestReaderAtWriterAt(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Register(newTestRAM(0x1000, 0x100)))

	n, err := d.WriteAt([]byte{9, 8, 7}, 0x1020)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	buf := make([]byte, 3)
	_, err = d.ReadAt(buf, 0x1020)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 8, 7}, buf)

	_, err = d.ReadAt(buf, 0x4000)
	require.ErrorIs(t, err, ErrNoRegion)
}
