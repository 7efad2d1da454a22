package plic

import (
	"encoding/binary"
	"testing"

	"github.com/Blameying/space-emu/internal/riscv"
	"github.com/stretchr/testify/require"
)

type fakeHart struct{ mip uint64 }

func (h *fakeHart) SetInterrupt(mask uint64)   { h.mip |= mask }
func (h *fakeHart) ClearInterrupt(mask uint64) { h.mip &^= mask }

const external = riscv.MipMEIP | riscv.MipSEIP

func claim(t *testing.T, p *PLIC) uint32 {
	t.Helper()
	var buf [4]byte
	_, err := p.Read(regClaim, buf[:])
	require.NoError(t, err)
	return binary.LittleEndian.Uint32(buf[:])
}

func complete(t *testing.T, p *PLIC, id uint32) {
	t.Helper()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], id)
	_, err := p.Write(regClaim, buf[:])
	require.NoError(t, err)
}

func TestClaimComplete(t *testing.T) {
	hart := &fakeHart{}
	p := New(0x4010_0000, hart)

	p.Line(3).Set(true)
	p.SetIRQ(1, true)
	require.Equal(t, external, hart.mip)

	require.Equal(t, uint32(1), claim(t, p))
	require.Equal(t, external, hart.mip, "source 3 still unserved")
	require.Equal(t, uint32(3), claim(t, p))
	require.Zero(t, hart.mip)
	require.Zero(t, claim(t, p))

	// Completing a source that is still asserted re-raises the line.
	complete(t, p, 3)
	require.Equal(t, external, hart.mip)

	p.SetIRQ(3, false)
	p.SetIRQ(1, false)
	complete(t, p, 1)
	require.Zero(t, hart.mip)
}

func TestThresholdReadsZero(t *testing.T) {
	p := New(0, &fakeHart{})
	p.SetIRQ(2, true)
	var buf [4]byte
	_, err := p.Read(regThresh, buf[:])
	require.NoError(t, err)
	require.Zero(t, binary.LittleEndian.Uint32(buf[:]))
	require.Equal(t, uint32(2), p.Pending())
}

func TestIgnoresBadSources(t *testing.T) {
	hart := &fakeHart{}
	p := New(0, hart)
	p.SetIRQ(0, true)
	p.SetIRQ(NumSources+1, true)
	require.Zero(t, p.Pending())
	complete(t, p, 0)
	complete(t, p, 99)
	require.Zero(t, hart.mip)
}

func TestRejectsWideAccess(t *testing.T) {
	p := New(0, &fakeHart{})
	_, err := p.Read(regClaim, make([]byte, 8))
	require.ErrorIs(t, err, ErrAccessSize)
}
