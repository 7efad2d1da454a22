package riscv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	rootTable = 0x8001_0000
	midTable  = 0x8001_1000
	leafTable = 0x8001_2000
	dataPage  = 0x8002_0000
)

func pointer(pa uint64) uint64 { return pa>>PageShift<<10 | PteV }

func leaf(pa uint64, flags uint64) uint64 { return pa>>PageShift<<10 | flags | PteV }

// mapSv39 maps the 4K page at va 0x4000_0000 to dataPage.
func mapSv39(c *CPU, ram *testRAM, flags uint64) {
	ram.putDword(rootTable+1*8, pointer(midTable))
	ram.putDword(midTable, pointer(leafTable))
	ram.putDword(leafTable, leaf(dataPage, flags))
	c.Satp = SatpModeSv39<<60 | rootTable>>PageShift
	c.setPriv(PrivSupervisor)
}

func TestSv39RoundTrip(t *testing.T) {
	c, ram := newTestCPU(t, 64)
	mapSv39(c, ram, PteR|PteW|PteA|PteD)

	require.NoError(t, c.StoreVirt(0x4000_0008, 8, 0xdead_beef_cafe))
	require.Equal(t, uint64(0xdead_beef_cafe), ram.dword(dataPage+8))

	v, err := c.LoadVirt(0x4000_0008, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdead_beef_cafe), v)

	pa, err := c.Translate(0x4000_0123, AccessRead)
	require.NoError(t, err)
	require.Equal(t, uint64(dataPage+0x123), pa)
}

func TestSv39SetsAccessedAndDirty(t *testing.T) {
	c, ram := newTestCPU(t, 64)
	mapSv39(c, ram, PteR|PteW)

	_, err := c.Translate(0x4000_0000, AccessRead)
	require.NoError(t, err)
	require.NotZero(t, ram.dword(leafTable)&PteA)
	require.Zero(t, ram.dword(leafTable)&PteD)

	_, err = c.Translate(0x4000_0000, AccessWrite)
	require.NoError(t, err)
	require.NotZero(t, ram.dword(leafTable)&PteD)
}

func TestSv39PermissionFaults(t *testing.T) {
	c, ram := newTestCPU(t, 64)
	mapSv39(c, ram, PteR|PteA)

	_, err := c.Translate(0x4000_0000, AccessWrite)
	require.Error(t, err)
	_, err = c.Translate(0x4000_0000, AccessExec)
	require.Error(t, err)

	// Supervisor may not touch user pages without SUM.
	ram.putDword(leafTable, leaf(dataPage, PteR|PteU|PteA))
	_, err = c.Translate(0x4000_0000, AccessRead)
	require.Error(t, err)
	c.setStatus(MstatusSUM, true)
	_, err = c.Translate(0x4000_0000, AccessRead)
	require.NoError(t, err)

	// Write without read is reserved.
	ram.putDword(leafTable, leaf(dataPage, PteW|PteA|PteD))
	_, err = c.Translate(0x4000_0000, AccessWrite)
	require.Error(t, err)
}

func TestSv39NonCanonicalAddress(t *testing.T) {
	c, ram := newTestCPU(t, 64)
	mapSv39(c, ram, PteR|PteA)
	_, err := c.Translate(0x0000_0040_0000_0000, AccessRead)
	require.Error(t, err)
}

func TestMachineModeBypassesTranslation(t *testing.T) {
	c, ram := newTestCPU(t, 64)
	mapSv39(c, ram, PteR|PteA)
	c.setPriv(PrivMachine)

	pa, err := c.Translate(0x8000_0010, AccessWrite)
	require.NoError(t, err)
	require.Equal(t, uint64(0x8000_0010), pa)

	// MPRV applies MPP's translation to loads and stores only.
	c.setStatus(MstatusMPRV, true)
	c.setMPP(PrivSupervisor)
	pa, err = c.Translate(0x4000_0010, AccessRead)
	require.NoError(t, err)
	require.Equal(t, uint64(dataPage+0x10), pa)
	pa, err = c.Translate(0x8000_0010, AccessExec)
	require.NoError(t, err)
	require.Equal(t, uint64(0x8000_0010), pa)
}

func TestSuperpages(t *testing.T) {
	c, ram := newTestCPU(t, 64)
	mapSv39(c, ram, PteR|PteA)

	// 2M leaf at level 1.
	ram.putDword(midTable+1*8, leaf(0x8020_0000, PteR|PteA))
	pa, err := c.Translate(0x4020_1234, AccessRead)
	require.NoError(t, err)
	require.Equal(t, uint64(0x8020_1234), pa)

	// A 2M leaf whose PPN is not 2M aligned faults.
	ram.putDword(midTable+2*8, leaf(0x8020_1000, PteR|PteA))
	_, err = c.Translate(0x4040_0000, AccessRead)
	require.Error(t, err)
}

func TestStoreStraddlingIntoUnmappedPageFaults(t *testing.T) {
	c, ram := newTestCPU(t, 64)
	mapSv39(c, ram, PteR|PteW|PteA|PteD)

	err := c.StoreVirt(0x4000_0ffc, 8, ^uint64(0))
	var exc *Exception
	require.True(t, errors.As(err, &exc))
	require.Equal(t, CauseStorePageFault, exc.Cause)
	require.Equal(t, uint64(0x4000_1000), exc.Tval)
	require.Equal(t, CauseStorePageFault, c.PendingCause)

	// Nothing was written to the mapped half.
	require.Zero(t, ram.word(dataPage+0xffc))
}

func TestLoadStraddlingMappedPages(t *testing.T) {
	c, ram := newTestCPU(t, 64)
	mapSv39(c, ram, PteR|PteW|PteA|PteD)
	ram.putDword(leafTable+8, leaf(dataPage+0x3000, PteR|PteW|PteA|PteD))

	ram.putWord(dataPage+0xffc, 0x1111_1111)
	ram.putWord(dataPage+0x3000, 0x2222_2222)
	v, err := c.LoadVirt(0x4000_0ffc, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(0x2222_2222_1111_1111), v)
}

func TestSv32Translation(t *testing.T) {
	c, ram := newTestCPU(t, 32)
	ram.putWord(rootTable+1*4, uint32(pointer(midTable)))
	ram.putWord(midTable+1*4, uint32(leaf(dataPage, PteR|PteW|PteA|PteD)))
	require.Equal(t, CSRTranslationChanged, c.WriteCSR(CSRSatp, 1<<31|rootTable>>PageShift))
	c.setPriv(PrivSupervisor)

	pa, err := c.Translate(0x0040_1234, AccessRead)
	require.NoError(t, err)
	require.Equal(t, uint64(dataPage+0x234), pa)

	// 4M megapage at level 1.
	ram.putWord(rootTable+2*4, uint32(leaf(0x8040_0000, PteR|PteA)))
	pa, err = c.Translate(0x0081_2345, AccessRead)
	require.NoError(t, err)
	require.Equal(t, uint64(0x8041_2345), pa)
}

func TestFetchPageFaultRaisesTrap(t *testing.T) {
	c, ram := newTestCPU(t, 64)
	mapSv39(c, ram, PteR|PteW|PteA|PteD)
	c.Mtvec = testRAMBase + 0x100
	c.PC = 0x4000_0000

	out := c.Step()
	require.Equal(t, Trap, out.Kind)
	require.Equal(t, CauseInsnPageFault, c.Mcause)
	require.Equal(t, uint64(0x4000_0000), c.Mtval)
	require.Equal(t, uint64(0x4000_0000), c.Mepc)
	require.Equal(t, PrivMachine, c.Priv)
	require.Equal(t, PrivSupervisor, c.mpp())
}
