package riscv

import (
	"encoding/binary"
	"errors"
)

// SATP modes
const (
	SatpModeBare = 0
	SatpModeSv32 = 1
	SatpModeSv39 = 8
	SatpModeSv48 = 9
)

// Page table entry flags
const (
	PteV = 1 << 0 // Valid
	PteR = 1 << 1 // Readable
	PteW = 1 << 2 // Writable
	PteX = 1 << 3 // Executable
	PteU = 1 << 4 // User accessible
	PteG = 1 << 5 // Global
	PteA = 1 << 6 // Accessed
	PteD = 1 << 7 // Dirty
)

const (
	PageSize  = 4096
	PageShift = 12
)

// AccessType is the kind of memory access being translated.
type AccessType int

const (
	AccessRead AccessType = iota
	AccessWrite
	AccessExec
)

func (a AccessType) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "exec"
	}
}

// pageFaultCause maps a failed translation to the architectural cause.
func (a AccessType) pageFaultCause() uint64 {
	switch a {
	case AccessWrite:
		return CauseStorePageFault
	case AccessExec:
		return CauseInsnPageFault
	default:
		return CauseLoadPageFault
	}
}

// accessFaultCause maps a missing backing region to the architectural cause.
func (a AccessType) accessFaultCause() uint64 {
	switch a {
	case AccessWrite:
		return CauseStoreAccessFault
	case AccessExec:
		return CauseInsnAccessFault
	default:
		return CauseLoadAccessFault
	}
}

// errTranslate is the single failure reported by the page walker; callers
// turn it into the page fault matching their access.
var errTranslate = errors.New("riscv: translation failed")

// walkContext describes one translation attempt.
type walkContext struct {
	mode     int
	root     uint64 // physical page number of the root table
	levels   int
	pteSize  uint64
	vpnBits  uint
	vpn      [4]uint64
	access   AccessType
	priv     uint8
	vaBits   uint
	pageSize uint64
}

func (c *CPU) newWalk(vaddr uint64, access AccessType, priv uint8) (walkContext, bool) {
	w := walkContext{access: access, priv: priv, pageSize: PageSize}
	if c.supervisorXLEN() == 32 {
		if c.Satp>>31&1 == 0 {
			return w, false
		}
		w.mode = SatpModeSv32
		w.root = c.Satp & (1<<22 - 1)
		w.levels = 2
		w.pteSize = 4
		w.vpnBits = 10
		w.vaBits = 32
	} else {
		w.mode = int(c.Satp >> 60)
		w.root = c.Satp & (1<<44 - 1)
		w.pteSize = 8
		w.vpnBits = 9
		switch w.mode {
		case SatpModeSv39:
			w.levels = 3
		case SatpModeSv48:
			w.levels = 4
		default:
			return w, false
		}
		w.vaBits = PageShift + w.vpnBits*uint(w.levels)
	}
	mask := uint64(1)<<w.vpnBits - 1
	for i := 0; i < w.levels; i++ {
		w.vpn[i] = (vaddr >> (PageShift + w.vpnBits*uint(i))) & mask
	}
	return w, true
}

// effectivePriv is the privilege used for translation and permission checks;
// MPRV lets M-mode loads and stores run with MPP's privilege.
func (c *CPU) effectivePriv(access AccessType) uint8 {
	if c.Priv == PrivMachine && access != AccessExec && c.status(MstatusMPRV) {
		return c.mpp()
	}
	return c.Priv
}

// Translate maps a virtual address to a physical one. Page tables are read
// through the dispatcher's physical path. No register state is modified on
// failure.
func (c *CPU) Translate(vaddr uint64, access AccessType) (uint64, error) {
	priv := c.effectivePriv(access)
	if priv == PrivMachine {
		return vaddr, nil
	}
	w, paged := c.newWalk(vaddr, access, priv)
	if !paged {
		return vaddr, nil
	}

	// Sv39/Sv48 addresses must be sign-extended from the top VA bit.
	if w.mode != SatpModeSv32 {
		top := int64(vaddr) >> (w.vaBits - 1)
		if top != 0 && top != -1 {
			return 0, errTranslate
		}
	}
	return c.walk(&w, vaddr)
}

func (c *CPU) walk(w *walkContext, vaddr uint64) (uint64, error) {
	base := w.root
	for level := w.levels - 1; level >= 0; level-- {
		pteAddr := base<<PageShift + w.vpn[level]*w.pteSize
		pte, ok := c.readPTE(pteAddr, w.pteSize)
		if !ok {
			return 0, errTranslate
		}
		if pte&PteV == 0 || (pte&PteR == 0 && pte&PteW != 0) {
			return 0, errTranslate
		}
		ppn := pte >> 10
		if w.pteSize == 8 {
			ppn &= 1<<44 - 1
		}
		if pte&(PteR|PteX) == 0 {
			base = ppn
			continue
		}

		if !w.permitted(pte, c.status(MstatusSUM), c.status(MstatusMXR)) {
			return 0, errTranslate
		}

		skipped := w.vpnBits * uint(level)
		if ppn&(uint64(1)<<skipped-1) != 0 {
			// Misaligned superpage.
			return 0, errTranslate
		}

		next := pte | PteA
		if w.access == AccessWrite {
			next |= PteD
		}
		if next != pte && !c.writePTE(pteAddr, w.pteSize, next) {
			return 0, errTranslate
		}

		offsetBits := PageShift + skipped
		return (ppn>>skipped)<<offsetBits | vaddr&(uint64(1)<<offsetBits-1), nil
	}
	return 0, errTranslate
}

// permitted applies the U/SUM rule and the R/W/X check for a leaf PTE.
func (w *walkContext) permitted(pte uint64, sum, mxr bool) bool {
	user := pte&PteU != 0
	switch w.priv {
	case PrivSupervisor:
		if user && (!sum || w.access == AccessExec) {
			return false
		}
	case PrivUser:
		if !user {
			return false
		}
	}

	readable := pte&PteR != 0 || (mxr && pte&PteX != 0)
	switch w.access {
	case AccessRead:
		return readable
	case AccessWrite:
		return pte&PteW != 0
	default:
		return pte&PteX != 0
	}
}

func (c *CPU) readPTE(addr, size uint64) (uint64, bool) {
	var buf [8]byte
	if c.Mem.ReadPhys(addr, buf[:size]) != int(size) {
		return 0, false
	}
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(buf[:4])), true
	}
	return binary.LittleEndian.Uint64(buf[:]), true
}

func (c *CPU) writePTE(addr, size, pte uint64) bool {
	var buf [8]byte
	if size == 4 {
		binary.LittleEndian.PutUint32(buf[:4], uint32(pte))
	} else {
		binary.LittleEndian.PutUint64(buf[:], pte)
	}
	return c.Mem.WritePhys(addr, buf[:size]) == int(size)
}
