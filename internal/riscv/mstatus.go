package riscv

// mstatus bits
const (
	MstatusUIE  uint64 = 1 << 0
	MstatusSIE  uint64 = 1 << 1
	MstatusMIE  uint64 = 1 << 3
	MstatusUPIE uint64 = 1 << 4
	MstatusSPIE uint64 = 1 << 5
	MstatusMPIE uint64 = 1 << 7
	MstatusSPP  uint64 = 1 << 8
	MstatusMPP  uint64 = 3 << 11
	MstatusFS   uint64 = 3 << 13
	MstatusXS   uint64 = 3 << 15
	MstatusMPRV uint64 = 1 << 17
	MstatusSUM  uint64 = 1 << 18
	MstatusMXR  uint64 = 1 << 19
	MstatusUXL  uint64 = 3 << mstatusUXLShift
	MstatusSXL  uint64 = 3 << mstatusSXLShift
)

const (
	mstatusSPPShift = 8
	mstatusMPPShift = 11
	mstatusFSShift  = 13
	mstatusXSShift  = 15
	mstatusUXLShift = 32
	mstatusSXLShift = 34
)

// FS/XS states
const (
	FSOff     uint64 = 0
	FSInitial uint64 = 1
	FSClean   uint64 = 2
	FSDirty   uint64 = 3
)

// Writable through the mstatus alias.
const mstatusMask = MstatusUIE | MstatusSIE | MstatusMIE |
	MstatusUPIE | MstatusSPIE | MstatusMPIE |
	MstatusSPP | MstatusMPP | MstatusFS |
	MstatusMPRV | MstatusSUM | MstatusMXR

// Visible through the sstatus alias, before width fields are added.
const sstatusMask = MstatusUIE | MstatusSIE |
	MstatusUPIE | MstatusSPIE |
	MstatusSPP | MstatusFS | MstatusXS |
	MstatusSUM | MstatusMXR

func (c *CPU) status(bit uint64) bool { return c.Mstatus&bit != 0 }

func (c *CPU) setStatus(bit uint64, on bool) {
	if on {
		c.Mstatus |= bit
	} else {
		c.Mstatus &^= bit
	}
}

func (c *CPU) fs() uint64 { return (c.Mstatus & MstatusFS) >> mstatusFSShift }

func (c *CPU) setFS(state uint64) {
	c.Mstatus = c.Mstatus&^MstatusFS | (state<<mstatusFSShift)&MstatusFS
}

func (c *CPU) xs() uint64 { return (c.Mstatus & MstatusXS) >> mstatusXSShift }

// sd is the summary dirty bit derived from FS and XS.
func (c *CPU) sd() bool { return c.fs() == FSDirty || c.xs() == FSDirty }

func (c *CPU) mpp() uint8 { return uint8((c.Mstatus & MstatusMPP) >> mstatusMPPShift) }

func (c *CPU) setMPP(p uint8) {
	c.Mstatus = c.Mstatus&^MstatusMPP | uint64(p)<<mstatusMPPShift
}

func (c *CPU) spp() uint8 { return uint8((c.Mstatus & MstatusSPP) >> mstatusSPPShift) }

func (c *CPU) setSPP(p uint8) {
	c.Mstatus = c.Mstatus&^MstatusSPP | uint64(p&1)<<mstatusSPPShift
}

func (c *CPU) uxl() uint8 { return uint8((c.Mstatus >> mstatusUXLShift) & 3) }
func (c *CPU) sxl() uint8 { return uint8((c.Mstatus >> mstatusSXLShift) & 3) }

// readStatus returns the masked status view with SD placed at XLEN-1.
func (c *CPU) readStatus(mask uint64) uint64 {
	v := c.Mstatus & mask
	if c.XLEN == 32 {
		v &= 0xffff_ffff
	}
	if c.sd() {
		v |= 1 << (c.XLEN - 1)
	}
	return v
}

func (c *CPU) sstatusView() uint64 {
	mask := sstatusMask
	if c.MaxXLEN == 64 {
		mask |= MstatusUXL
	}
	return mask
}

// writeStatus merges v into mstatus under mask. Width fields are only taken
// when they name a width the hart implements.
func (c *CPU) writeStatus(v, mask uint64) {
	mask &= mstatusMask | MstatusUXL | MstatusSXL
	if c.MaxXLEN == 64 {
		if w := uint8(v>>mstatusUXLShift) & 3; w < MXL32 || w > MXL64 {
			mask &^= MstatusUXL
		}
		if w := uint8(v>>mstatusSXLShift) & 3; w < MXL32 || w > MXL64 {
			mask &^= MstatusSXL
		}
	} else {
		mask &^= MstatusUXL | MstatusSXL
	}
	// MPP=2 is reserved.
	if (v&MstatusMPP)>>mstatusMPPShift == 2 {
		mask &^= MstatusMPP
	}
	c.Mstatus = c.Mstatus&^mask | v&mask
}
