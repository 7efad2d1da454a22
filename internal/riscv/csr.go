package riscv

// CSR addresses
const (
	CSRFflags     uint16 = 0x001
	CSRFrm        uint16 = 0x002
	CSRFcsr       uint16 = 0x003
	CSRCycle      uint16 = 0xC00
	CSRTime       uint16 = 0xC01
	CSRInstret    uint16 = 0xC02
	CSRCycleh     uint16 = 0xC80
	CSRTimeh      uint16 = 0xC81
	CSRInstreth   uint16 = 0xC82
	CSRSstatus    uint16 = 0x100
	CSRSie        uint16 = 0x104
	CSRStvec      uint16 = 0x105
	CSRScounteren uint16 = 0x106
	CSRSscratch   uint16 = 0x140
	CSRSepc       uint16 = 0x141
	CSRScause     uint16 = 0x142
	CSRStval      uint16 = 0x143
	CSRSip        uint16 = 0x144
	CSRSatp       uint16 = 0x180
	CSRMstatus    uint16 = 0x300
	CSRMisa       uint16 = 0x301
	CSRMedeleg    uint16 = 0x302
	CSRMideleg    uint16 = 0x303
	CSRMie        uint16 = 0x304
	CSRMtvec      uint16 = 0x305
	CSRMcounteren uint16 = 0x306
	CSRMscratch   uint16 = 0x340
	CSRMepc       uint16 = 0x341
	CSRMcause     uint16 = 0x342
	CSRMtval      uint16 = 0x343
	CSRMip        uint16 = 0x344
	CSRPmpcfg0    uint16 = 0x3A0
	CSRPmpaddr15  uint16 = 0x3BF
	CSRMcycle     uint16 = 0xB00
	CSRMinstret   uint16 = 0xB02
	CSRMcycleh    uint16 = 0xB80
	CSRMinstreth  uint16 = 0xB82
	CSRMvendorid  uint16 = 0xF11
	CSRMarchid    uint16 = 0xF12
	CSRMimpid     uint16 = 0xF13
	CSRMhartid    uint16 = 0xF14
)

// CSRStatus is the outcome of a CSR access.
type CSRStatus int

const (
	// CSROK means the access completed with no side effect on fetch.
	CSROK CSRStatus = iota
	// CSRTranslationChanged means satp changed; the caller must not reuse
	// any translation made before the write.
	CSRTranslationChanged
	// CSRWidthChanged means the effective XLEN changed.
	CSRWidthChanged
	// CSRIllegal means the access raises an illegal instruction exception.
	CSRIllegal
)

// counter-enable bits
const (
	counterCY uint64 = 1 << 0
	counterTM uint64 = 1 << 1
	counterIR uint64 = 1 << 2
)

const medelegMask uint64 = 1<<(CauseStorePageFault+1) - 1

const midelegMask = MipSSIP | MipSTIP | MipSEIP

const mieMask = MipMSIP | MipMTIP | MipMEIP | MipSSIP | MipSTIP | MipSEIP

const mipWriteMask = MipSSIP | MipSTIP

func (c *CPU) counterenMask() uint64 {
	if c.Time != nil {
		return counterCY | counterTM | counterIR
	}
	return counterCY | counterIR
}

// counterAllowed applies mcounteren/scounteren gating to the user counters.
func (c *CPU) counterAllowed(csr uint16) bool {
	if c.Priv == PrivMachine {
		return true
	}
	en := c.Mcounteren
	if c.Priv < PrivSupervisor {
		en = c.Scounteren
	}
	return (en>>(csr&0x1f))&1 != 0
}

func (c *CPU) fpEnabled() bool {
	return c.has(MisaF) && c.fs() != FSOff
}

// ReadCSR reads a CSR. willWrite marks a read that will be followed by a
// write, so read-only registers reject it up front.
func (c *CPU) ReadCSR(csr uint16, willWrite bool) (uint64, CSRStatus) {
	if csr&0xC00 == 0xC00 && willWrite {
		return 0, CSRIllegal
	}
	if uint16(c.Priv) < (csr>>8)&3 {
		return 0, CSRIllegal
	}

	var v uint64
	switch csr {
	case CSRFflags, CSRFrm, CSRFcsr:
		if !c.fpEnabled() {
			return 0, CSRIllegal
		}
		switch csr {
		case CSRFflags:
			v = uint64(c.Fflags)
		case CSRFrm:
			v = uint64(c.Frm)
		default:
			v = uint64(c.Fflags) | uint64(c.Frm)<<5
		}

	case CSRCycle, CSRInstret, CSRTime:
		if !c.counterAllowed(csr) {
			return 0, CSRIllegal
		}
		if csr == CSRTime {
			if c.Time == nil {
				return 0, CSRIllegal
			}
			v = c.Time()
		} else {
			v = c.Cycle
		}
	case CSRCycleh, CSRInstreth, CSRTimeh:
		if c.XLEN != 32 || !c.counterAllowed(csr) {
			return 0, CSRIllegal
		}
		if csr == CSRTimeh {
			if c.Time == nil {
				return 0, CSRIllegal
			}
			v = c.Time() >> 32
		} else {
			v = c.Cycle >> 32
		}

	case CSRSstatus:
		v = c.readStatus(c.sstatusView())
	case CSRSie:
		v = c.Mie & c.Mideleg
	case CSRStvec:
		v = c.Stvec
	case CSRScounteren:
		v = c.Scounteren
	case CSRSscratch:
		v = c.Sscratch
	case CSRSepc:
		v = c.Sepc
	case CSRScause:
		v = c.Scause
	case CSRStval:
		v = c.Stval
	case CSRSip:
		v = c.Mip & c.Mideleg
	case CSRSatp:
		v = c.Satp

	case CSRMstatus:
		v = c.readStatus(^uint64(0))
	case CSRMisa:
		v = c.Misa | uint64(c.mxl)<<(c.XLEN-2)
	case CSRMedeleg:
		v = c.Medeleg
	case CSRMideleg:
		v = c.Mideleg
	case CSRMie:
		v = c.Mie
	case CSRMtvec:
		v = c.Mtvec
	case CSRMcounteren:
		v = c.Mcounteren
	case CSRMscratch:
		v = c.Mscratch
	case CSRMepc:
		v = c.Mepc
	case CSRMcause:
		v = c.Mcause
	case CSRMtval:
		v = c.Mtval
	case CSRMip:
		v = c.Mip
	case CSRMcycle, CSRMinstret:
		v = c.Cycle
	case CSRMcycleh, CSRMinstreth:
		if c.XLEN != 32 {
			return 0, CSRIllegal
		}
		v = c.Cycle >> 32
	case CSRMvendorid, CSRMarchid, CSRMimpid:
		v = 0
	case CSRMhartid:
		v = c.Mhartid

	default:
		if csr >= CSRPmpcfg0 && csr <= CSRPmpaddr15 {
			// PMP is not modelled; the registers read as zero.
			return 0, CSROK
		}
		return 0, CSRIllegal
	}
	return v, CSROK
}

// WriteCSR writes a CSR, applying the register's field mask.
func (c *CPU) WriteCSR(csr uint16, v uint64) CSRStatus {
	if csr&0xC00 == 0xC00 || uint16(c.Priv) < (csr>>8)&3 {
		return CSRIllegal
	}
	if c.XLEN == 32 {
		v &= 0xffff_ffff
	}

	switch csr {
	case CSRFflags, CSRFrm, CSRFcsr:
		if !c.fpEnabled() {
			return CSRIllegal
		}
		switch csr {
		case CSRFflags:
			c.Fflags = uint8(v & 0x1f)
		case CSRFrm:
			c.Frm = uint8(v & 7)
		default:
			c.Fflags = uint8(v & 0x1f)
			c.Frm = uint8((v >> 5) & 7)
		}
		c.setFS(FSDirty)

	case CSRSstatus:
		c.writeStatus(v, c.sstatusView())
	case CSRSie:
		c.Mie = c.Mie&^c.Mideleg | v&c.Mideleg
	case CSRStvec:
		c.Stvec = v &^ 2
	case CSRScounteren:
		c.Scounteren = v & c.counterenMask()
	case CSRSscratch:
		c.Sscratch = v
	case CSRSepc:
		c.Sepc = v & c.epcMask()
	case CSRScause:
		c.Scause = v
	case CSRStval:
		c.Stval = v
	case CSRSip:
		mask := c.Mideleg & MipSSIP
		c.Mip = c.Mip&^mask | v&mask
	case CSRSatp:
		c.writeSatp(v)
		return CSRTranslationChanged

	case CSRMstatus:
		c.writeStatus(v, ^uint64(0))
	case CSRMisa:
		if c.MaxXLEN < 64 {
			return CSROK
		}
		mxl := uint8(v>>(c.XLEN-2)) & 3
		if mxl >= MXL32 && mxl <= MXL64 && mxl != c.mxl {
			c.mxl = mxl
			c.XLEN = mxlToWidth(mxl)
			return CSRWidthChanged
		}
	case CSRMedeleg:
		c.Medeleg = c.Medeleg&^medelegMask | v&medelegMask
	case CSRMideleg:
		c.Mideleg = c.Mideleg&^midelegMask | v&midelegMask
	case CSRMie:
		c.Mie = c.Mie&^mieMask | v&mieMask
	case CSRMtvec:
		c.Mtvec = v &^ 2
	case CSRMcounteren:
		c.Mcounteren = v & c.counterenMask()
	case CSRMscratch:
		c.Mscratch = v
	case CSRMepc:
		c.Mepc = v & c.epcMask()
	case CSRMcause:
		c.Mcause = v
	case CSRMtval:
		c.Mtval = v
	case CSRMip:
		c.Mip = c.Mip&^mipWriteMask | v&mipWriteMask
	case CSRMcycle, CSRMinstret:
		if c.XLEN == 32 {
			c.Cycle = c.Cycle&^0xffff_ffff | v&0xffff_ffff
		} else {
			c.Cycle = v
		}
	case CSRMcycleh, CSRMinstreth:
		if c.XLEN != 32 {
			return CSRIllegal
		}
		c.Cycle = c.Cycle&0xffff_ffff | v<<32

	default:
		if csr >= CSRPmpcfg0 && csr <= CSRPmpaddr15 {
			return CSROK
		}
		return CSRIllegal
	}
	return CSROK
}

func (c *CPU) epcMask() uint64 {
	if c.has(MisaC) {
		return ^uint64(1)
	}
	return ^uint64(3)
}

// supervisorXLEN is the width that defines the satp layout.
func (c *CPU) supervisorXLEN() int {
	if c.MaxXLEN == 32 {
		return 32
	}
	return mxlToWidth(c.sxl())
}

func (c *CPU) writeSatp(v uint64) {
	if c.supervisorXLEN() == 32 {
		mode := (v >> 31) & 1
		c.Satp = v&(1<<22-1) | mode<<31
		return
	}
	mode := c.Satp >> 60
	if m := (v >> 60) & 0xf; m == SatpModeBare || m == SatpModeSv39 || m == SatpModeSv48 {
		mode = m
	}
	c.Satp = v&(1<<44-1) | mode<<60
}
