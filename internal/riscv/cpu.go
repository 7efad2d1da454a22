// Package riscv implements a RISC-V hart for RV32 and RV64 with the IMAFDC
// extensions, the privileged architecture (M/S/U, traps, CSRs), software page
// table walks for Sv32/Sv39/Sv48 and an address-space dispatcher that routes
// physical accesses to registered memory regions.
package riscv

import (
	"fmt"
	"log/slog"
)

// Privilege levels
const (
	PrivUser       uint8 = 0
	PrivSupervisor uint8 = 1
	PrivMachine    uint8 = 3
)

// ISA extension bits for misa
const (
	MisaA uint64 = 1 << 0  // Atomic
	MisaC uint64 = 1 << 2  // Compressed
	MisaD uint64 = 1 << 3  // Double-precision float
	MisaF uint64 = 1 << 5  // Single-precision float
	MisaI uint64 = 1 << 8  // Base integer
	MisaM uint64 = 1 << 12 // Multiply/Divide
	MisaS uint64 = 1 << 18 // Supervisor mode
	MisaU uint64 = 1 << 20 // User mode
)

// Encoded register widths as used by misa.MXL and mstatus.SXL/UXL.
const (
	MXL32 uint8 = 1
	MXL64 uint8 = 2
)

// mip/mie bits
const (
	MipSSIP uint64 = 1 << 1
	MipMSIP uint64 = 1 << 3
	MipSTIP uint64 = 1 << 5
	MipMTIP uint64 = 1 << 7
	MipSEIP uint64 = 1 << 9
	MipMEIP uint64 = 1 << 11
)

// Exception causes
const (
	CauseInsnAddrMisaligned  uint64 = 0
	CauseInsnAccessFault     uint64 = 1
	CauseIllegalInsn         uint64 = 2
	CauseBreakpoint          uint64 = 3
	CauseLoadAddrMisaligned  uint64 = 4
	CauseLoadAccessFault     uint64 = 5
	CauseStoreAddrMisaligned uint64 = 6
	CauseStoreAccessFault    uint64 = 7
	CauseEcallFromU          uint64 = 8
	CauseEcallFromS          uint64 = 9
	CauseEcallFromM          uint64 = 11
	CauseInsnPageFault       uint64 = 12
	CauseLoadPageFault       uint64 = 13
	CauseStorePageFault      uint64 = 15
)

// CauseInterrupt flags an asynchronous cause. It is kept at bit 63 internally
// and moved to bit XLEN-1 when written into mcause/scause.
const CauseInterrupt uint64 = 1 << 63

// Interrupt causes
const (
	IrqSSoftware uint64 = 1
	IrqMSoftware uint64 = 3
	IrqSTimer    uint64 = 5
	IrqMTimer    uint64 = 7
	IrqSExternal uint64 = 9
	IrqMExternal uint64 = 11
)

// ResetVector is where the hart starts fetching after reset.
const ResetVector uint64 = 0x1000

// CPU holds the complete architectural state of one hart.
type CPU struct {
	// Integer registers, held sign-extended from the current XLEN.
	X [32]uint64

	// Floating point registers; single precision values are NaN-boxed.
	F [32]uint64

	PC   uint64
	Priv uint8

	// XLEN is the effective register width for the current privilege level.
	XLEN int
	// MaxXLEN is the widest mode the hart implements.
	MaxXLEN int
	mxl     uint8

	// Cycle doubles as instret; the model retires one instruction per cycle.
	Cycle uint64

	Mstatus    uint64
	Misa       uint64
	Medeleg    uint64
	Mideleg    uint64
	Mie        uint64
	Mip        uint64
	Mtvec      uint64
	Mcounteren uint64
	Mscratch   uint64
	Mepc       uint64
	Mcause     uint64
	Mtval      uint64
	Mhartid    uint64

	Stvec      uint64
	Scounteren uint64
	Sscratch   uint64
	Sepc       uint64
	Scause     uint64
	Stval      uint64
	Satp       uint64

	Fflags uint8
	Frm    uint8

	// Single LR/SC reservation.
	Reservation      uint64
	ReservationValid bool

	// PowerDown is set by WFI and cleared once an enabled interrupt is pending.
	PowerDown bool

	// PendingCause and PendingTval record the last fault raised by a memory
	// access so the trap path can report it.
	PendingCause uint64
	PendingTval  uint64

	// Time, when set, backs the time/timeh CSRs.
	Time func() uint64

	// Trace logs every trap taken at debug level.
	Trace bool

	Mem *Dispatcher
	log *slog.Logger
}

// Option configures a CPU.
type Option func(*CPU)

// WithExtensions sets the misa extension bits (MisaI is always implied).
func WithExtensions(ext uint64) Option {
	return func(c *CPU) { c.Misa = ext | MisaI }
}

// WithLogger sets the logger used for trap tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *CPU) { c.log = l }
}

// WithHartID sets mhartid.
func WithHartID(id uint64) Option {
	return func(c *CPU) { c.Mhartid = id }
}

// NewCPU creates a hart attached to mem. xlen selects the widest supported
// mode and must be 32 or 64.
func NewCPU(mem *Dispatcher, xlen int, opts ...Option) (*CPU, error) {
	if xlen != 32 && xlen != 64 {
		return nil, fmt.Errorf("unsupported xlen %d", xlen)
	}
	c := &CPU{
		Mem:     mem,
		MaxXLEN: xlen,
		Misa:    MisaI | MisaM | MisaA | MisaF | MisaD | MisaC | MisaS | MisaU,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Misa&MisaD != 0 {
		c.Misa |= MisaF
	}
	c.Reset()
	return c, nil
}

// Reset puts the hart in its power-on state.
func (c *CPU) Reset() {
	hart, misa, fn := c.Mhartid, c.Misa, c.Time
	mem, logger, trace, width := c.Mem, c.log, c.Trace, c.MaxXLEN
	*c = CPU{
		Mem:     mem,
		log:     logger,
		Trace:   trace,
		Time:    fn,
		Mhartid: hart,
		Misa:    misa,
		MaxXLEN: width,
		XLEN:    width,
		mxl:     widthToMXL(width),
		PC:      ResetVector,
		Priv:    PrivMachine,
	}
	if width == 64 {
		c.Mstatus = uint64(MXL64)<<mstatusUXLShift | uint64(MXL64)<<mstatusSXLShift
	}
}

// ReadReg reads an integer register (x0 always returns 0)
func (c *CPU) ReadReg(reg uint32) uint64 {
	if reg == 0 {
		return 0
	}
	return c.X[reg]
}

// WriteReg writes an integer register, truncating to XLEN (writes to x0 are ignored)
func (c *CPU) WriteReg(reg uint32, val uint64) {
	if reg != 0 {
		c.X[reg] = c.sext(val)
	}
}

// sext sign-extends v from the current XLEN.
func (c *CPU) sext(v uint64) uint64 {
	if c.XLEN == 32 {
		return uint64(int64(int32(v)))
	}
	return v
}

// addr truncates v to an address of the current XLEN.
func (c *CPU) addr(v uint64) uint64 {
	if c.XLEN == 32 {
		return v & 0xffff_ffff
	}
	return v
}

func (c *CPU) has(ext uint64) bool { return c.Misa&ext != 0 }

// signExtend sign-extends a value from 'bits' bits to 64 bits
func signExtend(val uint64, bits int) int64 {
	shift := 64 - bits
	return int64(val<<shift) >> shift
}

func widthToMXL(xlen int) uint8 {
	if xlen == 32 {
		return MXL32
	}
	return MXL64
}

func mxlToWidth(mxl uint8) int {
	return 1 << (mxl + 4)
}

// Exception is a synchronous trap raised by an instruction or memory access.
type Exception struct {
	Cause uint64
	Tval  uint64
}

func (e *Exception) Error() string {
	return fmt.Sprintf("exception: cause=%d tval=%#x", e.Cause, e.Tval)
}

func exception(cause, tval uint64) *Exception {
	return &Exception{Cause: cause, Tval: tval}
}
