// Package clint implements the core local interruptor: the machine timer and
// the machine software interrupt of a single hart.
package clint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/Blameying/space-emu/internal/riscv"
)

// RTCFreq is the mtime tick rate.
const RTCFreq = 10_000_000

// Size is the length of the register window.
const Size = 0xc_0000

const (
	regMSIP      = 0x0000
	regMtimecmp  = 0x4000
	regMtimecmpH = 0x4004
	regMtime     = 0xbff8
	regMtimeH    = 0xbffc
)

// ErrAccessSize is returned for transfers that are not made of 32-bit words.
var ErrAccessSize = errors.New("clint: access must be 32-bit words")

// Interrupts is the interrupt input of the hart the CLINT drives.
type Interrupts interface {
	SetInterrupt(mask uint64)
	ClearInterrupt(mask uint64)
}

// Clock returns the current mtime in ticks.
type Clock func() uint64

// HostClock returns a clock running at RTCFreq from the moment it is created.
func HostClock() Clock {
	start := time.Now()
	return func() uint64 {
		return uint64(time.Since(start).Nanoseconds()) / (uint64(time.Second) / RTCFreq)
	}
}

// CLINT is the timer and software interrupt block.
type CLINT struct {
	riscv.Window
	hart  Interrupts
	clock Clock

	mtimecmp uint64
	msip     uint32
	// fired records that MTIP was raised for the current mtimecmp.
	fired bool
}

// New creates a CLINT at base. A nil clock uses HostClock.
func New(base uint64, hart Interrupts, clock Clock) *CLINT {
	if clock == nil {
		clock = HostClock()
	}
	return &CLINT{
		Window:   riscv.Window{Label: "clint", Base: base, Length: Size},
		hart:     hart,
		clock:    clock,
		mtimecmp: ^uint64(0),
	}
}

func (c *CLINT) Init() error    { return nil }
func (c *CLINT) Release() error { return nil }

// Time returns mtime.
func (c *CLINT) Time() uint64 { return c.clock() }

// Mtimecmp returns the current compare value.
func (c *CLINT) Mtimecmp() uint64 { return c.mtimecmp }

func (c *CLINT) Read(off uint64, dst []byte) (int, error) {
	if len(dst) == 0 || len(dst)%4 != 0 {
		return 0, fmt.Errorf("%w: read of %d bytes at %#x", ErrAccessSize, len(dst), off)
	}
	for i := 0; i < len(dst); i += 4 {
		binary.LittleEndian.PutUint32(dst[i:], c.readReg(off+uint64(i)))
	}
	return len(dst), nil
}

func (c *CLINT) Write(off uint64, src []byte) (int, error) {
	if len(src) == 0 || len(src)%4 != 0 {
		return 0, fmt.Errorf("%w: write of %d bytes at %#x", ErrAccessSize, len(src), off)
	}
	for i := 0; i < len(src); i += 4 {
		c.writeReg(off+uint64(i), binary.LittleEndian.Uint32(src[i:]))
	}
	return len(src), nil
}

func (c *CLINT) readReg(off uint64) uint32 {
	switch off {
	case regMSIP:
		return c.msip
	case regMtimecmp:
		return uint32(c.mtimecmp)
	case regMtimecmpH:
		return uint32(c.mtimecmp >> 32)
	case regMtime:
		return uint32(c.clock())
	case regMtimeH:
		return uint32(c.clock() >> 32)
	default:
		return 0
	}
}

func (c *CLINT) writeReg(off uint64, v uint32) {
	switch off {
	case regMSIP:
		c.msip = v & 1
		if c.msip != 0 {
			c.hart.SetInterrupt(riscv.MipMSIP)
		} else {
			c.hart.ClearInterrupt(riscv.MipMSIP)
		}
	case regMtimecmp:
		c.mtimecmp = c.mtimecmp&^0xffff_ffff | uint64(v)
		c.rearm()
	case regMtimecmpH:
		c.mtimecmp = c.mtimecmp&0xffff_ffff | uint64(v)<<32
		c.rearm()
	}
}

func (c *CLINT) rearm() {
	c.fired = false
	c.hart.ClearInterrupt(riscv.MipMTIP)
}

// Tick raises MTIP once mtime reaches mtimecmp. It reports whether the
// timer is pending.
func (c *CLINT) Tick() bool {
	if c.fired {
		return true
	}
	if c.clock() >= c.mtimecmp {
		c.fired = true
		c.hart.SetInterrupt(riscv.MipMTIP)
	}
	return c.fired
}

// SleepBudget returns how long the host may sleep before the timer fires,
// capped at limit. It raises MTIP itself when the deadline has passed.
func (c *CLINT) SleepBudget(limit time.Duration) time.Duration {
	if c.Tick() {
		return 0
	}
	ticks := c.mtimecmp - c.clock()
	if ticks/RTCFreq >= uint64(limit/time.Second)+1 {
		return limit
	}
	d := time.Duration(ticks) * (time.Second / RTCFreq)
	if d > limit {
		return limit
	}
	return d
}

var _ riscv.Region = (*CLINT)(nil)
