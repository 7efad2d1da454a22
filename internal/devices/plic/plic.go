// Package plic implements a minimal platform-level interrupt controller:
// up to 31 level-triggered sources routed to one hart context.
package plic

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Blameying/space-emu/internal/riscv"
)

const (
	// Size is the length of the register window.
	Size = 0x40_0000
	// NumSources is the number of interrupt sources, numbered from 1.
	NumSources = 31

	hartBase  = 0x20_0000
	regThresh = hartBase
	regClaim  = hartBase + 4
)

// ErrAccessSize is returned for transfers other than one 32-bit word.
var ErrAccessSize = errors.New("plic: access must be a 32-bit word")

// Interrupts is the external interrupt input of the hart.
type Interrupts interface {
	SetInterrupt(mask uint64)
	ClearInterrupt(mask uint64)
}

// PLIC tracks pending and in-service sources as bitmaps. Bit n-1 is source n.
type PLIC struct {
	riscv.Window
	hart    Interrupts
	pending uint32
	served  uint32
}

// New creates a PLIC at base.
func New(base uint64, hart Interrupts) *PLIC {
	return &PLIC{
		Window: riscv.Window{Label: "plic", Base: base, Length: Size},
		hart:   hart,
	}
}

func (p *PLIC) Init() error    { return nil }
func (p *PLIC) Release() error { return nil }

// SetIRQ drives source n (1..NumSources) to level.
func (p *PLIC) SetIRQ(n int, level bool) {
	if n < 1 || n > NumSources {
		return
	}
	mask := uint32(1) << (n - 1)
	if level {
		p.pending |= mask
	} else {
		p.pending &^= mask
	}
	p.update()
}

// Line returns the interrupt line for source n.
func (p *PLIC) Line(n int) Line {
	return Line{plic: p, n: n}
}

// Pending reports the pending bitmap.
func (p *PLIC) Pending() uint32 { return p.pending }

func (p *PLIC) update() {
	if p.pending&^p.served != 0 {
		p.hart.SetInterrupt(riscv.MipMEIP | riscv.MipSEIP)
	} else {
		p.hart.ClearInterrupt(riscv.MipMEIP | riscv.MipSEIP)
	}
}

// claim returns the lowest pending, unserved source and marks it served.
func (p *PLIC) claim() uint32 {
	mask := p.pending &^ p.served
	if mask == 0 {
		return 0
	}
	var i uint32
	for mask&1 == 0 {
		mask >>= 1
		i++
	}
	p.served |= 1 << i
	p.update()
	return i + 1
}

func (p *PLIC) complete(id uint32) {
	if id == 0 || id > NumSources {
		return
	}
	p.served &^= 1 << (id - 1)
	p.update()
}

func (p *PLIC) Read(off uint64, dst []byte) (int, error) {
	if len(dst) != 4 {
		return 0, fmt.Errorf("%w: read of %d bytes at %#x", ErrAccessSize, len(dst), off)
	}
	var v uint32
	if off == regClaim {
		v = p.claim()
	}
	binary.LittleEndian.PutUint32(dst, v)
	return 4, nil
}

func (p *PLIC) Write(off uint64, src []byte) (int, error) {
	if len(src) != 4 {
		return 0, fmt.Errorf("%w: write of %d bytes at %#x", ErrAccessSize, len(src), off)
	}
	if off == regClaim {
		p.complete(binary.LittleEndian.Uint32(src))
	}
	return 4, nil
}

// Line is one PLIC input, handed to a device.
type Line struct {
	plic *PLIC
	n    int
}

// Set drives the line.
func (l Line) Set(level bool) { l.plic.SetIRQ(l.n, level) }

// Number returns the source number.
func (l Line) Number() int { return l.n }

var _ riscv.Region = (*PLIC)(nil)
