package riscv

import (
	"encoding/binary"
	"errors"
)

// OutcomeKind classifies the result of one Step.
type OutcomeKind uint8

const (
	// Continue means the instruction retired and pc advanced past it.
	Continue OutcomeKind = iota
	// Jump means the instruction redirected control flow to PC.
	Jump
	// Trap means a synchronous exception was raised.
	Trap
	// Parked means the hart is waiting for an interrupt.
	Parked
)

func (k OutcomeKind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Jump:
		return "jump"
	case Trap:
		return "trap"
	default:
		return "parked"
	}
}

// StepOutcome reports what one Step did. PC is the jump target for Jump and
// the handler address for Trap.
type StepOutcome struct {
	Kind  OutcomeKind
	PC    uint64
	Cause uint64
	Tval  uint64
}

func next() StepOutcome { return StepOutcome{Kind: Continue} }

func jumpTo(pc uint64) StepOutcome { return StepOutcome{Kind: Jump, PC: pc} }

func trapWith(cause, tval uint64) StepOutcome {
	return StepOutcome{Kind: Trap, Cause: cause, Tval: tval}
}

func illegal(insn uint32) StepOutcome {
	return trapWith(CauseIllegalInsn, uint64(insn))
}

// trapFrom converts an access error into a trap outcome.
func trapFrom(err error) StepOutcome {
	var exc *Exception
	if errors.As(err, &exc) {
		return trapWith(exc.Cause, exc.Tval)
	}
	return trapWith(CauseLoadAccessFault, 0)
}

// Step executes exactly one instruction, or nothing while parked. Any trap
// is delivered through RaiseTrap before Step returns.
func (c *CPU) Step() StepOutcome {
	if c.PowerDown {
		return StepOutcome{Kind: Parked, PC: c.PC}
	}

	insn, ilen, err := c.fetch()
	if err != nil {
		out := trapFrom(err)
		c.RaiseTrap(out.Cause, out.Tval)
		out.PC = c.PC
		return out
	}
	c.Cycle++

	var out StepOutcome
	if ilen == 2 {
		expanded, ok := c.expandCompressed(uint16(insn))
		if ok {
			out = c.execute(expanded, 2)
		} else {
			out = illegal(insn)
		}
		if out.Kind == Trap && out.Cause == CauseIllegalInsn {
			out.Tval = uint64(insn & 0xffff)
		}
	} else {
		out = c.execute(insn, 4)
	}

	switch out.Kind {
	case Continue:
		c.PC = c.addr(c.PC + ilen)
	case Jump:
		c.PC = c.addr(out.PC)
	case Trap:
		c.RaiseTrap(out.Cause, out.Tval)
		out.PC = c.PC
	case Parked:
		out.PC = c.PC
	}
	return out
}

// fetch reads the instruction at pc. The upper parcel is only read for
// 32-bit encodings so a compressed instruction at the end of a mapped page
// does not fault on the next one.
func (c *CPU) fetch() (uint32, uint64, error) {
	pc := c.PC
	if pc&1 != 0 || (!c.has(MisaC) && pc&3 != 0) {
		return 0, 0, c.fault(CauseInsnAddrMisaligned, pc)
	}
	var buf [4]byte
	if _, err := c.Mem.Fetch(c, pc, buf[:2]); err != nil {
		return 0, 0, err
	}
	lo := binary.LittleEndian.Uint16(buf[:2])
	if lo&3 != 3 {
		if !c.has(MisaC) {
			return uint32(lo), 4, nil
		}
		return uint32(lo), 2, nil
	}
	if _, err := c.Mem.Fetch(c, c.addr(pc+2), buf[2:]); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), 4, nil
}

// load reads size bytes at a virtual address, zero-extended.
func (c *CPU) load(addr uint64, size int) (uint64, error) {
	var buf [8]byte
	if _, err := c.Mem.ReadVirt(c, addr, buf[:size]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// store writes the low size bytes of v at a virtual address.
func (c *CPU) store(addr uint64, size int, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := c.Mem.WriteVirt(c, addr, buf[:size])
	return err
}

// LoadVirt reads from guest virtual memory with the hart's current
// translation. It is used by tests and debuggers.
func (c *CPU) LoadVirt(addr uint64, size int) (uint64, error) {
	return c.load(c.addr(addr), size)
}

// StoreVirt writes to guest virtual memory with the hart's current translation.
func (c *CPU) StoreVirt(addr uint64, size int, v uint64) error {
	return c.store(c.addr(addr), size, v)
}
