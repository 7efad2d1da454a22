package riscv

import (
	"github.com/Blameying/space-emu/internal/softfloat"
)

const boxMask uint64 = 0xffff_ffff_0000_0000

// OP-FP funct5 values
const (
	fpAdd    = 0x00
	fpSub    = 0x01
	fpMul    = 0x02
	fpDiv    = 0x03
	fpSgnj   = 0x04
	fpMinMax = 0x05
	fpCvtFF  = 0x08
	fpSqrt   = 0x0b
	fpCmp    = 0x14
	fpCvtToI = 0x18
	fpCvtToF = 0x1a
	fpMvToX  = 0x1c
	fpMvToF  = 0x1e
)

// fpFormat selects the arithmetic format from the fmt field. Only S and D
// are implemented.
func (c *CPU) fpFormat(field uint32) (softfloat.Format, bool) {
	switch field {
	case 0:
		return softfloat.F32, true
	case 1:
		return softfloat.F64, c.has(MisaD)
	}
	return softfloat.Format{}, false
}

// readF returns an operand in the given format. Single precision values
// that are not properly NaN-boxed read as the canonical NaN.
func (c *CPU) readF(f softfloat.Format, reg uint32) uint64 {
	v := c.F[reg]
	if f == softfloat.F64 {
		return v
	}
	if v&boxMask != boxMask {
		return softfloat.F32.CanonicalNaN()
	}
	return v &^ boxMask
}

// writeF stores a result, NaN-boxing single precision values, and marks
// the FP state dirty.
func (c *CPU) writeF(f softfloat.Format, reg uint32, v uint64) {
	if f == softfloat.F32 {
		v = v&0xffff_ffff | boxMask
	}
	c.F[reg] = v
	c.setFS(FSDirty)
}

// roundingMode resolves the rm field, where 7 selects frm.
func (c *CPU) roundingMode(field uint32) (softfloat.RoundingMode, bool) {
	rm := softfloat.RoundingMode(field)
	if field == 7 {
		rm = softfloat.RoundingMode(c.Frm)
	}
	return rm, rm.Valid()
}

func (c *CPU) accrue(fl softfloat.Flags) {
	if fl != 0 {
		c.Fflags |= uint8(fl)
		c.setFS(FSDirty)
	}
}

func (c *CPU) execLoadFP(insn uint32) StepOutcome {
	if !c.fpEnabled() {
		return illegal(insn)
	}
	var f softfloat.Format
	switch funct3(insn) {
	case 0b010: // FLW
		f = softfloat.F32
	case 0b011: // FLD
		if !c.has(MisaD) {
			return illegal(insn)
		}
		f = softfloat.F64
	default:
		return illegal(insn)
	}
	addr := c.addr(c.ReadReg(rs1(insn)) + uint64(immI(insn)))
	v, err := c.load(addr, f.Width()/8)
	if err != nil {
		return trapFrom(err)
	}
	c.writeF(f, rd(insn), v)
	return next()
}

func (c *CPU) execStoreFP(insn uint32) StepOutcome {
	if !c.fpEnabled() {
		return illegal(insn)
	}
	size := 4
	switch funct3(insn) {
	case 0b010: // FSW
	case 0b011: // FSD
		if !c.has(MisaD) {
			return illegal(insn)
		}
		size = 8
	default:
		return illegal(insn)
	}
	addr := c.addr(c.ReadReg(rs1(insn)) + uint64(immS(insn)))
	if err := c.store(addr, size, c.F[rs2(insn)]); err != nil {
		return trapFrom(err)
	}
	return next()
}

// execFMA covers fmadd, fmsub, fnmsub and fnmadd.
func (c *CPU) execFMA(insn uint32) StepOutcome {
	if !c.fpEnabled() {
		return illegal(insn)
	}
	f, ok := c.fpFormat(funct2(insn))
	if !ok {
		return illegal(insn)
	}
	rm, ok := c.roundingMode(funct3(insn))
	if !ok {
		return illegal(insn)
	}

	var negProduct, negAddend bool
	switch opcode(insn) {
	case OpMsub:
		negAddend = true
	case OpNmsub:
		negProduct = true
	case OpNmadd:
		negProduct, negAddend = true, true
	}
	v, fl := softfloat.FMA(f, c.readF(f, rs1(insn)), c.readF(f, rs2(insn)), c.readF(f, rs3(insn)), negProduct, negAddend, rm)
	c.accrue(fl)
	c.writeF(f, rd(insn), v)
	return next()
}

func (c *CPU) execOpFP(insn uint32) StepOutcome {
	if !c.fpEnabled() {
		return illegal(insn)
	}
	f, ok := c.fpFormat(funct2(insn))
	if !ok {
		return illegal(insn)
	}
	f3 := funct3(insn)
	a, b := c.readF(f, rs1(insn)), c.readF(f, rs2(insn))

	switch funct7(insn) >> 2 {
	case fpAdd, fpSub, fpMul, fpDiv:
		rm, ok := c.roundingMode(f3)
		if !ok {
			return illegal(insn)
		}
		op := softfloat.Add
		switch funct7(insn) >> 2 {
		case fpSub:
			op = softfloat.Sub
		case fpMul:
			op = softfloat.Mul
		case fpDiv:
			op = softfloat.Div
		}
		v, fl := op(f, a, b, rm)
		c.accrue(fl)
		c.writeF(f, rd(insn), v)

	case fpSqrt:
		rm, ok := c.roundingMode(f3)
		if !ok || rs2(insn) != 0 {
			return illegal(insn)
		}
		v, fl := softfloat.Sqrt(f, a, rm)
		c.accrue(fl)
		c.writeF(f, rd(insn), v)

	case fpSgnj:
		sign := uint64(1) << (f.Width() - 1)
		var v uint64
		switch f3 {
		case 0: // FSGNJ
			v = a&^sign | b&sign
		case 1: // FSGNJN
			v = a&^sign | ^b&sign
		case 2: // FSGNJX
			v = a ^ b&sign
		default:
			return illegal(insn)
		}
		c.writeF(f, rd(insn), v)

	case fpMinMax:
		var v uint64
		var fl softfloat.Flags
		switch f3 {
		case 0:
			v, fl = softfloat.Min(f, a, b)
		case 1:
			v, fl = softfloat.Max(f, a, b)
		default:
			return illegal(insn)
		}
		c.accrue(fl)
		c.writeF(f, rd(insn), v)

	case fpCvtFF:
		rm, ok := c.roundingMode(f3)
		if !ok || !c.has(MisaD) {
			return illegal(insn)
		}
		var from softfloat.Format
		switch {
		case f == softfloat.F32 && rs2(insn) == 1: // FCVT.S.D
			from = softfloat.F64
		case f == softfloat.F64 && rs2(insn) == 0: // FCVT.D.S
			from = softfloat.F32
		default:
			return illegal(insn)
		}
		v, fl := softfloat.Convert(from, f, c.readF(from, rs1(insn)), rm)
		c.accrue(fl)
		c.writeF(f, rd(insn), v)

	case fpCmp:
		var r bool
		var fl softfloat.Flags
		switch f3 {
		case 0:
			r, fl = softfloat.Le(f, a, b)
		case 1:
			r, fl = softfloat.Lt(f, a, b)
		case 2:
			r, fl = softfloat.Eq(f, a, b)
		default:
			return illegal(insn)
		}
		c.accrue(fl)
		c.WriteReg(rd(insn), boolToU64(r))

	case fpCvtToI:
		rm, ok := c.roundingMode(f3)
		bits, signed, valid := c.intConversion(rs2(insn))
		if !ok || !valid {
			return illegal(insn)
		}
		v, fl := softfloat.ToInt(f, a, bits, signed, rm)
		c.accrue(fl)
		c.WriteReg(rd(insn), v)

	case fpCvtToF:
		rm, ok := c.roundingMode(f3)
		bits, signed, valid := c.intConversion(rs2(insn))
		if !ok || !valid {
			return illegal(insn)
		}
		v, fl := softfloat.FromInt(f, c.ReadReg(rs1(insn)), bits, signed, rm)
		c.accrue(fl)
		c.writeF(f, rd(insn), v)

	case fpMvToX:
		if rs2(insn) != 0 {
			return illegal(insn)
		}
		switch f3 {
		case 0: // FMV.X.W, FMV.X.D
			if f == softfloat.F64 {
				if c.XLEN < 64 {
					return illegal(insn)
				}
				c.WriteReg(rd(insn), c.F[rs1(insn)])
			} else {
				c.WriteReg(rd(insn), uint64(int64(int32(c.F[rs1(insn)]))))
			}
		case 1: // FCLASS
			c.WriteReg(rd(insn), softfloat.Classify(f, a))
		default:
			return illegal(insn)
		}

	case fpMvToF:
		if rs2(insn) != 0 || f3 != 0 {
			return illegal(insn)
		}
		if f == softfloat.F64 && c.XLEN < 64 {
			return illegal(insn)
		}
		c.writeF(f, rd(insn), c.ReadReg(rs1(insn)))

	default:
		return illegal(insn)
	}
	return next()
}

// intConversion decodes the rs2 field of fcvt between float and integer.
func (c *CPU) intConversion(sel uint32) (bits int, signed, ok bool) {
	switch sel {
	case 0:
		return 32, true, true
	case 1:
		return 32, false, true
	case 2:
		return 64, true, c.XLEN == 64
	case 3:
		return 64, false, c.XLEN == 64
	}
	return 0, false, false
}
