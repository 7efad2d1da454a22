package riscv

// Compressed register fields. The primed forms name x8-x15.
func cRdP(insn uint32) uint32  { return (insn>>2)&0x7 + 8 }
func cRs1P(insn uint32) uint32 { return (insn>>7)&0x7 + 8 }
func cRd(insn uint32) uint32   { return (insn >> 7) & 0x1f }
func cRs2(insn uint32) uint32  { return (insn >> 2) & 0x1f }

func bit(insn uint32, pos uint) uint32 { return (insn >> pos) & 1 }

func bitsAt(insn uint32, hi, lo uint) uint32 {
	return (insn >> lo) & (1<<(hi-lo+1) - 1)
}

func encR(op, f7, rs2, rs1, f3, rd uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encI(op, rd, f3, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encS(op, f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7f)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (u&0x1f)<<7 | op
}

func encB(f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | rs2<<20 | rs1<<15 | f3<<12 |
		(u>>1&0xf)<<8 | (u>>11&1)<<7 | OpBranch
}

func encJ(rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12 | rd<<7 | OpJal
}

func sext32(v uint32, bits uint) int32 {
	return int32(v<<(32-bits)) >> (32 - bits)
}

// Scaled load/store offsets
func offW(insn uint32) int32 { // c.lw, c.sw, c.flw, c.fsw
	return int32(bitsAt(insn, 12, 10)<<3 | bit(insn, 6)<<2 | bit(insn, 5)<<6)
}

func offD(insn uint32) int32 { // c.ld, c.sd, c.fld, c.fsd
	return int32(bitsAt(insn, 12, 10)<<3 | bitsAt(insn, 6, 5)<<6)
}

func offLWSP(insn uint32) int32 {
	return int32(bit(insn, 12)<<5 | bitsAt(insn, 6, 4)<<2 | bitsAt(insn, 3, 2)<<6)
}

func offLDSP(insn uint32) int32 {
	return int32(bit(insn, 12)<<5 | bitsAt(insn, 6, 5)<<3 | bitsAt(insn, 4, 2)<<6)
}

func offSWSP(insn uint32) int32 {
	return int32(bitsAt(insn, 12, 9)<<2 | bitsAt(insn, 8, 7)<<6)
}

func offSDSP(insn uint32) int32 {
	return int32(bitsAt(insn, 12, 10)<<3 | bitsAt(insn, 9, 7)<<6)
}

// imm6 is the sign-extended 6-bit immediate of c.addi, c.li and friends.
func imm6(insn uint32) int32 {
	return sext32(bit(insn, 12)<<5|bitsAt(insn, 6, 2), 6)
}

func shamt6(insn uint32) uint32 {
	return bit(insn, 12)<<5 | bitsAt(insn, 6, 2)
}

// expandCompressed rewrites a 16-bit instruction as its 32-bit equivalent
// at the current XLEN. ok is false for reserved and illegal encodings.
func (c *CPU) expandCompressed(half uint16) (uint32, bool) {
	insn := uint32(half)
	rv64 := c.XLEN == 64
	f3 := bitsAt(insn, 15, 13)

	switch insn & 3 {
	case 0b00:
		return c.expandQ0(insn, f3, rv64)
	case 0b01:
		return c.expandQ1(insn, f3, rv64)
	case 0b10:
		return c.expandQ2(insn, f3, rv64)
	}
	return 0, false
}

func (c *CPU) expandQ0(insn, f3 uint32, rv64 bool) (uint32, bool) {
	rd, rs1 := cRdP(insn), cRs1P(insn)
	switch f3 {
	case 0b000: // C.ADDI4SPN
		imm := bitsAt(insn, 12, 11)<<4 | bitsAt(insn, 10, 7)<<6 | bit(insn, 6)<<2 | bit(insn, 5)<<3
		if imm == 0 {
			return 0, false
		}
		return encI(OpOpImm, rd, 0b000, 2, int32(imm)), true
	case 0b001: // C.FLD
		return encI(OpLoadFP, rd, 0b011, rs1, offD(insn)), true
	case 0b010: // C.LW
		return encI(OpLoad, rd, 0b010, rs1, offW(insn)), true
	case 0b011:
		if rv64 { // C.LD
			return encI(OpLoad, rd, 0b011, rs1, offD(insn)), true
		}
		return encI(OpLoadFP, rd, 0b010, rs1, offW(insn)), true // C.FLW
	case 0b101: // C.FSD
		return encS(OpStoreFP, 0b011, rs1, rd, offD(insn)), true
	case 0b110: // C.SW
		return encS(OpStore, 0b010, rs1, rd, offW(insn)), true
	case 0b111:
		if rv64 { // C.SD
			return encS(OpStore, 0b011, rs1, rd, offD(insn)), true
		}
		return encS(OpStoreFP, 0b010, rs1, rd, offW(insn)), true // C.FSW
	}
	return 0, false
}

func (c *CPU) expandQ1(insn, f3 uint32, rv64 bool) (uint32, bool) {
	rd := cRd(insn)
	switch f3 {
	case 0b000: // C.ADDI, C.NOP
		return encI(OpOpImm, rd, 0b000, rd, imm6(insn)), true

	case 0b001:
		if rv64 { // C.ADDIW
			if rd == 0 {
				return 0, false
			}
			return encI(OpOpImm32, rd, 0b000, rd, imm6(insn)), true
		}
		return encJ(1, cjOffset(insn)), true // C.JAL

	case 0b010: // C.LI
		return encI(OpOpImm, rd, 0b000, 0, imm6(insn)), true

	case 0b011:
		if rd == 2 { // C.ADDI16SP
			v := bit(insn, 12)<<9 | bit(insn, 6)<<4 | bit(insn, 5)<<6 | bitsAt(insn, 4, 3)<<7 | bit(insn, 2)<<5
			if v == 0 {
				return 0, false
			}
			return encI(OpOpImm, 2, 0b000, 2, sext32(v, 10)), true
		}
		// C.LUI
		v := bit(insn, 12)<<17 | bitsAt(insn, 6, 2)<<12
		if v == 0 {
			return 0, false
		}
		return uint32(sext32(v, 18))&0xfffff000 | rd<<7 | OpLui, true

	case 0b100:
		return c.expandALU(insn, rv64)

	case 0b101: // C.J
		return encJ(0, cjOffset(insn)), true

	case 0b110, 0b111: // C.BEQZ, C.BNEZ
		v := bit(insn, 12)<<8 | bitsAt(insn, 11, 10)<<3 | bitsAt(insn, 6, 5)<<6 | bitsAt(insn, 4, 3)<<1 | bit(insn, 2)<<5
		return encB(f3&1, cRs1P(insn), 0, sext32(v, 9)), true
	}
	return 0, false
}

// cjOffset decodes the jump target of c.j and c.jal.
func cjOffset(insn uint32) int32 {
	v := bit(insn, 12)<<11 | bit(insn, 11)<<4 | bitsAt(insn, 10, 9)<<8 | bit(insn, 8)<<10 |
		bit(insn, 7)<<6 | bit(insn, 6)<<7 | bitsAt(insn, 5, 3)<<1 | bit(insn, 2)<<5
	return sext32(v, 12)
}

// expandALU handles the quadrant 1 arithmetic group on x8-x15.
func (c *CPU) expandALU(insn uint32, rv64 bool) (uint32, bool) {
	rd := cRs1P(insn)
	switch bitsAt(insn, 11, 10) {
	case 0b00, 0b01: // C.SRLI, C.SRAI
		sh := shamt6(insn)
		if !rv64 && sh >= 32 {
			return 0, false
		}
		if bitsAt(insn, 11, 10) == 0b01 {
			sh |= 0x400
		}
		return encI(OpOpImm, rd, 0b101, rd, int32(sh)), true
	case 0b10: // C.ANDI
		return encI(OpOpImm, rd, 0b111, rd, imm6(insn)), true
	}

	rs2 := cRdP(insn)
	sel := bitsAt(insn, 6, 5)
	if bit(insn, 12) == 0 {
		switch sel {
		case 0b00: // C.SUB
			return encR(OpOp, 0b0100000, rs2, rd, 0b000, rd), true
		case 0b01: // C.XOR
			return encR(OpOp, 0, rs2, rd, 0b100, rd), true
		case 0b10: // C.OR
			return encR(OpOp, 0, rs2, rd, 0b110, rd), true
		default: // C.AND
			return encR(OpOp, 0, rs2, rd, 0b111, rd), true
		}
	}
	if !rv64 {
		return 0, false
	}
	switch sel {
	case 0b00: // C.SUBW
		return encR(OpOp32, 0b0100000, rs2, rd, 0b000, rd), true
	case 0b01: // C.ADDW
		return encR(OpOp32, 0, rs2, rd, 0b000, rd), true
	}
	return 0, false
}

func (c *CPU) expandQ2(insn, f3 uint32, rv64 bool) (uint32, bool) {
	rd, rs2 := cRd(insn), cRs2(insn)
	switch f3 {
	case 0b000: // C.SLLI
		sh := shamt6(insn)
		if !rv64 && sh >= 32 {
			return 0, false
		}
		return encI(OpOpImm, rd, 0b001, rd, int32(sh)), true

	case 0b001: // C.FLDSP
		return encI(OpLoadFP, rd, 0b011, 2, offLDSP(insn)), true

	case 0b010: // C.LWSP
		if rd == 0 {
			return 0, false
		}
		return encI(OpLoad, rd, 0b010, 2, offLWSP(insn)), true

	case 0b011:
		if rv64 { // C.LDSP
			if rd == 0 {
				return 0, false
			}
			return encI(OpLoad, rd, 0b011, 2, offLDSP(insn)), true
		}
		return encI(OpLoadFP, rd, 0b010, 2, offLWSP(insn)), true // C.FLWSP

	case 0b100:
		if bit(insn, 12) == 0 {
			if rs2 == 0 { // C.JR
				if rd == 0 {
					return 0, false
				}
				return encI(OpJalr, 0, 0b000, rd, 0), true
			}
			return encR(OpOp, 0, rs2, 0, 0b000, rd), true // C.MV
		}
		switch {
		case rs2 == 0 && rd == 0: // C.EBREAK
			return 0x00100073, true
		case rs2 == 0: // C.JALR
			return encI(OpJalr, 1, 0b000, rd, 0), true
		}
		return encR(OpOp, 0, rs2, rd, 0b000, rd), true // C.ADD

	case 0b101: // C.FSDSP
		return encS(OpStoreFP, 0b011, 2, rs2, offSDSP(insn)), true

	case 0b110: // C.SWSP
		return encS(OpStore, 0b010, 2, rs2, offSWSP(insn)), true

	case 0b111:
		if rv64 { // C.SDSP
			return encS(OpStore, 0b011, 2, rs2, offSDSP(insn)), true
		}
		return encS(OpStoreFP, 0b010, 2, rs2, offSWSP(insn)), true // C.FSWSP
	}
	return 0, false
}
