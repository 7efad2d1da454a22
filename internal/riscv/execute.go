package riscv

// execute runs one 32-bit instruction. ilen is the length of the encoding
// it came from, used for link addresses.
func (c *CPU) execute(insn uint32, ilen uint64) StepOutcome {
	switch opcode(insn) {
	case OpLui:
		c.WriteReg(rd(insn), uint64(immU(insn)))
		return next()
	case OpAuipc:
		c.WriteReg(rd(insn), c.PC+uint64(immU(insn)))
		return next()
	case OpJal:
		return c.execJal(insn, ilen)
	case OpJalr:
		return c.execJalr(insn, ilen)
	case OpBranch:
		return c.execBranch(insn)
	case OpLoad:
		return c.execLoad(insn)
	case OpStore:
		return c.execStore(insn)
	case OpOpImm:
		return c.execOpImm(insn)
	case OpOpImm32:
		return c.execOpImm32(insn)
	case OpOp:
		return c.execOp(insn)
	case OpOp32:
		return c.execOp32(insn)
	case OpMiscMem:
		return c.execMiscMem(insn)
	case OpSystem:
		return c.execSystem(insn, ilen)
	case OpAMO:
		return c.execAMO(insn)
	case OpLoadFP:
		return c.execLoadFP(insn)
	case OpStoreFP:
		return c.execStoreFP(insn)
	case OpOpFP:
		return c.execOpFP(insn)
	case OpMadd, OpMsub, OpNmsub, OpNmadd:
		return c.execFMA(insn)
	default:
		return illegal(insn)
	}
}

// jump validates a control transfer target. Without C, targets must be
// word aligned.
func (c *CPU) jump(target uint64) StepOutcome {
	target = c.addr(target)
	if !c.has(MisaC) && target&3 != 0 {
		return trapWith(CauseInsnAddrMisaligned, target)
	}
	return jumpTo(target)
}

func (c *CPU) execJal(insn uint32, ilen uint64) StepOutcome {
	out := c.jump(c.PC + uint64(immJ(insn)))
	if out.Kind == Jump {
		c.WriteReg(rd(insn), c.PC+ilen)
	}
	return out
}

func (c *CPU) execJalr(insn uint32, ilen uint64) StepOutcome {
	if funct3(insn) != 0 {
		return illegal(insn)
	}
	out := c.jump((c.ReadReg(rs1(insn)) + uint64(immI(insn))) &^ 1)
	if out.Kind == Jump {
		c.WriteReg(rd(insn), c.PC+ilen)
	}
	return out
}

// execBranch evaluates beq/bne/blt/bge/bltu/bgeu. Odd funct3 values invert
// the comparison of their even partner.
func (c *CPU) execBranch(insn uint32) StepOutcome {
	a, b := c.ReadReg(rs1(insn)), c.ReadReg(rs2(insn))
	f3 := funct3(insn)

	var taken bool
	switch f3 >> 1 {
	case 0:
		taken = a == b
	case 2:
		taken = int64(a) < int64(b)
	case 3:
		taken = a < b
	default:
		return illegal(insn)
	}
	if f3&1 != 0 {
		taken = !taken
	}
	if !taken {
		return next()
	}
	return c.jump(c.PC + uint64(immB(insn)))
}

func (c *CPU) execLoad(insn uint32) StepOutcome {
	addr := c.addr(c.ReadReg(rs1(insn)) + uint64(immI(insn)))

	var size int
	signed := true
	switch funct3(insn) {
	case 0b000: // LB
		size = 1
	case 0b001: // LH
		size = 2
	case 0b010: // LW
		size = 4
	case 0b011: // LD
		if c.XLEN < 64 {
			return illegal(insn)
		}
		size = 8
	case 0b100: // LBU
		size, signed = 1, false
	case 0b101: // LHU
		size, signed = 2, false
	case 0b110: // LWU
		if c.XLEN < 64 {
			return illegal(insn)
		}
		size, signed = 4, false
	default:
		return illegal(insn)
	}

	v, err := c.load(addr, size)
	if err != nil {
		return trapFrom(err)
	}
	if signed && size < 8 {
		v = uint64(signExtend(v, size*8))
	}
	c.WriteReg(rd(insn), v)
	return next()
}

func (c *CPU) execStore(insn uint32) StepOutcome {
	addr := c.addr(c.ReadReg(rs1(insn)) + uint64(immS(insn)))
	f3 := funct3(insn)
	if f3 > 3 || (f3 == 3 && c.XLEN < 64) {
		return illegal(insn)
	}
	if err := c.store(addr, 1<<f3, c.ReadReg(rs2(insn))); err != nil {
		return trapFrom(err)
	}
	return next()
}

// shiftImm validates a shift-immediate encoding and returns its amount.
// Bits above the shift amount must be zero apart from the arithmetic flag.
func (c *CPU) shiftImm(insn uint32) (uint32, bool) {
	imm := insn >> 20
	width := uint32(c.XLEN)
	shamt := imm & (width - 1)
	rest := imm &^ (width - 1)
	if funct3(insn) == 0b101 {
		rest &^= 0x400
	}
	return shamt, rest == 0
}

func (c *CPU) execOpImm(insn uint32) StepOutcome {
	a := c.ReadReg(rs1(insn))
	imm := immI(insn)

	var v uint64
	switch funct3(insn) {
	case 0b000: // ADDI
		v = a + uint64(imm)
	case 0b010: // SLTI
		v = boolToU64(int64(a) < imm)
	case 0b011: // SLTIU
		v = boolToU64(a < uint64(imm))
	case 0b100: // XORI
		v = a ^ uint64(imm)
	case 0b110: // ORI
		v = a | uint64(imm)
	case 0b111: // ANDI
		v = a & uint64(imm)
	case 0b001: // SLLI
		sh, ok := c.shiftImm(insn)
		if !ok {
			return illegal(insn)
		}
		v = a << sh
	case 0b101: // SRLI/SRAI
		sh, ok := c.shiftImm(insn)
		if !ok {
			return illegal(insn)
		}
		v = c.shiftRight(a, sh, insn&(1<<30) != 0)
	}
	c.WriteReg(rd(insn), v)
	return next()
}

// shiftRight shifts an XLEN-wide value held sign-extended.
func (c *CPU) shiftRight(a uint64, sh uint32, arith bool) uint64 {
	if arith {
		return uint64(int64(a) >> sh)
	}
	if c.XLEN == 32 {
		return uint64(uint32(a) >> sh)
	}
	return a >> sh
}

func (c *CPU) execOpImm32(insn uint32) StepOutcome {
	if c.XLEN < 64 {
		return illegal(insn)
	}
	a := uint32(c.ReadReg(rs1(insn)))
	sh := (insn >> 20) & 0x1f

	var v int32
	switch funct3(insn) {
	case 0b000: // ADDIW
		v = int32(a) + int32(immI(insn))
	case 0b001: // SLLIW
		if funct7(insn) != 0 {
			return illegal(insn)
		}
		v = int32(a << sh)
	case 0b101:
		switch funct7(insn) {
		case 0b0000000: // SRLIW
			v = int32(a >> sh)
		case 0b0100000: // SRAIW
			v = int32(a) >> sh
		default:
			return illegal(insn)
		}
	default:
		return illegal(insn)
	}
	c.WriteReg(rd(insn), uint64(int64(v)))
	return next()
}

func (c *CPU) execOp(insn uint32) StepOutcome {
	a, b := c.ReadReg(rs1(insn)), c.ReadReg(rs2(insn))
	f3 := funct3(insn)

	var v uint64
	switch funct7(insn) {
	case 0b0000000:
		sh := uint32(b) & uint32(c.XLEN-1)
		switch f3 {
		case 0b000: // ADD
			v = a + b
		case 0b001: // SLL
			v = a << sh
		case 0b010: // SLT
			v = boolToU64(int64(a) < int64(b))
		case 0b011: // SLTU
			v = boolToU64(a < b)
		case 0b100: // XOR
			v = a ^ b
		case 0b101: // SRL
			v = c.shiftRight(a, sh, false)
		case 0b110: // OR
			v = a | b
		case 0b111: // AND
			v = a & b
		}
	case 0b0100000:
		switch f3 {
		case 0b000: // SUB
			v = a - b
		case 0b101: // SRA
			v = c.shiftRight(a, uint32(b)&uint32(c.XLEN-1), true)
		default:
			return illegal(insn)
		}
	case 0b0000001:
		if !c.has(MisaM) {
			return illegal(insn)
		}
		v = c.mulDiv(f3, a, b)
	default:
		return illegal(insn)
	}
	c.WriteReg(rd(insn), v)
	return next()
}

func (c *CPU) execOp32(insn uint32) StepOutcome {
	if c.XLEN < 64 {
		return illegal(insn)
	}
	a, b := uint32(c.ReadReg(rs1(insn))), uint32(c.ReadReg(rs2(insn)))
	f3 := funct3(insn)
	sh := b & 0x1f

	var v int32
	switch funct7(insn) {
	case 0b0000000:
		switch f3 {
		case 0b000: // ADDW
			v = int32(a + b)
		case 0b001: // SLLW
			v = int32(a << sh)
		case 0b101: // SRLW
			v = int32(a >> sh)
		default:
			return illegal(insn)
		}
	case 0b0100000:
		switch f3 {
		case 0b000: // SUBW
			v = int32(a - b)
		case 0b101: // SRAW
			v = int32(a) >> sh
		default:
			return illegal(insn)
		}
	case 0b0000001:
		if !c.has(MisaM) {
			return illegal(insn)
		}
		r, ok := mulDiv32(f3, a, b)
		if !ok {
			return illegal(insn)
		}
		v = r
	default:
		return illegal(insn)
	}
	c.WriteReg(rd(insn), uint64(int64(v)))
	return next()
}

// execMiscMem validates fence encodings. Memory is sequentially consistent
// for a single hart, so they have no further effect.
func (c *CPU) execMiscMem(insn uint32) StepOutcome {
	switch funct3(insn) {
	case 0b000: // FENCE
		if insn&0xF00FFF80 != 0 {
			return illegal(insn)
		}
	case 0b001: // FENCE.I
		if insn != 0x0000100F {
			return illegal(insn)
		}
	default:
		return illegal(insn)
	}
	return next()
}

func (c *CPU) execSystem(insn uint32, ilen uint64) StepOutcome {
	f3 := funct3(insn)
	if f3 != 0 {
		return c.execCSR(insn, ilen)
	}

	if funct7(insn) == 0b0001001 { // SFENCE.VMA
		if insn&0x00007F80 != 0 || c.Priv == PrivUser {
			return illegal(insn)
		}
		return next()
	}

	switch insn >> 20 {
	case 0x000: // ECALL
		if insn&0x000FFF80 != 0 {
			return illegal(insn)
		}
		return trapWith(CauseEcallFromU+uint64(c.Priv), 0)
	case 0x001: // EBREAK
		if insn&0x000FFF80 != 0 {
			return illegal(insn)
		}
		return trapWith(CauseBreakpoint, c.PC)
	case 0x102: // SRET
		if insn&0x000FFF80 != 0 || c.Priv < PrivSupervisor {
			return illegal(insn)
		}
		c.handleSret()
		return jumpTo(c.PC)
	case 0x302: // MRET
		if insn&0x000FFF80 != 0 || c.Priv < PrivMachine {
			return illegal(insn)
		}
		c.handleMret()
		return jumpTo(c.PC)
	case 0x105: // WFI
		if insn&0x00007F80 != 0 || c.Priv == PrivUser {
			return illegal(insn)
		}
		if c.Mip&c.Mie == 0 {
			c.PowerDown = true
			return StepOutcome{Kind: Parked}
		}
		return next()
	}
	return illegal(insn)
}

// execCSR implements csrrw, csrrs, csrrc and their immediate forms. The
// set and clear variants skip the write when the source field is zero.
func (c *CPU) execCSR(insn uint32, ilen uint64) StepOutcome {
	f3 := funct3(insn)
	if f3 == 0b100 {
		return illegal(insn)
	}
	csr := uint16(insn >> 20)
	field := rs1(insn)

	src := uint64(field) // immediate forms
	if f3&0b100 == 0 {
		src = c.ReadReg(field)
	}

	var (
		old    uint64
		status CSRStatus
	)
	switch f3 & 0b011 {
	case 0b01: // CSRRW, CSRRWI
		var rs CSRStatus
		old, rs = c.ReadCSR(csr, true)
		if rs == CSRIllegal {
			return illegal(insn)
		}
		status = c.WriteCSR(csr, src)
	case 0b10, 0b11: // CSRRS(I), CSRRC(I)
		write := field != 0
		var rs CSRStatus
		old, rs = c.ReadCSR(csr, write)
		if rs == CSRIllegal {
			return illegal(insn)
		}
		status = CSROK
		if write {
			v := old | src
			if f3&0b011 == 0b11 {
				v = old &^ src
			}
			status = c.WriteCSR(csr, v)
		}
	}
	if status == CSRIllegal {
		return illegal(insn)
	}
	c.WriteReg(rd(insn), old)

	switch status {
	case CSRTranslationChanged, CSRWidthChanged:
		return jumpTo(c.PC + ilen)
	}
	return next()
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
