package riscv

// AMO function codes (funct7[6:2])
const (
	amoLR   = 0b00010
	amoSC   = 0b00011
	amoSwap = 0b00001
	amoAdd  = 0b00000
	amoXor  = 0b00100
	amoAnd  = 0b01100
	amoOr   = 0b01000
	amoMin  = 0b10000
	amoMax  = 0b10100
	amoMinU = 0b11000
	amoMaxU = 0b11100
)

// execAMO executes LR, SC and the read-modify-write AMOs for W and D widths.
// Values are handled sign-extended so one ALU serves both widths.
func (c *CPU) execAMO(insn uint32) StepOutcome {
	if !c.has(MisaA) {
		return illegal(insn)
	}

	var size int
	switch funct3(insn) {
	case 0b010:
		size = 4
	case 0b011:
		if c.XLEN < 64 {
			return illegal(insn)
		}
		size = 8
	default:
		return illegal(insn)
	}

	f5 := funct7(insn) >> 2
	addr := c.addr(c.ReadReg(rs1(insn)))
	if addr&uint64(size-1) != 0 {
		if f5 == amoLR {
			return trapWith(CauseLoadAddrMisaligned, addr)
		}
		return trapWith(CauseStoreAddrMisaligned, addr)
	}

	switch f5 {
	case amoLR:
		if rs2(insn) != 0 {
			return illegal(insn)
		}
		v, err := c.load(addr, size)
		if err != nil {
			return trapFrom(err)
		}
		c.WriteReg(rd(insn), widen(v, size))
		c.Reservation = addr
		c.ReservationValid = true
		return next()

	case amoSC:
		ok := c.ReservationValid && c.Reservation == addr
		c.ReservationValid = false
		if !ok {
			c.WriteReg(rd(insn), 1)
			return next()
		}
		if err := c.store(addr, size, c.ReadReg(rs2(insn))); err != nil {
			return trapFrom(err)
		}
		c.WriteReg(rd(insn), 0)
		return next()
	}

	// Check the store side first so a read-only page faults as a store.
	if _, err := c.Translate(addr, AccessWrite); err != nil {
		return trapWith(CauseStorePageFault, addr)
	}
	raw, err := c.load(addr, size)
	if err != nil {
		return trapFrom(err)
	}
	old := widen(raw, size)
	src := widen(c.ReadReg(rs2(insn)), size)

	var v uint64
	switch f5 {
	case amoSwap:
		v = src
	case amoAdd:
		v = old + src
	case amoXor:
		v = old ^ src
	case amoAnd:
		v = old & src
	case amoOr:
		v = old | src
	case amoMin:
		v = pick(int64(old) < int64(src), old, src)
	case amoMax:
		v = pick(int64(old) > int64(src), old, src)
	case amoMinU:
		v = pick(old < src, old, src)
	case amoMaxU:
		v = pick(old > src, old, src)
	default:
		return illegal(insn)
	}

	if err := c.store(addr, size, v); err != nil {
		return trapFrom(err)
	}
	c.WriteReg(rd(insn), old)
	return next()
}

// widen sign-extends a size-byte memory value.
func widen(v uint64, size int) uint64 {
	if size == 4 {
		return uint64(int64(int32(v)))
	}
	return v
}

func pick(cond bool, a, b uint64) uint64 {
	if cond {
		return a
	}
	return b
}
