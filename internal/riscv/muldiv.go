package riscv

import (
	"math"
	"math/bits"
)

// mulDiv executes the M extension ops of the OP major opcode at the
// current XLEN. Operands are held sign-extended.
func (c *CPU) mulDiv(f3 uint32, a, b uint64) uint64 {
	if c.XLEN == 32 {
		r, _ := mulDiv32(f3, uint32(a), uint32(b))
		switch f3 {
		case 0b001: // MULH
			return uint64(int64(int32(a))*int64(int32(b))) >> 32
		case 0b010: // MULHSU
			return uint64(int64(int32(a))*int64(uint32(b))) >> 32
		case 0b011: // MULHU
			return uint64(uint32(a)) * uint64(uint32(b)) >> 32
		}
		return uint64(int64(r))
	}

	switch f3 {
	case 0b000: // MUL
		return a * b
	case 0b001: // MULH
		return mulh64(int64(a), int64(b))
	case 0b010: // MULHSU
		return mulhsu64(int64(a), b)
	case 0b011: // MULHU
		hi, _ := bits.Mul64(a, b)
		return hi
	case 0b100: // DIV
		return uint64(div64(int64(a), int64(b)))
	case 0b101: // DIVU
		if b == 0 {
			return math.MaxUint64
		}
		return a / b
	case 0b110: // REM
		return uint64(rem64(int64(a), int64(b)))
	default: // REMU
		if b == 0 {
			return a
		}
		return a % b
	}
}

// mulDiv32 executes the 32-bit M ops (the W forms on RV64, and the low-half
// ops on RV32). The high-half multiplies have no W form.
func mulDiv32(f3 uint32, a, b uint32) (int32, bool) {
	switch f3 {
	case 0b000: // MULW
		return int32(a * b), true
	case 0b100: // DIVW
		return div32(int32(a), int32(b)), true
	case 0b101: // DIVUW
		if b == 0 {
			return -1, true
		}
		return int32(a / b), true
	case 0b110: // REMW
		return rem32(int32(a), int32(b)), true
	case 0b111: // REMUW
		if b == 0 {
			return int32(a), true
		}
		return int32(a % b), true
	}
	return 0, false
}

// mulh64 returns the high half of the signed 128-bit product.
func mulh64(a, b int64) uint64 {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return hi
}

// mulhsu64 returns the high half of signed a times unsigned b.
func mulhsu64(a int64, b uint64) uint64 {
	hi, _ := bits.Mul64(uint64(a), b)
	if a < 0 {
		hi -= b
	}
	return hi
}

// div64 divides with the RISC-V edge cases: x/0 is -1 and the overflowing
// MinInt64/-1 returns the dividend.
func div64(a, b int64) int64 {
	switch {
	case b == 0:
		return -1
	case a == math.MinInt64 && b == -1:
		return a
	}
	return a / b
}

func rem64(a, b int64) int64 {
	switch {
	case b == 0:
		return a
	case a == math.MinInt64 && b == -1:
		return 0
	}
	return a % b
}

func div32(a, b int32) int32 {
	switch {
	case b == 0:
		return -1
	case a == math.MinInt32 && b == -1:
		return a
	}
	return a / b
}

func rem32(a, b int32) int32 {
	switch {
	case b == 0:
		return a
	case a == math.MinInt32 && b == -1:
		return 0
	}
	return a % b
}
