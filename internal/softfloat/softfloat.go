// Package softfloat implements IEEE 754 binary32 and binary64 arithmetic in
// software with exact rounding for all five RISC-V rounding modes and
// accrued exception flags. Results never depend on the host FPU.
//
// Operations take and return raw bit patterns. Intermediate values are
// computed exactly with math/big integers and rounded once.
package softfloat

import (
	"math/big"
)

// Format describes a binary interchange format.
type Format struct {
	ExpBits  int
	FracBits int
}

var (
	// F32 is IEEE 754 binary32.
	F32 = Format{ExpBits: 8, FracBits: 23}
	// F64 is IEEE 754 binary64.
	F64 = Format{ExpBits: 11, FracBits: 52}
)

// RoundingMode is a RISC-V rounding mode encoding.
type RoundingMode uint8

const (
	RNE RoundingMode = 0 // round to nearest, ties to even
	RTZ RoundingMode = 1 // round towards zero
	RDN RoundingMode = 2 // round down
	RUP RoundingMode = 3 // round up
	RMM RoundingMode = 4 // round to nearest, ties to max magnitude
)

// Valid reports whether rm names a rounding mode.
func (rm RoundingMode) Valid() bool { return rm <= RMM }

// Flags are the accrued exception bits in fflags order.
type Flags uint8

const (
	Inexact   Flags = 1 << 0
	Underflow Flags = 1 << 1
	Overflow  Flags = 1 << 2
	DivByZero Flags = 1 << 3
	Invalid   Flags = 1 << 4
)

func (f Format) bias() int        { return 1<<(f.ExpBits-1) - 1 }
func (f Format) expMax() uint64   { return 1<<f.ExpBits - 1 }
func (f Format) fracMask() uint64 { return 1<<f.FracBits - 1 }
func (f Format) signBit() uint64  { return 1 << (f.ExpBits + f.FracBits) }
func (f Format) emin() int        { return 1 - f.bias() }

func (f Format) exp(a uint64) uint64 { return (a >> f.FracBits) & f.expMax() }

// Width returns the encoding width in bits.
func (f Format) Width() int { return 1 + f.ExpBits + f.FracBits }

// CanonicalNaN returns the default quiet NaN.
func (f Format) CanonicalNaN() uint64 {
	return f.expMax()<<f.FracBits | 1<<(f.FracBits-1)
}

func (f Format) inf(neg bool) uint64 {
	return f.signed(f.expMax()<<f.FracBits, neg)
}

func (f Format) zero(neg bool) uint64 { return f.signed(0, neg) }

func (f Format) maxFinite(neg bool) uint64 {
	return f.signed((f.expMax()-1)<<f.FracBits|f.fracMask(), neg)
}

func (f Format) signed(v uint64, neg bool) uint64 {
	if neg {
		return v | f.signBit()
	}
	return v
}

// IsNaN reports whether a encodes any NaN.
func (f Format) IsNaN(a uint64) bool {
	return f.exp(a) == f.expMax() && a&f.fracMask() != 0
}

// IsSignalingNaN reports whether a encodes a signaling NaN.
func (f Format) IsSignalingNaN(a uint64) bool {
	return f.IsNaN(a) && a&(1<<(f.FracBits-1)) == 0
}

// Neg flips the sign bit.
func (f Format) Neg(a uint64) uint64 { return a ^ f.signBit() }

type kind uint8

const (
	kZero kind = iota
	kFinite
	kInf
	kNaN
)

// operand is a decoded value worth (-1)^neg * m * 2^e.
type operand struct {
	kind kind
	neg  bool
	snan bool
	m    *big.Int
	e    int
}

func (f Format) unpack(a uint64) operand {
	op := operand{neg: a&f.signBit() != 0}
	exp, frac := f.exp(a), a&f.fracMask()
	switch {
	case exp == f.expMax() && frac != 0:
		op.kind = kNaN
		op.snan = frac&(1<<(f.FracBits-1)) == 0
	case exp == f.expMax():
		op.kind = kInf
	case exp == 0 && frac == 0:
		op.kind = kZero
	case exp == 0:
		op.kind = kFinite
		op.m = new(big.Int).SetUint64(frac)
		op.e = f.emin() - f.FracBits
	default:
		op.kind = kFinite
		op.m = new(big.Int).SetUint64(frac | 1<<f.FracBits)
		op.e = int(exp) - f.bias() - f.FracBits
	}
	return op
}

// nanResult returns the canonical NaN, raising Invalid if any input is a
// signaling NaN.
func (f Format) nanResult(ops ...operand) (uint64, Flags) {
	var fl Flags
	for _, op := range ops {
		if op.snan {
			fl |= Invalid
		}
	}
	return f.CanonicalNaN(), fl
}

// roundShift drops the low shift bits of m and rounds according to rm.
// sticky reports a nonzero tail below m's least significant bit.
func roundShift(m *big.Int, shift int, sticky, neg bool, rm RoundingMode) (*big.Int, bool) {
	var r *big.Int
	var round bool
	if shift <= 0 {
		r = new(big.Int).Lsh(m, uint(-shift))
	} else {
		r = new(big.Int).Rsh(m, uint(shift))
		round = m.Bit(shift-1) == 1
		if m.Sign() != 0 && int(m.TrailingZeroBits()) < shift-1 {
			sticky = true
		}
	}

	var inc bool
	switch rm {
	case RNE:
		inc = round && (sticky || r.Bit(0) == 1)
	case RDN:
		inc = (round || sticky) && neg
	case RUP:
		inc = (round || sticky) && !neg
	case RMM:
		inc = round
	}
	if inc {
		r.Add(r, big.NewInt(1))
	}
	return r, round || sticky
}

// roundPack rounds (-1)^neg * (m + tail) * 2^e to the format, where sticky
// marks a tail strictly between zero and one unit of m. Callers that set
// sticky must supply at least FracBits+3 significant bits.
func (f Format) roundPack(neg bool, m *big.Int, e int, sticky bool, rm RoundingMode) (uint64, Flags) {
	if m.Sign() == 0 && !sticky {
		return f.zero(neg), 0
	}

	top := m.BitLen() - 1 + e
	lsb := max(top, f.emin()) - f.FracBits
	r, inexact := roundShift(m, lsb-e, sticky, neg, rm)
	if r.BitLen() > f.FracBits+1 {
		r.Rsh(r, 1)
		lsb++
	}

	var fl Flags
	if inexact {
		fl |= Inexact
		tiny := top < f.emin()
		if tiny && top == f.emin()-1 {
			// Tininess is detected after rounding with unbounded exponent.
			full, _ := roundShift(m, top-f.FracBits-e, sticky, neg, rm)
			if full.BitLen() > f.FracBits+1 {
				tiny = false
			}
		}
		if tiny {
			fl |= Underflow
		}
	}

	if r.BitLen() <= f.FracBits {
		return f.signed(r.Uint64(), neg), fl
	}
	bexp := lsb + f.FracBits + f.bias()
	if bexp >= int(f.expMax()) {
		fl |= Overflow | Inexact
		switch {
		case rm == RTZ,
			rm == RDN && !neg,
			rm == RUP && neg:
			return f.maxFinite(neg), fl
		}
		return f.inf(neg), fl
	}
	return f.signed(uint64(bexp)<<f.FracBits|r.Uint64()&f.fracMask(), neg), fl
}
