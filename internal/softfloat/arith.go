package softfloat

import "math/big"

// Add returns a+b.
func Add(f Format, a, b uint64, rm RoundingMode) (uint64, Flags) {
	return f.add(f.unpack(a), f.unpack(b), rm)
}

// Sub returns a-b.
func Sub(f Format, a, b uint64, rm RoundingMode) (uint64, Flags) {
	y := f.unpack(b)
	y.neg = !y.neg
	return f.add(f.unpack(a), y, rm)
}

func (f Format) add(x, y operand, rm RoundingMode) (uint64, Flags) {
	switch {
	case x.kind == kNaN || y.kind == kNaN:
		return f.nanResult(x, y)
	case x.kind == kInf && y.kind == kInf:
		if x.neg != y.neg {
			return f.CanonicalNaN(), Invalid
		}
		return f.inf(x.neg), 0
	case x.kind == kInf:
		return f.inf(x.neg), 0
	case y.kind == kInf:
		return f.inf(y.neg), 0
	}
	return f.sum(x, y, rm)
}

// sum adds two finite or zero operands exactly and rounds once.
func (f Format) sum(x, y operand, rm RoundingMode) (uint64, Flags) {
	if x.kind == kZero && y.kind == kZero {
		if x.neg == y.neg {
			return f.zero(x.neg), 0
		}
		return f.zero(rm == RDN), 0
	}
	if x.kind == kZero {
		return f.roundPack(y.neg, y.m, y.e, false, rm)
	}
	if y.kind == kZero {
		return f.roundPack(x.neg, x.m, x.e, false, rm)
	}

	e := min(x.e, y.e)
	a := new(big.Int).Lsh(x.m, uint(x.e-e))
	b := new(big.Int).Lsh(y.m, uint(y.e-e))
	if x.neg {
		a.Neg(a)
	}
	if y.neg {
		b.Neg(b)
	}
	a.Add(a, b)
	if a.Sign() == 0 {
		return f.zero(rm == RDN), 0
	}
	neg := a.Sign() < 0
	return f.roundPack(neg, a.Abs(a), e, false, rm)
}

// Mul returns a*b.
func Mul(f Format, a, b uint64, rm RoundingMode) (uint64, Flags) {
	x, y := f.unpack(a), f.unpack(b)
	neg := x.neg != y.neg
	switch {
	case x.kind == kNaN || y.kind == kNaN:
		return f.nanResult(x, y)
	case x.kind == kInf && y.kind == kZero, x.kind == kZero && y.kind == kInf:
		return f.CanonicalNaN(), Invalid
	case x.kind == kInf || y.kind == kInf:
		return f.inf(neg), 0
	case x.kind == kZero || y.kind == kZero:
		return f.zero(neg), 0
	}
	m := new(big.Int).Mul(x.m, y.m)
	return f.roundPack(neg, m, x.e+y.e, false, rm)
}

// FMA returns (a*b)+c rounded once. negProduct and negAddend select the
// fmsub/fnmsub/fnmadd variants.
func FMA(f Format, a, b, c uint64, negProduct, negAddend bool, rm RoundingMode) (uint64, Flags) {
	x, y, z := f.unpack(a), f.unpack(b), f.unpack(c)
	if x.kind == kNaN || y.kind == kNaN {
		return f.nanResult(x, y, z)
	}
	if (x.kind == kInf && y.kind == kZero) || (x.kind == kZero && y.kind == kInf) {
		return f.CanonicalNaN(), Invalid
	}
	if z.kind == kNaN {
		return f.nanResult(z)
	}

	prod := operand{neg: x.neg != y.neg}
	switch {
	case x.kind == kInf || y.kind == kInf:
		prod.kind = kInf
	case x.kind == kZero || y.kind == kZero:
		prod.kind = kZero
	default:
		prod.kind = kFinite
		prod.m = new(big.Int).Mul(x.m, y.m)
		prod.e = x.e + y.e
	}
	if negProduct {
		prod.neg = !prod.neg
	}
	if negAddend {
		z.neg = !z.neg
	}
	return f.add(prod, z, rm)
}

// Div returns a/b.
func Div(f Format, a, b uint64, rm RoundingMode) (uint64, Flags) {
	x, y := f.unpack(a), f.unpack(b)
	neg := x.neg != y.neg
	switch {
	case x.kind == kNaN || y.kind == kNaN:
		return f.nanResult(x, y)
	case x.kind == kInf && y.kind == kInf, x.kind == kZero && y.kind == kZero:
		return f.CanonicalNaN(), Invalid
	case x.kind == kInf:
		return f.inf(neg), 0
	case y.kind == kZero:
		return f.inf(neg), DivByZero
	case x.kind == kZero || y.kind == kInf:
		return f.zero(neg), 0
	}

	k := max(0, f.FracBits+4+y.m.BitLen()-x.m.BitLen())
	num := new(big.Int).Lsh(x.m, uint(k))
	q, r := new(big.Int).QuoRem(num, y.m, new(big.Int))
	return f.roundPack(neg, q, x.e-y.e-k, r.Sign() != 0, rm)
}

// Sqrt returns the square root of a.
func Sqrt(f Format, a uint64, rm RoundingMode) (uint64, Flags) {
	x := f.unpack(a)
	switch {
	case x.kind == kNaN:
		return f.nanResult(x)
	case x.kind == kZero:
		return a, 0
	case x.neg:
		return f.CanonicalNaN(), Invalid
	case x.kind == kInf:
		return a, 0
	}

	m, e := new(big.Int).Set(x.m), x.e
	if e&1 != 0 {
		m.Lsh(m, 1)
		e--
	}
	k := max(0, (2*(f.FracBits+4)-m.BitLen()+1)/2)
	m.Lsh(m, uint(2*k))
	s := new(big.Int).Sqrt(m)
	exact := new(big.Int).Mul(s, s).Cmp(m) == 0
	return f.roundPack(false, s, e/2-k, !exact, rm)
}

// FromInt converts the low bits of v, read as a signed or unsigned integer
// of the given width (32 or 64), to the format.
func FromInt(f Format, v uint64, bits int, signed bool, rm RoundingMode) (uint64, Flags) {
	var neg bool
	m := new(big.Int)
	switch {
	case bits == 32 && signed:
		i := int64(int32(v))
		neg = i < 0
		m.SetInt64(i).Abs(m)
	case bits == 32:
		m.SetUint64(uint64(uint32(v)))
	case signed:
		i := int64(v)
		neg = i < 0
		m.SetInt64(i).Abs(m)
	default:
		m.SetUint64(v)
	}
	if m.Sign() == 0 {
		return f.zero(false), 0
	}
	return f.roundPack(neg, m, 0, false, rm)
}

// ToInt converts a to a signed or unsigned integer of the given width.
// Out of range inputs and NaN saturate and raise Invalid. 32-bit results are
// returned sign-extended to 64 bits.
func ToInt(f Format, a uint64, bits int, signed bool, rm RoundingMode) (uint64, Flags) {
	x := f.unpack(a)

	hi := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	lo := new(big.Int)
	if signed {
		hi.Rsh(hi, 1)
		lo.Neg(hi)
	}
	hi.Sub(hi, big.NewInt(1))

	saturate := func(neg bool) (uint64, Flags) {
		if neg {
			return narrow(lo, bits), Invalid
		}
		return narrow(hi, bits), Invalid
	}

	var v *big.Int
	var fl Flags
	switch x.kind {
	case kNaN:
		return saturate(false)
	case kInf:
		return saturate(x.neg)
	case kZero:
		return 0, 0
	default:
		var inexact bool
		if x.e >= 0 {
			v = new(big.Int).Lsh(x.m, uint(x.e))
		} else {
			v, inexact = roundShift(x.m, -x.e, false, x.neg, rm)
		}
		if x.neg {
			v.Neg(v)
		}
		if inexact {
			fl = Inexact
		}
	}

	if v.Cmp(lo) < 0 || v.Cmp(hi) > 0 {
		return saturate(x.neg)
	}
	return narrow(v, bits), fl
}

// narrow returns the two's complement of v in the given width,
// sign-extended to 64 bits.
func narrow(v *big.Int, bits int) uint64 {
	var u uint64
	if v.Sign() < 0 {
		u = uint64(v.Int64())
	} else {
		u = v.Uint64()
	}
	if bits == 32 {
		return uint64(int64(int32(u)))
	}
	return u
}

// Convert changes the format of a.
func Convert(from, to Format, a uint64, rm RoundingMode) (uint64, Flags) {
	x := from.unpack(a)
	switch x.kind {
	case kNaN:
		return to.nanResult(x)
	case kInf:
		return to.inf(x.neg), 0
	case kZero:
		return to.zero(x.neg), 0
	}
	return to.roundPack(x.neg, x.m, x.e, false, rm)
}
