package softfloat

// key maps a non-NaN encoding to an integer with the same ordering. Both
// zeros map to 0.
func (f Format) key(a uint64) int64 {
	mag := int64(a &^ f.signBit())
	if a&f.signBit() != 0 {
		return -mag
	}
	return mag
}

// Eq is the quiet equality comparison; only signaling NaNs raise Invalid.
func Eq(f Format, a, b uint64) (bool, Flags) {
	if f.IsNaN(a) || f.IsNaN(b) {
		if f.IsSignalingNaN(a) || f.IsSignalingNaN(b) {
			return false, Invalid
		}
		return false, 0
	}
	return f.key(a) == f.key(b), 0
}

// Lt is the signaling less-than comparison.
func Lt(f Format, a, b uint64) (bool, Flags) {
	if f.IsNaN(a) || f.IsNaN(b) {
		return false, Invalid
	}
	return f.key(a) < f.key(b), 0
}

// Le is the signaling less-or-equal comparison.
func Le(f Format, a, b uint64) (bool, Flags) {
	if f.IsNaN(a) || f.IsNaN(b) {
		return false, Invalid
	}
	return f.key(a) <= f.key(b), 0
}

// Min returns the smaller operand. A single NaN operand is ignored, -0 is
// less than +0, and signaling NaNs raise Invalid.
func Min(f Format, a, b uint64) (uint64, Flags) {
	return f.minMax(a, b, true)
}

// Max returns the larger operand with the same NaN rules as Min.
func Max(f Format, a, b uint64) (uint64, Flags) {
	return f.minMax(a, b, false)
}

func (f Format) minMax(a, b uint64, less bool) (uint64, Flags) {
	var fl Flags
	if f.IsSignalingNaN(a) || f.IsSignalingNaN(b) {
		fl = Invalid
	}
	switch aNaN, bNaN := f.IsNaN(a), f.IsNaN(b); {
	case aNaN && bNaN:
		return f.CanonicalNaN(), fl
	case aNaN:
		return b, fl
	case bNaN:
		return a, fl
	}

	ka, kb := f.key(a), f.key(b)
	if ka == kb {
		// Only the zeros tie with different encodings.
		if less {
			return a | b, fl
		}
		return a & b, fl
	}
	if (ka < kb) == less {
		return a, fl
	}
	return b, fl
}

// Class bits as reported by fclass.
const (
	ClassNegInf       = 1 << 0
	ClassNegNormal    = 1 << 1
	ClassNegSubnormal = 1 << 2
	ClassNegZero      = 1 << 3
	ClassPosZero      = 1 << 4
	ClassPosSubnormal = 1 << 5
	ClassPosNormal    = 1 << 6
	ClassPosInf       = 1 << 7
	ClassSNaN         = 1 << 8
	ClassQNaN         = 1 << 9
)

// Classify returns the fclass mask for a.
func Classify(f Format, a uint64) uint64 {
	neg := a&f.signBit() != 0
	exp, frac := f.exp(a), a&f.fracMask()
	pick := func(n, p uint64) uint64 {
		if neg {
			return n
		}
		return p
	}
	switch {
	case exp == f.expMax() && frac == 0:
		return pick(ClassNegInf, ClassPosInf)
	case exp == f.expMax() && f.IsSignalingNaN(a):
		return ClassSNaN
	case exp == f.expMax():
		return ClassQNaN
	case exp == 0 && frac == 0:
		return pick(ClassNegZero, ClassPosZero)
	case exp == 0:
		return pick(ClassNegSubnormal, ClassPosSubnormal)
	}
	return pick(ClassNegNormal, ClassPosNormal)
}
