// Package fixed holds the signed fixed-point primitives used by the
// convolution and neuron kernels. The multiply helpers follow the ARM DSP
// halfword instructions: only the low 16 bits of each operand take part and
// accumulation wraps in 32 bits.
package fixed

import "math"

// Smlabb returns acc + low16(a)*low16(b) with two's-complement wrap.
func Smlabb(a, b, acc int32) int32 {
	return acc + int32(int16(a))*int32(int16(b))
}

// Smulbb returns low16(a)*low16(b).
func Smulbb(a, b int32) int32 {
	return int32(int16(a)) * int32(int16(b))
}

// ShiftDown scales v down by pos fractional bits. It is an arithmetic shift
// and truncates toward negative infinity.
func ShiftDown(v int32, pos uint32) int32 {
	return v >> pos
}

// ToFix converts v to a signed fixed-point value with fracBits fractional
// bits stored in a bits-wide word, saturating at the representable range.
func ToFix(v float64, fracBits, bits int) int32 {
	scaled := math.Round(v * math.Ldexp(1, fracBits))
	maxV := math.Ldexp(1, bits-1) - 1
	minV := -math.Ldexp(1, bits-1)
	if scaled > maxV {
		scaled = maxV
	}
	if scaled < minV {
		scaled = minV
	}
	return int32(scaled)
}

// FixedPointFor returns the fractional bit count that lets maxAbs fit a
// signed bits-wide word. A zero maxAbs uses every non-sign bit.
func FixedPointFor(maxAbs float64, bits int) int {
	maxAbs = math.Abs(maxAbs)
	if maxAbs == 0 {
		return bits - 1
	}
	msb := int(math.Floor(math.Log2(maxAbs))) + 1
	return (bits - 1) - msb
}
