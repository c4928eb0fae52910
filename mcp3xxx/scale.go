package mcp3xxx

import "math"

// clamp maps NaN to minValue so every input yields a defined code.
func clamp(v, minValue, maxValue float64) float64 {
	if math.IsNaN(v) {
		return minValue
	}
	return math.Min(maxValue, math.Max(minValue, v))
}

// Scale encodes a voltage in [0, ref] as a signed code in [-2^bits, 2^bits-1].
// The chip reports single ended readings in the same signed code space it uses
// for differential ones, so 0V reads as the most negative code.
//
// Codes are rounded half away from zero: exactly half of ref lands on the
// boundary between -1 and 0 and reads -1.
func Scale(v, ref float64, bits int) int {
	v = 2*v/ref - 1
	vmin := -math.Exp2(float64(bits))
	vmax := -vmin - 1
	vrange := vmax - vmin
	return int(math.Round((v+1)/2*vrange + vmin))
}

// Unscale is the inverse of Scale, mapping a code back to a fraction of the
// reference voltage in [0, 1].
func Unscale(code, bits int) float64 {
	vmin := -math.Exp2(float64(bits))
	vmax := -vmin - 1
	return (float64(code) - vmin) / (vmax - vmin)
}

// encode returns the n low bits of v in two's complement, most significant first.
func encode(v, n int) []bool {
	word := make([]bool, n)
	for i := 0; i < n; i++ {
		word[i] = (uint32(v)>>uint(n-1-i))&1 == 1
	}
	return word
}

// decode reads bits most significant first as an unsigned integer.
func decode(word []bool) int {
	v := 0
	for _, b := range word {
		v <<= 1
		if b {
			v |= 1
		}
	}
	return v
}

// signExtend interprets the n low bits of v as a two's complement number.
func signExtend(v, n int) int {
	shift := 32 - uint(n)
	return int(int32(uint32(v)<<shift) >> shift)
}
