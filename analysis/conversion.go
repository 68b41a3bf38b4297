package analysis

import "math"

// Conversion computes reaction conversion in percent from current and t0
// monomer/standard peak areas, clamped to [0, 100].
//
// ok is false whenever the conversion is undefined: any integral missing or
// non-positive, or a non-positive t0 ratio. Callers must treat that as
// "unknown", never as zero conversion.
func Conversion(monomer, standard, t0Monomer, t0Standard float64) (float64, bool) {
	for _, v := range []float64{monomer, standard, t0Monomer, t0Standard} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
	}
	t0Ratio := t0Monomer / t0Standard
	if t0Ratio <= 0 {
		return 0, false
	}
	conv := (1 - (monomer/standard)/t0Ratio) * 100
	if conv < 0 {
		conv = 0
	}
	if conv > 100 {
		conv = 100
	}
	return conv, true
}
