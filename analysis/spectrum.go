package analysis

import (
	"fmt"
	"math"
)

// Spectrum holds one acquired spectrum as parallel axis/intensity slices.
// The axis is monotonic: chemical shift in ppm (descending) for NMR,
// wavelength in nm (ascending) for UV-Vis.
type Spectrum struct {
	Axis      []float64
	Intensity []float64
}

// Region is a closed interval [Low, High] on the spectrum axis.
type Region struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// Contains reports whether v falls inside the region.
func (r Region) Contains(v float64) bool {
	return v >= r.Low && v <= r.High
}

func (r Region) String() string {
	return fmt.Sprintf("[%.3f, %.3f]", r.Low, r.High)
}

// Validate checks the basic spectrum invariants.
func (s *Spectrum) Validate() error {
	if len(s.Axis) == 0 {
		return fmt.Errorf("spectrum is empty")
	}
	if len(s.Axis) != len(s.Intensity) {
		return fmt.Errorf("axis/intensity length mismatch: %d vs %d", len(s.Axis), len(s.Intensity))
	}
	for i, v := range s.Intensity {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("intensity sample %d is not finite", i)
		}
	}
	return nil
}

// Descending reports whether the axis runs high-to-low (NMR ppm convention).
func (s *Spectrum) Descending() bool {
	return len(s.Axis) >= 2 && s.Axis[0] > s.Axis[len(s.Axis)-1]
}

// FromComplex reduces a complex acquisition buffer to its real component.
// Spectrometer drivers hand back complex FIDs after Fourier transform; all
// downstream analysis runs on the real part only.
func FromComplex(axis []float64, raw []complex128) *Spectrum {
	intensity := make([]float64, len(raw))
	for i, c := range raw {
		intensity[i] = real(c)
	}
	return &Spectrum{Axis: axis, Intensity: intensity}
}

// indexRange returns the inclusive index range [lo, hi] of samples whose axis
// value falls inside region, handling both axis directions. ok is false when
// no sample falls inside.
func (s *Spectrum) indexRange(region Region) (lo, hi int, ok bool) {
	lo, hi = -1, -1
	for i, v := range s.Axis {
		if region.Contains(v) {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	return lo, hi, lo >= 0
}

// Window extracts the sub-spectrum inside region. The returned slices alias
// the original spectrum and must not be mutated.
func (s *Spectrum) Window(region Region) (axis, intensity []float64) {
	lo, hi, ok := s.indexRange(region)
	if !ok {
		return nil, nil
	}
	return s.Axis[lo : hi+1], s.Intensity[lo : hi+1]
}
