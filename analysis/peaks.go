package analysis

import (
	"log"
	"sort"

	"gonum.org/v1/gonum/integrate"
)

// Mode selects the peak-picking strategy for a region.
type Mode int

const (
	// ModeMultiSinglet integrates the strongest separated lines
	// independently (monomer-like signals).
	ModeMultiSinglet Mode = iota
	// ModeConnectedCluster integrates one contiguous multiplet grown
	// outward from the tallest peak (internal-standard signals).
	ModeConnectedCluster
)

func (m Mode) String() string {
	if m == ModeConnectedCluster {
		return "connected-cluster"
	}
	return "multi-singlet"
}

// Method is the quadrature rule applied to the accepted windows.
type Method string

const (
	MethodSimpson     Method = "simpson"
	MethodTrapezoidal Method = "trapezoidal"
)

// Default detection parameters. The standard region uses a higher SNR cutoff
// since internal standards are reliably strong.
const (
	DefaultSNRThreshold         = 3.0
	DefaultSNRThresholdStandard = 3.5
	defaultMaxSinglets          = 2
	overlapLimit                = 0.9
)

// IntegrateOptions tunes IntegrateRegion.
type IntegrateOptions struct {
	Mode          Mode
	SNRThreshold  float64 // peak-detection cutoff as a multiple of noise std
	MaxPeaks      int     // multi-singlet only; 0 means the default of 2
	BaselineLevel float64 // subtracted from intensities before detection when Corrected
	Corrected     bool
}

// PeakIntegrationResult reports detected peaks, their integration windows
// (as axis-index pairs into the source spectrum) and integrals.
type PeakIntegrationResult struct {
	PeakPositions []float64 `json:"peak_positions"`
	PeakHeights   []float64 `json:"peak_heights"`
	Integrals     []float64 `json:"integrals"`
	Bounds        [][2]int  `json:"bounds"`
	TotalIntegral float64   `json:"total_integral"`
	Method        Method    `json:"method"`
}

type candidate struct {
	idx    int
	height float64
}

// IntegrateRegion finds and numerically integrates analyte peaks inside
// region. noiseStd sets the detection and boundary thresholds; it must be
// strictly positive (use CharacterizeBaseline, which never returns zero).
//
// Zero detected peaks is a normal outcome and yields an empty result, not an
// error. Windows that collapse to a single sample after boundary expansion
// are dropped.
func IntegrateRegion(spec *Spectrum, region Region, noiseStd float64, opts IntegrateOptions) PeakIntegrationResult {
	result := PeakIntegrationResult{Method: MethodSimpson}
	if noiseStd <= 0 {
		noiseStd = DegenerateNoiseStd
	}
	snr := opts.SNRThreshold
	if snr <= 0 {
		snr = DefaultSNRThreshold
	}
	threshold := snr * noiseStd

	lo, hi, ok := spec.indexRange(region)
	if !ok || hi-lo < 2 {
		return result
	}

	height := func(i int) float64 {
		if opts.Corrected {
			return spec.Intensity[i] - opts.BaselineLevel
		}
		return spec.Intensity[i]
	}

	// Local maxima above threshold, interior points only.
	var cands []candidate
	for i := lo + 1; i < hi; i++ {
		v := height(i)
		if v > height(i-1) && v > height(i+1) && v > threshold {
			cands = append(cands, candidate{idx: i, height: v})
		}
	}
	if len(cands) == 0 {
		return result
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].height > cands[j].height })

	switch opts.Mode {
	case ModeConnectedCluster:
		integrateCluster(spec, cands, lo, hi, threshold, height, &result)
	default:
		integrateSinglets(spec, cands, lo, hi, threshold, opts.MaxPeaks, height, &result)
	}
	return result
}

// expandWindow walks outward from a peak until the signal drops to or below
// threshold or the region edge is reached.
func expandWindow(peak, lo, hi int, threshold float64, height func(int) float64) (left, right int) {
	left, right = peak, peak
	for left-1 >= lo && height(left-1) > threshold {
		left--
	}
	for right+1 <= hi && height(right+1) > threshold {
		right++
	}
	return left, right
}

// integrateSinglets handles multi-singlet mode: the top candidates are
// expanded and integrated independently, rejecting near-duplicate windows.
// No two accepted windows may share more than 90% of the narrower window's
// width.
func integrateSinglets(spec *Spectrum, cands []candidate, lo, hi int, threshold float64, maxPeaks int, height func(int) float64, result *PeakIntegrationResult) {
	if maxPeaks <= 0 {
		maxPeaks = defaultMaxSinglets
	}
	if len(cands) > maxPeaks {
		cands = cands[:maxPeaks]
	}

	for _, c := range cands {
		left, right := expandWindow(c.idx, lo, hi, threshold, height)
		if right <= left {
			log.Printf("Analysis: peak at %.3f collapsed to a single sample, dropping", spec.Axis[c.idx])
			continue
		}
		if overlapsAccepted(left, right, result.Bounds) {
			log.Printf("Analysis: peak at %.3f overlaps an already integrated window, dropping", spec.Axis[c.idx])
			continue
		}
		area, method := integrateWindow(spec, left, right)
		result.PeakPositions = append(result.PeakPositions, spec.Axis[c.idx])
		result.PeakHeights = append(result.PeakHeights, c.height)
		result.Integrals = append(result.Integrals, area)
		result.Bounds = append(result.Bounds, [2]int{left, right})
		result.TotalIntegral += area
		if method == MethodTrapezoidal {
			result.Method = MethodTrapezoidal
		}
	}
}

// overlapsAccepted applies the overlap-prevention invariant: the candidate is
// rejected when its overlap with any accepted window exceeds 90% of the
// narrower of the two widths.
func overlapsAccepted(left, right int, accepted [][2]int) bool {
	width := right - left
	for _, b := range accepted {
		ovl := min(right, b[1]) - max(left, b[0])
		if ovl <= 0 {
			continue
		}
		narrower := min(width, b[1]-b[0])
		if narrower <= 0 || float64(ovl)/float64(narrower) > overlapLimit {
			return true
		}
	}
	return false
}

// integrateCluster handles connected-cluster mode: the tallest peak anchors a
// window that grows by merging every candidate whose window touches or
// intersects the accepted union. Isolated peaks elsewhere in the region stay
// excluded as unrelated signal.
func integrateCluster(spec *Spectrum, cands []candidate, lo, hi int, threshold float64, height func(int) float64, result *PeakIntegrationResult) {
	type window struct {
		candidate
		left, right int
	}
	windows := make([]window, 0, len(cands))
	for _, c := range cands {
		l, r := expandWindow(c.idx, lo, hi, threshold, height)
		if r <= l {
			log.Printf("Analysis: cluster peak at %.3f collapsed to a single sample, dropping", spec.Axis[c.idx])
			continue
		}
		windows = append(windows, window{candidate: c, left: l, right: r})
	}
	if len(windows) == 0 {
		return
	}

	// Tallest first after expansion; the first window is the anchor.
	unionLeft, unionRight := windows[0].left, windows[0].right
	included := []window{windows[0]}
	pending := windows[1:]

	for {
		grew := false
		remaining := pending[:0]
		for _, w := range pending {
			if w.left <= unionRight+1 && w.right >= unionLeft-1 {
				unionLeft = min(unionLeft, w.left)
				unionRight = max(unionRight, w.right)
				included = append(included, w)
				grew = true
			} else {
				remaining = append(remaining, w)
			}
		}
		pending = remaining
		if !grew {
			break
		}
	}

	sort.Slice(included, func(i, j int) bool { return included[i].idx < included[j].idx })
	for _, w := range included {
		result.PeakPositions = append(result.PeakPositions, spec.Axis[w.idx])
		result.PeakHeights = append(result.PeakHeights, w.height)
	}
	area, method := integrateWindow(spec, unionLeft, unionRight)
	result.Integrals = []float64{area}
	result.Bounds = [][2]int{{unionLeft, unionRight}}
	result.TotalIntegral = area
	result.Method = method
}

// integrateWindow applies Simpson's rule when the window carries at least 3
// samples, trapezoidal otherwise. gonum's quadrature wants a strictly
// increasing abscissa, so descending (ppm) windows are reversed first.
func integrateWindow(spec *Spectrum, left, right int) (float64, Method) {
	x := spec.Axis[left : right+1]
	y := spec.Intensity[left : right+1]
	if spec.Descending() {
		n := len(x)
		rx := make([]float64, n)
		ry := make([]float64, n)
		for i := 0; i < n; i++ {
			rx[i] = x[n-1-i]
			ry[i] = y[n-1-i]
		}
		x, y = rx, ry
	}
	if len(x) >= 3 {
		return integrate.Simpsons(x, y), MethodSimpson
	}
	return integrate.Trapezoidal(x, y), MethodTrapezoidal
}
