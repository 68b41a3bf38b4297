package analysis

import (
	"log"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DegenerateNoiseStd is reported when the noise region contains too few
// points to characterize. It keeps downstream SNR thresholds finite without
// ever dividing by zero.
const DegenerateNoiseStd = 1e-6

// NoiseEstimate describes the baseline shape and residual noise level of a
// spectrum, derived from a user-designated signal-free region.
type NoiseEstimate struct {
	Std       float64   // residual standard deviation at the accepted order
	Order     int       // accepted polynomial order of the baseline fit
	FitAxis   []float64 // axis samples the fit was computed on
	FitValues []float64 // fitted baseline evaluated on FitAxis
}

// CharacterizeBaseline estimates noise level and baseline shape from the
// noise region of a spectrum. Polynomial orders 0..maxOrder are tried in
// sequence; a higher order is accepted only when it improves the residual
// std by more than improvement (relative to the previously accepted std).
// The diminishing-returns rule keeps high orders from fitting the noise
// itself, at the cost of a slightly conservative noise floor.
//
// A region with fewer than 2 samples yields the degenerate estimate
// (std=1e-6, order 0) instead of an error: a misconfigured region degrades
// detection sensitivity, it never aborts an experiment.
func CharacterizeBaseline(spec *Spectrum, noiseRegion Region, maxOrder int, improvement float64) NoiseEstimate {
	axis, intensity := spec.Window(noiseRegion)
	if len(axis) < 2 {
		log.Printf("Analysis: noise region %s contains %d samples, using degenerate noise estimate", noiseRegion, len(axis))
		return NoiseEstimate{Std: DegenerateNoiseStd, Order: 0}
	}

	order := 0
	fit := polyFit(axis, intensity, 0)
	std := residualStd(axis, intensity, fit)

	for k := 1; k <= maxOrder; k++ {
		if len(axis) < k+1 {
			break
		}
		candFit := polyFit(axis, intensity, k)
		candStd := residualStd(axis, intensity, candFit)
		if std <= 0 || (std-candStd)/std <= improvement {
			break
		}
		order = k
		fit = candFit
		std = candStd
	}

	if std < DegenerateNoiseStd {
		std = DegenerateNoiseStd
	}

	values := make([]float64, len(axis))
	for i, x := range axis {
		values[i] = polyEval(fit, x)
	}
	return NoiseEstimate{Std: std, Order: order, FitAxis: axis, FitValues: values}
}

// polyFit computes least-squares polynomial coefficients (low order first)
// for y over x via a Vandermonde system solved with QR.
func polyFit(x, y []float64, order int) []float64 {
	a := mat.NewDense(len(x), order+1, nil)
	for i, xv := range x {
		p := 1.0
		for j := 0; j <= order; j++ {
			a.Set(i, j, p)
			p *= xv
		}
	}
	b := mat.NewVecDense(len(y), y)

	var qr mat.QR
	qr.Factorize(a)
	coef := mat.NewVecDense(order+1, nil)
	if err := qr.SolveVecTo(coef, false, b); err != nil {
		// Near-singular systems happen on pathological axes (all samples at
		// one position). Fall back to the mean.
		mean := 0.0
		for _, v := range y {
			mean += v
		}
		return []float64{mean / float64(len(y))}
	}
	out := make([]float64, order+1)
	for i := range out {
		out[i] = coef.AtVec(i)
	}
	return out
}

func polyEval(coef []float64, x float64) float64 {
	v := 0.0
	for i := len(coef) - 1; i >= 0; i-- {
		v = v*x + coef[i]
	}
	return v
}

func residualStd(x, y, coef []float64) float64 {
	sum := 0.0
	for i, xv := range x {
		d := y[i] - polyEval(coef, xv)
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(x)))
}
