package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// BaselineError reports a failed t0 baseline establishment: zero of the
// requested measurements succeeded. It is fatal to the experiment.
type BaselineError struct {
	Attempts int
	Messages []string
}

func (e *BaselineError) Error() string {
	return fmt.Sprintf("baseline acquisition failed after %d attempts: %s", e.Attempts, strings.Join(e.Messages, "; "))
}

// AcquireBaseline establishes the t0 reference before monitoring starts. It
// performs n independent acquisitions, each retried up to maxRetries times
// with a fixed backoff. A measurement that exhausts its retries is recorded
// as failed and skipped; the reference is built from whatever succeeded.
//
// The reference carries the arithmetic mean of the successful monomer areas,
// of the standard areas, and of the per-measurement ratios, each averaged
// independently. The ratio is deliberately a mean of ratios, not a ratio of
// means. With zero successes a *BaselineError is returned; a placeholder
// baseline is never fabricated.
func AcquireBaseline(ctx context.Context, acquire AcquireFunc, n, maxRetries int, backoff time.Duration) (*BaselineReference, error) {
	start := time.Now()
	var (
		records  []MeasurementRecord
		monomer  []float64
		standard []float64
		ratios   []float64
		failures []string
		attempts int
	)

	for i := 1; i <= n; i++ {
		meas, err := acquireWithRetry(ctx, acquire, i, maxRetries, backoff, &attempts)
		rec := MeasurementRecord{
			Iteration:      i,
			Timestamp:      time.Now(),
			ElapsedMinutes: time.Since(start).Minutes(),
		}
		if err != nil {
			log.Printf("Baseline: t0 measurement %d/%d failed permanently: %v", i, n, err)
			rec.ErrorMessage = err.Error()
			failures = append(failures, fmt.Sprintf("measurement %d: %v", i, err))
			records = append(records, rec)
			continue
		}

		rec.Success = true
		rec.MonomerArea = meas.MonomerArea
		rec.Ratio = meas.Ratio()
		rec.SpectrumFilename = meas.SpectrumFile
		if meas.StandardArea > 0 {
			sa := meas.StandardArea
			rec.StandardArea = &sa
		}
		records = append(records, rec)

		monomer = append(monomer, meas.MonomerArea)
		standard = append(standard, meas.StandardArea)
		ratios = append(ratios, meas.Ratio())
		log.Printf("Baseline: t0 measurement %d/%d: monomer %.4g, standard %.4g, ratio %.4g",
			i, n, meas.MonomerArea, meas.StandardArea, meas.Ratio())
	}

	if len(monomer) == 0 {
		return nil, &BaselineError{Attempts: attempts, Messages: failures}
	}

	ref := &BaselineReference{
		MonomerArea:  stat.Mean(monomer, nil),
		StandardArea: stat.Mean(standard, nil),
		Ratio:        stat.Mean(ratios, nil),
		SampleCount:  len(monomer),
		Sources:      records,
	}
	log.Printf("Baseline: reference established from %d/%d measurements: monomer %.4g, standard %.4g, ratio %.4g",
		ref.SampleCount, n, ref.MonomerArea, ref.StandardArea, ref.Ratio)
	return ref, nil
}

// acquireWithRetry retries one acquisition with a fixed backoff. The backoff
// sleep is interruptible by ctx.
func acquireWithRetry(ctx context.Context, acquire AcquireFunc, iteration, maxRetries int, backoff time.Duration, attempts *int) (*Measurement, error) {
	var lastErr error
	for try := 1; try <= maxRetries; try++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		*attempts++
		meas, err := acquire(ctx, iteration)
		if err == nil {
			return meas, nil
		}
		lastErr = err
		log.Printf("Baseline: t0 measurement %d attempt %d/%d failed: %v", iteration, try, maxRetries, err)
		if try < maxRetries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}
