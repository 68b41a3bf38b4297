package main

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// step is one scripted acquisition outcome.
type step struct {
	meas *Measurement
	err  error
}

// scriptedAcquire returns an AcquireFunc that replays steps in call order
// (baseline calls included) and repeats the final step afterwards.
func scriptedAcquire(steps []step) AcquireFunc {
	var n int32
	return func(ctx context.Context, iter int) (*Measurement, error) {
		i := int(atomic.AddInt32(&n, 1)) - 1
		if i >= len(steps) {
			i = len(steps) - 1
		}
		return steps[i].meas, steps[i].err
	}
}

func meas(monomer, standard float64) *Measurement {
	return &Measurement{MonomerArea: monomer, StandardArea: standard, NoiseStd: 0.3, SpectrumFile: "spec"}
}

func fastOptions() MonitorOptions {
	return MonitorOptions{
		Mode:                ModeConversion,
		Interval:            time.Millisecond,
		MaxDuration:         10 * time.Second,
		ConversionThreshold: 80,
		ConsecutiveRequired: 3,
		MaxRetries:          1,
		RetryDelay:          time.Millisecond,
		T0Count:             1,
		T0Backoff:           time.Millisecond,
	}
}

func TestMonitorStopsAfterThreeConsecutiveAboveThreshold(t *testing.T) {
	// t0 ratio 10; monomer areas 21/19/18/17 give conversions
	// 79/81/82/83. 79 is below the 80% threshold, so the streak starts at
	// the second measurement and the loop stops after the fourth.
	acquire := scriptedAcquire([]step{
		{meas: meas(100, 10)}, // t0
		{meas: meas(21, 10)},  // 79%
		{meas: meas(19, 10)},  // 81%
		{meas: meas(18, 10)},  // 82%
		{meas: meas(17, 10)},  // 83%
	})

	m := NewMonitor(fastOptions(), "exp1", acquire, nil, nil, nil)
	result := m.Run(context.Background())

	if !strings.Contains(result.StopReason, "conversion threshold") {
		t.Fatalf("stop reason = %q, want conversion threshold", result.StopReason)
	}
	if len(result.Records) != 4 {
		t.Fatalf("got %d records, want 4 (must not stop after only 2 consecutive)", len(result.Records))
	}
	if result.Records[0].ConversionPercent == nil || *result.Records[0].ConversionPercent >= 80 {
		t.Errorf("first measurement should be below threshold: %+v", result.Records[0])
	}
	for i, want := range []float64{79, 81, 82, 83} {
		got := result.Records[i].ConversionPercent
		if got == nil || *got < want-0.01 || *got > want+0.01 {
			t.Errorf("record %d conversion = %v, want %.0f", i, got, want)
		}
	}
	if result.Baseline == nil || result.Baseline.SampleCount != 1 {
		t.Errorf("baseline missing or wrong sample count: %+v", result.Baseline)
	}
}

func TestMonitorStopsOnWallClock(t *testing.T) {
	opts := fastOptions()
	opts.MaxDuration = 50 * time.Millisecond
	opts.Interval = 5 * time.Millisecond

	// Conversion stays at 50%, far below threshold.
	acquire := scriptedAcquire([]step{
		{meas: meas(100, 10)}, // t0
		{meas: meas(50, 10)},
	})

	m := NewMonitor(opts, "exp2", acquire, nil, nil, nil)
	result := m.Run(context.Background())

	if !strings.Contains(result.StopReason, "time") {
		t.Fatalf("stop reason = %q, want wall-clock stop", result.StopReason)
	}
	if len(result.Records) == 0 {
		t.Error("expected at least one measurement before the wall clock expired")
	}
}

func TestMonitorUserCancellation(t *testing.T) {
	opts := fastOptions()
	opts.Interval = time.Hour // cancellation must interrupt WAITING

	acquire := scriptedAcquire([]step{
		{meas: meas(100, 10)}, // t0
		{meas: meas(50, 10)},
	})

	ctx, cancel := context.WithCancel(context.Background())
	m := NewMonitor(opts, "exp3", acquire, nil, nil, nil)

	done := make(chan *MonitoringResult, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		if result.StopReason != "user-cancelled" {
			t.Errorf("stop reason = %q, want user-cancelled", result.StopReason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not interrupt the waiting state")
	}
}

func TestMonitorSurvivesFailedMeasurement(t *testing.T) {
	// Measurement 2 fails permanently; the loop must append a failed
	// record and keep going to the threshold stop.
	acquire := scriptedAcquire([]step{
		{meas: meas(100, 10)},                  // t0
		{meas: meas(19, 10)},                   // 81%
		{err: errors.New("instrument busy")},   // failed timepoint
		{meas: meas(19, 10)},                   // 81%
		{meas: meas(18, 10)},                   // 82%
		{meas: meas(17, 10)},                   // 83%
	})

	m := NewMonitor(fastOptions(), "exp4", acquire, nil, nil, nil)
	result := m.Run(context.Background())

	if !strings.Contains(result.StopReason, "conversion threshold") {
		t.Fatalf("stop reason = %q", result.StopReason)
	}
	if len(result.Records) != 5 {
		t.Fatalf("got %d records, want 5 (failure resets the consecutive count)", len(result.Records))
	}
	failed := result.Records[1]
	if failed.Success || !strings.Contains(failed.ErrorMessage, "instrument busy") {
		t.Errorf("record 2 should be the failed timepoint: %+v", failed)
	}
	if len(result.Errors) == 0 {
		t.Error("expected retry log entries for the failed measurement")
	}
}

func TestMonitorSurvivesPanicInAcquisition(t *testing.T) {
	var calls int32
	acquire := func(ctx context.Context, iter int) (*Measurement, error) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			return meas(100, 10), nil // t0
		case 2:
			panic("driver bug")
		default:
			return meas(15, 10), nil // 85%
		}
	}

	m := NewMonitor(fastOptions(), "exp5", acquire, nil, nil, nil)
	result := m.Run(context.Background())

	if !strings.Contains(result.StopReason, "conversion threshold") {
		t.Fatalf("stop reason = %q, loop should survive the panic", result.StopReason)
	}
	if result.Records[0].Success {
		t.Error("panicked iteration should be recorded as failed")
	}
}

func TestMonitorBaselineFailureIsFatal(t *testing.T) {
	acquire := scriptedAcquire([]step{{err: errors.New("no lock signal")}})

	m := NewMonitor(fastOptions(), "exp6", acquire, nil, nil, nil)
	result := m.Run(context.Background())

	if !strings.Contains(result.StopReason, "baseline acquisition failed") {
		t.Fatalf("stop reason = %q, want baseline failure", result.StopReason)
	}
	if len(result.Records) != 0 {
		t.Errorf("monitoring must not run without a baseline, got %d records", len(result.Records))
	}
}

func TestMonitorShimmingFailureIsTolerated(t *testing.T) {
	opts := fastOptions()
	opts.ShimInterval = 1
	opts.ShimRetries = 2

	acquire := scriptedAcquire([]step{
		{meas: meas(100, 10)}, // t0
		{meas: meas(19, 10)},
		{meas: meas(18, 10)},
		{meas: meas(17, 10)},
	})
	var shims int32
	shim := func(ctx context.Context) error {
		atomic.AddInt32(&shims, 1)
		return errors.New("shim coil fault")
	}

	m := NewMonitor(opts, "exp7", acquire, shim, nil, nil)
	result := m.Run(context.Background())

	if !strings.Contains(result.StopReason, "conversion threshold") {
		t.Fatalf("stop reason = %q, shim failures must not stop the run", result.StopReason)
	}
	if got := atomic.LoadInt32(&shims); got < 2 {
		t.Errorf("shim attempted %d times, want bounded retries", got)
	}
}

func TestMonitorClearanceMode(t *testing.T) {
	opts := fastOptions()
	opts.Mode = ModeClearance
	opts.ClearanceMultiple = 3 // noise std is 0.3, so clearance below 0.9

	heights := []float64{50, 10, 0.8, 0.7, 0.6}
	var n int32
	acquire := func(ctx context.Context, iter int) (*Measurement, error) {
		i := int(atomic.AddInt32(&n, 1)) - 1
		if i >= len(heights) {
			i = len(heights) - 1
		}
		return &Measurement{MonomerArea: heights[i], PeakHeight: heights[i], NoiseStd: 0.3}, nil
	}

	m := NewMonitor(opts, "exp8", acquire, nil, nil, nil)
	result := m.Run(context.Background())

	if !strings.Contains(result.StopReason, "cleared") {
		t.Fatalf("stop reason = %q, want clearance stop", result.StopReason)
	}
	// No t0 baseline in clearance mode, and 5 measurements: two above the
	// noise floor, then three consecutive below.
	if result.Baseline != nil {
		t.Error("clearance mode must not acquire a t0 baseline")
	}
	if len(result.Records) != 5 {
		t.Errorf("got %d records, want 5", len(result.Records))
	}
	if result.Records[0].ConversionPercent != nil {
		t.Error("clearance records must not carry conversion values")
	}
}
