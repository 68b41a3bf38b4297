package main

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireBaselineSkipsFailedMeasurement(t *testing.T) {
	// Measurement 2 fails every retry; the reference must be the mean of
	// measurements 1 and 3 only.
	acquire := scriptedAcquire([]step{
		{meas: meas(100, 10)},               // measurement 1
		{err: errors.New("transfer stuck")}, // measurement 2, attempt 1
		{err: errors.New("transfer stuck")}, // measurement 2, attempt 2
		{meas: meas(104, 8)},                // measurement 3
	})

	ref, err := AcquireBaseline(context.Background(), acquire, 3, 2, time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireBaseline failed: %v", err)
	}
	if ref.SampleCount != 2 {
		t.Fatalf("sample count = %d, want 2", ref.SampleCount)
	}
	if math.Abs(ref.MonomerArea-102) > 1e-9 {
		t.Errorf("monomer mean = %g, want 102", ref.MonomerArea)
	}
	if math.Abs(ref.StandardArea-9) > 1e-9 {
		t.Errorf("standard mean = %g, want 9", ref.StandardArea)
	}
	// Mean of ratios (10 and 13), not ratio of means (102/9).
	if math.Abs(ref.Ratio-11.5) > 1e-9 {
		t.Errorf("ratio = %g, want mean of ratios 11.5", ref.Ratio)
	}
	if len(ref.Sources) != 3 {
		t.Errorf("source records = %d, want all 3 attempts recorded", len(ref.Sources))
	}
	if ref.Sources[1].Success {
		t.Error("measurement 2 must be recorded as failed")
	}
}

func TestAcquireBaselineRetriesTransientFailure(t *testing.T) {
	var calls int32
	acquire := func(ctx context.Context, iter int) (*Measurement, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("instrument busy")
		}
		return meas(100, 10), nil
	}

	ref, err := AcquireBaseline(context.Background(), acquire, 1, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireBaseline failed: %v", err)
	}
	if ref.SampleCount != 1 {
		t.Errorf("sample count = %d, want 1", ref.SampleCount)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("acquire called %d times, want 2 (one retry)", calls)
	}
}

func TestAcquireBaselineAllFailed(t *testing.T) {
	acquire := scriptedAcquire([]step{{err: errors.New("no signal")}})

	ref, err := AcquireBaseline(context.Background(), acquire, 3, 2, time.Millisecond)
	if ref != nil {
		t.Fatal("no reference may be fabricated when every measurement fails")
	}
	var blErr *BaselineError
	if !errors.As(err, &blErr) {
		t.Fatalf("error type = %T, want *BaselineError", err)
	}
	if blErr.Attempts != 6 {
		t.Errorf("attempts = %d, want 6 (3 measurements x 2 retries)", blErr.Attempts)
	}
	if len(blErr.Messages) != 3 {
		t.Errorf("messages = %d, want one per measurement", len(blErr.Messages))
	}
}

func TestAcquireBaselineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	acquire := scriptedAcquire([]step{{meas: meas(100, 10)}})

	if _, err := AcquireBaseline(ctx, acquire, 3, 2, time.Millisecond); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
