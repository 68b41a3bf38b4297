package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cwsl/reactorwatch/analysis"
)

// AcquireFunc performs one sample transfer + acquisition + integration pass.
// The monitoring loop and the baseline controller only ever see this
// signature, keeping hardware out of both.
type AcquireFunc func(ctx context.Context, iteration int) (*Measurement, error)

// ShimFunc runs one instrument recalibration pass.
type ShimFunc func(ctx context.Context) error

// Workflow binds the hardware ports, the spectrum store and the analysis
// settings into an AcquireFunc.
type Workflow struct {
	spectrometer Spectrometer
	transport    SampleTransport
	store        *SpectrumStore
	analysis     AnalysisConfig
	params       AcquisitionParams
	experimentID string

	// clearance mode integrates a single target region and skips the
	// internal standard entirely.
	targetRegion analysis.Region
	useStandard  bool
}

// NewWorkflow builds the conversion-monitoring acquisition workflow.
func NewWorkflow(cfg *Config, spectrometer Spectrometer, transport SampleTransport, store *SpectrumStore, experimentID string) *Workflow {
	return &Workflow{
		spectrometer: spectrometer,
		transport:    transport,
		store:        store,
		analysis:     cfg.Analysis,
		params:       AcquisitionParams{NumScans: cfg.Instrument.NumScans, SolventPPM: cfg.Instrument.SolventPPM},
		experimentID: experimentID,
		targetRegion: cfg.Analysis.MonomerRegion,
		useStandard:  cfg.Analysis.StandardRegion != (analysis.Region{}),
	}
}

// NewClearanceWorkflow builds the purification variant: one target region,
// no internal standard.
func NewClearanceWorkflow(cfg *Config, spectrometer Spectrometer, transport SampleTransport, store *SpectrumStore, experimentID string) *Workflow {
	w := NewWorkflow(cfg, spectrometer, transport, store, experimentID)
	w.targetRegion = cfg.Clearance.TargetRegion
	w.useStandard = false
	return w
}

// Acquire moves a sample to the instrument, acquires and persists a
// spectrum, returns the sample, and extracts peak areas. The sample is
// returned to the reactor even when acquisition fails.
func (w *Workflow) Acquire(ctx context.Context, iteration int) (*Measurement, error) {
	if err := w.transport.MoveSampleToInstrument(ctx); err != nil {
		return nil, fmt.Errorf("sample transfer failed: %w", err)
	}

	spec, acqErr := w.spectrometer.AcquireSpectrum(ctx, w.params)

	if err := w.transport.ReturnSample(ctx); err != nil {
		if acqErr == nil {
			return nil, fmt.Errorf("sample return failed: %w", err)
		}
		log.Printf("Workflow: sample return failed after acquisition error: %v", err)
	}
	if acqErr != nil {
		return nil, fmt.Errorf("acquisition failed: %w", acqErr)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("acquired spectrum invalid: %w", err)
	}

	base, err := w.store.Save(spec, w.experimentID, iteration, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to persist spectrum: %w", err)
	}

	return w.analyze(spec, base)
}

// analyze runs baseline characterization and peak integration on an
// already-acquired spectrum.
func (w *Workflow) analyze(spec *analysis.Spectrum, base string) (*Measurement, error) {
	est := analysis.CharacterizeBaseline(spec, w.analysis.NoiseRegion, w.analysis.MaxBaselineOrder, w.analysis.BaselineImprovement)

	target := analysis.IntegrateRegion(spec, w.targetRegion, est.Std, analysis.IntegrateOptions{
		Mode:         analysis.ModeMultiSinglet,
		SNRThreshold: w.analysis.SNRThreshold,
	})

	meas := &Measurement{
		MonomerArea:  target.TotalIntegral,
		NoiseStd:     est.Std,
		SpectrumFile: base,
	}
	for _, h := range target.PeakHeights {
		if h > meas.PeakHeight {
			meas.PeakHeight = h
		}
	}

	if w.useStandard {
		std := analysis.IntegrateRegion(spec, w.analysis.StandardRegion, est.Std, analysis.IntegrateOptions{
			Mode:         analysis.ModeConnectedCluster,
			SNRThreshold: w.analysis.SNRThresholdStandard,
		})
		meas.StandardArea = std.TotalIntegral
		if std.TotalIntegral <= 0 {
			log.Printf("Workflow: no standard signal found in %s (noise std %.3g)", w.analysis.StandardRegion, est.Std)
		}
	}

	if target.TotalIntegral <= 0 {
		log.Printf("Workflow: no target peaks found in %s (noise std %.3g, order %d)", w.targetRegion, est.Std, est.Order)
	}
	return meas, nil
}

// Shim delegates to the spectrometer's recalibration.
func (w *Workflow) Shim(ctx context.Context) error {
	return w.spectrometer.Shim(ctx)
}
