package main

import (
	"context"

	"github.com/cwsl/reactorwatch/analysis"
)

// The monitoring loop never constructs hardware objects itself; it receives
// these ports from the caller. The real implementations live in the hardware
// orchestrator, which owns the serial/USB protocols and the fluidic routing
// graph.

// AcquisitionParams is passed through to the spectrometer driver.
type AcquisitionParams struct {
	NumScans   int
	SolventPPM float64
}

// Spectrometer acquires spectra and maintains field homogeneity.
type Spectrometer interface {
	// AcquireSpectrum blocks for the full acquisition and returns the
	// real-reduced spectrum.
	AcquireSpectrum(ctx context.Context, params AcquisitionParams) (*analysis.Spectrum, error)
	// Shim runs a field-homogeneity recalibration.
	Shim(ctx context.Context) error
	// FirmwareVersion reports the instrument server version string.
	FirmwareVersion() (string, error)
}

// SampleTransport moves reaction mixture between reactor and instrument.
type SampleTransport interface {
	MoveSampleToInstrument(ctx context.Context) error
	ReturnSample(ctx context.Context) error
}

// ReactorControl drives the heated/stirred reactor, valves and pumps.
type ReactorControl interface {
	SetTemperatureAndStir(ctx context.Context, targetC float64, rpm int) error
	SetValve(ctx context.Context, name string, open bool) error
	RunContinuousPump(ctx context.Context, id string, rateMLMin float64, forward bool) error
	StopPump(ctx context.Context, id string) error
	// SafeStop brings heating, stirring and all pumps to a known idle
	// state. Called on every path into STOPPED.
	SafeStop(ctx context.Context) error
}
