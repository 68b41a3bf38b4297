package main

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// PrepareSystem runs the one sanctioned concurrent phase: the instrument
// recalibration sequence (solvent transfer + shim + return) in parallel with
// reactor preparation (positioning, heating, gas valve, line priming). The
// two branches touch disjoint hardware, so the fork/join barrier is the only
// synchronization needed. Both must finish before monitoring starts.
func PrepareSystem(ctx context.Context, cfg *Config, spectrometer Spectrometer, transport SampleTransport, reactor ReactorControl) error {
	var wg sync.WaitGroup
	var shimErr, reactorErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		shimErr = prepareInstrument(ctx, spectrometer, transport)
	}()
	go func() {
		defer wg.Done()
		reactorErr = prepareReactor(ctx, cfg, reactor)
	}()
	wg.Wait()

	if shimErr != nil {
		return fmt.Errorf("instrument preparation failed: %w", shimErr)
	}
	if reactorErr != nil {
		return fmt.Errorf("reactor preparation failed: %w", reactorErr)
	}
	log.Printf("Prep: system preparation complete")
	return nil
}

// prepareInstrument loads clean solvent into the flow cell, shims on it and
// returns the line.
func prepareInstrument(ctx context.Context, spectrometer Spectrometer, transport SampleTransport) error {
	log.Printf("Prep: moving solvent to instrument for initial shim")
	if err := transport.MoveSampleToInstrument(ctx); err != nil {
		return fmt.Errorf("solvent transfer failed: %w", err)
	}
	if err := spectrometer.Shim(ctx); err != nil {
		// Still try to recover the line before reporting.
		if rerr := transport.ReturnSample(ctx); rerr != nil {
			log.Printf("Prep: solvent return failed after shim error: %v", rerr)
		}
		return fmt.Errorf("initial shim failed: %w", err)
	}
	if err := transport.ReturnSample(ctx); err != nil {
		return fmt.Errorf("solvent return failed: %w", err)
	}
	return nil
}

// prepareReactor positions and conditions the reactor while shimming runs.
func prepareReactor(ctx context.Context, cfg *Config, reactor ReactorControl) error {
	log.Printf("Prep: setting reactor to %.1f C, %d rpm", cfg.Reactor.TemperatureC, cfg.Reactor.StirRPM)
	if err := reactor.SetTemperatureAndStir(ctx, cfg.Reactor.TemperatureC, cfg.Reactor.StirRPM); err != nil {
		return fmt.Errorf("failed to set temperature/stirring: %w", err)
	}
	if err := reactor.SetValve(ctx, "inert_gas", true); err != nil {
		return fmt.Errorf("failed to open inert gas valve: %w", err)
	}
	return nil
}
