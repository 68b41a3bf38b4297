package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cwsl/reactorwatch/analysis"
)

// MonitorMode selects which stopping rule the loop applies.
type MonitorMode int

const (
	// ModeConversion monitors polymerization conversion against a t0
	// baseline and stops at a configured conversion threshold.
	ModeConversion MonitorMode = iota
	// ModeClearance monitors removal of a free small-molecule signal
	// during purification and stops when the raw peak falls into the
	// noise floor. No t0 baseline is acquired.
	ModeClearance
)

// MonitorState names the loop's current phase.
type MonitorState string

const (
	StateInitializing MonitorState = "initializing"
	StateMeasuring    MonitorState = "measuring"
	StateEvaluating   MonitorState = "evaluating"
	StateWaiting      MonitorState = "waiting"
	StateShimming     MonitorState = "shimming"
	StateStopped      MonitorState = "stopped"
)

// MeasurementObserver receives every appended MeasurementRecord (websocket
// feed, MQTT publisher).
type MeasurementObserver interface {
	ObserveMeasurement(rec MeasurementRecord)
}

// MonitorOptions carries the loop's timing and stopping parameters. All
// durations are explicit so tests can run the loop in milliseconds.
type MonitorOptions struct {
	Mode                MonitorMode
	Interval            time.Duration // wait between measurements
	MaxDuration         time.Duration // wall-clock stop rule
	ConversionThreshold float64       // percent, conversion mode
	ClearanceMultiple   float64       // multiple of noise std, clearance mode
	ConsecutiveRequired int           // successive measurements at threshold before stopping
	ShimInterval        int           // shim every N measurements, 0 disables
	ShimRetries         int
	MaxRetries          int           // per-measurement retry budget
	RetryDelay          time.Duration // fixed backoff between retries
	T0Count             int           // baseline replicate count, conversion mode
	T0Backoff           time.Duration
}

// Monitor drives the measurement loop for one experiment. It owns the
// MonitoringState for the experiment's lifetime; a single control goroutine
// mutates it, the mutex only covers status snapshots for the HTTP surface.
type Monitor struct {
	opts         MonitorOptions
	acquire      AcquireFunc
	shim         ShimFunc
	summary      *SummaryWriter
	metrics      *Metrics
	observers    []MeasurementObserver
	auxStop      []func(context.Context) error
	experimentID string

	mu          sync.Mutex
	state       MonitorState
	iteration   int
	consecutive int
	baseline    *BaselineReference
	records     []MeasurementRecord
	errors      []ErrorLogEntry
	stopReason  string
	startTime   time.Time
}

// NewMonitor wires a monitoring loop. summary, metrics, shim and observers
// may be nil/empty.
func NewMonitor(opts MonitorOptions, experimentID string, acquire AcquireFunc, shim ShimFunc, summary *SummaryWriter, metrics *Metrics) *Monitor {
	if opts.ConsecutiveRequired <= 0 {
		opts.ConsecutiveRequired = 3
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Monitor{
		opts:         opts,
		acquire:      acquire,
		shim:         shim,
		summary:      summary,
		metrics:      metrics,
		experimentID: experimentID,
		state:        StateInitializing,
	}
}

// AddObserver registers a per-measurement observer. Not safe after Run starts.
func (m *Monitor) AddObserver(obs MeasurementObserver) {
	m.observers = append(m.observers, obs)
}

// AddAuxiliaryStop registers a hardware stop hook invoked on every path into
// STOPPED (recirculation pumps, heating).
func (m *Monitor) AddAuxiliaryStop(stop func(context.Context) error) {
	m.auxStop = append(m.auxStop, stop)
}

// MonitorStatus is the snapshot served by the status API.
type MonitorStatus struct {
	ExperimentID   string       `json:"experiment_id"`
	State          MonitorState `json:"state"`
	Iteration      int          `json:"iteration"`
	ElapsedMinutes float64      `json:"elapsed_minutes"`
	LastConversion *float64     `json:"last_conversion,omitempty"`
	Consecutive    int          `json:"consecutive_at_threshold"`
	StopReason     string       `json:"stop_reason,omitempty"`
	Measurements   int          `json:"measurements"`
}

// Status returns a consistent snapshot of the loop state.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := MonitorStatus{
		ExperimentID: m.experimentID,
		State:        m.state,
		Iteration:    m.iteration,
		Consecutive:  m.consecutive,
		StopReason:   m.stopReason,
		Measurements: len(m.records),
	}
	if !m.startTime.IsZero() {
		st.ElapsedMinutes = time.Since(m.startTime).Minutes()
	}
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].Success && m.records[i].ConversionPercent != nil {
			st.LastConversion = m.records[i].ConversionPercent
			break
		}
	}
	return st
}

// Run executes the monitoring loop until a stop rule fires, the wall clock
// expires, or the context is cancelled. It returns a complete result on
// every exit path; a panic anywhere still yields a best-effort result and
// summary artifact.
func (m *Monitor) Run(ctx context.Context) (result *MonitoringResult) {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Monitor: unexpected panic: %v", r)
			result = m.finish(fmt.Sprintf("internal error: %v", r))
		}
	}()

	reason := m.runLoop(ctx)
	return m.finish(reason)
}

func (m *Monitor) runLoop(ctx context.Context) string {
	m.setState(StateInitializing)

	if m.opts.Mode == ModeConversion {
		ref, err := AcquireBaseline(ctx, m.acquire, m.opts.T0Count, m.opts.MaxRetries, m.opts.T0Backoff)
		if err != nil {
			log.Printf("Monitor: %v", err)
			return "baseline acquisition failed: " + err.Error()
		}
		m.mu.Lock()
		m.baseline = ref
		m.mu.Unlock()
	}

	for {
		// Cancellation is advisory: checked between iterations, never
		// mid-measurement, so the fluidics are never abandoned
		// mid-transfer.
		if ctx.Err() != nil {
			return "user-cancelled"
		}
		if time.Since(m.startTime) > m.opts.MaxDuration {
			return fmt.Sprintf("maximum monitoring time reached (%.2f h)", m.opts.MaxDuration.Hours())
		}

		if stop, reason := m.iterate(ctx); stop {
			return reason
		}

		if m.opts.ShimInterval > 0 && m.iteration%m.opts.ShimInterval == 0 {
			m.runShim(ctx)
		}

		m.setState(StateWaiting)
		select {
		case <-time.After(m.opts.Interval):
		case <-ctx.Done():
			return "user-cancelled"
		}
	}
}

// iterate performs one MEASURING + EVALUATING pass. A panic inside the
// iteration is recorded as a failed measurement and the loop continues; a
// single bad timepoint must not kill an hours-long run.
func (m *Monitor) iterate(ctx context.Context) (stop bool, reason string) {
	m.mu.Lock()
	m.iteration++
	iter := m.iteration
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Monitor: iteration %d panicked: %v", iter, r)
			m.recordError(iter, "panic", fmt.Sprintf("%v", r), 0, "iteration")
			m.appendRecord(m.failedRecord(iter, fmt.Sprintf("iteration panic: %v", r)))
			stop, reason = false, ""
		}
	}()

	m.setState(StateMeasuring)
	meas, err := m.measureWithRetry(ctx, iter)

	m.setState(StateEvaluating)
	if err != nil {
		log.Printf("Monitor: measurement %d failed permanently: %v", iter, err)
		m.appendRecord(m.failedRecord(iter, err.Error()))
		return false, ""
	}

	rec := MeasurementRecord{
		Iteration:        iter,
		Timestamp:        time.Now(),
		ElapsedMinutes:   time.Since(m.startTime).Minutes(),
		MonomerArea:      meas.MonomerArea,
		Ratio:            meas.Ratio(),
		Success:          true,
		SpectrumFilename: meas.SpectrumFile,
	}
	if meas.StandardArea > 0 {
		sa := meas.StandardArea
		rec.StandardArea = &sa
	}

	atThreshold := false
	switch m.opts.Mode {
	case ModeConversion:
		conv, ok := analysis.Conversion(meas.MonomerArea, meas.StandardArea, m.baseline.MonomerArea, m.baseline.StandardArea)
		if ok {
			rec.ConversionPercent = &conv
			atThreshold = conv >= m.opts.ConversionThreshold
			log.Printf("Monitor: measurement %d: conversion %.1f%% (ratio %.4g)", iter, conv, rec.Ratio)
		} else {
			log.Printf("Monitor: measurement %d: conversion unknown (monomer %.4g, standard %.4g)", iter, meas.MonomerArea, meas.StandardArea)
		}
	case ModeClearance:
		atThreshold = meas.PeakHeight <= m.opts.ClearanceMultiple*meas.NoiseStd
		log.Printf("Monitor: measurement %d: residual peak height %.4g vs noise floor %.4g", iter, meas.PeakHeight, meas.NoiseStd)
	}

	m.mu.Lock()
	if atThreshold {
		m.consecutive++
	} else {
		m.consecutive = 0
	}
	consecutive := m.consecutive
	m.mu.Unlock()

	m.appendRecord(rec)

	if consecutive >= m.opts.ConsecutiveRequired {
		if m.opts.Mode == ModeClearance {
			return true, fmt.Sprintf("target signal cleared: within %gx noise floor for %d consecutive measurements", m.opts.ClearanceMultiple, consecutive)
		}
		return true, fmt.Sprintf("conversion threshold %.1f%% held for %d consecutive measurements", m.opts.ConversionThreshold, consecutive)
	}
	return false, ""
}

// measureWithRetry wraps the acquisition with a bounded retry loop for
// transient hardware and analysis failures. Delays are interruptible.
func (m *Monitor) measureWithRetry(ctx context.Context, iter int) (*Measurement, error) {
	var lastErr error
	for try := 1; try <= m.opts.MaxRetries; try++ {
		attemptStart := time.Now()
		meas, err := m.acquire(ctx, iter)
		if err == nil {
			if m.metrics != nil {
				m.metrics.ObserveAcquisition(time.Since(attemptStart).Seconds())
			}
			return meas, nil
		}
		lastErr = err
		log.Printf("Monitor: measurement %d attempt %d/%d failed: %v", iter, try, m.opts.MaxRetries, err)
		m.recordError(iter, "acquisition", err.Error(), try, "measurement")
		if m.metrics != nil {
			m.metrics.MeasurementRetry()
		}
		if try < m.opts.MaxRetries {
			select {
			case <-time.After(m.opts.RetryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("cancelled during retry backoff: %w", ctx.Err())
			}
		}
	}
	return nil, lastErr
}

// runShim performs the periodic recalibration with its own bounded retries.
// A persistent failure is logged and tolerated; monitoring continues without
// recalibration rather than losing the experiment.
func (m *Monitor) runShim(ctx context.Context) {
	if m.shim == nil {
		return
	}
	m.setState(StateShimming)
	retries := m.opts.ShimRetries
	if retries <= 0 {
		retries = 1
	}
	for try := 1; try <= retries; try++ {
		if err := m.shim(ctx); err != nil {
			log.Printf("Monitor: shimming attempt %d/%d failed: %v", try, retries, err)
			m.recordError(m.iteration, "shimming", err.Error(), try, "recalibration")
			continue
		}
		log.Printf("Monitor: shimming completed after measurement %d", m.iteration)
		return
	}
	log.Printf("Monitor: WARNING: shimming failed after %d attempts, continuing without recalibration", retries)
}

func (m *Monitor) failedRecord(iter int, msg string) MeasurementRecord {
	m.mu.Lock()
	m.consecutive = 0
	m.mu.Unlock()
	return MeasurementRecord{
		Iteration:      iter,
		Timestamp:      time.Now(),
		ElapsedMinutes: time.Since(m.startTime).Minutes(),
		ErrorMessage:   msg,
	}
}

// appendRecord appends to the authoritative log, rewrites the summary
// artifact and fans the record out to observers and metrics. The artifact is
// rewritten whole after every iteration so a killed process still leaves a
// consistent ordered prefix on disk.
func (m *Monitor) appendRecord(rec MeasurementRecord) {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Record(rec)
	}
	for _, obs := range m.observers {
		obs.ObserveMeasurement(rec)
	}
	if m.summary != nil {
		if err := m.summary.Write(m.interimResult("")); err != nil {
			log.Printf("Monitor: failed to rewrite summary artifact: %v", err)
		}
	}
}

func (m *Monitor) recordError(iter int, errType, msg string, retry int, where string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, ErrorLogEntry{
		Timestamp:  time.Now(),
		Iteration:  iter,
		ErrorType:  errType,
		Message:    msg,
		RetryCount: retry,
		Context:    where,
	})
}

func (m *Monitor) interimResult(reason string) *MonitoringResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]MeasurementRecord, len(m.records))
	copy(records, m.records)
	errors := make([]ErrorLogEntry, len(m.errors))
	copy(errors, m.errors)
	return &MonitoringResult{
		ExperimentID: m.experimentID,
		StartTime:    m.startTime,
		EndTime:      time.Now(),
		StopReason:   reason,
		Records:      records,
		Errors:       errors,
		Baseline:     m.baseline,
	}
}

// finish is the single path into STOPPED: stop auxiliary hardware, persist
// the final artifact, return the result record.
func (m *Monitor) finish(reason string) *MonitoringResult {
	m.mu.Lock()
	m.state = StateStopped
	m.stopReason = reason
	m.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stop := range m.auxStop {
		if err := stop(stopCtx); err != nil {
			log.Printf("Monitor: auxiliary hardware stop failed: %v", err)
		}
	}

	result := m.interimResult(reason)
	if m.summary != nil {
		if err := m.summary.Write(result); err != nil {
			log.Printf("Monitor: failed to write final summary: %v", err)
		}
	}
	if m.metrics != nil {
		m.metrics.SetState(string(StateStopped))
	}
	log.Printf("Monitor: stopped after %d measurements: %s", len(result.Records), reason)
	return result
}

func (m *Monitor) setState(s MonitorState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SetState(string(s))
	}
}
