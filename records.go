package main

import "time"

// Measurement is the outcome of one successful sample-transfer + acquisition
// + integration pass, before conversion is computed.
type Measurement struct {
	MonomerArea  float64 `json:"monomer_area"`
	StandardArea float64 `json:"standard_area"` // 0 when no standard region is configured
	NoiseStd     float64 `json:"noise_std"`
	PeakHeight   float64 `json:"peak_height"` // tallest peak in the target region
	SpectrumFile string  `json:"spectrum_file"`
}

// Ratio returns the monomer/standard area ratio, or 0 when undefined.
func (m *Measurement) Ratio() float64 {
	if m.StandardArea <= 0 {
		return 0
	}
	return m.MonomerArea / m.StandardArea
}

// MeasurementRecord is the authoritative per-timepoint event log entry.
// Records are appended strictly in acquisition order and never mutated.
type MeasurementRecord struct {
	Iteration         int       `json:"iteration"`
	Timestamp         time.Time `json:"timestamp"`
	ElapsedMinutes    float64   `json:"elapsed_minutes"`
	MonomerArea       float64   `json:"monomer_area"`
	StandardArea      *float64  `json:"standard_area,omitempty"`
	Ratio             float64   `json:"ratio"`
	ConversionPercent *float64  `json:"conversion_percent,omitempty"`
	Success           bool      `json:"success"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	SpectrumFilename  string    `json:"spectrum_filename"`
}

// ErrorLogEntry captures one retry or failure for the summary artifact's
// trailing error log section.
type ErrorLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Iteration  int       `json:"iteration"`
	ErrorType  string    `json:"error_type"`
	Message    string    `json:"error_message"`
	RetryCount int       `json:"retry_count"`
	Context    string    `json:"context"`
}

// BaselineReference is the averaged, outlier-tolerant t0 reference built
// before monitoring starts. Immutable once created.
type BaselineReference struct {
	MonomerArea  float64             `json:"monomer_area"`  // mean of successful t0 monomer areas
	StandardArea float64             `json:"standard_area"` // mean of successful t0 standard areas
	Ratio        float64             `json:"ratio"`         // mean of per-measurement ratios, not a ratio of means
	SampleCount  int                 `json:"sample_count"`
	Sources      []MeasurementRecord `json:"source_measurements"`
}

// MonitoringResult is returned from every exit path of the monitoring loop.
type MonitoringResult struct {
	ExperimentID string              `json:"experiment_id"`
	StartTime    time.Time           `json:"start_time"`
	EndTime      time.Time           `json:"end_time"`
	StopReason   string              `json:"stop_reason"`
	Records      []MeasurementRecord `json:"measurements"`
	Errors       []ErrorLogEntry     `json:"errors"`
	Baseline     *BaselineReference  `json:"baseline,omitempty"`
}
