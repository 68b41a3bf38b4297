package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cwsl/reactorwatch/analysis"
)

// Config represents the application configuration
type Config struct {
	Experiment   ExperimentConfig   `yaml:"experiment"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Analysis     AnalysisConfig     `yaml:"analysis"`
	Clearance    ClearanceConfig    `yaml:"clearance"`
	Reactor      ReactorConfig      `yaml:"reactor"`
	Instrument   InstrumentConfig   `yaml:"instrument"`
	Server       ServerConfig       `yaml:"server"`
	Prometheus   PrometheusConfig   `yaml:"prometheus"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Cache        CacheConfig        `yaml:"cache"`
}

// ExperimentConfig identifies one experiment run and where its artifacts go
type ExperimentConfig struct {
	Name            string `yaml:"name"`
	OutputDir       string `yaml:"output_dir"`
	SpectraDir      string `yaml:"spectra_dir"`
	CompressSpectra bool   `yaml:"compress_spectra"` // gzip persisted axis/intensity pairs
}

// MonitorConfig contains the conversion-monitoring loop settings
type MonitorConfig struct {
	MeasurementIntervalMinutes float64 `yaml:"measurement_interval_minutes"`
	ShimmingInterval           int     `yaml:"shimming_interval"` // shim every N measurements (0 = never)
	ConversionThresholdPercent float64 `yaml:"conversion_threshold_percent"`
	MaxMonitoringHours         float64 `yaml:"max_monitoring_hours"`
	T0MeasurementCount         int     `yaml:"t0_measurement_count"`
	MaxRetries                 int     `yaml:"max_retries"`          // per-measurement retry budget
	RetryDelaySeconds          float64 `yaml:"retry_delay_seconds"`  // fixed backoff between retries
	ConsecutiveRequired        int     `yaml:"consecutive_required"` // measurements at threshold before stopping
}

// AnalysisConfig contains the spectral analysis settings
type AnalysisConfig struct {
	MonomerRegion        analysis.Region `yaml:"monomer_region"`
	StandardRegion       analysis.Region `yaml:"standard_region"`
	NoiseRegion          analysis.Region `yaml:"noise_region"`
	SNRThreshold         float64         `yaml:"snr_threshold"`
	SNRThresholdStandard float64         `yaml:"snr_threshold_standard"`
	MaxBaselineOrder     int             `yaml:"max_baseline_order"`
	BaselineImprovement  float64         `yaml:"baseline_improvement"`
}

// ClearanceConfig governs the purification clearance-monitoring variant:
// no t0 baseline, stop when the residual peak drops into the noise.
type ClearanceConfig struct {
	Enabled           bool            `yaml:"enabled"`
	TargetRegion      analysis.Region `yaml:"target_region"`
	ThresholdMultiple float64         `yaml:"threshold_multiple"` // stop when peak height <= multiple * noise std
	MaxHours          float64         `yaml:"max_hours"`
	PumpID            string          `yaml:"pump_id"`
	PumpRateMLMin     float64         `yaml:"pump_rate_ml_min"`
}

// ReactorConfig contains reactor setpoints applied during preparation
type ReactorConfig struct {
	TemperatureC float64 `yaml:"temperature_c"`
	StirRPM      int     `yaml:"stir_rpm"`
}

// InstrumentConfig contains spectrometer settings
type InstrumentConfig struct {
	MinFirmware string  `yaml:"min_firmware"` // minimum spectrometer firmware version (empty = no check)
	ShimRetries int     `yaml:"shim_retries"` // bounded retries for a shimming pass
	NumScans    int     `yaml:"num_scans"`    // scans per acquisition
	SolventPPM  float64 `yaml:"solvent_ppm"`  // reference solvent peak for the orchestrator
}

// ServerConfig contains the status HTTP server settings
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// PrometheusConfig contains metrics exposure settings
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MQTTConfig contains settings for publishing measurement records to the lab broker
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// CacheConfig bounds the reference spectrum cache
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// MeasurementInterval returns the wait between measurements as a duration.
func (mc *MonitorConfig) MeasurementInterval() time.Duration {
	return time.Duration(mc.MeasurementIntervalMinutes * float64(time.Minute))
}

// MaxMonitoringDuration returns the wall-clock stop bound as a duration.
func (mc *MonitorConfig) MaxMonitoringDuration() time.Duration {
	return time.Duration(mc.MaxMonitoringHours * float64(time.Hour))
}

// RetryDelay returns the fixed backoff between measurement retries.
func (mc *MonitorConfig) RetryDelay() time.Duration {
	return time.Duration(mc.RetryDelaySeconds * float64(time.Second))
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Experiment.Name == "" {
		c.Experiment.Name = "experiment"
	}
	if c.Experiment.OutputDir == "" {
		c.Experiment.OutputDir = "data/experiments"
	}
	if c.Experiment.SpectraDir == "" {
		c.Experiment.SpectraDir = "data/spectra"
	}
	if c.Orchestrator.BaseURL == "" {
		c.Orchestrator.BaseURL = "http://localhost:8080"
	}
	if c.Orchestrator.TimeoutSeconds == 0 {
		c.Orchestrator.TimeoutSeconds = 600
	}
	if c.Monitor.MeasurementIntervalMinutes == 0 {
		c.Monitor.MeasurementIntervalMinutes = 15
	}
	if c.Monitor.ShimmingInterval == 0 {
		c.Monitor.ShimmingInterval = 4 // shim every 4th measurement
	}
	if c.Monitor.ConversionThresholdPercent == 0 {
		c.Monitor.ConversionThresholdPercent = 95
	}
	if c.Monitor.MaxMonitoringHours == 0 {
		c.Monitor.MaxMonitoringHours = 24
	}
	if c.Monitor.T0MeasurementCount == 0 {
		c.Monitor.T0MeasurementCount = 3
	}
	if c.Monitor.MaxRetries == 0 {
		c.Monitor.MaxRetries = 3
	}
	if c.Monitor.RetryDelaySeconds == 0 {
		c.Monitor.RetryDelaySeconds = 30
	}
	if c.Monitor.ConsecutiveRequired == 0 {
		c.Monitor.ConsecutiveRequired = 3
	}
	if c.Analysis.SNRThreshold == 0 {
		c.Analysis.SNRThreshold = analysis.DefaultSNRThreshold
	}
	if c.Analysis.SNRThresholdStandard == 0 {
		c.Analysis.SNRThresholdStandard = analysis.DefaultSNRThresholdStandard
	}
	if c.Analysis.MaxBaselineOrder == 0 {
		c.Analysis.MaxBaselineOrder = 3
	}
	if c.Analysis.BaselineImprovement == 0 {
		c.Analysis.BaselineImprovement = 0.05
	}
	if c.Clearance.ThresholdMultiple == 0 {
		c.Clearance.ThresholdMultiple = 3
	}
	if c.Clearance.MaxHours == 0 {
		c.Clearance.MaxHours = 12
	}
	if c.Instrument.ShimRetries == 0 {
		c.Instrument.ShimRetries = 2
	}
	if c.Instrument.NumScans == 0 {
		c.Instrument.NumScans = 32
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8090"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "reactorwatch"
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 32
	}
}

// Validate checks region and threshold sanity before any hardware is touched.
func (c *Config) Validate() error {
	regions := []struct {
		name   string
		region analysis.Region
	}{
		{"monomer_region", c.Analysis.MonomerRegion},
		{"noise_region", c.Analysis.NoiseRegion},
	}
	for _, r := range regions {
		if r.region.Low >= r.region.High {
			return fmt.Errorf("analysis.%s: low %.3f must be below high %.3f", r.name, r.region.Low, r.region.High)
		}
	}
	// The standard region is optional; when present it must be well-formed.
	if c.Analysis.StandardRegion != (analysis.Region{}) && c.Analysis.StandardRegion.Low >= c.Analysis.StandardRegion.High {
		return fmt.Errorf("analysis.standard_region: low must be below high")
	}
	if c.Monitor.ConversionThresholdPercent < 0 || c.Monitor.ConversionThresholdPercent > 100 {
		return fmt.Errorf("monitor.conversion_threshold_percent must be within [0,100]")
	}
	if c.Clearance.Enabled && c.Clearance.TargetRegion.Low >= c.Clearance.TargetRegion.High {
		return fmt.Errorf("clearance.target_region: low must be below high")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}
