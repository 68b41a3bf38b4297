package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	clearance := flag.Bool("clearance", false, "Run clearance monitoring (purification) instead of conversion monitoring")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("reactorwatch %s\n", Version)
		return
	}

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	experimentID := uuid.New().String()[:8]
	log.Printf("reactorwatch %s starting experiment %s (%s)", Version, config.Experiment.Name, experimentID)

	// User cancellation is advisory: the context is checked between
	// iterations, never mid-transfer.
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received %v, stopping after the in-flight measurement completes", sig)
		cancel()
	}()

	orchestrator := NewOrchestratorClient(&config.Orchestrator)

	if err := CheckFirmware(orchestrator, config.Instrument.MinFirmware); err != nil {
		log.Fatalf("Firmware check failed: %v", err)
	}

	store, err := NewSpectrumStore(config.Experiment.SpectraDir, config.Experiment.CompressSpectra)
	if err != nil {
		log.Fatalf("Failed to prepare spectrum store: %v", err)
	}

	if err := PrepareSystem(ctx, config, orchestrator, orchestrator, orchestrator); err != nil {
		log.Fatalf("System preparation failed: %v", err)
	}

	monitor, err := buildMonitor(config, orchestrator, store, experimentID, *clearance)
	if err != nil {
		log.Fatalf("Failed to build monitor: %v", err)
	}

	if config.Server.Enabled {
		startStatusServer(config, monitor, store)
	}

	result := monitor.Run(ctx)
	log.Printf("Experiment %s finished: %s (%d measurements, %s)",
		experimentID, result.StopReason, len(result.Records), result.EndTime.Sub(result.StartTime).Round(time.Second))
}

// buildMonitor assembles the loop, its workflow and its observers for either
// monitoring mode.
func buildMonitor(config *Config, orchestrator *OrchestratorClient, store *SpectrumStore, experimentID string, clearance bool) (*Monitor, error) {
	opts := MonitorOptions{
		Mode:                ModeConversion,
		Interval:            config.Monitor.MeasurementInterval(),
		MaxDuration:         config.Monitor.MaxMonitoringDuration(),
		ConversionThreshold: config.Monitor.ConversionThresholdPercent,
		ConsecutiveRequired: config.Monitor.ConsecutiveRequired,
		ShimInterval:        config.Monitor.ShimmingInterval,
		ShimRetries:         config.Instrument.ShimRetries,
		MaxRetries:          config.Monitor.MaxRetries,
		RetryDelay:          config.Monitor.RetryDelay(),
		T0Count:             config.Monitor.T0MeasurementCount,
		T0Backoff:           config.Monitor.RetryDelay(),
	}

	workflow := NewWorkflow(config, orchestrator, orchestrator, store, experimentID)
	if clearance {
		if !config.Clearance.Enabled {
			return nil, fmt.Errorf("clearance monitoring requested but clearance section is not enabled")
		}
		opts.Mode = ModeClearance
		opts.ClearanceMultiple = config.Clearance.ThresholdMultiple
		opts.MaxDuration = time.Duration(config.Clearance.MaxHours * float64(time.Hour))
		workflow = NewClearanceWorkflow(config, orchestrator, orchestrator, store, experimentID)
	}

	header := [][2]string{
		{"name", config.Experiment.Name},
		{"version", Version},
		{"monomer_region", config.Analysis.MonomerRegion.String()},
		{"standard_region", config.Analysis.StandardRegion.String()},
		{"noise_region", config.Analysis.NoiseRegion.String()},
		{"snr_threshold", fmt.Sprintf("%.1f", config.Analysis.SNRThreshold)},
		{"measurement_interval_minutes", fmt.Sprintf("%.1f", config.Monitor.MeasurementIntervalMinutes)},
		{"conversion_threshold_percent", fmt.Sprintf("%.1f", config.Monitor.ConversionThresholdPercent)},
	}
	summary, err := NewSummaryWriter(config.Experiment.OutputDir, config.Experiment.Name, experimentID, header)
	if err != nil {
		return nil, err
	}

	var metrics *Metrics
	if config.Prometheus.Enabled {
		metrics = NewMetrics(experimentID)
	}

	monitor := NewMonitor(opts, experimentID, workflow.Acquire, workflow.Shim, summary, metrics)

	if clearance {
		// The recirculation pump runs for the whole purification and is
		// stopped on every path into STOPPED.
		pumpID := config.Clearance.PumpID
		startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelStart()
		if err := orchestrator.RunContinuousPump(startCtx, pumpID, config.Clearance.PumpRateMLMin, true); err != nil {
			return nil, fmt.Errorf("failed to start recirculation pump: %w", err)
		}
		monitor.AddAuxiliaryStop(func(ctx context.Context) error {
			return orchestrator.StopPump(ctx, pumpID)
		})
	}
	monitor.AddAuxiliaryStop(orchestrator.SafeStop)

	if config.MQTT.Enabled {
		publisher, err := NewMQTTPublisher(&config.MQTT, experimentID)
		if err != nil {
			// Dashboards are a convenience; the experiment still runs.
			log.Printf("MQTT: disabled after connect failure: %v", err)
		} else {
			monitor.AddObserver(publisher)
		}
	}

	return monitor, nil
}

// startStatusServer exposes the machine-readable status surface: metrics,
// health, loop state, stored spectra and the live measurement feed.
func startStatusServer(config *Config, monitor *Monitor, store *SpectrumStore) {
	startTime := time.Now()
	hub := NewStatusHub()
	monitor.AddObserver(hub)
	cache := NewSpectrumCache(config.Cache.MaxEntries, store)

	mux := http.NewServeMux()
	if config.Prometheus.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/api/health", handleHealth(monitor, config.Experiment.SpectraDir, startTime))
	mux.HandleFunc("/api/status", handleStatus(monitor))
	mux.HandleFunc("/api/spectrum", handleSpectrum(cache))
	mux.HandleFunc("/ws/status", hub.HandleWS)

	go func() {
		log.Printf("Status server listening on %s", config.Server.Listen)
		if err := http.ListenAndServe(config.Server.Listen, mux); err != nil {
			log.Printf("Status server stopped: %v", err)
		}
	}()
}
