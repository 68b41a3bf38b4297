package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// HealthStatus is the payload of /api/health: loop state plus the host the
// orchestrator runs on. Spectra fill disks quickly on long runs, so disk
// usage is part of health.
type HealthStatus struct {
	Healthy        bool          `json:"healthy"`
	State          MonitorState  `json:"state"`
	Uptime         string        `json:"uptime"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemUsedPercent float64       `json:"mem_used_percent"`
	DiskFreeGB     float64       `json:"disk_free_gb"`
	Issues         []string      `json:"issues"`
	Timestamp      time.Time     `json:"timestamp"`
	StatusSnapshot MonitorStatus `json:"monitor"`
}

// handleHealth serves host and loop health for the lab dashboard.
func handleHealth(monitor *Monitor, spectraDir string, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Healthy:        true,
			Issues:         []string{},
			Timestamp:      time.Now(),
			Uptime:         time.Since(startTime).Round(time.Second).String(),
			StatusSnapshot: monitor.Status(),
		}
		status.State = status.StatusSnapshot.State

		if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
			status.CPUPercent = percents[0]
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			status.MemUsedPercent = vm.UsedPercent
			if vm.UsedPercent > 95 {
				status.Healthy = false
				status.Issues = append(status.Issues, "memory nearly exhausted")
			}
		}
		if du, err := disk.Usage(spectraDir); err == nil {
			status.DiskFreeGB = float64(du.Free) / (1 << 30)
			if du.Free < 1<<30 {
				status.Healthy = false
				status.Issues = append(status.Issues, "less than 1 GiB free for spectra")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !status.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Health: failed to encode response: %v", err)
		}
	}
}

// handleStatus serves the current MonitoringState snapshot.
func handleStatus(monitor *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(monitor.Status()); err != nil {
			log.Printf("Status: failed to encode response: %v", err)
		}
	}
}

// handleSpectrum serves a stored spectrum by its base name (as carried in
// MeasurementRecord.SpectrumFilename) through the read-through cache, so
// dashboards can plot past timepoints without re-reading gzip pairs on every
// request.
func handleSpectrum(cache *SpectrumCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		base := r.URL.Query().Get("file")
		if base == "" || strings.ContainsAny(base, "/\\") {
			http.Error(w, "missing or invalid file parameter", http.StatusBadRequest)
			return
		}
		spec, err := cache.Get(base)
		if err != nil {
			http.Error(w, "spectrum not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		payload := struct {
			File      string    `json:"file"`
			Axis      []float64 `json:"axis"`
			Intensity []float64 `json:"intensity"`
		}{File: base, Axis: spec.Axis, Intensity: spec.Intensity}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("Status: failed to encode spectrum %s: %v", base, err)
		}
	}
}
