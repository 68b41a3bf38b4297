package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleResult() *MonitoringResult {
	conv := 42.5
	std := 9.8
	return &MonitoringResult{
		ExperimentID: "abcd1234",
		StartTime:    time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC),
		EndTime:      time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
		StopReason:   "user-cancelled",
		Records: []MeasurementRecord{
			{
				Iteration: 1, Timestamp: time.Date(2026, 8, 25, 9, 15, 0, 0, time.UTC),
				ElapsedMinutes: 15, MonomerArea: 12.3, StandardArea: &std, Ratio: 1.255,
				ConversionPercent: &conv, Success: true, SpectrumFilename: "20260825T091500_abcd1234_001",
			},
			{
				Iteration: 2, Timestamp: time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC),
				ElapsedMinutes: 30, ErrorMessage: "instrument busy",
			},
		},
		Errors: []ErrorLogEntry{
			{
				Timestamp: time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC), Iteration: 2,
				ErrorType: "acquisition", Message: "instrument busy", RetryCount: 3, Context: "measurement",
			},
		},
	}
}

func TestSummaryWriterArtifacts(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSummaryWriter(dir, "polyA", "abcd1234", [][2]string{{"monomer_region", "[5.000, 6.500]"}})
	if err != nil {
		t.Fatalf("NewSummaryWriter failed: %v", err)
	}

	result := sampleResult()
	if err := w.Write(result); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	text, err := os.ReadFile(filepath.Join(dir, "polyA_abcd1234_summary.txt"))
	if err != nil {
		t.Fatalf("text artifact missing: %v", err)
	}
	for _, want := range []string{
		"experiment_id: abcd1234",
		"monomer_region: [5.000, 6.500]",
		"stop_reason: user-cancelled",
		"error/retry log",
		"instrument busy",
	} {
		if !strings.Contains(string(text), want) {
			t.Errorf("text artifact missing %q", want)
		}
	}

	f, err := os.Open(filepath.Join(dir, "polyA_abcd1234_summary.csv"))
	if err != nil {
		t.Fatalf("csv artifact missing: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("csv unreadable: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("csv has %d rows, want header + 2 records", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(csvColumns, ",") {
		t.Errorf("csv header changed: %v", rows[0])
	}
	if rows[1][6] != "42.50" {
		t.Errorf("conversion column = %q, want 42.50", rows[1][6])
	}
	if rows[2][4] != "" || rows[2][6] != "" {
		t.Errorf("failed record must leave optional columns empty: %v", rows[2])
	}
	if rows[2][7] != "false" {
		t.Errorf("failed record success column = %q", rows[2][7])
	}
}

func TestSummaryWriterRewritesWhole(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSummaryWriter(dir, "polyA", "x", nil)
	if err != nil {
		t.Fatalf("NewSummaryWriter failed: %v", err)
	}

	result := sampleResult()
	if err := w.Write(result); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	// Rewrite with one more record; the artifact is replaced, not appended.
	result.Records = append(result.Records, MeasurementRecord{Iteration: 3, Timestamp: time.Now(), Success: true})
	if err := w.Write(result); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	f, _ := os.Open(filepath.Join(dir, "polyA_x_summary.csv"))
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("csv unreadable: %v", err)
	}
	if len(rows) != 4 {
		t.Errorf("csv has %d rows after rewrite, want header + 3", len(rows))
	}
}
