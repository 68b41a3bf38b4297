package main

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHandleStatusServesSnapshot(t *testing.T) {
	m := NewMonitor(fastOptions(), "exp-status", nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	handleStatus(m)(rec, httptest.NewRequest("GET", "/api/status", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var got MonitorStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if got.ExperimentID != "exp-status" {
		t.Errorf("experiment_id = %q", got.ExperimentID)
	}
	if got.State != StateInitializing {
		t.Errorf("state = %q, want initializing before Run", got.State)
	}
}

func TestHandleSpectrum(t *testing.T) {
	store, err := NewSpectrumStore(t.TempDir(), true)
	if err != nil {
		t.Fatalf("NewSpectrumStore failed: %v", err)
	}
	base, err := store.Save(storedSpectrum(), "exp1", 1, time.Now())
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	handler := handleSpectrum(NewSpectrumCache(4, store))

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("GET", "/api/spectrum?file="+base, nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d for stored spectrum", rec.Code)
	}
	var got struct {
		File      string    `json:"file"`
		Axis      []float64 `json:"axis"`
		Intensity []float64 `json:"intensity"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if got.File != base || len(got.Axis) == 0 || len(got.Axis) != len(got.Intensity) {
		t.Errorf("unexpected payload: file=%q axis=%d intensity=%d", got.File, len(got.Axis), len(got.Intensity))
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest("GET", "/api/spectrum?file=absent", nil))
	if rec.Code != 404 {
		t.Errorf("status = %d for missing spectrum, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest("GET", "/api/spectrum?file=../etc/passwd", nil))
	if rec.Code != 400 {
		t.Errorf("status = %d for path traversal attempt, want 400", rec.Code)
	}
}
