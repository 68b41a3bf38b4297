package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cwsl/reactorwatch/analysis"
)

// OrchestratorConfig locates the hardware orchestrator service, which owns
// the pump/valve/hotplate serial protocols and the fluidic routing graph.
type OrchestratorConfig struct {
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"` // per call; acquisitions take minutes
}

// OrchestratorClient adapts the orchestrator's HTTP surface to the hardware
// ports. All calls block until the hardware operation completes, matching
// the control loop's expectations.
type OrchestratorClient struct {
	baseURL string
	http    *http.Client
}

var (
	_ Spectrometer    = (*OrchestratorClient)(nil)
	_ SampleTransport = (*OrchestratorClient)(nil)
	_ ReactorControl  = (*OrchestratorClient)(nil)
)

func NewOrchestratorClient(cfg *OrchestratorConfig) *OrchestratorClient {
	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &OrchestratorClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *OrchestratorClient) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("orchestrator call %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("orchestrator call %s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return nil
}

// AcquireSpectrum triggers an acquisition and reduces the returned complex
// intensities to their real component.
func (c *OrchestratorClient) AcquireSpectrum(ctx context.Context, params AcquisitionParams) (*analysis.Spectrum, error) {
	req := map[string]any{
		"num_scans":   params.NumScans,
		"solvent_ppm": params.SolventPPM,
	}
	var resp struct {
		Axis          []float64 `json:"axis"`
		IntensityReal []float64 `json:"intensity_real"`
		IntensityImag []float64 `json:"intensity_imag"`
	}
	if err := c.post(ctx, "/api/spectrometer/acquire", req, &resp); err != nil {
		return nil, err
	}
	return &analysis.Spectrum{Axis: resp.Axis, Intensity: resp.IntensityReal}, nil
}

func (c *OrchestratorClient) Shim(ctx context.Context) error {
	return c.post(ctx, "/api/spectrometer/shim", nil, nil)
}

func (c *OrchestratorClient) FirmwareVersion() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var resp struct {
		Firmware string `json:"firmware"`
	}
	if err := c.post(ctx, "/api/spectrometer/info", nil, &resp); err != nil {
		return "", err
	}
	return resp.Firmware, nil
}

func (c *OrchestratorClient) MoveSampleToInstrument(ctx context.Context) error {
	return c.post(ctx, "/api/transfer/to_instrument", nil, nil)
}

func (c *OrchestratorClient) ReturnSample(ctx context.Context) error {
	return c.post(ctx, "/api/transfer/return", nil, nil)
}

func (c *OrchestratorClient) SetTemperatureAndStir(ctx context.Context, targetC float64, rpm int) error {
	return c.post(ctx, "/api/reactor/setpoint", map[string]any{"temperature_c": targetC, "rpm": rpm}, nil)
}

func (c *OrchestratorClient) SetValve(ctx context.Context, name string, open bool) error {
	return c.post(ctx, "/api/valve/set", map[string]any{"name": name, "open": open}, nil)
}

func (c *OrchestratorClient) RunContinuousPump(ctx context.Context, id string, rateMLMin float64, forward bool) error {
	return c.post(ctx, "/api/pump/run", map[string]any{"id": id, "rate_ml_min": rateMLMin, "forward": forward}, nil)
}

func (c *OrchestratorClient) StopPump(ctx context.Context, id string) error {
	return c.post(ctx, "/api/pump/stop", map[string]any{"id": id}, nil)
}

func (c *OrchestratorClient) SafeStop(ctx context.Context) error {
	return c.post(ctx, "/api/reactor/safe_stop", nil, nil)
}
