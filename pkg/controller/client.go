package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/aegis-scan/aegis/pkg/models"
	"github.com/aegis-scan/aegis/pkg/services"
)

// Per-call timeouts against the runner service. The progress stream is
// the exception: it gets a connect timeout but an unbounded read, since
// a scan can run for hours between events.
const (
	healthTimeout  = 5 * time.Second
	pluginsTimeout = 60 * time.Second
	startTimeout   = 30 * time.Second
	cancelTimeout  = 10 * time.Second
	fetchTimeout   = 30 * time.Second
	connectTimeout = 10 * time.Second
)

// RunnerClient talks to the runner service's HTTP API.
type RunnerClient struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

func NewRunnerClient(baseURL string) *RunnerClient {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &RunnerClient{
		baseURL: baseURL,
		http:    &http.Client{},
		stream: &http.Client{
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				ResponseHeaderTimeout: connectTimeout,
			},
		},
	}
}

// BaseURL returns the runner service base URL.
func (c *RunnerClient) BaseURL() string {
	return c.baseURL
}

// Health returns the runner's health payload.
func (c *RunnerClient) Health(ctx context.Context) (map[string]any, error) {
	return c.getJSON(ctx, "/health", healthTimeout)
}

// Version returns the runner's engine version payload.
func (c *RunnerClient) Version(ctx context.Context) (map[string]any, error) {
	return c.getJSON(ctx, "/version", healthTimeout)
}

// ListPlugins returns the plugin names the engine reports for a kind
// (probes, detectors, generators, buffs). Plugin enumeration shells out
// to the engine on the runner side, hence the long timeout.
func (c *RunnerClient) ListPlugins(ctx context.Context, kind string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, pluginsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/plugins/"+kind, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, services.NewValidationError("kind", "invalid plugin type: "+kind)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: plugin listing returned %d", services.ErrUpstream, resp.StatusCode)
	}

	var body struct {
		Plugins []string `json:"plugins"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrUpstream, err)
	}
	return body.Plugins, nil
}

// StartScan submits a scan to the runner under a pre-assigned scan ID.
func (c *RunnerClient) StartScan(ctx context.Context, scanID string, cfg *models.ScanConfig) error {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{
		"scan_id": scanID,
		"config":  cfg,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scans", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", services.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return services.ErrEngineUnavailable
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: scan start returned %d: %s", services.ErrUpstream, resp.StatusCode, body)
	}
	return nil
}

// CancelScan asks the runner to terminate the scan's child process.
func (c *RunnerClient) CancelScan(ctx context.Context, scanID string) error {
	ctx, cancel := context.WithTimeout(ctx, cancelTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/scans/"+scanID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", services.ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return services.ErrNotCancellable
	default:
		return fmt.Errorf("%w: cancel returned %d", services.ErrUpstream, resp.StatusCode)
	}
}

// FetchReport downloads an artifact from the runner's spool directory.
// Returns (nil, nil) when the runner does not have the file.
func (c *RunnerClient) FetchReport(ctx context.Context, filename string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reports/"+filename, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: report fetch returned %d", services.ErrUpstream, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// OpenProgress opens the runner's SSE stream for a scan. The caller owns
// the response body. Reads are unbounded; cancel ctx to abort.
func (c *RunnerClient) OpenProgress(ctx context.Context, scanID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/scans/"+scanID+"/progress", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	return c.stream.Do(req)
}

func (c *RunnerClient) getJSON(ctx context.Context, path string, timeout time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", services.ErrUpstream, path, resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrUpstream, err)
	}
	return out, nil
}
