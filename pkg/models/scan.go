// Package models defines the shared scan domain types exchanged between
// the runner, the controller, and the HTTP surfaces.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ScanStatus is the lifecycle state of a scan.
type ScanStatus string

const (
	StatusPending   ScanStatus = "pending"
	StatusRunning   ScanStatus = "running"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
	StatusCancelled ScanStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing: once a scan reaches a
// terminal status no event may move it back to pending/running.
func (s ScanStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseScanStatus maps a wire status string to a ScanStatus.
// Unknown values fall back to pending.
func ParseScanStatus(s string) ScanStatus {
	switch ScanStatus(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return ScanStatus(s)
	}
	return StatusPending
}

// ScanConfig is the immutable request spec for one scan. Generator and probe
// options are generator-specific JSON blobs and stay opaque maps; they are
// only validated on the JSON round-trip boundary.
type ScanConfig struct {
	TargetType string   `json:"target_type"`
	TargetName string   `json:"target_name"`
	Probes     []string `json:"probes,omitempty"`
	Detectors  []string `json:"detectors,omitempty"`
	Buffs      []string `json:"buffs,omitempty"`

	Generations   int     `json:"generations,omitempty"`
	EvalThreshold float64 `json:"eval_threshold,omitempty"`
	Seed          *int    `json:"seed,omitempty"`

	ParallelRequests int `json:"parallel_requests,omitempty"`
	ParallelAttempts int `json:"parallel_attempts,omitempty"`

	GeneratorOptions map[string]any `json:"generator_options,omitempty"`
	ProbeOptions     map[string]any `json:"probe_options,omitempty"`

	ProbeTags    string `json:"probe_tags,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	Deprefix                   bool `json:"deprefix,omitempty"`
	ExtendedDetectors          bool `json:"extended_detectors,omitempty"`
	SkipUnknown                bool `json:"skip_unknown,omitempty"`
	ContinueOnError            bool `json:"continue_on_error,omitempty"`
	CollectTiming              bool `json:"collect_timing,omitempty"`
	BuffsIncludeOriginalPrompt bool `json:"buffs_include_original_prompt,omitempty"`
	NoReport                   bool `json:"no_report,omitempty"`

	Verbose         int      `json:"verbose,omitempty"`
	TimeoutPerProbe *int     `json:"timeout_per_probe,omitempty"`
	ReportThreshold *float64 `json:"report_threshold,omitempty"`
	HitRate         *float64 `json:"hit_rate,omitempty"`
	ConfigFile      string   `json:"config_file,omitempty"`

	ExcludeProbes    string `json:"exclude_probes,omitempty"`
	ExcludeDetectors string `json:"exclude_detectors,omitempty"`
	OutputDir        string `json:"output_dir,omitempty"`
	ReportPrefix     string `json:"report_prefix,omitempty"`
}

// Validate checks field ranges. The returned error messages are surfaced
// verbatim to API clients.
func (c *ScanConfig) Validate() error {
	if c.TargetType == "" {
		return errors.New("target_type is required")
	}
	if c.TargetName == "" {
		return errors.New("target_name is required")
	}
	if c.Generations != 0 && (c.Generations < 1 || c.Generations > 500) {
		return fmt.Errorf("generations must be between 1 and 500, got %d", c.Generations)
	}
	if c.EvalThreshold < 0 || c.EvalThreshold > 1 {
		return fmt.Errorf("eval_threshold must be between 0 and 1, got %g", c.EvalThreshold)
	}
	if c.Verbose < 0 || c.Verbose > 3 {
		return fmt.Errorf("verbose must be between 0 and 3, got %d", c.Verbose)
	}
	if c.TimeoutPerProbe != nil && (*c.TimeoutPerProbe < 1 || *c.TimeoutPerProbe > 3600) {
		return fmt.Errorf("timeout_per_probe must be between 1 and 3600, got %d", *c.TimeoutPerProbe)
	}
	if c.ReportThreshold != nil && (*c.ReportThreshold < 0 || *c.ReportThreshold > 1) {
		return fmt.Errorf("report_threshold must be between 0 and 1, got %g", *c.ReportThreshold)
	}
	if c.HitRate != nil && (*c.HitRate < 0 || *c.HitRate > 1) {
		return fmt.Errorf("hit_rate must be between 0 and 1, got %g", *c.HitRate)
	}
	return nil
}

// ProbeTally holds per-category attempt counts from a report.
type ProbeTally struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// MaxRecentOutputLines caps the per-scan output ring kept for diagnostics.
const MaxRecentOutputLines = 200

// ScanRecord is the mutable state of a scan. The runner keeps one per active
// child process; the controller keeps the canonical copy in its registry and
// persists it on every terminal-affecting event.
type ScanRecord struct {
	ScanID     string     `json:"scan_id"`
	Status     ScanStatus `json:"status"`
	TargetType string     `json:"target_type,omitempty"`
	TargetName string     `json:"target_name,omitempty"`

	Progress           float64 `json:"progress"`
	CurrentProbe       string  `json:"current_probe,omitempty"`
	CompletedProbes    int     `json:"completed_probes"`
	TotalProbes        int     `json:"total_probes"`
	CurrentIteration   int     `json:"current_iteration"`
	TotalIterations    int     `json:"total_iterations"`
	Passed             int     `json:"passed"`
	Failed             int     `json:"failed"`
	ElapsedTime        string  `json:"elapsed_time,omitempty"`
	EstimatedRemaining string  `json:"estimated_remaining,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Local artifact paths as emitted by the engine (engine-UUID names
	// until the controller renames them).
	JSONLReportPath string `json:"jsonl_report_path,omitempty"`
	HTMLReportPath  string `json:"html_report_path,omitempty"`

	// Object store keys, set once after upload and never mutated.
	ReportKey     string `json:"report_key,omitempty"`
	HTMLReportKey string `json:"html_report_key,omitempty"`

	Config     *ScanConfig           `json:"config,omitempty"`
	ProbeStats map[string]ProbeTally `json:"probe_stats,omitempty"`

	// RecentOutput is a bounded ring of raw output lines (newest last).
	RecentOutput []string `json:"recent_output,omitempty"`
}

// PassRate returns passed/(passed+failed) as a percentage, or 0 when the
// scan recorded no tests.
func (r *ScanRecord) PassRate() float64 {
	total := r.Passed + r.Failed
	if total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(total) * 100.0
}

// AppendOutput appends a raw line to the recent-output ring, evicting the
// oldest lines beyond MaxRecentOutputLines.
func (r *ScanRecord) AppendOutput(line string) {
	r.RecentOutput = append(r.RecentOutput, line)
	if len(r.RecentOutput) > MaxRecentOutputLines {
		r.RecentOutput = r.RecentOutput[len(r.RecentOutput)-MaxRecentOutputLines:]
	}
}

// Clone returns a deep-enough copy for handing snapshots to HTTP handlers
// and WebSocket pushes without racing the event consumer.
func (r *ScanRecord) Clone() *ScanRecord {
	c := *r
	if r.RecentOutput != nil {
		c.RecentOutput = append([]string(nil), r.RecentOutput...)
	}
	if r.ProbeStats != nil {
		c.ProbeStats = make(map[string]ProbeTally, len(r.ProbeStats))
		for k, v := range r.ProbeStats {
			c.ProbeStats[k] = v
		}
	}
	return &c
}

// Duration returns the scan wall time in seconds, or nil before completion.
func (r *ScanRecord) Duration() *float64 {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return nil
	}
	d := r.CompletedAt.Sub(*r.StartedAt).Seconds()
	return &d
}
