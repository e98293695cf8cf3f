package models

// Event kinds emitted by the progress parser and consumed over SSE.
const (
	EventStatus       = "status"
	EventProgress     = "progress"
	EventProbeCount   = "probe_count"
	EventCurrentProbe = "current_probe"
	EventResult       = "result"
	EventReport       = "report"
	EventComplete     = "complete"
	EventError        = "error"
	EventOutput       = "output"
)

// Report types carried by EventReport.
const (
	ReportHTML  = "html"
	ReportJSONL = "jsonl"
)

// ProgressEvent is one parsed engine event. Fields are populated per kind;
// zero-valued fields are omitted on the wire so consumers keep their current
// value for anything an event does not mention.
type ProgressEvent struct {
	EventType string `json:"event_type"`
	ScanID    string `json:"scan_id,omitempty"`

	// status
	Status string `json:"status,omitempty"`

	// progress
	Probe     string `json:"probe,omitempty"`
	Percent   int    `json:"percent,omitempty"`
	Current   int    `json:"current,omitempty"`
	Total     int    `json:"total,omitempty"`
	Elapsed   string `json:"elapsed,omitempty"`
	Remaining string `json:"remaining,omitempty"`

	// probe_count
	Completed   int `json:"completed,omitempty"`
	TotalProbes int `json:"total_probes,omitempty"`

	// result (per-probe and cumulative)
	TestsPassed int `json:"tests_passed,omitempty"`
	TestsFailed int `json:"tests_failed,omitempty"`
	TotalTests  int `json:"total_tests,omitempty"`
	TotalPassed int `json:"total_passed,omitempty"`
	TotalFailed int `json:"total_failed,omitempty"`

	// report
	ReportType string `json:"report_type,omitempty"`
	Path       string `json:"path,omitempty"`

	// complete
	Passed     int               `json:"passed,omitempty"`
	Failed     int               `json:"failed,omitempty"`
	ReportKeys map[string]string `json:"report_keys,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// output and diagnostics
	Line    string `json:"line,omitempty"`
	RawLine string `json:"raw_line,omitempty"`
}

// IsTerminal reports whether the event ends the scan's event stream.
func (e *ProgressEvent) IsTerminal() bool {
	switch e.EventType {
	case EventComplete, EventError:
		return true
	case EventStatus:
		return ParseScanStatus(e.Status).IsTerminal()
	}
	return false
}
