package models

// StartScanResponse is returned by POST /api/v1/scan/start.
type StartScanResponse struct {
	ScanID  string `json:"scan_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HistoryFilter carries the query parameters of GET /api/v1/scan/history.
type HistoryFilter struct {
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
	Statuses  []string
	Target    string
	Search    string
	StartDate string
	EndDate   string
}

// HistoryItem is one row of the paginated scan history.
type HistoryItem struct {
	ScanID       string     `json:"scan_id"`
	TargetType   string     `json:"target_type"`
	TargetName   string     `json:"target_name"`
	Status       ScanStatus `json:"status"`
	StartedAt    *string    `json:"started_at"`
	CompletedAt  *string    `json:"completed_at"`
	TotalProbes  int        `json:"total_probes"`
	Passed       int        `json:"passed"`
	Failed       int        `json:"failed"`
	PassRate     float64    `json:"pass_rate"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// HistoryResponse is the paginated envelope for scan history.
type HistoryResponse struct {
	Scans      []HistoryItem `json:"scans"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// ScanResults is the composed response of GET /api/v1/scan/{id}/results.
type ScanResults struct {
	ScanID      string         `json:"scan_id"`
	Status      ScanStatus     `json:"status"`
	Config      *ScanConfig    `json:"config"`
	CreatedAt   *string        `json:"created_at"`
	StartedAt   *string        `json:"started_at"`
	CompletedAt *string        `json:"completed_at"`
	Duration    *float64       `json:"duration"`
	Results     ResultCounts   `json:"results"`
	Summary     ResultSummary  `json:"summary"`
	Digest      map[string]any `json:"digest"`

	HTMLReportPath  string `json:"html_report_path,omitempty"`
	JSONLReportPath string `json:"jsonl_report_path,omitempty"`
	ReportKey       string `json:"report_key,omitempty"`
	HTMLReportKey   string `json:"html_report_key,omitempty"`

	OutputLines []string `json:"output_lines"`
}

// ResultCounts is the live counters block inside ScanResults.
type ResultCounts struct {
	Passed          int     `json:"passed"`
	Failed          int     `json:"failed"`
	TotalProbes     int     `json:"total_probes"`
	CompletedProbes int     `json:"completed_probes"`
	CurrentProbe    string  `json:"current_probe,omitempty"`
	Progress        float64 `json:"progress"`
}

// ResultSummary is the rollup block inside ScanResults.
type ResultSummary struct {
	TotalTests   int        `json:"total_tests"`
	PassRate     float64    `json:"pass_rate"`
	Status       ScanStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// ProbeSecurity is the static knowledge attached to a probe.
type ProbeSecurity struct {
	Category        string   `json:"category"`
	Severity        string   `json:"severity"`
	Description     string   `json:"description"`
	RiskExplanation string   `json:"risk_explanation"`
	Mitigation      string   `json:"mitigation"`
	CWEIDs          []string `json:"cwe_ids"`
	OWASPLLM        []string `json:"owasp_llm"`
}

// ProbeDetail is one probe's breakdown inside ProbeDetailsResponse.
type ProbeDetail struct {
	ProbeClassname string         `json:"probe_classname"`
	Category       string         `json:"category"`
	Passed         int            `json:"passed"`
	Failed         int            `json:"failed"`
	Total          int            `json:"total"`
	PassRate       float64        `json:"pass_rate"`
	Goal           string         `json:"goal,omitempty"`
	Eval           *ProbeEval     `json:"eval,omitempty"`
	Security       *ProbeSecurity `json:"security"`
}

// ProbeEval is the detector evaluation summary recorded for a probe.
type ProbeEval struct {
	Detector string `json:"detector"`
	Passed   int    `json:"passed"`
	Total    int    `json:"total"`
}

// ProbeDetailsResponse is the paginated per-probe breakdown of a scan.
type ProbeDetailsResponse struct {
	ScanID      string        `json:"scan_id"`
	TotalProbes int           `json:"total_probes"`
	Page        int           `json:"page"`
	PageSize    int           `json:"page_size"`
	Probes      []ProbeDetail `json:"probes"`
}

// ProbeAttempt is one rendered attempt inside ProbeAttemptsResponse.
type ProbeAttempt struct {
	UUID            string         `json:"uuid"`
	Seq             int            `json:"seq"`
	Status          string         `json:"status"`
	PromptText      string         `json:"prompt_text"`
	OutputText      string         `json:"output_text"`
	AllOutputs      []string       `json:"all_outputs"`
	Triggers        []string       `json:"triggers"`
	DetectorResults map[string]any `json:"detector_results"`
	Goal            string         `json:"goal,omitempty"`
}

// ProbeAttemptsResponse is the paginated attempt list for one probe.
type ProbeAttemptsResponse struct {
	ScanID         string         `json:"scan_id"`
	ProbeClassname string         `json:"probe_classname"`
	Security       *ProbeSecurity `json:"security"`
	TotalAttempts  int            `json:"total_attempts"`
	TotalPassed    int            `json:"total_passed"`
	TotalFailed    int            `json:"total_failed"`
	FilteredTotal  int            `json:"filtered_total"`
	Page           int            `json:"page"`
	PageSize       int            `json:"page_size"`
	Attempts       []ProbeAttempt `json:"attempts"`
}

// DailyTrend is one day's bucket inside Statistics.
type DailyTrend struct {
	Date        string  `json:"date"`
	ScanCount   int     `json:"scan_count"`
	TotalPassed int     `json:"total_passed"`
	TotalFailed int     `json:"total_failed"`
	AvgPassRate float64 `json:"avg_pass_rate"`
}

// FailingProbe is one entry of the top-failing-probes list.
type FailingProbe struct {
	ProbeCategory string  `json:"probe_category"`
	FailureCount  int     `json:"failure_count"`
	TotalCount    int     `json:"total_count"`
	FailureRate   float64 `json:"failure_rate"`
}

// TargetStats is one (target_type, target_name) rollup.
type TargetStats struct {
	TargetType  string  `json:"target_type"`
	TargetName  string  `json:"target_name"`
	ScanCount   int     `json:"scan_count"`
	AvgPassRate float64 `json:"avg_pass_rate"`
	LastScanned string  `json:"last_scanned,omitempty"`
}

// Statistics is the aggregate response of GET /api/v1/scan/statistics.
type Statistics struct {
	TotalScans      int      `json:"total_scans"`
	CompletedScans  int      `json:"completed_scans"`
	FailedScans     int      `json:"failed_scans"`
	CancelledScans  int      `json:"cancelled_scans"`
	RunningScans    int      `json:"running_scans"`
	TotalTests      int      `json:"total_tests"`
	TotalPassed     int      `json:"total_passed"`
	TotalFailed     int      `json:"total_failed"`
	OverallPassRate float64  `json:"overall_pass_rate"`
	AvgPassRate     float64  `json:"avg_pass_rate"`
	MinPassRate     *float64 `json:"min_pass_rate"`
	MaxPassRate     *float64 `json:"max_pass_rate"`

	DailyTrends      []DailyTrend   `json:"daily_trends"`
	TopFailingProbes []FailingProbe `json:"top_failing_probes"`
	TargetBreakdown  []TargetStats  `json:"target_breakdown"`
}
