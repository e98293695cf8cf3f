// Package workflow reconstructs probe/LLM interaction graphs from engine
// output, either live from raw stdout lines or post-hoc from report
// entries.
package workflow

// NodeType classifies a workflow node.
type NodeType string

const (
	NodeProbe         NodeType = "probe"
	NodeGenerator     NodeType = "generator"
	NodeDetector      NodeType = "detector"
	NodeLLMResponse   NodeType = "llm_response"
	NodeVulnerability NodeType = "vulnerability"
)

// EdgeType classifies a workflow edge.
type EdgeType string

const (
	EdgePrompt    EdgeType = "prompt"
	EdgeResponse  EdgeType = "response"
	EdgeDetection EdgeType = "detection"
	EdgeChain     EdgeType = "chain"
)

type Node struct {
	NodeID      string         `json:"node_id"`
	NodeType    NodeType       `json:"node_type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	Timestamp   float64        `json:"timestamp"`
}

type Edge struct {
	EdgeID         string         `json:"edge_id"`
	SourceID       string         `json:"source_id"`
	TargetID       string         `json:"target_id"`
	EdgeType       EdgeType       `json:"edge_type"`
	ContentPreview string         `json:"content_preview"`
	FullContent    string         `json:"full_content"`
	Metadata       map[string]any `json:"metadata"`
}

// Finding records one vulnerability discovered along a trace.
type Finding struct {
	VulnerabilityType string   `json:"vulnerability_type"`
	Severity          string   `json:"severity"`
	ProbeName         string   `json:"probe_name"`
	NodePath          []string `json:"node_path"`
	Evidence          string   `json:"evidence"`
}

// Trace groups the nodes and edges belonging to one probe's execution.
type Trace struct {
	TraceID               string         `json:"trace_id"`
	ScanID                string         `json:"scan_id"`
	ProbeName             string         `json:"probe_name"`
	Nodes                 []*Node        `json:"nodes"`
	Edges                 []*Edge        `json:"edges"`
	VulnerabilityFindings []Finding      `json:"vulnerability_findings"`
	Statistics            map[string]any `json:"statistics"`
}

// Graph is the full workflow for one scan.
type Graph struct {
	ScanID      string            `json:"scan_id"`
	Nodes       []*Node           `json:"nodes"`
	Edges       []*Edge           `json:"edges"`
	Traces      []*Trace          `json:"traces"`
	Statistics  map[string]int    `json:"statistics"`
	LayoutHints map[string]string `json:"layout_hints"`
}

// TimelineEvent is one chronological entry derived from the graph.
type TimelineEvent struct {
	EventID     string         `json:"event_id"`
	EventType   string         `json:"event_type"`
	Timestamp   float64        `json:"timestamp"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	NodeID      string         `json:"node_id"`
	Metadata    map[string]any `json:"metadata"`
	Prompt      string         `json:"prompt,omitempty"`
	Response    string         `json:"response,omitempty"`
	DurationMS  any            `json:"duration_ms,omitempty"`
}
