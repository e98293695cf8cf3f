package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-scan/aegis/pkg/models"
)

// Line patterns matched against raw engine stdout.
var (
	// probes.atkgen.Tox:  32%|███▏      | 8/25 [02:14<04:50, 17.09s/it]
	probeProgressRe = regexp.MustCompile(`probes\.(\S+?):\s+(\d+)%`)
	// turn 01: waiting for [llama3.2:3]:  10%|█         | 1/10
	modelTurnRe = regexp.MustCompile(`turn\s+(\d+):\s+waiting for \[([^\]]+)\]`)
	// turn 02: red teaming [attackgene]:  20%|██        | 2/10
	generatorTurnRe = regexp.MustCompile(`turn\s+(\d+):\s+red teaming \[([^\]]+)\]`)
	// atkgen.Tox  toxicity.ToxicityDetector: PASS  ok on  29/29
	resultLineRe = regexp.MustCompile(`([\w.]+)\s+([\w.]+):\s+(PASS|FAIL)\s+ok on\s+(\d+)\s*/\s*(\d+)`)
)

// Analyzer keeps one in-memory workflow graph per scan and grows it as
// output lines arrive. Safe for concurrent use.
type Analyzer struct {
	mu           sync.Mutex
	graphs       map[string]*Graph
	seenProbes   map[string]map[string]bool
	currentProbe map[string]string
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{
		graphs:       make(map[string]*Graph),
		seenProbes:   make(map[string]map[string]bool),
		currentProbe: make(map[string]string),
	}
}

// ProcessLine folds one raw output line into the scan's graph. Lines
// that match no pattern are ignored.
func (a *Analyzer) ProcessLine(scanID, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	g := a.graph(scanID)
	now := nowSeconds()

	if m := probeProgressRe.FindStringSubmatch(line); m != nil {
		percent, _ := strconv.Atoi(m[2])
		a.handleProbeProgress(g, scanID, m[1], percent, now)
		return
	}
	if m := modelTurnRe.FindStringSubmatch(line); m != nil {
		turn, _ := strconv.Atoi(m[1])
		a.handleModelTurn(g, scanID, m[2], turn, now)
		return
	}
	if m := generatorTurnRe.FindStringSubmatch(line); m != nil {
		turn, _ := strconv.Atoi(m[1])
		a.handleGeneratorTurn(g, scanID, m[2], turn, now)
		return
	}
	if m := resultLineRe.FindStringSubmatch(line); m != nil {
		passed, _ := strconv.Atoi(m[4])
		total, _ := strconv.Atoi(m[5])
		a.handleProbeResult(g, scanID, m[1], m[2], m[3], passed, total, now)
	}
}

// BuildFromEntries reconstructs a graph for a completed scan from its
// report entries. Returns nil when the entries yield no nodes.
func (a *Analyzer) BuildFromEntries(scanID string, entries []models.ReportEntry) *Graph {
	if len(entries) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	g := a.graph(scanID)
	now := nowSeconds()

	type counts struct{ passed, failed int }
	probeCounts := make(map[string]*counts)
	probeGoals := make(map[string]string)
	var probeOrder []string
	targetModel := ""

	for _, entry := range entries {
		switch entry.EntryType() {
		case "config":
			targetModel = entry.String("plugins.target_name")

		case "attempt":
			probe := entry.String("probe_classname")
			if probe == "" {
				probe = "unknown"
			}
			c, ok := probeCounts[probe]
			if !ok {
				c = &counts{}
				probeCounts[probe] = c
				probeOrder = append(probeOrder, probe)
			}
			switch entry.Int("status") {
			case 2:
				c.passed++
			case 1:
				c.failed++
			}
			if goal := entry.String("goal"); goal != "" {
				if _, ok := probeGoals[probe]; !ok {
					probeGoals[probe] = goal
				}
			}

		case "eval":
			probe := entry.String("probe")
			detector := entry.String("detector")
			passed := entry.Int("passed")
			total := entry.Int("total")
			if probe != "" && detector != "" && total > 0 {
				result := "FAIL"
				if passed == total {
					result = "PASS"
				}
				a.handleProbeResult(g, scanID, probe, detector, result, passed, total, now)
			}
		}
	}

	// Probes with attempts but no eval entry still get a node.
	for _, probe := range probeOrder {
		if a.seenProbes[scanID][probe] {
			continue
		}
		nodeID := a.ensureProbeNode(g, scanID, probe, now)
		if node := findNode(g, nodeID); node != nil {
			c := probeCounts[probe]
			node.Metadata["status"] = "completed"
			node.Metadata["passed"] = c.passed
			node.Metadata["failed"] = c.failed
			node.Metadata["total"] = c.passed + c.failed
			if goal := probeGoals[probe]; goal != "" {
				node.Description = goal
			}
		}
	}

	if targetModel != "" {
		g.LayoutHints["target_model"] = targetModel
	}

	if len(g.Nodes) == 0 {
		a.clearLocked(scanID)
		return nil
	}
	return cloneGraph(g)
}

// Graph returns a snapshot of the scan's graph, or nil.
func (a *Analyzer) Graph(scanID string) *Graph {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.graphs[scanID]
	if !ok {
		return nil
	}
	return cloneGraph(g)
}

// Timeline returns the graph's nodes as chronological events with
// prompt/response content attached from incoming edges.
func (a *Analyzer) Timeline(scanID string) []TimelineEvent {
	g := a.Graph(scanID)
	if g == nil {
		return nil
	}

	nodes := append([]*Node(nil), g.Nodes...)
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Timestamp < nodes[j].Timestamp
	})

	events := make([]TimelineEvent, 0, len(nodes))
	for i, node := range nodes {
		event := TimelineEvent{
			EventID:     fmt.Sprintf("event_%d", i),
			EventType:   string(node.NodeType),
			Timestamp:   node.Timestamp,
			Title:       node.Name,
			Description: node.Description,
			NodeID:      node.NodeID,
			Metadata:    node.Metadata,
		}
		for _, edge := range g.Edges {
			if edge.TargetID != node.NodeID {
				continue
			}
			switch edge.EdgeType {
			case EdgePrompt:
				event.Prompt = edge.FullContent
			case EdgeResponse:
				event.Response = edge.FullContent
			}
		}
		if latency, ok := node.Metadata["latency_ms"]; ok {
			event.DurationMS = latency
		}
		events = append(events, event)
	}
	return events
}

// Export renders the graph as indented JSON or a Mermaid diagram.
// Returns "" when the scan has no graph.
func (a *Analyzer) Export(scanID, format string) (string, error) {
	g := a.Graph(scanID)
	if g == nil {
		return "", nil
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(g, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case "mermaid":
		return exportMermaid(g), nil
	default:
		return "", fmt.Errorf("unsupported export format: %s", format)
	}
}

// Clear drops all graph data for a scan.
func (a *Analyzer) Clear(scanID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearLocked(scanID)
}

func (a *Analyzer) clearLocked(scanID string) {
	delete(a.graphs, scanID)
	delete(a.seenProbes, scanID)
	delete(a.currentProbe, scanID)
}

// graph returns the scan's graph, creating it on first use. Callers
// hold the lock.
func (a *Analyzer) graph(scanID string) *Graph {
	g, ok := a.graphs[scanID]
	if !ok {
		g = &Graph{
			ScanID: scanID,
			Nodes:  []*Node{},
			Edges:  []*Edge{},
			Traces: []*Trace{},
			Statistics: map[string]int{
				"total_interactions":    0,
				"total_prompts":         0,
				"total_responses":       0,
				"vulnerabilities_found": 0,
				"probes_executed":       0,
			},
			LayoutHints: map[string]string{},
		}
		a.graphs[scanID] = g
		a.seenProbes[scanID] = make(map[string]bool)
	}
	return g
}

func (a *Analyzer) handleProbeProgress(g *Graph, scanID, probe string, percent int, ts float64) {
	nodeID := a.ensureProbeNode(g, scanID, probe, ts)
	a.currentProbe[scanID] = probe
	if node := findNode(g, nodeID); node != nil {
		node.Metadata["progress"] = percent
	}
}

func (a *Analyzer) handleModelTurn(g *Graph, scanID, model string, turn int, ts float64) {
	nodeID := fmt.Sprintf("llm_%s_%d", sanitizeID(model), len(g.Nodes))
	node := &Node{
		NodeID:      nodeID,
		NodeType:    NodeLLMResponse,
		Name:        fmt.Sprintf("%s (turn %d)", model, turn),
		Description: "Waiting for response from " + model,
		Metadata:    map[string]any{"model": model, "turn": turn},
		Timestamp:   ts,
	}
	g.Nodes = append(g.Nodes, node)
	g.Statistics["total_responses"]++
	g.Statistics["total_interactions"]++

	a.linkFromCurrentProbe(g, scanID, node, EdgePrompt,
		fmt.Sprintf("Turn %d: querying %s", turn, model), turn)
}

func (a *Analyzer) handleGeneratorTurn(g *Graph, scanID, generator string, turn int, ts float64) {
	nodeID := fmt.Sprintf("gen_%s_%d", sanitizeID(generator), len(g.Nodes))
	node := &Node{
		NodeID:      nodeID,
		NodeType:    NodeGenerator,
		Name:        fmt.Sprintf("%s (turn %d)", generator, turn),
		Description: "Red teaming attack generation",
		Metadata:    map[string]any{"generator": generator, "turn": turn},
		Timestamp:   ts,
	}
	g.Nodes = append(g.Nodes, node)
	g.Statistics["total_prompts"]++
	g.Statistics["total_interactions"]++

	a.linkFromCurrentProbe(g, scanID, node, EdgeChain,
		fmt.Sprintf("Turn %d: generating attack", turn), turn)
}

func (a *Analyzer) linkFromCurrentProbe(g *Graph, scanID string, node *Node, kind EdgeType, preview string, turn int) {
	probe := a.currentProbe[scanID]
	if probe == "" {
		return
	}
	trace := findTrace(g, probe)
	if trace == nil {
		return
	}
	trace.Nodes = append(trace.Nodes, node)

	edge := &Edge{
		EdgeID:         uuid.NewString(),
		SourceID:       probeNodeID(probe),
		TargetID:       node.NodeID,
		EdgeType:       kind,
		ContentPreview: preview,
		Metadata:       map[string]any{"turn": turn},
	}
	g.Edges = append(g.Edges, edge)
	trace.Edges = append(trace.Edges, edge)
}

func (a *Analyzer) handleProbeResult(g *Graph, scanID, probe, detector, result string, passed, total int, ts float64) {
	a.ensureProbeNode(g, scanID, probe, ts)

	detNodeID := fmt.Sprintf("det_%s_%d", sanitizeID(detector), len(g.Nodes))
	detNode := &Node{
		NodeID:      detNodeID,
		NodeType:    NodeDetector,
		Name:        detector,
		Description: "Detector: " + detector,
		Metadata: map[string]any{
			"result": result,
			"passed": passed,
			"total":  total,
			"failed": total - passed,
		},
		Timestamp: ts,
	}
	g.Nodes = append(g.Nodes, detNode)

	pNodeID := probeNodeID(probe)
	if node := findNode(g, pNodeID); node != nil {
		node.Metadata["status"] = "completed"
		node.Metadata["completed_at"] = ts
	}

	trace := findTrace(g, probe)
	if trace != nil {
		trace.Nodes = append(trace.Nodes, detNode)
		edge := &Edge{
			EdgeID:         uuid.NewString(),
			SourceID:       pNodeID,
			TargetID:       detNodeID,
			EdgeType:       EdgeDetection,
			ContentPreview: fmt.Sprintf("%s: %d/%d ok", result, passed, total),
			FullContent:    fmt.Sprintf("%s %s: %s ok on %d/%d", probe, detector, result, passed, total),
			Metadata:       map[string]any{"result": result, "passed": passed, "total": total},
		}
		g.Edges = append(g.Edges, edge)
		trace.Edges = append(trace.Edges, edge)
	}

	if result != "FAIL" {
		return
	}

	failed := total - passed
	severity := "medium"
	if failed > total/2 {
		severity = "high"
	}

	vulnNodeID := fmt.Sprintf("vuln_%s_%d", sanitizeID(probe), len(g.Nodes))
	vulnNode := &Node{
		NodeID:      vulnNodeID,
		NodeType:    NodeVulnerability,
		Name:        "Vulnerability: " + probe,
		Description: fmt.Sprintf("%d/%d tests failed for %s", failed, total, probe),
		Metadata: map[string]any{
			"severity": severity,
			"failed":   failed,
			"total":    total,
		},
		Timestamp: ts,
	}
	g.Nodes = append(g.Nodes, vulnNode)
	g.Statistics["vulnerabilities_found"]++

	vulnEdge := &Edge{
		EdgeID:         uuid.NewString(),
		SourceID:       detNodeID,
		TargetID:       vulnNodeID,
		EdgeType:       EdgeDetection,
		ContentPreview: fmt.Sprintf("%d failures detected", failed),
		FullContent:    fmt.Sprintf("%d/%d tests failed", failed, total),
		Metadata:       map[string]any{"failed": failed, "total": total},
	}
	g.Edges = append(g.Edges, vulnEdge)

	if trace != nil {
		trace.Nodes = append(trace.Nodes, vulnNode)
		trace.Edges = append(trace.Edges, vulnEdge)
		trace.VulnerabilityFindings = append(trace.VulnerabilityFindings, Finding{
			VulnerabilityType: probe + " failure",
			Severity:          severity,
			ProbeName:         probe,
			NodePath:          []string{pNodeID, detNodeID, vulnNodeID},
			Evidence:          fmt.Sprintf("%s: FAIL ok on %d/%d", detector, passed, total),
		})
	}
}

// ensureProbeNode creates the probe node and its trace on first sight.
func (a *Analyzer) ensureProbeNode(g *Graph, scanID, probe string, ts float64) string {
	nodeID := probeNodeID(probe)
	if a.seenProbes[scanID][probe] {
		return nodeID
	}

	node := &Node{
		NodeID:      nodeID,
		NodeType:    NodeProbe,
		Name:        probe,
		Description: "Security probe: " + probe,
		Metadata:    map[string]any{"status": "running"},
		Timestamp:   ts,
	}
	g.Nodes = append(g.Nodes, node)
	a.seenProbes[scanID][probe] = true
	g.Statistics["probes_executed"]++

	g.Traces = append(g.Traces, &Trace{
		TraceID:               uuid.NewString(),
		ScanID:                scanID,
		ProbeName:             probe,
		Nodes:                 []*Node{node},
		Edges:                 []*Edge{},
		VulnerabilityFindings: []Finding{},
		Statistics:            map[string]any{},
	})
	return nodeID
}

func exportMermaid(g *Graph) string {
	lines := []string{"graph TD"}
	for _, node := range g.Nodes {
		label := strings.ReplaceAll(node.Name, `"`, "'")
		opener, closer := mermaidShape(node.NodeType)
		lines = append(lines, fmt.Sprintf(`  %s%s"%s"%s`, node.NodeID, opener, label, closer))
	}
	for _, edge := range g.Edges {
		lines = append(lines, fmt.Sprintf("  %s -->|%s| %s", edge.SourceID, edge.EdgeType, edge.TargetID))
	}
	return strings.Join(lines, "\n")
}

func mermaidShape(t NodeType) (string, string) {
	switch t {
	case NodeGenerator:
		return "(", ")"
	case NodeDetector:
		return "{", "}"
	case NodeLLMResponse:
		return "([", "])"
	case NodeVulnerability:
		return "[[", "]]"
	default:
		return "[", "]"
	}
}

func probeNodeID(probe string) string {
	return "probe_" + sanitizeID(probe)
}

func sanitizeID(name string) string {
	name = strings.ReplaceAll(name, ".", "_")
	return strings.ReplaceAll(name, ":", "_")
}

func findNode(g *Graph, nodeID string) *Node {
	for _, node := range g.Nodes {
		if node.NodeID == nodeID {
			return node
		}
	}
	return nil
}

func findTrace(g *Graph, probe string) *Trace {
	for _, trace := range g.Traces {
		if trace.ProbeName == probe {
			return trace
		}
	}
	return nil
}

// cloneGraph deep-copies via JSON so snapshots never race the consumer.
func cloneGraph(g *Graph) *Graph {
	data, err := json.Marshal(g)
	if err != nil {
		return nil
	}
	var out Graph
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
