package reports

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aegis-scan/aegis/pkg/models"
)

// ProbeDetails parses the report into a per-probe breakdown enriched
// with security knowledge, filtered, sorted worst pass rate first, and
// paginated. Returns nil when no report exists for the scan.
func (r *Reader) ProbeDetails(ctx context.Context, scanID, probeFilter string, page, pageSize int) *models.ProbeDetailsResponse {
	entries := r.Entries(ctx, scanID)
	if entries == nil {
		return nil
	}

	type tally struct {
		passed int
		failed int
		goal   string
		eval   *models.ProbeEval
	}
	probes := make(map[string]*tally)

	for _, entry := range entries {
		switch entry.EntryType() {
		case "attempt":
			probe := entry.String("probe_classname")
			if probe == "" {
				probe = "unknown"
			}
			t, ok := probes[probe]
			if !ok {
				t = &tally{goal: entry.String("goal")}
				probes[probe] = t
			}
			switch entry.Int("status") {
			case 2:
				t.passed++
			case 1:
				t.failed++
			}

		case "eval":
			probe := entry.String("probe")
			t, ok := probes[probe]
			if !ok {
				continue
			}
			total := entry.Int("total")
			if total == 0 {
				total = entry.Int("total_evaluated")
			}
			t.eval = &models.ProbeEval{
				Detector: entry.String("detector"),
				Passed:   entry.Int("passed"),
				Total:    total,
			}
		}
	}

	results := make([]models.ProbeDetail, 0, len(probes))
	for name, t := range probes {
		total := t.passed + t.failed
		passRate := 0.0
		if total > 0 {
			passRate = round1(float64(t.passed) / float64(total) * 100)
		}
		results = append(results, models.ProbeDetail{
			ProbeClassname: name,
			Category:       strings.SplitN(name, ".", 2)[0],
			Passed:         t.passed,
			Failed:         t.failed,
			Total:          total,
			PassRate:       passRate,
			Goal:           t.goal,
			Eval:           t.eval,
			Security:       ProbeMetadata(name),
		})
	}

	if probeFilter != "" {
		pf := strings.ToLower(probeFilter)
		filtered := results[:0]
		for _, p := range results {
			if strings.Contains(strings.ToLower(p.ProbeClassname), pf) ||
				strings.Contains(strings.ToLower(p.Security.Category), pf) {
				filtered = append(filtered, p)
			}
		}
		results = filtered
	}

	// Worst pass rate first.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].PassRate < results[j].PassRate
	})

	total := len(results)
	start, end := pageBounds(page, pageSize, total)

	return &models.ProbeDetailsResponse{
		ScanID:      scanID,
		TotalProbes: total,
		Page:        page,
		PageSize:    pageSize,
		Probes:      results[start:end],
	}
}

// ProbeAttempts lists individual attempts for one probe. Pass/fail
// totals count every attempt of the probe; the status filter only
// narrows the returned page. Returns nil when no report exists.
func (r *Reader) ProbeAttempts(ctx context.Context, scanID, probeClassname, statusFilter string, page, pageSize int) *models.ProbeAttemptsResponse {
	entries := r.Entries(ctx, scanID)
	if entries == nil {
		return nil
	}

	totalPassed, totalFailed := 0, 0
	var attempts []models.ProbeAttempt

	for _, entry := range entries {
		if entry.EntryType() != "attempt" || entry.String("probe_classname") != probeClassname {
			continue
		}

		var status string
		switch entry.Int("status") {
		case 1:
			status = "failed"
			totalFailed++
		case 2:
			status = "passed"
			totalPassed++
		default:
			status = "unknown"
		}

		if statusFilter != "" && status != statusFilter {
			continue
		}

		attempts = append(attempts, models.ProbeAttempt{
			UUID:            entry.String("uuid"),
			Seq:             entry.Int("seq"),
			Status:          status,
			PromptText:      extractPromptText(entry),
			OutputText:      firstOutputText(entry),
			AllOutputs:      allOutputTexts(entry),
			Triggers:        attemptTriggers(entry),
			DetectorResults: entry.Map("detector_results"),
			Goal:            entry.String("goal"),
		})
	}

	filteredTotal := len(attempts)
	start, end := pageBounds(page, pageSize, filteredTotal)

	return &models.ProbeAttemptsResponse{
		ScanID:         scanID,
		ProbeClassname: probeClassname,
		Security:       ProbeMetadata(probeClassname),
		TotalAttempts:  totalPassed + totalFailed,
		TotalPassed:    totalPassed,
		TotalFailed:    totalFailed,
		FilteredTotal:  filteredTotal,
		Page:           page,
		PageSize:       pageSize,
		Attempts:       attempts[start:end],
	}
}

// extractPromptText pulls the first turn's content text from an attempt.
func extractPromptText(entry models.ReportEntry) string {
	prompt := entry.Map("prompt")
	turns, _ := prompt["turns"].([]any)
	if len(turns) == 0 {
		return ""
	}
	turn, _ := turns[0].(map[string]any)
	switch content := turn["content"].(type) {
	case map[string]any:
		s, _ := content["text"].(string)
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(content)
	}
}

func firstOutputText(entry models.ReportEntry) string {
	outputs := entry.Slice("outputs")
	if len(outputs) == 0 {
		return ""
	}
	return outputText(outputs[0])
}

func allOutputTexts(entry models.ReportEntry) []string {
	outputs := entry.Slice("outputs")
	result := make([]string, 0, len(outputs))
	for _, o := range outputs {
		result = append(result, outputText(o))
	}
	return result
}

func outputText(o any) string {
	switch v := o.(type) {
	case map[string]any:
		s, _ := v["text"].(string)
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func attemptTriggers(entry models.ReportEntry) []string {
	notes := entry.Map("notes")
	raw, _ := notes["triggers"].([]any)
	triggers := make([]string, 0, len(raw))
	for _, t := range raw {
		if s, ok := t.(string); ok {
			triggers = append(triggers, s)
		}
	}
	return triggers
}

func pageBounds(page, pageSize, total int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
