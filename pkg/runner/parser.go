// Package runner owns the scan engine child processes: command construction,
// output parsing, per-scan event queues, cancellation, and artifact upload.
package runner

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aegis-scan/aegis/pkg/models"
)

// Output line patterns, checked in order. The engine writes tqdm progress
// bars with \r, per-probe detector verdicts, and report paths to a merged
// stdout/stderr stream.
var (
	unknownProbesRe = regexp.MustCompile(`Unknown probes.*?:\s*(.+)`)
	exceptionRe     = regexp.MustCompile(`(?:^|\s)(?:ModuleNotFoundError|ImportError|RuntimeError|FileNotFoundError|ConnectionError|TimeoutError|ValueError|KeyError|TypeError|AttributeError|PermissionError|OSError):`)

	// "probes.web_injection.MarkdownImageExfil:  42%|████| 5/12 [00:55<01:13, 10.55s/it]"
	fullProgressRe = regexp.MustCompile(`(probes\.\S+):\s+(\d+)%\|[^|]*\|\s*(\d+)/(\d+)\s+\[([^<]+)<([^,]+),`)

	// "probes.ansiescape.AnsiEscaped:   6%"
	simpleProgressRe = regexp.MustCompile(`(probes\.\S+):\s+(\d+)%`)

	// "1  3/51 [00:52<13:08, 16.44s/it]" (outer probe counter, no probe name)
	probeCountRe = regexp.MustCompile(`(\d+)\s+(\d+)/(\d+)\s+\[`)

	// "web_injection.MarkdownImageExfil  web_injection.MarkdownExfilContent: PASS  ok on   59/  60"
	probeResultRe = regexp.MustCompile(`([\w.]+)\s+([\w.]+):\s+(PASS|FAIL)`)

	ratioRe = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)

	htmlReportRe  = regexp.MustCompile(`report html summary being written to\s+(.+\.html)`)
	jsonlReportRe = regexp.MustCompile(`report closed.*?([/\w\-.]+\.jsonl)`)

	passedCountRe = regexp.MustCompile(`(?i)passed[:\s]+(\d+)`)
	failedCountRe = regexp.MustCompile(`(?i)failed[:\s]+(\d+)`)
)

// Parser turns raw engine output lines into ProgressEvents. It is stateful:
// cumulative test tallies and the probe-completion counter survive across
// lines. Not safe for concurrent use; each scan gets its own Parser.
type Parser struct {
	scanID string

	completedProbes    int
	totalProbes        int
	totalPassed        int
	totalFailed        int
	lastCompletedProbe string
}

// NewParser returns a Parser for one scan's output stream.
func NewParser(scanID string) *Parser {
	return &Parser{scanID: scanID}
}

// CompletedProbes returns the number of probes the parser has seen finish.
func (p *Parser) CompletedProbes() int { return p.completedProbes }

// Totals returns the cumulative (passed, failed) test tallies.
func (p *Parser) Totals() (int, int) { return p.totalPassed, p.totalFailed }

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ParseLine parses one trimmed output line. It returns nil when the line
// matches no known pattern; callers forward such lines as plain output.
func (p *Parser) ParseLine(line string) *models.ProgressEvent {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if ev := p.checkErrors(line); ev != nil {
		return ev
	}

	if m := fullProgressRe.FindStringSubmatch(line); m != nil {
		return &models.ProgressEvent{
			EventType: models.EventProgress,
			Probe:     m[1],
			Percent:   atoi(m[2]),
			Current:   atoi(m[3]),
			Total:     atoi(m[4]),
			Elapsed:   strings.TrimSpace(m[5]),
			Remaining: strings.TrimSpace(m[6]),
		}
	}

	if m := simpleProgressRe.FindStringSubmatch(line); m != nil {
		return &models.ProgressEvent{
			EventType: models.EventProgress,
			Probe:     m[1],
			Percent:   atoi(m[2]),
		}
	}

	// Outer probe counter lines carry neither a probe name nor a percent.
	if !strings.Contains(line, "probes.") && !strings.Contains(line, "%") {
		if m := probeCountRe.FindStringSubmatch(line); m != nil {
			p.completedProbes = atoi(m[2])
			p.totalProbes = atoi(m[3])
			return &models.ProgressEvent{
				EventType:   models.EventProbeCount,
				Completed:   p.completedProbes,
				TotalProbes: p.totalProbes,
			}
		}
	}

	// A PASS/FAIL verdict marks a probe module as done. One module can emit
	// several detector verdicts; only the first bumps the counter.
	if m := probeResultRe.FindStringSubmatch(line); m != nil {
		if p.lastCompletedProbe != m[1] {
			p.completedProbes++
			p.lastCompletedProbe = m[1]
		}
	}

	if strings.Contains(line, "probes.") {
		for _, part := range strings.Fields(line) {
			if strings.HasPrefix(part, "probes.") {
				return &models.ProgressEvent{
					EventType: models.EventCurrentProbe,
					Probe:     strings.TrimRight(part, ":,;"),
				}
			}
		}
	}

	upper := strings.ToUpper(line)
	if (strings.Contains(upper, "PASS") || strings.Contains(upper, "FAIL")) &&
		strings.Contains(strings.ToLower(line), "ok on") {
		if m := ratioRe.FindStringSubmatch(line); m != nil {
			passed := atoi(m[1])
			total := atoi(m[2])
			failed := total - passed
			p.totalPassed += passed
			p.totalFailed += failed
			return &models.ProgressEvent{
				EventType:   models.EventResult,
				TestsPassed: passed,
				TestsFailed: failed,
				TotalTests:  total,
				TotalPassed: p.totalPassed,
				TotalFailed: p.totalFailed,
			}
		}
	}

	if m := htmlReportRe.FindStringSubmatch(line); m != nil {
		return &models.ProgressEvent{
			EventType:  models.EventReport,
			ReportType: models.ReportHTML,
			Path:       strings.TrimSpace(m[1]),
		}
	}

	if m := jsonlReportRe.FindStringSubmatch(line); m != nil {
		return &models.ProgressEvent{
			EventType:  models.EventReport,
			ReportType: models.ReportJSONL,
			Path:       strings.TrimSpace(m[1]),
		}
	}

	lower := strings.ToLower(line)
	if strings.Contains(lower, "passed") || strings.Contains(lower, "failed") {
		pm := passedCountRe.FindStringSubmatch(line)
		fm := failedCountRe.FindStringSubmatch(line)
		if pm != nil || fm != nil {
			// Aggregate summary lines replace the running tallies.
			if pm != nil {
				p.totalPassed = atoi(pm[1])
			}
			if fm != nil {
				p.totalFailed = atoi(fm[1])
			}
			return &models.ProgressEvent{
				EventType:   models.EventResult,
				TotalPassed: p.totalPassed,
				TotalFailed: p.totalFailed,
			}
		}
	}

	return nil
}

// checkErrors matches fatal engine output: unknown-probe rejections, the
// engine's own error marker, and trailing Python exception lines. Plain
// PASS/FAIL verdicts never match.
func (p *Parser) checkErrors(line string) *models.ProgressEvent {
	if strings.Contains(line, "Unknown probes") {
		msg := line
		if m := unknownProbesRe.FindStringSubmatch(line); m != nil {
			msg = "Unknown probes: " + strings.TrimSpace(m[1])
		}
		return &models.ProgressEvent{EventType: models.EventError, Message: msg}
	}

	if strings.Contains(line, "❌") {
		return &models.ProgressEvent{EventType: models.EventError, Message: line}
	}

	if exceptionRe.MatchString(line) {
		return &models.ProgressEvent{EventType: models.EventError, Message: line}
	}

	return nil
}
