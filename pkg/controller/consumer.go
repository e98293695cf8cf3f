package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aegis-scan/aegis/pkg/models"
)

const (
	consumerMaxRetries = 3
	// consumerStartDelay gives the runner a moment to register the scan
	// before the first stream attempt.
	consumerStartDelay = 500 * time.Millisecond
)

// consumeProgress mirrors the runner's SSE stream for one scan into the
// registry, forwards raw lines to the workflow analyzer, and persists on
// every terminal-affecting event. Runs as a background goroutine for the
// lifetime of the scan.
func (s *Service) consumeProgress(scanID string) {
	ctx := context.Background()
	time.Sleep(consumerStartDelay)

	for attempt := 1; attempt <= consumerMaxRetries; attempt++ {
		err := s.streamOnce(ctx, scanID)
		if err == nil {
			s.finishStream(ctx, scanID)
			return
		}

		slog.Error("Progress stream error",
			"scan_id", scanID, "attempt", attempt, "error", err)
		if attempt < consumerMaxRetries {
			time.Sleep(time.Duration(2*attempt) * time.Second)
			continue
		}

		s.failIfActive(ctx, scanID, fmt.Sprintf("Lost connection to runner service: %v", err))
	}
}

// streamOnce opens the SSE stream and applies events until EOF. A nil
// return means the stream ended normally.
func (s *Service) streamOnce(ctx context.Context, scanID string) error {
	resp, err := s.runner.OpenProgress(ctx, scanID)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("progress endpoint returned %d: %s", resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev models.ProgressEvent
		if err := json.Unmarshal([]byte(line[6:]), &ev); err != nil {
			continue
		}

		s.applyEvent(ctx, scanID, &ev)

		if ev.RawLine != "" {
			s.analyzer.ProcessLine(scanID, ev.RawLine)
		}
	}
	return scanner.Err()
}

// finishStream promotes a scan whose stream ended without a terminal
// event. The runner closes the queue after the last event, so a still
// running status here means the terminal event was lost.
func (s *Service) finishStream(ctx context.Context, scanID string) {
	now := time.Now()
	s.registry.Update(scanID, func(r *models.ScanRecord) {
		if r.Status == models.StatusRunning || r.Status == models.StatusPending {
			r.Status = models.StatusCompleted
			r.Progress = 100
			r.CompletedAt = &now
		}
	})
	s.syncToDB(ctx, scanID)
}

func (s *Service) failIfActive(ctx context.Context, scanID, message string) {
	now := time.Now()
	changed := false
	s.registry.Update(scanID, func(r *models.ScanRecord) {
		if r.Status == models.StatusRunning || r.Status == models.StatusPending {
			r.Status = models.StatusFailed
			r.ErrorMessage = message
			r.CompletedAt = &now
			changed = true
		}
	})
	if changed {
		s.syncToDB(ctx, scanID)
	}
}

// applyEvent folds one SSE event into the registry record. Terminal
// statuses absorb everything after them: a cancel racing the still
// draining stream must not be overwritten by progress, completion, or
// error events. Report artifacts from an in-flight completion are the
// one exception and still merge.
func (s *Service) applyEvent(ctx context.Context, scanID string, ev *models.ProgressEvent) {
	persist := false
	now := time.Now()

	s.registry.Update(scanID, func(r *models.ScanRecord) {
		if r.Status.IsTerminal() {
			switch ev.EventType {
			case models.EventReport:
				s.applyReportPaths(r, scanID, ev)
				persist = true
			case models.EventComplete:
				mergeReportKeys(r, ev)
				persist = true
			}
			return
		}

		switch ev.EventType {
		case models.EventStatus:
			r.Status = models.ParseScanStatus(ev.Status)
			if r.Status == models.StatusRunning && r.StartedAt == nil {
				r.StartedAt = &now
			}
			if r.Status == models.StatusCancelled {
				r.CompletedAt = &now
				persist = true
			}

		case models.EventProgress:
			r.CurrentProbe = ev.Probe
			r.Progress = float64(ev.Percent)
			r.CurrentIteration = ev.Current
			r.TotalIterations = ev.Total
			r.ElapsedTime = ev.Elapsed
			r.EstimatedRemaining = ev.Remaining
			r.Status = models.StatusRunning
			if r.StartedAt == nil {
				r.StartedAt = &now
			}

		case models.EventProbeCount:
			r.CompletedProbes = ev.Completed
			r.TotalProbes = ev.TotalProbes

		case models.EventCurrentProbe:
			r.CurrentProbe = ev.Probe

		case models.EventResult:
			r.Passed = ev.TotalPassed
			r.Failed = ev.TotalFailed

		case models.EventReport:
			s.applyReportPaths(r, scanID, ev)
			persist = true

		case models.EventComplete:
			r.Status = models.StatusCompleted
			r.Progress = 100
			r.CompletedAt = &now
			if ev.Passed != 0 || ev.Failed != 0 {
				r.Passed = ev.Passed
				r.Failed = ev.Failed
			}
			mergeReportKeys(r, ev)
			persist = true

		case models.EventError:
			r.Status = models.StatusFailed
			r.ErrorMessage = ev.Message
			r.CompletedAt = &now
			persist = true

		case models.EventOutput:
			r.AppendOutput(ev.Line)
		}
	})

	if persist {
		s.syncToDB(ctx, scanID)
	}
}

// applyReportPaths renames the reported artifact to the scan-id name and
// records the resulting path on the record.
func (s *Service) applyReportPaths(r *models.ScanRecord, scanID string, ev *models.ProgressEvent) {
	final := ev.Path
	if ev.Path != "" {
		if renamed := s.renameReportFile(scanID, ev.Path, ev.ReportType); renamed != "" {
			final = renamed
		}
	}
	switch ev.ReportType {
	case models.ReportHTML:
		r.HTMLReportPath = final
	case models.ReportJSONL:
		r.JSONLReportPath = final
	}
}

func mergeReportKeys(r *models.ScanRecord, ev *models.ProgressEvent) {
	if key := ev.ReportKeys[models.ReportJSONL]; key != "" {
		r.ReportKey = key
	}
	if key := ev.ReportKeys[models.ReportHTML]; key != "" {
		r.HTMLReportKey = key
	}
}

// renameReportFile renames an engine-named artifact to the scan-id name.
// The engine generates its own run UUID for filenames; renaming to
// garak.{scan_id}.* lets every later lookup go by scan ID. The sibling
// hitlog is renamed along with the jsonl report. Returns the new path,
// or "" when the rename did not happen.
func (s *Service) renameReportFile(scanID, originalPath, reportType string) string {
	var suffix string
	switch reportType {
	case models.ReportHTML:
		suffix = "report.html"
	case models.ReportJSONL:
		suffix = "report.jsonl"
	default:
		return ""
	}

	if _, err := os.Stat(originalPath); err != nil {
		slog.Warn("Report file not found for rename", "path", originalPath)
		return ""
	}

	dir := filepath.Dir(originalPath)
	dst := filepath.Join(dir, "garak."+scanID+"."+suffix)
	if originalPath == dst {
		return dst
	}

	if err := os.Rename(originalPath, dst); err != nil {
		slog.Error("Report rename failed", "src", originalPath, "dst", dst, "error", err)
		return ""
	}
	slog.Info("Renamed report", "from", filepath.Base(originalPath), "to", filepath.Base(dst))

	if reportType == models.ReportJSONL {
		base := filepath.Base(originalPath)
		engineUUID := strings.TrimSuffix(strings.TrimPrefix(base, "garak."), ".report.jsonl")
		hitlogSrc := filepath.Join(dir, "garak."+engineUUID+".hitlog.jsonl")
		if _, err := os.Stat(hitlogSrc); err == nil {
			hitlogDst := filepath.Join(dir, "garak."+scanID+".hitlog.jsonl")
			if err := os.Rename(hitlogSrc, hitlogDst); err != nil {
				slog.Error("Hitlog rename failed", "src", hitlogSrc, "error", err)
			}
		}
	}
	return dst
}
