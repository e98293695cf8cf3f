package reports

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/aegis-scan/aegis/pkg/models"
)

// Results composes the detailed results view for a scan. Results for
// active scans are always built live; completed scans are cached, keyed
// by the local file's mtime when the report is still on disk and forever
// when it came from the blob store or the runner.
func (r *Reader) Results(ctx context.Context, rec *models.ScanRecord, active bool) *models.ScanResults {
	if rec == nil {
		return nil
	}
	scanID := rec.ScanID

	if active {
		return r.buildResults(ctx, rec)
	}

	cached := r.cachedResults(scanID)
	if cached != nil && cached.immutable {
		return cached.data
	}

	reportFile := filepath.Join(r.reportsDir, "garak."+scanID+".report.jsonl")
	if info, err := os.Stat(reportFile); err == nil {
		mtime := info.ModTime()
		if cached != nil && cached.mtime.Equal(mtime) {
			return cached.data
		}
		result := r.buildResults(ctx, rec)
		if result != nil {
			r.putResults(scanID, &resultsCache{data: result, mtime: mtime})
		}
		return result
	}

	// No local file; the entry layers decide whether anything exists.
	result := r.buildResults(ctx, rec)
	if result != nil {
		r.putResults(scanID, &resultsCache{data: result, immutable: true})
	}
	return result
}

func (r *Reader) buildResults(ctx context.Context, rec *models.ScanRecord) *models.ScanResults {
	return &models.ScanResults{
		ScanID:      rec.ScanID,
		Status:      rec.Status,
		Config:      rec.Config,
		CreatedAt:   formatTime(&rec.CreatedAt),
		StartedAt:   formatTime(rec.StartedAt),
		CompletedAt: formatTime(rec.CompletedAt),
		Duration:    rec.Duration(),
		Results: models.ResultCounts{
			Passed:          rec.Passed,
			Failed:          rec.Failed,
			TotalProbes:     rec.TotalProbes,
			CompletedProbes: rec.CompletedProbes,
			CurrentProbe:    rec.CurrentProbe,
			Progress:        rec.Progress,
		},
		Summary: models.ResultSummary{
			TotalTests:   rec.Passed + rec.Failed,
			PassRate:     rec.PassRate(),
			Status:       rec.Status,
			ErrorMessage: rec.ErrorMessage,
		},
		Digest:          r.Digest(ctx, rec.ScanID),
		HTMLReportPath:  rec.HTMLReportPath,
		JSONLReportPath: rec.JSONLReportPath,
		ReportKey:       rec.ReportKey,
		HTMLReportKey:   rec.HTMLReportKey,
		OutputLines:     rec.RecentOutput,
	}
}

// Digest extracts the digest entry's eval block from the report, or nil
// when the report or the entry is absent.
func (r *Reader) Digest(ctx context.Context, scanID string) map[string]any {
	entries := r.Entries(ctx, scanID)
	for _, entry := range entries {
		if entry.EntryType() == "digest" {
			return entry.Map("eval")
		}
	}
	return nil
}

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
