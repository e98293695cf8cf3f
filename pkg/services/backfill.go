package services

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aegis-scan/aegis/pkg/models"
)

// backfillMetaKey marks one-time report backfill completion in db_meta.
const backfillMetaKey = "backfill_completed"

// BackfillFromReports inserts scan rows for report files that predate the
// database. Runs once; subsequent startups are a no-op via the db_meta
// marker. Returns the number of inserted rows.
func (s *ScanStore) BackfillFromReports(ctx context.Context, reportsDir string) (int, error) {
	done, err := s.GetMeta(ctx, backfillMetaKey)
	if err != nil {
		return 0, err
	}
	if done == "true" {
		return 0, nil
	}

	matches, err := filepath.Glob(filepath.Join(reportsDir, "garak.*.report.jsonl"))
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, reportFile := range matches {
		record := recordFromReportFile(reportFile)
		if record == nil {
			continue
		}
		if _, err := s.Get(ctx, record.ScanID); err == nil {
			continue
		}
		if err := s.Upsert(ctx, record); err != nil {
			slog.Warn("Backfill insert failed",
				"file", filepath.Base(reportFile), "error", err)
			continue
		}
		inserted++
	}

	if err := s.SetMeta(ctx, backfillMetaKey, "true"); err != nil {
		return inserted, err
	}
	if inserted > 0 {
		slog.Info("Backfilled scans from existing report files", "count", inserted)
	}
	return inserted, nil
}

// recordFromReportFile reconstructs a completed ScanRecord from a report's
// JSON-Lines entries, or nil when the file is unusable.
func recordFromReportFile(reportFile string) *models.ScanRecord {
	base := filepath.Base(reportFile)
	scanID := strings.TrimSuffix(strings.TrimPrefix(base, "garak."), ".report.jsonl")
	if scanID == "" || scanID == base {
		return nil
	}

	f, err := os.Open(reportFile)
	if err != nil {
		return nil
	}
	defer f.Close()

	var first models.ReportEntry
	passed, failed := 0, 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var entry models.ReportEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if first == nil {
			first = entry
		}
		if entry.EntryType() == "attempt" {
			switch entry.Int("status") {
			case 2:
				passed++
			case 1:
				failed++
			}
		}
	}
	if first == nil {
		return nil
	}

	record := &models.ScanRecord{
		ScanID:          scanID,
		Status:          models.StatusCompleted,
		TargetType:      stringOr(first.String("plugins.target_type"), "unknown"),
		TargetName:      stringOr(first.String("plugins.target_name"), "unknown"),
		Progress:        100.0,
		Passed:          passed,
		Failed:          failed,
		JSONLReportPath: reportFile,
	}

	startedAt := parseISOTime(first.String("transient.starttime_iso"))
	if startedAt == nil {
		if info, err := os.Stat(reportFile); err == nil {
			t := info.ModTime()
			startedAt = &t
		}
	}
	if startedAt != nil {
		record.StartedAt = startedAt
		record.CreatedAt = *startedAt
	}
	record.CompletedAt = parseISOTime(first.String("transient.endtime_iso"))

	htmlPath := filepath.Join(filepath.Dir(reportFile), "garak."+scanID+".report.html")
	if _, err := os.Stat(htmlPath); err == nil {
		record.HTMLReportPath = htmlPath
	}

	return record
}

func parseISOTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
