package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aegis-scan/aegis/pkg/storage"
)

const uploadMaxRetries = 3

// Uploader pushes finished report artifacts to the blob store under
// scan-id-addressed keys. A nil backend disables uploads.
type Uploader struct {
	backend    storage.Backend
	reportsDir string
}

// NewUploader wires the uploader to a backend and the engine spool dir.
func NewUploader(backend storage.Backend, reportsDir string) *Uploader {
	return &Uploader{backend: backend, reportsDir: reportsDir}
}

// resolveReportFiles finds the local artifact for each report type. The
// engine names files with its own run UUID, so explicit paths captured by
// the parser win; scan-id-named files are the fallback. The hitlog shares
// the engine UUID with the jsonl report and is derived from it.
func (u *Uploader) resolveReportFiles(scanID, jsonlPath, htmlPath string) map[string]string {
	files := map[string]string{}

	if jsonlPath != "" {
		if _, err := os.Stat(jsonlPath); err == nil {
			files["jsonl"] = jsonlPath
			hitlog := filepath.Join(filepath.Dir(jsonlPath),
				strings.Replace(filepath.Base(jsonlPath), ".report.jsonl", ".hitlog.jsonl", 1))
			if _, err := os.Stat(hitlog); err == nil {
				files["hitlog"] = hitlog
			}
		}
	}
	if htmlPath != "" {
		if _, err := os.Stat(htmlPath); err == nil {
			files["html"] = htmlPath
		}
	}

	fallback := map[string]string{
		"jsonl":  filepath.Join(u.reportsDir, fmt.Sprintf("garak.%s.report.jsonl", scanID)),
		"hitlog": filepath.Join(u.reportsDir, fmt.Sprintf("garak.%s.hitlog.jsonl", scanID)),
		"html":   filepath.Join(u.reportsDir, fmt.Sprintf("garak.%s.report.html", scanID)),
	}
	for rtype, path := range fallback {
		if _, ok := files[rtype]; ok {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			files[rtype] = path
		}
	}

	return files
}

// Upload pushes every resolved artifact under "{scan_id}/garak.{scan_id}.…"
// and returns the report-type → key map for the artifacts that made it.
// Individual failures are retried with linear backoff and then skipped;
// upload problems never fail the scan itself.
func (u *Uploader) Upload(ctx context.Context, scanID, jsonlPath, htmlPath string) map[string]string {
	if u.backend == nil {
		return map[string]string{}
	}

	keyNames := map[string]string{
		"jsonl":  fmt.Sprintf("garak.%s.report.jsonl", scanID),
		"hitlog": fmt.Sprintf("garak.%s.hitlog.jsonl", scanID),
		"html":   fmt.Sprintf("garak.%s.report.html", scanID),
	}

	files := u.resolveReportFiles(scanID, jsonlPath, htmlPath)
	keys := map[string]string{}

	for rtype, localPath := range files {
		objectKey := scanID + "/" + keyNames[rtype]
		contentType := storage.ContentTypeFor(localPath)

		for attempt := 1; attempt <= uploadMaxRetries; attempt++ {
			err := u.backend.PutFile(ctx, objectKey, localPath, contentType)
			if err == nil {
				keys[rtype] = objectKey
				slog.Info("Uploaded report artifact",
					"scan_id", scanID, "file", filepath.Base(localPath), "key", objectKey)
				break
			}
			if attempt < uploadMaxRetries {
				slog.Warn("Report upload failed, retrying",
					"scan_id", scanID, "file", filepath.Base(localPath),
					"attempt", attempt, "error", err)
				time.Sleep(time.Duration(attempt) * time.Second)
			} else {
				slog.Error("Report upload failed",
					"scan_id", scanID, "file", filepath.Base(localPath), "error", err)
			}
		}
	}

	return keys
}
