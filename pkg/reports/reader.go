// Package reports reads scan report artifacts and derives per-probe
// breakdowns, attempt listings, and aggregate statistics from them.
//
// Report entries come from a layered lookup: an in-memory cache, the
// blob store, the local reports directory, and finally the runner
// service over HTTP (with write-through to the blob store). Blob-sourced
// data is write-once, so those cache entries never expire; local files
// are revalidated by mtime and a TTL.
package reports

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aegis-scan/aegis/pkg/models"
	"github.com/aegis-scan/aegis/pkg/services"
	"github.com/aegis-scan/aegis/pkg/storage"
)

const cacheTTL = 300 * time.Second

// Fetcher downloads a report artifact from the runner's spool directory.
// Returns (nil, nil) when the file does not exist upstream.
type Fetcher interface {
	FetchReport(ctx context.Context, filename string) ([]byte, error)
}

type entryCache struct {
	entries   []models.ReportEntry
	mtime     time.Time
	cachedAt  time.Time
	immutable bool
}

type resultsCache struct {
	data      *models.ScanResults
	mtime     time.Time
	immutable bool
}

// Reader resolves report entries for a scan through the cache layers.
type Reader struct {
	mu      sync.Mutex
	entries map[string]*entryCache
	results map[string]*resultsCache

	blobs      storage.Backend
	store      *services.ScanStore
	runner     Fetcher
	reportsDir string
}

func NewReader(blobs storage.Backend, store *services.ScanStore, runner Fetcher, reportsDir string) *Reader {
	return &Reader{
		entries:    make(map[string]*entryCache),
		results:    make(map[string]*resultsCache),
		blobs:      blobs,
		store:      store,
		runner:     runner,
		reportsDir: reportsDir,
	}
}

// Entries returns the parsed JSON-Lines entries for a scan, or nil when
// no report can be found in any layer. Malformed lines are discarded.
func (r *Reader) Entries(ctx context.Context, scanID string) []models.ReportEntry {
	now := time.Now()

	r.mu.Lock()
	cached := r.entries[scanID]
	r.mu.Unlock()

	if cached != nil && cached.immutable {
		return cached.entries
	}

	// Blob store: objects are written once after scan completion, so a
	// hit is cached forever.
	if entries := r.readFromBlobs(ctx, scanID); entries != nil {
		r.putEntries(scanID, &entryCache{entries: entries, cachedAt: now, immutable: true})
		return entries
	}

	// Local spool file, revalidated by mtime and TTL.
	reportFile := filepath.Join(r.reportsDir, "garak."+scanID+".report.jsonl")
	if info, err := os.Stat(reportFile); err == nil {
		mtime := info.ModTime()
		if cached != nil && cached.mtime.Equal(mtime) && now.Sub(cached.cachedAt) < cacheTTL {
			return cached.entries
		}
		if data, err := os.ReadFile(reportFile); err == nil {
			entries := parseJSONLines(data)
			r.putEntries(scanID, &entryCache{entries: entries, mtime: mtime, cachedAt: now})
			return entries
		}
	}

	// Runner HTTP fallback with blob write-through.
	if entries := r.fetchFromRunner(ctx, scanID); entries != nil {
		r.putEntries(scanID, &entryCache{entries: entries, cachedAt: now, immutable: true})
		return entries
	}

	return nil
}

// Invalidate drops all cached data for a scan.
func (r *Reader) Invalidate(scanID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, scanID)
	delete(r.results, scanID)
}

// Clear drops all cached data.
func (r *Reader) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entryCache)
	r.results = make(map[string]*resultsCache)
}

// ReportsDir returns the local spool directory.
func (r *Reader) ReportsDir() string {
	return r.reportsDir
}

func (r *Reader) putEntries(scanID string, c *entryCache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[scanID] = c
}

func (r *Reader) readFromBlobs(ctx context.Context, scanID string) []models.ReportEntry {
	if r.blobs == nil {
		return nil
	}
	key := scanID + "/garak." + scanID + ".report.jsonl"
	data, err := r.blobs.Get(ctx, key)
	if err != nil {
		slog.Debug("Blob store read failed", "scan_id", scanID, "error", err)
		return nil
	}
	if data == nil {
		return nil
	}
	entries := parseJSONLines(data)
	if len(entries) == 0 {
		return nil
	}
	return entries
}

// fetchFromRunner retrieves the report from the runner's spool by the
// original engine filename recorded in the database, then uploads it to
// the blob store so future reads stay local.
func (r *Reader) fetchFromRunner(ctx context.Context, scanID string) []models.ReportEntry {
	if r.runner == nil || r.store == nil {
		return nil
	}

	rec, err := r.store.Get(ctx, scanID)
	if err != nil || rec.JSONLReportPath == "" {
		return nil
	}
	filename := filepath.Base(rec.JSONLReportPath)

	data, err := r.runner.FetchReport(ctx, filename)
	if err != nil {
		slog.Debug("Runner report fetch failed", "scan_id", scanID, "error", err)
		return nil
	}
	if data == nil {
		return nil
	}

	entries := parseJSONLines(data)
	if len(entries) == 0 {
		return nil
	}
	slog.Info("Fetched report from runner service", "scan_id", scanID, "entries", len(entries))

	r.writeThrough(ctx, scanID, data)
	return entries
}

func (r *Reader) writeThrough(ctx context.Context, scanID string, data []byte) {
	if r.blobs == nil {
		return
	}
	key := scanID + "/garak." + scanID + ".report.jsonl"
	if err := r.blobs.Put(ctx, key, data, "application/jsonl"); err != nil {
		slog.Warn("Report write-through failed", "scan_id", scanID, "error", err)
		return
	}
	if err := r.store.SetReportKeys(ctx, scanID, key, ""); err != nil {
		slog.Warn("Report key update failed", "scan_id", scanID, "error", err)
	}
}

func (r *Reader) cachedResults(scanID string) *resultsCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[scanID]
}

func (r *Reader) putResults(scanID string, c *resultsCache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[scanID] = c
}

func parseJSONLines(data []byte) []models.ReportEntry {
	var entries []models.ReportEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry models.ReportEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}
