package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-scan/aegis/pkg/models"
	"github.com/aegis-scan/aegis/pkg/reports"
	"github.com/aegis-scan/aegis/pkg/services"
	"github.com/aegis-scan/aegis/pkg/storage"
	"github.com/aegis-scan/aegis/pkg/workflow"
)

// CapacityError is returned by Submit when the concurrent scan limit is
// reached. It matches services.ErrAtCapacity under errors.Is.
type CapacityError struct {
	Running int
	Limit   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf(
		"Concurrent scan limit reached: %d/%d scans running. Wait for a scan to finish or cancel one before starting a new scan.",
		e.Running, e.Limit)
}

func (e *CapacityError) Is(target error) bool {
	return target == services.ErrAtCapacity
}

// Service drives the scan lifecycle: submit, track, cancel, delete. It
// keeps active scans in the registry, mirrors them to the database, and
// consumes the runner's SSE stream in the background.
type Service struct {
	registry *Registry
	store    *services.ScanStore
	runner   *RunnerClient
	reader   *reports.Reader
	analyzer *workflow.Analyzer
	blobs    storage.Backend

	reportsDir    string
	maxConcurrent int
}

func NewService(
	registry *Registry,
	store *services.ScanStore,
	runner *RunnerClient,
	reader *reports.Reader,
	analyzer *workflow.Analyzer,
	blobs storage.Backend,
	reportsDir string,
	maxConcurrent int,
) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Service{
		registry:      registry,
		store:         store,
		runner:        runner,
		reader:        reader,
		analyzer:      analyzer,
		blobs:         blobs,
		reportsDir:    reportsDir,
		maxConcurrent: maxConcurrent,
	}
}

// Registry exposes the in-memory registry for read paths.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Store exposes the scan store for read paths.
func (s *Service) Store() *services.ScanStore {
	return s.store
}

// Runner exposes the runner client for delegation endpoints.
func (s *Service) Runner() *RunnerClient {
	return s.runner
}

// Reader exposes the report reader.
func (s *Service) Reader() *reports.Reader {
	return s.reader
}

// Analyzer exposes the workflow analyzer.
func (s *Service) Analyzer() *workflow.Analyzer {
	return s.analyzer
}

// Submit assigns a scan ID, forwards the config to the runner, registers
// the pending record, persists it, and starts the SSE consumer.
func (s *Service) Submit(ctx context.Context, cfg *models.ScanConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", services.NewValidationError("config", err.Error())
	}

	if running := s.registry.CountRunning(); running >= s.maxConcurrent {
		return "", &CapacityError{Running: running, Limit: s.maxConcurrent}
	}

	scanID := uuid.NewString()

	if err := s.runner.StartScan(ctx, scanID, cfg); err != nil {
		return "", err
	}

	rec := &models.ScanRecord{
		ScanID:      scanID,
		Status:      models.StatusPending,
		TargetType:  cfg.TargetType,
		TargetName:  cfg.TargetName,
		TotalProbes: len(cfg.Probes),
		Config:      cfg,
		CreatedAt:   time.Now(),
	}
	s.registry.Put(rec)
	s.syncToDB(ctx, scanID)

	go s.consumeProgress(scanID)

	slog.Info("Scan submitted",
		"scan_id", scanID,
		"target_type", cfg.TargetType,
		"target_name", cfg.TargetName,
		"probes", len(cfg.Probes))
	return scanID, nil
}

// Cancel stops an active scan via the runner and marks it cancelled.
func (s *Service) Cancel(ctx context.Context, scanID string) error {
	rec := s.registry.Get(scanID)
	if rec == nil {
		return services.ErrNotFound
	}
	if rec.Status != models.StatusPending && rec.Status != models.StatusRunning {
		return services.ErrNotCancellable
	}

	if err := s.runner.CancelScan(ctx, scanID); err != nil {
		// The runner may have already finished the scan and dropped it.
		if !errors.Is(err, services.ErrNotCancellable) {
			return err
		}
	}

	now := time.Now()
	s.registry.Update(scanID, func(r *models.ScanRecord) {
		r.Status = models.StatusCancelled
		r.CompletedAt = &now
	})
	s.syncToDB(ctx, scanID)
	slog.Info("Scan cancelled", "scan_id", scanID)
	return nil
}

// Delete removes a scan entirely: database row, registry entry, local
// report files, and blob-store objects. A running scan is cancelled
// best-effort first.
func (s *Service) Delete(ctx context.Context, scanID string) error {
	s.reader.Invalidate(scanID)
	s.analyzer.Clear(scanID)

	if err := s.store.Delete(ctx, scanID); err != nil && !errors.Is(err, services.ErrNotFound) {
		slog.Warn("Scan row delete failed", "scan_id", scanID, "error", err)
	}

	if rec := s.registry.Get(scanID); rec != nil {
		if rec.Status == models.StatusPending || rec.Status == models.StatusRunning {
			if err := s.runner.CancelScan(ctx, scanID); err != nil {
				slog.Warn("Cancel before delete failed", "scan_id", scanID, "error", err)
			}
		}
		s.registry.Remove(scanID)
	}

	s.deleteLocalReports(scanID)
	s.deleteBlobObjects(ctx, scanID)
	return nil
}

func (s *Service) deleteLocalReports(scanID string) {
	matches, err := filepath.Glob(filepath.Join(s.reportsDir, "garak."+scanID+".*"))
	if err != nil || len(matches) == 0 {
		return
	}
	deleted := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			slog.Error("Failed to delete report file", "path", path, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		slog.Info("Deleted local report files", "scan_id", scanID, "count", deleted)
	}
}

func (s *Service) deleteBlobObjects(ctx context.Context, scanID string) {
	if s.blobs == nil {
		return
	}
	keys, err := s.blobs.ListKeys(ctx, scanID+"/")
	if err != nil {
		slog.Warn("Blob listing failed during delete", "scan_id", scanID, "error", err)
		return
	}
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			slog.Warn("Blob delete failed", "key", key, "error", err)
		}
	}
	if len(keys) > 0 {
		slog.Info("Deleted blob objects", "scan_id", scanID, "count", len(keys))
	}
}

// HTMLReport returns the scan's HTML report bytes, checking the blob
// store first and falling back to local files. Returns (nil, nil) when
// the scan exists but no HTML report does.
func (s *Service) HTMLReport(ctx context.Context, scanID string) ([]byte, error) {
	rec, err := s.Status(ctx, scanID)
	if err != nil {
		return nil, err
	}

	if s.blobs != nil {
		keys := []string{rec.HTMLReportKey, scanID + "/garak." + scanID + ".report.html"}
		for _, key := range keys {
			if key == "" {
				continue
			}
			data, err := s.blobs.Get(ctx, key)
			if err != nil {
				slog.Debug("Blob HTML report read failed", "key", key, "error", err)
				continue
			}
			if data != nil {
				return data, nil
			}
		}
	}

	paths := []string{rec.HTMLReportPath, filepath.Join(s.reportsDir, "garak."+scanID+".report.html")}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
	}
	return nil, nil
}

// Status returns the scan record, preferring live registry data over the
// database row.
func (s *Service) Status(ctx context.Context, scanID string) (*models.ScanRecord, error) {
	if rec := s.registry.Get(scanID); rec != nil {
		return rec, nil
	}
	return s.store.Get(ctx, scanID)
}

// All returns every scan, active ones first-hand from the registry and
// historical ones from the database, newest first.
func (s *Service) All(ctx context.Context) ([]*models.ScanRecord, error) {
	active := s.registry.Snapshot()
	activeIDs := make(map[string]bool, len(active))
	for _, rec := range active {
		activeIDs[rec.ScanID] = true
	}

	rows, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	all := active
	for _, row := range rows {
		if !activeIDs[row.ScanID] {
			all = append(all, row)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		ti, tj := all[i].StartedAt, all[j].StartedAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	return all, nil
}

// syncToDB persists the registry's view of a scan. The upsert merges
// with the existing row, so transient empty fields never clobber
// previously stored values.
func (s *Service) syncToDB(ctx context.Context, scanID string) {
	rec := s.registry.Get(scanID)
	if rec == nil {
		return
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		slog.Error("Scan persistence failed", "scan_id", scanID, "error", err)
	}
}
