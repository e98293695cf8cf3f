// Package controller owns the scan lifecycle on the control-plane side:
// an in-memory registry of active scans, the HTTP client for the runner
// service, and the SSE consumer that mirrors runner progress into the
// registry and the database.
package controller

import (
	"sync"

	"github.com/aegis-scan/aegis/pkg/models"
)

// Registry tracks active scans in memory. Records are handed out as
// clones; mutation goes through Update so every write happens under the
// lock.
type Registry struct {
	mu    sync.RWMutex
	scans map[string]*models.ScanRecord
}

func NewRegistry() *Registry {
	return &Registry{scans: make(map[string]*models.ScanRecord)}
}

// Put registers a record under its scan ID.
func (r *Registry) Put(rec *models.ScanRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans[rec.ScanID] = rec
}

// Get returns a clone of the record, or nil when the scan is not active.
func (r *Registry) Get(scanID string) *models.ScanRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.scans[scanID]
	if !ok {
		return nil
	}
	return rec.Clone()
}

// Update mutates the record under the lock. Returns false when the scan
// is not active.
func (r *Registry) Update(scanID string, fn func(*models.ScanRecord)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.scans[scanID]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// Remove drops the record. Returns the removed clone, or nil.
func (r *Registry) Remove(scanID string) *models.ScanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.scans[scanID]
	if !ok {
		return nil
	}
	delete(r.scans, scanID)
	return rec.Clone()
}

// Snapshot returns clones of every active record.
func (r *Registry) Snapshot() []*models.ScanRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.ScanRecord, 0, len(r.scans))
	for _, rec := range r.scans {
		out = append(out, rec.Clone())
	}
	return out
}

// CountRunning counts scans in pending or running state. Terminal scans
// stay in the registry until deleted but do not count against the
// concurrency cap.
func (r *Registry) CountRunning() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.scans {
		if rec.Status == models.StatusPending || rec.Status == models.StatusRunning {
			n++
		}
	}
	return n
}
