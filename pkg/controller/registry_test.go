package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-scan/aegis/pkg/models"
)

func TestRegistry_PutGet(t *testing.T) {
	r := NewRegistry()

	r.Put(&models.ScanRecord{ScanID: "scan-1", Status: models.StatusPending})

	rec := r.Get("scan-1")
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusPending, rec.Status)

	assert.Nil(t, r.Get("nope"))
}

func TestRegistry_GetReturnsClone(t *testing.T) {
	r := NewRegistry()
	r.Put(&models.ScanRecord{ScanID: "scan-1", RecentOutput: []string{"a"}})

	rec := r.Get("scan-1")
	rec.Status = models.StatusFailed
	rec.RecentOutput[0] = "mutated"
	rec.RecentOutput = append(rec.RecentOutput, "b")

	again := r.Get("scan-1")
	assert.Equal(t, models.ScanStatus(""), again.Status)
	assert.Equal(t, []string{"a"}, again.RecentOutput)
}

func TestRegistry_Update(t *testing.T) {
	r := NewRegistry()
	r.Put(&models.ScanRecord{ScanID: "scan-1"})

	ok := r.Update("scan-1", func(rec *models.ScanRecord) {
		rec.Status = models.StatusRunning
		rec.Passed = 5
	})
	assert.True(t, ok)

	rec := r.Get("scan-1")
	assert.Equal(t, models.StatusRunning, rec.Status)
	assert.Equal(t, 5, rec.Passed)

	assert.False(t, r.Update("nope", func(*models.ScanRecord) {}))
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	r.Put(&models.ScanRecord{ScanID: "scan-1", Status: models.StatusCompleted})

	removed := r.Remove("scan-1")
	require.NotNil(t, removed)
	assert.Equal(t, models.StatusCompleted, removed.Status)
	assert.Nil(t, r.Get("scan-1"))

	assert.Nil(t, r.Remove("scan-1"))
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	r.Put(&models.ScanRecord{ScanID: "scan-1"})
	r.Put(&models.ScanRecord{ScanID: "scan-2"})

	snap := r.Snapshot()
	assert.Len(t, snap, 2)

	ids := []string{snap[0].ScanID, snap[1].ScanID}
	assert.ElementsMatch(t, []string{"scan-1", "scan-2"}, ids)
}

func TestRegistry_CountRunning(t *testing.T) {
	r := NewRegistry()
	r.Put(&models.ScanRecord{ScanID: "a", Status: models.StatusPending})
	r.Put(&models.ScanRecord{ScanID: "b", Status: models.StatusRunning})
	r.Put(&models.ScanRecord{ScanID: "c", Status: models.StatusCompleted})
	r.Put(&models.ScanRecord{ScanID: "d", Status: models.StatusFailed})

	assert.Equal(t, 2, r.CountRunning())
}
