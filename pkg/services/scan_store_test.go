package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-scan/aegis/pkg/models"
	"github.com/aegis-scan/aegis/test/util"
)

func newTestStore(t *testing.T) *ScanStore {
	t.Helper()
	return NewScanStore(util.SetupTestDatabase(t))
}

func testRecord(scanID string) *models.ScanRecord {
	started := time.Now().UTC().Truncate(time.Second)
	completed := started.Add(5 * time.Minute)
	return &models.ScanRecord{
		ScanID:      scanID,
		Status:      models.StatusCompleted,
		TargetType:  "ollama",
		TargetName:  "llama3",
		TotalProbes: 4,
		Passed:      90,
		Failed:      10,
		CreatedAt:   started,
		StartedAt:   &started,
		CompletedAt: &completed,
		Config: &models.ScanConfig{
			TargetType: "ollama",
			TargetName: "llama3",
			Probes:     []string{"dan.DAN_Jailbreak"},
		},
	}
}

func TestScanStore_UpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testRecord("scan-1")))

	got, err := store.Get(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, "scan-1", got.ScanID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "llama3", got.TargetName)
	assert.Equal(t, 90, got.Passed)
	assert.Equal(t, 10, got.Failed)
	assert.Equal(t, 100.0, got.Progress)
	require.NotNil(t, got.Config)
	assert.Equal(t, []string{"dan.DAN_Jailbreak"}, got.Config.Probes)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
}

func TestScanStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScanStore_UpsertReplacesRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("scan-2")
	rec.Status = models.StatusRunning
	rec.CompletedAt = nil
	require.NoError(t, store.Upsert(ctx, rec))

	rec.Status = models.StatusCompleted
	rec.Passed = 50
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "scan-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 50, got.Passed)
}

func TestScanStore_UpsertKeepsReportKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("scan-3")
	rec.ReportKey = "scan-3/garak.scan-3.report.jsonl"
	require.NoError(t, store.Upsert(ctx, rec))

	// A later sync without keys must not erase the recorded ones.
	rec2 := testRecord("scan-3")
	require.NoError(t, store.Upsert(ctx, rec2))

	got, err := store.Get(ctx, "scan-3")
	require.NoError(t, err)
	assert.Equal(t, "scan-3/garak.scan-3.report.jsonl", got.ReportKey)
}

func TestScanStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testRecord("scan-4")))
	require.NoError(t, store.Delete(ctx, "scan-4"))

	_, err := store.Get(ctx, "scan-4")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "scan-4"), ErrNotFound)
}

func TestScanStore_ListAllOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := testRecord("scan-old")
	olderStart := time.Now().UTC().Add(-2 * time.Hour)
	older.StartedAt = &olderStart

	newer := testRecord("scan-new")

	require.NoError(t, store.Upsert(ctx, older))
	require.NoError(t, store.Upsert(ctx, newer))

	records, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "scan-new", records[0].ScanID)
	assert.Equal(t, "scan-old", records[1].ScanID)
}

func TestScanStore_ListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	completed := testRecord("scan-a")
	require.NoError(t, store.Upsert(ctx, completed))

	failed := testRecord("scan-b")
	failed.Status = models.StatusFailed
	failed.TargetName = "gpt-4o-mini"
	failed.ErrorMessage = "engine exploded"
	require.NoError(t, store.Upsert(ctx, failed))

	t.Run("status filter", func(t *testing.T) {
		items, total, err := store.List(ctx, models.HistoryFilter{Statuses: []string{"failed"}})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, items, 1)
		assert.Equal(t, "scan-b", items[0].ScanID)
		assert.Equal(t, "engine exploded", items[0].ErrorMessage)
	})

	t.Run("target filter", func(t *testing.T) {
		items, total, err := store.List(ctx, models.HistoryFilter{Target: "llama3"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, items, 1)
		assert.Equal(t, "scan-a", items[0].ScanID)
	})

	t.Run("search matches id and target", func(t *testing.T) {
		items, total, err := store.List(ctx, models.HistoryFilter{Search: "gpt-4o"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, items, 1)
		assert.Equal(t, "scan-b", items[0].ScanID)
	})

	t.Run("no match", func(t *testing.T) {
		items, total, err := store.List(ctx, models.HistoryFilter{Search: "zzz"})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, items)
	})
}

func TestScanStore_ListPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		rec := testRecord(string(rune('a'+i)) + "-scan")
		start := base.Add(time.Duration(-i) * time.Hour)
		rec.StartedAt = &start
		require.NoError(t, store.Upsert(ctx, rec))
	}

	items, total, err := store.List(ctx, models.HistoryFilter{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 2)

	// Default sort is started_at DESC; page 2 holds the third and fourth newest.
	assert.Equal(t, "c-scan", items[0].ScanID)
	assert.Equal(t, "d-scan", items[1].ScanID)
}

func TestScanStore_ListSortByPassRate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	low := testRecord("scan-low")
	low.Passed, low.Failed = 10, 90
	high := testRecord("scan-high")
	high.Passed, high.Failed = 95, 5
	require.NoError(t, store.Upsert(ctx, low))
	require.NoError(t, store.Upsert(ctx, high))

	items, _, err := store.List(ctx, models.HistoryFilter{SortBy: "pass_rate", SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "scan-low", items[0].ScanID)
	assert.Equal(t, "scan-high", items[1].ScanID)
}

func TestScanStore_ProbeStatsWriteOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testRecord("scan-5")))

	stats, err := store.GetProbeStats(ctx, "scan-5")
	require.NoError(t, err)
	assert.Nil(t, stats)

	first := map[string]models.ProbeTally{"dan": {Passed: 8, Failed: 2}}
	require.NoError(t, store.SetProbeStats(ctx, "scan-5", first))

	second := map[string]models.ProbeTally{"dan": {Passed: 0, Failed: 0}}
	require.NoError(t, store.SetProbeStats(ctx, "scan-5", second))

	stats, err = store.GetProbeStats(ctx, "scan-5")
	require.NoError(t, err)
	assert.Equal(t, first, stats)
}

func TestScanStore_SetReportKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, testRecord("scan-6")))
	require.NoError(t, store.SetReportKeys(ctx, "scan-6", "scan-6/r.jsonl", ""))
	require.NoError(t, store.SetReportKeys(ctx, "scan-6", "", "scan-6/r.html"))

	got, err := store.Get(ctx, "scan-6")
	require.NoError(t, err)
	assert.Equal(t, "scan-6/r.jsonl", got.ReportKey)
	assert.Equal(t, "scan-6/r.html", got.HTMLReportKey)
}

func TestScanStore_Meta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v, err := store.GetMeta(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, store.SetMeta(ctx, "k", "v1"))
	require.NoError(t, store.SetMeta(ctx, "k", "v2"))

	v, err = store.GetMeta(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestBackfillFromReports(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	reportsDir := t.TempDir()

	report := `{"entry_type":"start_run setup","plugins.target_type":"ollama","plugins.target_name":"llama3","transient.starttime_iso":"2026-08-20T10:00:00"}
{"entry_type":"attempt","status":2}
{"entry_type":"attempt","status":2}
{"entry_type":"attempt","status":1}
`
	path := filepath.Join(reportsDir, "garak.backfill-1.report.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(report), 0o644))

	n, err := store.BackfillFromReports(ctx, reportsDir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, "backfill-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "ollama", got.TargetType)
	assert.Equal(t, "llama3", got.TargetName)
	assert.Equal(t, 2, got.Passed)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, path, got.JSONLReportPath)

	// Second run is a no-op via the db_meta marker.
	n, err = store.BackfillFromReports(ctx, reportsDir)
	require.NoError(t, err)
	assert.Zero(t, n)
}
