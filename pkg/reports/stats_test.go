package reports

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-scan/aegis/pkg/models"
	"github.com/aegis-scan/aegis/pkg/services"
	"github.com/aegis-scan/aegis/test/util"
)

func TestProbeStats_ComputedFromReport(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "scan-1", `{"entry_type":"attempt","probe_classname":"dan.DAN_Jailbreak","status":2}
{"entry_type":"attempt","probe_classname":"dan.AntiDAN","status":1}
{"entry_type":"attempt","probe_classname":"encoding.InjectBase64","status":2}
{"entry_type":"attempt","status":1}
{"entry_type":"eval","probe":"dan.DAN_Jailbreak"}
`)
	r := NewReader(nil, nil, nil, dir)

	stats := r.ProbeStats(context.Background(), "scan-1")
	require.NotNil(t, stats)
	assert.Equal(t, models.ProbeTally{Passed: 1, Failed: 1}, stats["dan"])
	assert.Equal(t, models.ProbeTally{Passed: 1}, stats["encoding"])
	assert.Equal(t, models.ProbeTally{Failed: 1}, stats["unknown"])
}

func TestProbeStats_NoReport(t *testing.T) {
	r := NewReader(nil, nil, nil, t.TempDir())
	assert.Nil(t, r.ProbeStats(context.Background(), "nope"))
}

func TestProbeStats_MaterializedInDatabase(t *testing.T) {
	store := services.NewScanStore(util.SetupTestDatabase(t))
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, testRecord("scan-1")))

	dir := t.TempDir()
	path := writeReport(t, dir, "scan-1", `{"entry_type":"attempt","probe_classname":"dan.DAN","status":1}`+"\n")
	r := NewReader(nil, store, nil, dir)

	stats := r.ProbeStats(ctx, "scan-1")
	require.NotNil(t, stats)
	assert.Equal(t, models.ProbeTally{Failed: 1}, stats["dan"])

	// The first read materialized the stats, so the report file is no
	// longer needed.
	require.NoError(t, os.Remove(path))
	r.Clear()

	stats = r.ProbeStats(ctx, "scan-1")
	require.NotNil(t, stats)
	assert.Equal(t, models.ProbeTally{Failed: 1}, stats["dan"])
}

func startedAt(t time.Time) *time.Time { return &t }

func TestStatistics(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "scan-a", `{"entry_type":"attempt","probe_classname":"dan.DAN","status":1}
{"entry_type":"attempt","probe_classname":"dan.DAN","status":1}
{"entry_type":"attempt","probe_classname":"dan.DAN","status":2}
{"entry_type":"attempt","probe_classname":"encoding.InjectBase64","status":2}
`)
	writeReport(t, dir, "scan-b", `{"entry_type":"attempt","probe_classname":"dan.DAN","status":1}
{"entry_type":"attempt","probe_classname":"dan.DAN","status":2}
`)
	r := NewReader(nil, nil, nil, dir)

	now := time.Now()
	yesterday := now.AddDate(0, 0, -1)

	scans := []*models.ScanRecord{
		{ScanID: "scan-a", Status: models.StatusCompleted, TargetType: "ollama", TargetName: "llama3",
			Passed: 90, Failed: 10, StartedAt: startedAt(now)},
		{ScanID: "scan-b", Status: models.StatusCompleted, TargetType: "ollama", TargetName: "llama3",
			Passed: 50, Failed: 50, StartedAt: startedAt(yesterday)},
		{ScanID: "scan-c", Status: models.StatusFailed, TargetType: "openai", TargetName: "gpt-4o-mini",
			StartedAt: startedAt(now)},
		{ScanID: "scan-d", Status: models.StatusRunning},
		{ScanID: "scan-e", Status: models.StatusPending},
	}

	stats := r.Statistics(context.Background(), scans, 7)
	require.NotNil(t, stats)

	assert.Equal(t, 5, stats.TotalScans)
	assert.Equal(t, 2, stats.CompletedScans)
	assert.Equal(t, 1, stats.FailedScans)
	assert.Zero(t, stats.CancelledScans)
	assert.Equal(t, 2, stats.RunningScans)

	assert.Equal(t, 200, stats.TotalTests)
	assert.Equal(t, 140, stats.TotalPassed)
	assert.Equal(t, 60, stats.TotalFailed)
	assert.Equal(t, 70.0, stats.OverallPassRate)

	// Per-scan pass rates come from completed scans only: 90% and 50%.
	assert.Equal(t, 70.0, stats.AvgPassRate)
	require.NotNil(t, stats.MinPassRate)
	require.NotNil(t, stats.MaxPassRate)
	assert.Equal(t, 50.0, *stats.MinPassRate)
	assert.Equal(t, 90.0, *stats.MaxPassRate)

	// Trends are ascending, zero-filled, and end today.
	require.Len(t, stats.DailyTrends, 7)
	today := stats.DailyTrends[6]
	assert.Equal(t, now.Format("2006-01-02"), today.Date)
	assert.Equal(t, 2, today.ScanCount)
	assert.Equal(t, 90.0, today.AvgPassRate)
	assert.Equal(t, yesterday.Format("2006-01-02"), stats.DailyTrends[5].Date)
	assert.Equal(t, 1, stats.DailyTrends[5].ScanCount)
	assert.Zero(t, stats.DailyTrends[0].ScanCount)

	// Category tallies aggregate across completed scans, worst first.
	require.NotEmpty(t, stats.TopFailingProbes)
	dan := stats.TopFailingProbes[0]
	assert.Equal(t, "dan", dan.ProbeCategory)
	assert.Equal(t, 3, dan.FailureCount)
	assert.Equal(t, 5, dan.TotalCount)
	assert.Equal(t, 60.0, dan.FailureRate)

	// Targets sorted by scan count.
	require.Len(t, stats.TargetBreakdown, 3)
	assert.Equal(t, "llama3", stats.TargetBreakdown[0].TargetName)
	assert.Equal(t, 2, stats.TargetBreakdown[0].ScanCount)
	assert.Equal(t, 70.0, stats.TargetBreakdown[0].AvgPassRate)
	assert.NotEmpty(t, stats.TargetBreakdown[0].LastScanned)
}

func TestStatistics_Empty(t *testing.T) {
	r := NewReader(nil, nil, nil, t.TempDir())

	stats := r.Statistics(context.Background(), nil, 0)
	require.NotNil(t, stats)
	assert.Zero(t, stats.TotalScans)
	assert.Zero(t, stats.OverallPassRate)
	assert.Nil(t, stats.MinPassRate)
	assert.Len(t, stats.DailyTrends, 30)
	assert.Empty(t, stats.TopFailingProbes)
	assert.Empty(t, stats.TargetBreakdown)
}
