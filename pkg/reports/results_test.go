package reports

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-scan/aegis/pkg/models"
)

func TestResults(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "scan-1", `{"entry_type":"digest","eval":{"dan":{"passed":1,"total":2}}}`+"\n")
	r := NewReader(nil, nil, nil, dir)

	rec := testRecord("scan-1")
	rec.Progress = 100
	rec.RecentOutput = []string{"last line"}
	rec.ErrorMessage = ""

	res := r.Results(context.Background(), rec, false)
	require.NotNil(t, res)
	assert.Equal(t, "scan-1", res.ScanID)
	assert.Equal(t, models.StatusCompleted, res.Status)
	assert.Equal(t, 90, res.Results.Passed)
	assert.Equal(t, 10, res.Results.Failed)
	assert.Equal(t, 100.0, res.Results.Progress)
	assert.Equal(t, 100, res.Summary.TotalTests)
	assert.Equal(t, 90.0, res.Summary.PassRate)
	require.NotNil(t, res.Duration)
	assert.Equal(t, 300.0, *res.Duration)
	require.NotNil(t, res.StartedAt)
	assert.Equal(t, []string{"last line"}, res.OutputLines)

	require.NotNil(t, res.Digest)
	assert.Contains(t, res.Digest, "dan")
}

func TestResults_NilRecord(t *testing.T) {
	r := NewReader(nil, nil, nil, t.TempDir())
	assert.Nil(t, r.Results(context.Background(), nil, false))
}

func TestResults_ActiveAlwaysRebuilt(t *testing.T) {
	r := NewReader(nil, nil, nil, t.TempDir())
	rec := testRecord("scan-1")
	rec.Status = models.StatusRunning
	rec.Passed = 5

	res := r.Results(context.Background(), rec, true)
	require.NotNil(t, res)
	assert.Equal(t, 5, res.Results.Passed)

	rec.Passed = 7
	res = r.Results(context.Background(), rec, true)
	require.NotNil(t, res)
	assert.Equal(t, 7, res.Results.Passed)
}

func TestResults_CompletedCachedWithoutLocalFile(t *testing.T) {
	r := NewReader(nil, nil, nil, t.TempDir())
	rec := testRecord("scan-1")

	res := r.Results(context.Background(), rec, false)
	require.NotNil(t, res)
	assert.Equal(t, 90, res.Results.Passed)

	// No local report file, so the composed view is cached forever and
	// later record mutations do not show through.
	rec.Passed = 1
	res = r.Results(context.Background(), rec, false)
	require.NotNil(t, res)
	assert.Equal(t, 90, res.Results.Passed)
}

func TestDigest_NoDigestEntry(t *testing.T) {
	dir := t.TempDir()
	writeReport(t, dir, "scan-1", `{"entry_type":"attempt","status":2}`+"\n")
	r := NewReader(nil, nil, nil, dir)

	assert.Nil(t, r.Digest(context.Background(), "scan-1"))
	assert.Nil(t, r.Digest(context.Background(), "missing"))
}
