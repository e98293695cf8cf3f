package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-scan/aegis/pkg/controller"
	"github.com/aegis-scan/aegis/pkg/database"
	"github.com/aegis-scan/aegis/pkg/models"
	"github.com/aegis-scan/aegis/pkg/reports"
	"github.com/aegis-scan/aegis/pkg/services"
	"github.com/aegis-scan/aegis/pkg/storage"
	"github.com/aegis-scan/aegis/pkg/workflow"
	"github.com/aegis-scan/aegis/test/util"
)

type fixture struct {
	server     *Server
	svc        *controller.Service
	store      *services.ScanStore
	blobs      *storage.LocalBackend
	reportsDir string
}

// fakeRunnerServer stands in for the runner service behind the delegation
// endpoints. The progress stream ends immediately, so submitted scans are
// promoted to completed by the consumer.
func fakeRunnerServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","garak_installed":true}`))
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":"0.13.2"}`))
	})
	mux.HandleFunc("GET /plugins/{kind}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"plugins":["dan.DAN_Jailbreak","encoding.InjectBase64"]}`))
	})
	mux.HandleFunc("POST /scans", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("DELETE /scans/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /scans/{id}/progress", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFixture(t *testing.T) *fixture {
	t.Helper()
	db := util.SetupTestDatabase(t)
	store := services.NewScanStore(db)
	blobs, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	reportsDir := t.TempDir()
	client := controller.NewRunnerClient(fakeRunnerServer(t).URL)
	reader := reports.NewReader(blobs, store, client, reportsDir)
	svc := controller.NewService(
		controller.NewRegistry(), store, client, reader, workflow.NewAnalyzer(), blobs, reportsDir, 3)

	return &fixture{
		server:     NewServer(svc, database.NewClientFromDB(db)),
		svc:        svc,
		store:      store,
		blobs:      blobs,
		reportsDir: reportsDir,
	}
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func completedRecord(scanID string) *models.ScanRecord {
	started := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	completed := started.Add(10 * time.Minute)
	return &models.ScanRecord{
		ScanID:      scanID,
		Status:      models.StatusCompleted,
		TargetType:  "ollama",
		TargetName:  "llama3",
		Passed:      90,
		Failed:      10,
		CreatedAt:   started,
		StartedAt:   &started,
		CompletedAt: &completed,
	}
}

func writeReport(t *testing.T, dir, scanID, content string) {
	t.Helper()
	path := filepath.Join(dir, "garak."+scanID+".report.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHealthHandler(t *testing.T) {
	fx := newTestFixture(t)

	rec := doRequest(fx.server, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "database")
}

func TestVersionHandler(t *testing.T) {
	fx := newTestFixture(t)

	rec := doRequest(fx.server, http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "aegis", body["name"])
	assert.NotEmpty(t, body["version"])
}

func TestStartScanHandler(t *testing.T) {
	fx := newTestFixture(t)

	body := `{"target_type": "ollama", "target_name": "llama3", "probes": ["dan.DAN_Jailbreak"]}`
	rec := doRequest(fx.server, http.MethodPost, "/api/v1/scan/start", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp models.StartScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ScanID)
	assert.Equal(t, string(models.StatusPending), resp.Status)
	assert.Equal(t, "Scan initiated successfully", resp.Message)

	// The empty progress stream promotes the scan; wait so the consumer
	// goroutine does not outlive the test schema.
	require.Eventually(t, func() bool {
		r := fx.svc.Registry().Get(resp.ScanID)
		return r != nil && r.Status == models.StatusCompleted
	}, 10*time.Second, 50*time.Millisecond)
}

func TestStartScanHandler_Validation(t *testing.T) {
	fx := newTestFixture(t)

	rec := doRequest(fx.server, http.MethodPost, "/api/v1/scan/start", `{"target_type": "ollama"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "target_name is required")
}

func TestStartScanHandler_Capacity(t *testing.T) {
	fx := newTestFixture(t)

	for _, id := range []string{"a", "b", "c"} {
		fx.svc.Registry().Put(&models.ScanRecord{ScanID: id, Status: models.StatusRunning})
	}

	body := `{"target_type": "ollama", "target_name": "llama3"}`
	rec := doRequest(fx.server, http.MethodPost, "/api/v1/scan/start", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(),
		"Concurrent scan limit reached: 3/3 scans running. Wait for a scan to finish or cancel one before starting a new scan.")
}

func TestScanStatusHandler(t *testing.T) {
	fx := newTestFixture(t)
	require.NoError(t, fx.store.Upsert(context.Background(), completedRecord("scan-1")))

	rec := doRequest(fx.server, http.MethodGet, "/api/v1/scan/scan-1/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var record models.ScanRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "scan-1", record.ScanID)
	assert.Equal(t, models.StatusCompleted, record.Status)

	rec = doRequest(fx.server, http.MethodGet, "/api/v1/scan/nope/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "scan not found")
}

func TestScanHistoryHandler(t *testing.T) {
	fx := newTestFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.store.Upsert(ctx, completedRecord("scan-1")))

	live := completedRecord("scan-2")
	live.Status = models.StatusRunning
	live.Passed, live.Failed = 3, 1
	require.NoError(t, fx.store.Upsert(ctx, live))
	// Live registry state overlays the persisted row.
	fx.svc.Registry().Put(&models.ScanRecord{
		ScanID: "scan-2", Status: models.StatusRunning, Passed: 7, Failed: 1,
	})

	rec := doRequest(fx.server, http.MethodGet, "/api/v1/scan/history?page_size=1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp models.HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 2, resp.TotalPages)
	assert.Equal(t, 1, resp.PageSize)
	require.Len(t, resp.Scans, 1)

	rec = doRequest(fx.server, http.MethodGet, "/api/v1/scan/history?status=running", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Scans, 1)
	assert.Equal(t, "scan-2", resp.Scans[0].ScanID)
	assert.Equal(t, 7, resp.Scans[0].Passed)
	assert.Equal(t, 87.5, resp.Scans[0].PassRate)
}

func TestScanResultsHandler(t *testing.T) {
	fx := newTestFixture(t)
	require.NoError(t, fx.store.Upsert(context.Background(), completedRecord("scan-1")))
	writeReport(t, fx.reportsDir, "scan-1", `{"entry_type":"digest","eval":{"dan":{"passed":9}}}`+"\n")

	rec := doRequest(fx.server, http.MethodGet, "/api/v1/scan/scan-1/results", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var results models.ScanResults
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.Equal(t, "scan-1", results.ScanID)
	assert.Equal(t, 100, results.Summary.TotalTests)
	assert.Equal(t, 90.0, results.Summary.PassRate)
	assert.Contains(t, results.Digest, "dan")

	rec = doRequest(fx.server, http.MethodGet, "/api/v1/scan/nope/results", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatisticsHandler(t *testing.T) {
	fx := newTestFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.store.Upsert(ctx, completedRecord("scan-1")))
	failed := completedRecord("scan-2")
	failed.Status = models.StatusFailed
	failed.Passed, failed.Failed = 0, 0
	require.NoError(t, fx.store.Upsert(ctx, failed))

	rec := doRequest(fx.server, http.MethodGet, "/api/v1/scan/statistics?days=7", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats models.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalScans)
	assert.Equal(t, 1, stats.CompletedScans)
	assert.Equal(t, 1, stats.FailedScans)
	assert.Equal(t, 100, stats.TotalTests)
	assert.Len(t, stats.DailyTrends, 7)
}

func TestProbeDetailsHandler(t *testing.T) {
	fx := newTestFixture(t)
	writeReport(t, fx.reportsDir, "scan-1", `{"entry_type":"attempt","probe_classname":"dan.DAN_Jailbreak","status":2}
{"entry_type":"attempt","probe_classname":"dan.DAN_Jailbreak","status":1}
`)

	rec := doRequest(fx.server, http.MethodGet, "/api/v1/scan/scan-1/probes", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp models.ProbeDetailsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalProbes)
	assert.Equal(t, 50, resp.PageSize)
	require.Len(t, resp.Probes, 1)
	assert.Equal(t, "dan.DAN_Jailbreak", resp.Probes[0].ProbeClassname)

	rec = doRequest(fx.server, http.MethodGet, "/api/v1/scan/nope/probes", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "report not available for scan nope")
}

func TestProbeAttemptsHandler(t *testing.T) {
	fx := newTestFixture(t)
	writeReport(t, fx.reportsDir, "scan-1", `{"entry_type":"attempt","probe_classname":"dan.DAN_Jailbreak","uuid":"u1","status":1}`+"\n")

	rec := doRequest(fx.server, http.MethodGet, "/api/v1/scan/scan-1/probes/dan.DAN_Jailbreak/attempts", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp models.ProbeAttemptsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "dan.DAN_Jailbreak", resp.ProbeClassname)
	assert.Equal(t, 20, resp.PageSize)
	assert.Equal(t, 1, resp.TotalFailed)
	require.Len(t, resp.Attempts, 1)
	assert.Equal(t, "u1", resp.Attempts[0].UUID)
}

func TestHTMLReportHandler(t *testing.T) {
	fx := newTestFixture(t)
	require.NoError(t, fx.store.Upsert(context.Background(), completedRecord("scan-1")))
	htmlPath := filepath.Join(fx.reportsDir, "garak.scan-1.report.html")
	require.NoError(t, os.WriteFile(htmlPath, []byte("<html>report</html>"), 0o644))

	rec := doRequest(fx.server, http.MethodGet, "/api/v1/scan/scan-1/report/html", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="garak_report_scan-1.html"`,
		rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "report")
}

func TestHTMLReportHandler_NotAvailable(t *testing.T) {
	fx := newTestFixture(t)
	require.NoError(t, fx.store.Upsert(context.Background(), completedRecord("scan-1")))

	rec := doRequest(fx.server, http.MethodGet, "/api/v1/scan/scan-1/report/html", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "HTML report not available")
}

func TestDetailedReportHandler(t *testing.T) {
	fx := newTestFixture(t)
	require.NoError(t, fx.store.Upsert(context.Background(), completedRecord("scan-1")))
	htmlPath := filepath.Join(fx.reportsDir, "garak.scan-1.report.html")
	require.NoError(t, os.WriteFile(htmlPath, []byte("<html>inline</html>"), 0o644))

	rec := doRequest(fx.server, http.MethodGet, "/api/v1/scan/scan-1/report/detailed", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Body.String(), "inline")
}

func TestCancelScanHandler(t *testing.T) {
	fx := newTestFixture(t)
	fx.svc.Registry().Put(&models.ScanRecord{ScanID: "scan-1", Status: models.StatusRunning})

	rec := doRequest(fx.server, http.MethodDelete, "/api/v1/scan/scan-1/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Scan scan-1 cancelled successfully")
}

func TestCancelScanHandler_NotCancellable(t *testing.T) {
	fx := newTestFixture(t)
	fx.svc.Registry().Put(&models.ScanRecord{ScanID: "scan-1", Status: models.StatusCompleted})

	rec := doRequest(fx.server, http.MethodDelete, "/api/v1/scan/scan-1/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not in a cancellable state")
}

func TestDeleteScanHandler(t *testing.T) {
	fx := newTestFixture(t)
	require.NoError(t, fx.store.Upsert(context.Background(), completedRecord("scan-1")))

	rec := doRequest(fx.server, http.MethodDelete, "/api/v1/scan/scan-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Scan scan-1 deleted")

	rec = doRequest(fx.server, http.MethodGet, "/api/v1/scan/scan-1/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

const workflowReport = `{"entry_type":"attempt","probe_classname":"dan.DAN_Jailbreak","status":1,"goal":"jailbreak the model"}
{"entry_type":"eval","probe":"dan.DAN_Jailbreak","detector":"mitigation.MitigationBypass","passed":1,"total":2}
`

func TestWorkflowGraphHandler(t *testing.T) {
	fx := newTestFixture(t)
	writeReport(t, fx.reportsDir, "scan-1", workflowReport)

	// No live graph exists; the handler rebuilds from the report.
	rec := doRequest(fx.server, http.MethodGet, "/api/v1/scan/scan-1/workflow", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "probe_dan_DAN_Jailbreak")

	rec = doRequest(fx.server, http.MethodGet, "/api/v1/scan/nope/workflow", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no workflow data for scan nope")
}

func TestWorkflowTimelineHandler(t *testing.T) {
	fx := newTestFixture(t)
	writeReport(t, fx.reportsDir, "scan-1", workflowReport)

	rec := doRequest(fx.server, http.MethodGet, "/api/v1/scan/scan-1/workflow/timeline", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event_0")
}

func TestWorkflowExportHandler(t *testing.T) {
	fx := newTestFixture(t)
	writeReport(t, fx.reportsDir, "scan-1", workflowReport)

	// Format defaults to json.
	rec := doRequest(fx.server, http.MethodPost, "/api/v1/scan/scan-1/workflow/export", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "json", body["format"])
	assert.Contains(t, body["data"], `"scan_id": "scan-1"`)

	rec = doRequest(fx.server, http.MethodPost, "/api/v1/scan/scan-1/workflow/export", `{"format": "mermaid"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, strings.HasPrefix(body["data"], "graph TD"))

	rec = doRequest(fx.server, http.MethodPost, "/api/v1/scan/scan-1/workflow/export", `{"format": "dot"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkflowClearHandler(t *testing.T) {
	fx := newTestFixture(t)

	rec := doRequest(fx.server, http.MethodDelete, "/api/v1/scan/scan-1/workflow", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Workflow data cleared for scan scan-1")
}

func TestListPluginsHandler(t *testing.T) {
	fx := newTestFixture(t)

	rec := doRequest(fx.server, http.MethodGet, "/api/v1/plugins/probes", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Plugins    []pluginInfo `json:"plugins"`
		TotalCount int          `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.TotalCount)
	require.Len(t, body.Plugins, 2)
	assert.Equal(t, "dan.DAN_Jailbreak", body.Plugins[0].Name)
	assert.Equal(t, "probes.dan.DAN_Jailbreak", body.Plugins[0].FullName)
	assert.True(t, body.Plugins[0].Active)
}

func TestSystemInfoHandler(t *testing.T) {
	fx := newTestFixture(t)

	rec := doRequest(fx.server, http.MethodGet, "/api/v1/system/info", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["garak_installed"])
	assert.Equal(t, "0.13.2", body["garak_version"])
	assert.NotEmpty(t, body["backend_version"])
}

func TestSystemHealthHandler_RunnerDown(t *testing.T) {
	db := util.SetupTestDatabase(t)
	store := services.NewScanStore(db)
	blobs, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	client := controller.NewRunnerClient("http://127.0.0.1:1")
	reader := reports.NewReader(blobs, store, client, t.TempDir())
	svc := controller.NewService(
		controller.NewRegistry(), store, client, reader, workflow.NewAnalyzer(), blobs, t.TempDir(), 3)
	server := NewServer(svc, database.NewClientFromDB(db))

	rec := doRequest(server, http.MethodGet, "/api/v1/system/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["garak_available"])
}

func TestProgressWSHandler(t *testing.T) {
	fx := newTestFixture(t)
	require.NoError(t, fx.store.Upsert(context.Background(), completedRecord("scan-1")))

	srv := httptest.NewServer(fx.server.echo)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/scan/scan-1/progress"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Terminal scan: one snapshot plus the final frame.
	_, first, err := conn.Read(ctx)
	require.NoError(t, err)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(first, &snap))
	assert.Equal(t, "scan-1", snap["scan_id"])
	assert.Equal(t, "completed", snap["status"])

	_, final, err := conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(final, &snap))
	assert.Equal(t, "Scan finished", snap["message"])
	assert.Equal(t, "completed", snap["final_status"])
}
