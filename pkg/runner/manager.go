package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aegis-scan/aegis/pkg/models"
)

// scanState pairs a scan's record with its child process and event queue.
type scanState struct {
	mu     sync.Mutex
	record *models.ScanRecord
	queue  *eventQueue
	parser *Parser

	cmd       *exec.Cmd
	done      chan struct{} // closed when the child has been reaped
	cancelled bool
}

func (s *scanState) snapshot() *models.ScanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

// Manager supervises engine child processes. Each scan runs in its own
// process group so cancellation can reach the engine's worker children.
type Manager struct {
	mu    sync.RWMutex
	scans map[string]*scanState

	engine     *Engine
	uploader   *Uploader
	reportsDir string
}

// NewManager wires the manager to a discovered engine and an uploader.
func NewManager(engine *Engine, uploader *Uploader, reportsDir string) *Manager {
	return &Manager{
		scans:      make(map[string]*scanState),
		engine:     engine,
		uploader:   uploader,
		reportsDir: reportsDir,
	}
}

// StartScan builds the engine command and launches it asynchronously.
// The returned record is the initial pending snapshot.
func (m *Manager) StartScan(scanID string, cfg *models.ScanConfig) (*models.ScanRecord, error) {
	argv, err := m.engine.BuildCommand(cfg)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	state := &scanState{
		record: &models.ScanRecord{
			ScanID:      scanID,
			Status:      models.StatusPending,
			TargetType:  cfg.TargetType,
			TargetName:  cfg.TargetName,
			TotalProbes: len(cfg.Probes),
			CreatedAt:   now,
			Config:      cfg,
		},
		queue:  newEventQueue(),
		parser: NewParser(scanID),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.scans[scanID] = state
	m.mu.Unlock()

	slog.Info("Starting scan", "scan_id", scanID, "command", strings.Join(argv, " "))
	go m.runScan(state, argv)

	return state.snapshot(), nil
}

// scanLines splits on both \n and \r so tqdm progress bars, which redraw
// with carriage returns, surface as individual lines.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (m *Manager) runScan(state *scanState, argv []string) {
	scanID := state.record.ScanID
	defer state.queue.Close()

	startedAt := time.Now()
	state.mu.Lock()
	state.record.Status = models.StatusRunning
	state.record.StartedAt = &startedAt
	state.mu.Unlock()
	state.queue.Push(&models.ProgressEvent{
		EventType: models.EventStatus,
		Status:    string(models.StatusRunning),
	})

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Merge stdout and stderr into one pipe; the engine interleaves
	// progress bars and log lines across both.
	pr, pw, err := os.Pipe()
	if err != nil {
		m.failScan(state, fmt.Sprintf("creating output pipe: %v", err))
		close(state.done)
		return
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		m.failScan(state, fmt.Sprintf("starting engine: %v", err))
		close(state.done)
		return
	}
	pw.Close()

	state.mu.Lock()
	state.cmd = cmd
	state.mu.Unlock()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			m.processLine(state, line)
		}
	}
	pr.Close()

	waitErr := cmd.Wait()
	close(state.done)

	completedAt := time.Now()
	state.mu.Lock()
	state.record.CompletedAt = &completedAt

	if state.cancelled || state.record.Status == models.StatusCancelled {
		state.record.Status = models.StatusCancelled
		state.mu.Unlock()
		// Pushed here, before the deferred queue Close, so the terminal
		// event is never dropped.
		state.queue.Push(&models.ProgressEvent{
			EventType: models.EventStatus,
			Status:    string(models.StatusCancelled),
		})
		return
	}

	if state.record.Status == models.StatusFailed {
		// The error event that set the message is already in the queue.
		msg := state.record.ErrorMessage
		state.mu.Unlock()
		slog.Error("Scan failed", "scan_id", scanID, "error", msg)
		return
	}

	if waitErr != nil {
		state.record.Status = models.StatusFailed
		tail := state.record.RecentOutput
		if len(tail) > 20 {
			tail = tail[len(tail)-20:]
		}
		state.record.ErrorMessage = fmt.Sprintf(
			"Process exited with code %d. Last output:\n%s",
			cmd.ProcessState.ExitCode(), strings.Join(tail, "\n"))
		msg := state.record.ErrorMessage
		state.mu.Unlock()

		state.queue.Push(&models.ProgressEvent{
			EventType: models.EventError,
			Message:   msg,
		})
		slog.Error("Scan failed", "scan_id", scanID,
			"exit_code", cmd.ProcessState.ExitCode())
		return
	}

	state.record.Status = models.StatusCompleted
	state.record.Progress = 100.0
	jsonlPath := state.record.JSONLReportPath
	htmlPath := state.record.HTMLReportPath
	passed, failed := state.record.Passed, state.record.Failed
	state.mu.Unlock()

	// Upload outside the lock; transfers can take a while.
	keys := m.uploader.Upload(context.Background(), scanID, jsonlPath, htmlPath)

	state.mu.Lock()
	if k := keys["jsonl"]; k != "" {
		state.record.ReportKey = k
	}
	if k := keys["html"]; k != "" {
		state.record.HTMLReportKey = k
	}
	state.mu.Unlock()

	state.queue.Push(&models.ProgressEvent{
		EventType:  models.EventComplete,
		Status:     string(models.StatusCompleted),
		Passed:     passed,
		Failed:     failed,
		ReportKeys: keys,
	})
	slog.Info("Scan completed", "scan_id", scanID, "passed", passed, "failed", failed)
}

// failScan marks a scan failed before the child ever produced output.
func (m *Manager) failScan(state *scanState, msg string) {
	completedAt := time.Now()
	state.mu.Lock()
	state.record.Status = models.StatusFailed
	state.record.ErrorMessage = msg
	state.record.CompletedAt = &completedAt
	state.mu.Unlock()
	state.queue.Push(&models.ProgressEvent{
		EventType: models.EventError,
		Message:   msg,
	})
}

// processLine records the raw line, parses it, folds the event into the
// scan record, and forwards it. Unrecognized lines become output events so
// downstream consumers see the full transcript.
func (m *Manager) processLine(state *scanState, line string) {
	state.mu.Lock()
	state.record.AppendOutput(line)

	ev := state.parser.ParseLine(line)
	if ev == nil {
		state.mu.Unlock()
		state.queue.Push(&models.ProgressEvent{
			EventType: models.EventOutput,
			Line:      line,
			RawLine:   line,
		})
		return
	}

	r := state.record
	switch ev.EventType {
	case models.EventProgress:
		r.CurrentProbe = ev.Probe
		r.Progress = float64(ev.Percent)
		r.CurrentIteration = ev.Current
		r.TotalIterations = ev.Total
		r.ElapsedTime = ev.Elapsed
		r.EstimatedRemaining = ev.Remaining
	case models.EventProbeCount:
		r.CompletedProbes = ev.Completed
		r.TotalProbes = ev.TotalProbes
	case models.EventCurrentProbe:
		r.CurrentProbe = ev.Probe
	case models.EventResult:
		r.Passed = ev.TotalPassed
		r.Failed = ev.TotalFailed
	case models.EventReport:
		switch ev.ReportType {
		case models.ReportHTML:
			r.HTMLReportPath = ev.Path
		case models.ReportJSONL:
			r.JSONLReportPath = ev.Path
		}
	case models.EventError:
		r.Status = models.StatusFailed
		r.ErrorMessage = ev.Message
	}
	state.mu.Unlock()

	ev.RawLine = line
	state.queue.Push(ev)
}

// Events returns the scan's event queue, or nil for unknown scans.
func (m *Manager) Events(scanID string) *eventQueue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.scans[scanID]
	if !ok {
		return nil
	}
	return state.queue
}

// Status returns a snapshot of the scan, or nil when unknown.
func (m *Manager) Status(scanID string) *models.ScanRecord {
	m.mu.RLock()
	state, ok := m.scans[scanID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return state.snapshot()
}

// ListActive returns snapshots of every tracked scan.
func (m *Manager) ListActive() []*models.ScanRecord {
	m.mu.RLock()
	states := make([]*scanState, 0, len(m.scans))
	for _, s := range m.scans {
		states = append(states, s)
	}
	m.mu.RUnlock()

	records := make([]*models.ScanRecord, 0, len(states))
	for _, s := range states {
		records = append(records, s.snapshot())
	}
	return records
}

// Cancel terminates a running scan's process group: SIGTERM, a one second
// grace period, then SIGKILL. Returns false when the scan is unknown or
// already terminal.
func (m *Manager) Cancel(scanID string) bool {
	m.mu.RLock()
	state, ok := m.scans[scanID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	state.mu.Lock()
	if state.record.Status != models.StatusRunning && state.record.Status != models.StatusPending {
		state.mu.Unlock()
		return false
	}
	cmd := state.cmd
	state.cancelled = true
	state.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		m.markCancelled(state)
		return true
	}

	pid := cmd.Process.Pid
	slog.Info("Cancelling scan", "scan_id", scanID, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		slog.Warn("SIGTERM to process group failed", "scan_id", scanID, "error", err)
	}

	select {
	case <-state.done:
	case <-time.After(1 * time.Second):
		slog.Info("Force killing scan", "scan_id", scanID, "pid", pid)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		select {
		case <-state.done:
		case <-time.After(500 * time.Millisecond):
		}
	}

	m.markCancelled(state)
	slog.Info("Scan cancelled", "scan_id", scanID)
	return true
}

// markCancelled flips the record immediately so status queries see the
// cancel; runScan owns the terminal event and the queue close.
func (m *Manager) markCancelled(state *scanState) {
	completedAt := time.Now()
	state.mu.Lock()
	state.record.Status = models.StatusCancelled
	if state.record.CompletedAt == nil {
		state.record.CompletedAt = &completedAt
	}
	state.mu.Unlock()
}

// ListReportFiles returns the artifact filenames in the spool directory.
func (m *Manager) ListReportFiles() []string {
	entries, err := os.ReadDir(m.reportsDir)
	if err != nil {
		return []string{}
	}
	files := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".html", ".jsonl":
			files = append(files, e.Name())
		}
	}
	return files
}

// ReportsDir returns the engine spool directory.
func (m *Manager) ReportsDir() string { return m.reportsDir }
