package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/aegis-scan/aegis/pkg/models"
)

// wsSnapshotInterval is how often progress snapshots are pushed to each
// WebSocket subscriber.
const wsSnapshotInterval = time.Second

// progressSnapshot is the per-tick frame sent to WebSocket subscribers.
type progressSnapshot struct {
	ScanID             string            `json:"scan_id"`
	Status             models.ScanStatus `json:"status"`
	Progress           float64           `json:"progress"`
	CurrentProbe       string            `json:"current_probe,omitempty"`
	CompletedProbes    int               `json:"completed_probes"`
	TotalProbes        int               `json:"total_probes"`
	CurrentIteration   int               `json:"current_iteration"`
	TotalIterations    int               `json:"total_iterations"`
	Passed             int               `json:"passed"`
	Failed             int               `json:"failed"`
	ElapsedTime        string            `json:"elapsed_time,omitempty"`
	EstimatedRemaining string            `json:"estimated_remaining,omitempty"`
	ErrorMessage       string            `json:"error_message,omitempty"`
	Message            string            `json:"message,omitempty"`
	FinalStatus        models.ScanStatus `json:"final_status,omitempty"`
	Timestamp          string            `json:"timestamp"`
}

// progressWSHandler streams scan progress over a WebSocket: one snapshot
// per second plus a final frame when the scan reaches a terminal state,
// after which the socket closes. Client disconnects do not affect the
// scan.
func (s *Server) progressWSHandler(c *echo.Context) error {
	scanID := c.Param("id")

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := c.Request().Context()
	ticker := time.NewTicker(wsSnapshotInterval)
	defer ticker.Stop()

	for {
		rec, err := s.scans.Status(ctx, scanID)
		if err != nil {
			payload, _ := json.Marshal(map[string]string{"error": "Scan " + scanID + " not found"})
			_ = conn.Write(ctx, websocket.MessageText, payload)
			break
		}

		if err := s.writeSnapshot(ctx, conn, rec, false); err != nil {
			return nil
		}

		if rec.Status.IsTerminal() {
			_ = s.writeSnapshot(ctx, conn, rec, true)
			break
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}

	conn.Close(websocket.StatusNormalClosure, "scan finished")
	return nil
}

func (s *Server) writeSnapshot(ctx context.Context, conn *websocket.Conn, rec *models.ScanRecord, final bool) error {
	snap := progressSnapshot{
		ScanID:             rec.ScanID,
		Status:             rec.Status,
		Progress:           rec.Progress,
		CurrentProbe:       rec.CurrentProbe,
		CompletedProbes:    rec.CompletedProbes,
		TotalProbes:        rec.TotalProbes,
		CurrentIteration:   rec.CurrentIteration,
		TotalIterations:    rec.TotalIterations,
		Passed:             rec.Passed,
		Failed:             rec.Failed,
		ElapsedTime:        rec.ElapsedTime,
		EstimatedRemaining: rec.EstimatedRemaining,
		Timestamp:          time.Now().Format(time.RFC3339),
	}
	if final {
		snap.ErrorMessage = rec.ErrorMessage
		snap.Message = "Scan finished"
		snap.FinalStatus = rec.Status
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}
