// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	service "github.com/bohemia111/RUNSTR-sub015/internal/app"
)

// ScanDependencies defines the interface for triggering relay scans.
type ScanDependencies interface {
	Scan(ctx context.Context, authors []string, since, until *int64) (service.ScanReport, error)
}

// ScanHandler handles relay scan requests.
type ScanHandler struct {
	deps ScanDependencies
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(deps ScanDependencies) *ScanHandler {
	return &ScanHandler{deps: deps}
}

// scanRequest narrows a scan to specific authors or a time window. All
// fields are optional; an empty body scans the full backlog.
type scanRequest struct {
	Authors []string `json:"authors"`
	Since   *int64   `json:"since"`
	Until   *int64   `json:"until"`
}

// HandlePostScan handles POST /scan requests. The fetch itself is
// synchronous; ingestion of the fetched events continues asynchronously,
// so the response is an acceptance report rather than final outcomes.
func (h *ScanHandler) HandlePostScan(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_scan"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req scanRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
	}

	report, err := h.deps.Scan(r.Context(), req.Authors, req.Since, req.Until)
	if err != nil {
		writeError(w, http.StatusBadGateway, "relay_fetch_failed", err)
		return
	}

	status := http.StatusAccepted
	if report.Dropped > 0 {
		// Partial acceptance under backpressure still reports the counts.
		status = http.StatusOK
	}
	writeJSON(w, status, report)
}
