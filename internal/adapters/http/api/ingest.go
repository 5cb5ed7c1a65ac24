// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/normalize"
)

// IngestDependencies defines the interface for direct submissions.
type IngestDependencies interface {
	Ingest(ctx context.Context, ev model.RawEvent) (Outcome, error)
}

// IngestHandler handles direct workout submissions.
type IngestHandler struct {
	deps IngestDependencies
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(deps IngestDependencies) *IngestHandler {
	return &IngestHandler{deps: deps}
}

// HandlePostIngest handles POST /ingest requests. The body is a signed
// workout event in wire format; the submission is processed synchronously
// so the caller learns the final outcome.
func (h *IngestHandler) HandlePostIngest(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_ingest"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var ev model.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := validateEvent(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	outcome, err := h.deps.Ingest(r.Context(), ev)
	if err != nil {
		var perr *normalize.ParseError
		if errors.As(err, &perr) {
			writeError(w, http.StatusUnprocessableEntity, "unparsable_event", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}

	ack := ackResponse{
		Success:   outcome.Success,
		Duplicate: outcome.Duplicate,
		Flagged:   outcome.Flagged,
		Reason:    outcome.Reason,
	}
	switch {
	case outcome.Duplicate:
		ack.Status = "duplicate"
		writeJSON(w, http.StatusOK, ack)
	case outcome.Flagged:
		ack.Status = "flagged"
		writeJSON(w, http.StatusOK, ack)
	default:
		ack.Status = "accepted"
		writeJSON(w, http.StatusCreated, ack)
	}
}

func validateEvent(ev *model.RawEvent) error {
	switch {
	case strings.TrimSpace(ev.ID) == "":
		return errors.New("missing id")
	case strings.TrimSpace(ev.PubKey) == "":
		return errors.New("missing pubkey")
	case ev.Kind != model.WorkoutKind:
		return errors.New("unsupported event kind")
	case ev.CreatedAt <= 0:
		return errors.New("missing created_at")
	}
	return nil
}
