// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/repository"
	service "github.com/bohemia111/RUNSTR-sub015/internal/app"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
)

// CompetitionDependencies defines the interface for competition operations.
type CompetitionDependencies interface {
	CreateCompetition(ctx context.Context, name string, activity model.Activity, method model.ScoringMethod, startTS, endTS int64) (model.Competition, error)
	Competition(ctx context.Context, id string) (model.Competition, error)
	JoinCompetition(ctx context.Context, compID, pubkey string) error
	Leaderboard(ctx context.Context, compID string) ([]Entry, error)
}

// CompetitionsHandler handles competition requests.
type CompetitionsHandler struct {
	deps CompetitionDependencies
}

// NewCompetitionsHandler creates a new competitions handler.
func NewCompetitionsHandler(deps CompetitionDependencies) *CompetitionsHandler {
	return &CompetitionsHandler{deps: deps}
}

// competitionRequest mirrors the request schema for POST /competitions.
type competitionRequest struct {
	Name          string `json:"name"`
	Activity      string `json:"activity"`
	ScoringMethod string `json:"scoring_method"`
	StartTS       int64  `json:"start_ts"`
	EndTS         int64  `json:"end_ts"`
}

// joinRequest mirrors the request schema for POST /competitions/{id}/participants.
type joinRequest struct {
	PubKey string `json:"pubkey"`
}

// HandleCompetitions handles POST /competitions requests.
func (h *CompetitionsHandler) HandleCompetitions(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_competition"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req competitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	comp, err := h.deps.CreateCompetition(r.Context(), req.Name,
		model.Activity(req.Activity), model.ScoringMethod(req.ScoringMethod),
		req.StartTS, req.EndTS)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCompetition):
			writeError(w, http.StatusBadRequest, "bad_request", err)
		case errors.Is(err, repository.ErrCompetitionExists):
			writeError(w, http.StatusConflict, "conflict", err)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, comp)
}

// HandleCompetitionSubpath routes /competitions/{id}, /competitions/{id}/participants,
// and /competitions/{id}/leaderboard.
func (h *CompetitionsHandler) HandleCompetitionSubpath(w http.ResponseWriter, r *http.Request) {
	// Extract path parameters after /competitions/
	path := strings.TrimPrefix(r.URL.Path, "/competitions/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if parts[0] == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGet(w, r, id)
	case len(parts) == 2 && parts[1] == "participants" && r.Method == http.MethodPost:
		h.handleJoin(w, r, id)
	case len(parts) == 2 && parts[1] == "leaderboard" && r.Method == http.MethodGet:
		h.handleLeaderboard(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (h *CompetitionsHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	comp, err := h.deps.Competition(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, comp)
}

func (h *CompetitionsHandler) handleJoin(w http.ResponseWriter, r *http.Request, id string) {
	const op = "api.post_participant"
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.PubKey) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	if err := h.deps.JoinCompetition(r.Context(), id, req.PubKey); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", err)
		case errors.Is(err, service.ErrInvalidPubKey):
			writeError(w, http.StatusBadRequest, "bad_request", err)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

func (h *CompetitionsHandler) handleLeaderboard(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := h.deps.Leaderboard(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
