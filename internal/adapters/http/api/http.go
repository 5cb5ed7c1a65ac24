// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/repository"
	service "github.com/bohemia111/RUNSTR-sub015/internal/app"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Ingest processes one event synchronously and reports the outcome.
	Ingest(ctx context.Context, ev model.RawEvent) (Outcome, error)

	// Scan fetches the relay backlog and enqueues it for async processing.
	Scan(ctx context.Context, authors []string, since, until *int64) (service.ScanReport, error)

	// Competition operations.
	CreateCompetition(ctx context.Context, name string, activity model.Activity, method model.ScoringMethod, startTS, endTS int64) (model.Competition, error)
	Competition(ctx context.Context, id string) (model.Competition, error)
	JoinCompetition(ctx context.Context, compID, pubkey string) error
	Leaderboard(ctx context.Context, compID string) ([]Entry, error)
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Outcome mirrors the ingest result shape returned by the store.
type Outcome = repository.Outcome

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler       *HealthHandler
	statsHandler        *StatsHandler
	ingestHandler       *IngestHandler
	scanHandler         *ScanHandler
	competitionsHandler *CompetitionsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:       NewHealthHandler(),
		statsHandler:        NewStatsHandler(statsProvider),
		ingestHandler:       NewIngestHandler(deps),
		scanHandler:         NewScanHandler(deps),
		competitionsHandler: NewCompetitionsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/ingest", MetricsMiddleware(s.ingestHandler.HandlePostIngest, "ingest"))
	mux.HandleFunc("/scan", MetricsMiddleware(s.scanHandler.HandlePostScan, "scan"))
	mux.HandleFunc("/competitions", MetricsMiddleware(s.competitionsHandler.HandleCompetitions, "competitions"))
	mux.HandleFunc("/competitions/", MetricsMiddleware(s.competitionsHandler.HandleCompetitionSubpath, "competitions"))
}

// ackResponse mirrors the ingest contract: three independent booleans plus
// an optional reason. Status is a human-readable summary of the same facts.
type ackResponse struct {
	Status    string `json:"status"`
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate"`
	Flagged   bool   `json:"flagged"`
	Reason    string `json:"reason,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
