// Package service wires the ingestion pipeline together: relay fetch,
// queueing, normalization, anti-cheat, persistence, and leaderboard reads.
// It implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	eventqueue "github.com/bohemia111/RUNSTR-sub015/internal/adapters/mq/queue"
	workerpool "github.com/bohemia111/RUNSTR-sub015/internal/adapters/mq/worker"
	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/relay"
	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/repository"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/anticheat"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/normalize"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/scoring"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/types"
	"github.com/bohemia111/RUNSTR-sub015/pkg/logger"
	"github.com/bohemia111/RUNSTR-sub015/pkg/metrics"
)

// Fetcher retrieves the merged event backlog from the configured relays.
type Fetcher interface {
	Fetch(ctx context.Context, f relay.Filter) ([]model.RawEvent, error)
}

// ScanReport summarizes one relay scan. Fetched counts distinct events
// after cross-relay merge; events the queue refused are Dropped.
type ScanReport struct {
	Fetched  int `json:"fetched"`
	Enqueued int `json:"enqueued"`
	Dropped  int `json:"dropped"`
}

// Service implements the API dependencies for the workout mirror.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	fetcher    Fetcher
	eventQueue eventqueue.Queue
	validator  *anticheat.Validator
	workerPool *workerpool.Pool

	// Configuration
	workerCount     int
	queueSize       int
	storePath       string
	relayURLs       []string
	perRelayTimeout time.Duration
	globalTimeout   time.Duration
	paceFloors      map[model.Activity]float64

	// State
	started bool
	stopCh  chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of ingest worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithStorePath sets the SQLite database path.
func WithStorePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.storePath = path
		}
	}
}

// WithStore injects a pre-built store, bypassing WithStorePath.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithRelayURLs sets the relay endpoints to scan.
func WithRelayURLs(urls []string) Option {
	return func(s *Service) {
		s.relayURLs = urls
	}
}

// WithRelayTimeouts sets the per-relay and global fetch timeouts.
func WithRelayTimeouts(perRelay, global time.Duration) Option {
	return func(s *Service) {
		if perRelay > 0 {
			s.perRelayTimeout = perRelay
		}
		if global > 0 {
			s.globalTimeout = global
		}
	}
}

// WithFetcher injects a pre-built relay fetcher, bypassing WithRelayURLs.
func WithFetcher(f Fetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// WithPaceFloors sets per-activity minimum plausible pace in minutes per km.
func WithPaceFloors(floors map[model.Activity]float64) Option {
	return func(s *Service) {
		s.paceFloors = floors
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:     runtime.NumCPU() * 2,
		queueSize:       100000,
		storePath:       "data/runstr.db",
		perRelayTimeout: 15 * time.Second,
		globalTimeout:   30 * time.Second,
		stopCh:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting workout mirror service...")

	if s.store == nil {
		store, err := repository.NewSQLiteStore(ctx, s.storePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = store
		s.logger.Info(ctx, "using sqlite store", logger.String("path", s.storePath))
	}

	if s.fetcher == nil {
		s.fetcher = relay.New(s.relayURLs,
			relay.WithPerRelayTimeout(s.perRelayTimeout),
			relay.WithGlobalTimeout(s.globalTimeout),
		)
	}

	s.validator = anticheat.NewValidator(
		anticheat.WithPaceFloors(s.paceFloors),
	)
	s.eventQueue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
	)

	s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.validator, s.store)
	s.workerPool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "workout mirror service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("relays", len(s.relayURLs)),
	)

	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping workout mirror service...")

	// Close the queue first so workers drain the backlog before stopping.
	if q, ok := s.eventQueue.(*eventqueue.InMemoryQueue); ok {
		_ = q.Close()
	}

	if s.workerPool != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		s.workerPool.Stop(stopCtx)
		cancel()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "closing store", logger.Error(err))
		}
	}

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	s.started = false
	s.logger.Info(ctx, "workout mirror service stopped")
}

// Ingest processes a single event synchronously: normalize, validate,
// persist. Used by the direct submission endpoint; provenance is recorded
// as an app submission.
func (s *Service) Ingest(ctx context.Context, ev model.RawEvent) (repository.Outcome, error) {
	s.mu.RLock()
	store := s.store
	validator := s.validator
	started := s.started
	s.mu.RUnlock()

	if !started {
		return repository.Outcome{}, ErrNotStarted
	}

	workout, err := normalize.Normalize(&ev)
	if err != nil {
		metrics.RecordParseError()
		return repository.Outcome{}, err
	}

	verdict := validator.Validate(&workout)

	sub := model.Submission{
		EventID:    workout.EventID,
		PubKey:     workout.PubKey,
		Activity:   workout.Activity,
		DistanceM:  workout.DistanceM,
		DurationS:  workout.DurationS,
		Calories:   workout.Calories,
		CreatedAt:  workout.CreatedAt,
		Provenance: model.ProvenanceApp,
		Flagged:    verdict.Flagged,
		FlagReason: verdict.Reason,
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		raw = nil
	}

	outcome, err := store.Ingest(ctx, &sub, string(raw))
	if err != nil {
		return repository.Outcome{}, err
	}

	switch {
	case outcome.Duplicate:
		metrics.RecordIngestDuplicate()
	case outcome.Flagged:
		metrics.RecordIngestFlagged(outcome.Reason)
	case outcome.Success:
		metrics.RecordIngestAccepted()
	}

	return outcome, nil
}

// Scan fetches the workout backlog from the configured relays and enqueues
// every distinct event for asynchronous ingestion.
func (s *Service) Scan(ctx context.Context, authors []string, since, until *int64) (ScanReport, error) {
	s.mu.RLock()
	fetcher := s.fetcher
	queue := s.eventQueue
	started := s.started
	s.mu.RUnlock()

	if !started {
		return ScanReport{}, ErrNotStarted
	}

	filter := relay.Filter{
		Kinds:   []int{model.WorkoutKind},
		Authors: authors,
		Since:   since,
		Until:   until,
	}

	events, err := fetcher.Fetch(ctx, filter)
	if err != nil {
		return ScanReport{}, fmt.Errorf("relay fetch: %w", err)
	}

	report := ScanReport{Fetched: len(events)}
	for _, ev := range events {
		if queue.Enqueue(ctx, ev) {
			report.Enqueued++
		} else {
			report.Dropped++
		}
	}

	if report.Dropped > 0 {
		s.logger.Warn(ctx, "queue backpressure during scan",
			logger.Int("dropped", report.Dropped),
		)
	}

	s.logger.Info(ctx, "relay scan complete",
		logger.Int("fetched", report.Fetched),
		logger.Int("enqueued", report.Enqueued),
		logger.Int("dropped", report.Dropped),
	)

	return report, nil
}

// CreateCompetition validates and persists a new competition.
func (s *Service) CreateCompetition(ctx context.Context, name string, activity model.Activity, method model.ScoringMethod, startTS, endTS int64) (model.Competition, error) {
	s.mu.RLock()
	store := s.store
	started := s.started
	s.mu.RUnlock()

	if !started {
		return model.Competition{}, ErrNotStarted
	}

	switch {
	case name == "":
		return model.Competition{}, fmt.Errorf("%w: empty name", ErrInvalidCompetition)
	case !activity.Valid():
		return model.Competition{}, fmt.Errorf("%w: unknown activity %q", ErrInvalidCompetition, activity)
	case !method.Valid():
		return model.Competition{}, fmt.Errorf("%w: unknown scoring method %q", ErrInvalidCompetition, method)
	case startTS >= endTS:
		return model.Competition{}, fmt.Errorf("%w: start must precede end", ErrInvalidCompetition)
	}

	comp := model.Competition{
		ID:        uuid.NewString(),
		Name:      name,
		Activity:  activity,
		Method:    method,
		StartTS:   startTS,
		EndTS:     endTS,
		CreatedAt: time.Now().Unix(),
	}

	if err := store.CreateCompetition(ctx, &comp); err != nil {
		return model.Competition{}, err
	}

	s.logger.Info(ctx, "competition created",
		logger.String("id", comp.ID),
		logger.String("name", comp.Name),
		logger.String("activity", string(comp.Activity)),
	)

	return comp, nil
}

// Competition returns a competition by id.
func (s *Service) Competition(ctx context.Context, id string) (model.Competition, error) {
	s.mu.RLock()
	store := s.store
	started := s.started
	s.mu.RUnlock()

	if !started {
		return model.Competition{}, ErrNotStarted
	}
	return store.Competition(ctx, id)
}

// JoinCompetition registers a pubkey as a participant. Joining twice is a
// no-op.
func (s *Service) JoinCompetition(ctx context.Context, compID, pubkey string) error {
	s.mu.RLock()
	store := s.store
	started := s.started
	s.mu.RUnlock()

	if !started {
		return ErrNotStarted
	}
	if pubkey == "" {
		return ErrInvalidPubKey
	}

	// Verify the competition exists before accepting the join.
	if _, err := store.Competition(ctx, compID); err != nil {
		return err
	}

	return store.AddParticipant(ctx, compID, pubkey, time.Now().Unix())
}

// Leaderboard computes the ranked standings for a competition from its
// current qualifying submissions.
func (s *Service) Leaderboard(ctx context.Context, compID string) ([]types.Entry, error) {
	s.mu.RLock()
	store := s.store
	started := s.started
	s.mu.RUnlock()

	if !started {
		return nil, ErrNotStarted
	}

	start := time.Now()
	defer func() {
		metrics.RecordLeaderboardQuery()
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	comp, err := store.Competition(ctx, compID)
	if err != nil {
		metrics.RecordLeaderboardError()
		return nil, err
	}

	participants, err := store.Participants(ctx, compID)
	if err != nil {
		metrics.RecordLeaderboardError()
		return nil, err
	}

	subs, err := store.QualifyingSubmissions(ctx, &comp)
	if err != nil {
		metrics.RecordLeaderboardError()
		return nil, err
	}

	return scoring.Leaderboard(&comp, participants, subs), nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"relays":      len(s.relayURLs),
	}

	if s.started {
		queueLen := s.eventQueue.Len(ctx)
		stats["queueLength"] = queueLen
		metrics.UpdateQueueSize(queueLen)

		if submissions, flagged, err := s.store.Counts(ctx); err == nil {
			stats["totalSubmissions"] = submissions
			stats["flaggedSubmissions"] = flagged
			metrics.UpdateSubmissionsTotal(submissions)
			metrics.UpdateFlaggedTotal(flagged)
		}
	}

	return stats
}
