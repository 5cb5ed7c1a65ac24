// Package worker defines the asynchronous ingest workers that drain the raw
// event queue: each event is normalized, validated, and written to the
// mirror. Normalize and validate are pure, so workers share no state beyond
// the queue and the store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/mq/queue"
	"github.com/bohemia111/RUNSTR-sub015/internal/adapters/repository"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/anticheat"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/normalize"
	"github.com/bohemia111/RUNSTR-sub015/pkg/logger"
	"github.com/bohemia111/RUNSTR-sub015/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	workerShutdownTimeout   = 5 * time.Second
)

// Event abstracts what workers read off the queue.
type Event = queue.Event

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Ingester persists a validated submission with idempotent semantics.
type Ingester interface {
	Ingest(ctx context.Context, sub *model.Submission, rawJSON string) (repository.Outcome, error)
}

// Validator applies anti-cheat rules to a normalized workout.
type Validator interface {
	Validate(w *model.Workout) anticheat.Result
}

// Worker processes raw events from the queue until stopped.
type Worker struct {
	queue      Queue
	validator  Validator
	ingester   Ingester
	provenance model.Provenance
	name       string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewWorker creates a worker with configuration options.
func NewWorker(q Queue, validator Validator, ingester Ingester, opts ...Option) *Worker {
	w := &Worker{
		queue:      q,
		validator:  validator,
		ingester:   ingester,
		provenance: model.ProvenanceNostrScan,
		name:       "worker",
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}

	return w
}

// Run starts the worker loop until ctx is canceled or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	eventChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := w.processEvent(ctx, event); err != nil {
				w.logger.Error(ctx, "error processing event",
					logger.String("eventID", event.ID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker %s shutdown: %w", w.name, ctx.Err())
	case <-time.After(workerShutdownTimeout):
		return fmt.Errorf("worker %s shutdown timed out", w.name)
	}
}

// processEvent runs one event through normalize, validate, and ingest.
func (w *Worker) processEvent(ctx context.Context, event Event) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	workout, err := normalize.Normalize(&event)
	if err != nil {
		var perr *normalize.ParseError
		if errors.As(err, &perr) {
			// One malformed event never aborts the batch.
			metrics.RecordParseError()
			w.logger.Debug(ctx, "unparsable workout event",
				logger.String("eventID", perr.EventID),
				logger.String("reason", perr.Reason),
			)
			return nil
		}
		return err
	}

	verdict := w.validator.Validate(&workout)

	sub := model.Submission{
		EventID:    workout.EventID,
		PubKey:     workout.PubKey,
		Activity:   workout.Activity,
		DistanceM:  workout.DistanceM,
		DurationS:  workout.DurationS,
		Calories:   workout.Calories,
		CreatedAt:  workout.CreatedAt,
		Provenance: w.provenance,
		Flagged:    verdict.Flagged,
		FlagReason: verdict.Reason,
	}

	rawJSON, err := json.Marshal(event)
	if err != nil {
		rawJSON = nil
	}

	outcome, err := w.ingester.Ingest(ctx, &sub, string(rawJSON))
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "ingest_error")
		return fmt.Errorf("ingest event %s: %w", event.ID, err)
	}

	switch {
	case outcome.Duplicate:
		metrics.RecordIngestDuplicate()
	case outcome.Flagged:
		metrics.RecordIngestFlagged(outcome.Reason)
	case outcome.Success:
		metrics.RecordIngestAccepted()
	}

	return nil
}

// Pool manages multiple workers draining the same queue.
type Pool struct {
	workers []*Worker
}

// NewPool creates a pool of workerCount workers.
func NewPool(workerCount int, q Queue, validator Validator, ingester Ingester, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers: make([]*Worker, workerCount),
	}

	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewWorker(q, validator, ingester, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)

	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Stop gracefully stops all workers.
func (p *Pool) Stop(ctx context.Context) {
	for _, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			w.logger.Warn(ctx, "worker shutdown", logger.Error(err))
		}
	}
	metrics.UpdateWorkerCount(0)
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}
