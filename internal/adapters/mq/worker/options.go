package worker

import (
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/pkg/logger"
)

// Option applies a configuration option to the Worker.
type Option func(*Worker)

// WithName sets the worker name used in logs.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithProvenance sets the provenance recorded on submissions this worker
// produces. Defaults to nostr_scan.
func WithProvenance(p model.Provenance) Option {
	return func(w *Worker) {
		if p.Valid() {
			w.provenance = p
		}
	}
}

// WithLogger sets the logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}
