// Package repository provides the durable relational mirror of ingested
// workouts and competitions.
package repository

import (
	"context"

	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
)

// Outcome is the structured result of one ingestion attempt. The three
// booleans are independent; duplicate short-circuits further checks, so a
// duplicate submission is never also flagged. Callers always receive an
// Outcome for business results, never an error, so retries are safe.
type Outcome struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate"`
	Flagged   bool   `json:"flagged"`
	Reason    string `json:"reason,omitempty"`
}

// Store provides read/write access to the mirror.
type Store interface {
	// Ingest persists a submission with idempotent retry semantics:
	// duplicate event IDs and same-author time overlaps resolve to a
	// successful no-op, flagged submissions are retained with their
	// reason, and everything else becomes a non-flagged row. rawJSON is
	// the original event payload kept for audit on flagged rows.
	Ingest(ctx context.Context, sub *model.Submission, rawJSON string) (Outcome, error)

	// CreateCompetition persists an operator-created competition.
	CreateCompetition(ctx context.Context, comp *model.Competition) error

	// Competition returns a competition by ID, or ErrNotFound.
	Competition(ctx context.Context, id string) (model.Competition, error)

	// AddParticipant registers (competition, pubkey); joining twice is a
	// no-op.
	AddParticipant(ctx context.Context, competitionID, pubkey string, joinedAt int64) error

	// Participants lists the competition's registered pubkeys.
	Participants(ctx context.Context, competitionID string) ([]string, error)

	// QualifyingSubmissions returns the non-flagged submissions by the
	// competition's participants that match its activity and inclusive
	// time window.
	QualifyingSubmissions(ctx context.Context, comp *model.Competition) ([]model.Submission, error)

	// Counts reports the number of submission rows and how many of them
	// are flagged.
	Counts(ctx context.Context) (submissions, flagged int, err error)

	// Close releases the underlying database handle.
	Close() error
}
