package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
	"github.com/bohemia111/RUNSTR-sub015/pkg/logger"
	"github.com/bohemia111/RUNSTR-sub015/pkg/metrics"
)

const defaultBusyTimeout = 5 * time.Second

// SQLiteStore implements Store on a single SQLite file. One connection is
// kept open, which serializes every transaction; the read-then-write overlap
// check therefore cannot race another writer.
type SQLiteStore struct {
	db          *sql.DB
	busyTimeout time.Duration
	log         logger.Logger
}

// NewSQLiteStore opens (creating if needed) the mirror database at path and
// applies the schema.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("store")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Single writer connection; SQLite allows one writer anyway and this
	// keeps transactions strictly serialized.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	s.db = db
	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// effectiveDuration is the overlap-check duration in seconds. A submission
// without a duration collapses to a one-second instant, which under
// half-open interval intersection behaves as a point at created_at.
func effectiveDuration(d *int64) int64 {
	if d == nil || *d <= 0 {
		return 1
	}
	return *d
}

// Ingest runs the ordered checks (exact duplicate, flagged persistence,
// time overlap, insert) in one serialized transaction.
func (s *SQLiteStore) Ingest(ctx context.Context, sub *model.Submission, rawJSON string) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreWriteLatency(float64(time.Since(start).Milliseconds()))
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("begin ingest tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM workout_submissions WHERE event_id = ?)`,
		sub.EventID,
	).Scan(&exists)
	if err != nil {
		return Outcome{}, fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		return Outcome{Success: true, Duplicate: true}, nil
	}

	if sub.Flagged {
		if err := s.insertSubmission(ctx, tx, sub); err != nil {
			return Outcome{}, err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO flagged_workouts (event_id, pubkey, reason, raw_event, flagged_at)
			 VALUES (?, ?, ?, ?, ?)`,
			sub.EventID, sub.PubKey, sub.FlagReason, rawJSON, time.Now().Unix(),
		)
		if err != nil {
			return Outcome{}, fmt.Errorf("insert flagged audit row: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Outcome{}, fmt.Errorf("commit flagged ingest: %w", err)
		}
		return Outcome{Flagged: true, Reason: sub.FlagReason}, nil
	}

	// Same author cannot log two simultaneous workouts: an overlapping
	// interval is assumed to be a double-publish of the same effort and is
	// treated exactly like an exact duplicate, not flagged. Baseline rows
	// are pre-aggregated imports, not interval-bearing workouts, so they
	// never contend for a time slot.
	if sub.Provenance != model.ProvenanceBaseline {
		newStart := sub.CreatedAt
		newEnd := newStart + effectiveDuration(sub.DurationS)
		var overlaps bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(
			     SELECT 1 FROM workout_submissions
			     WHERE pubkey = ? AND flagged = 0 AND provenance != ?
			       AND created_at < ?
			       AND ? < created_at + CASE WHEN duration_s IS NULL OR duration_s <= 0 THEN 1 ELSE duration_s END
			 )`,
			sub.PubKey, model.ProvenanceBaseline, newEnd, newStart,
		).Scan(&overlaps)
		if err != nil {
			return Outcome{}, fmt.Errorf("overlap check: %w", err)
		}
		if overlaps {
			return Outcome{Success: true, Duplicate: true}, nil
		}
	}

	if err := s.insertSubmission(ctx, tx, sub); err != nil {
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("commit ingest: %w", err)
	}
	return Outcome{Success: true}, nil
}

// insertSubmission writes the row with INSERT OR IGNORE so that a concurrent
// identical insert degrades to the duplicate outcome instead of an error.
func (s *SQLiteStore) insertSubmission(ctx context.Context, tx *sql.Tx, sub *model.Submission) error {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO workout_submissions
		 (event_id, pubkey, activity, distance_m, duration_s, calories, created_at, provenance, baseline_count, flagged, flag_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.EventID, sub.PubKey, string(sub.Activity),
		nullFloat(sub.DistanceM), nullInt(sub.DurationS), nullInt(sub.Calories),
		sub.CreatedAt, string(sub.Provenance), nullInt(sub.BaselineCount),
		boolToInt(sub.Flagged), nullString(sub.FlagReason),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.log.Debug(ctx, "submission insert ignored by unique constraint",
			logger.String("eventID", sub.EventID))
	}
	return nil
}

// CreateCompetition persists an operator-created competition.
func (s *SQLiteStore) CreateCompetition(ctx context.Context, comp *model.Competition) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO competitions (id, name, activity, scoring_method, start_ts, end_ts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		comp.ID, comp.Name, string(comp.Activity), string(comp.Method),
		comp.StartTS, comp.EndTS, comp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert competition: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("competition %s: %w", comp.ID, ErrCompetitionExists)
	}
	return nil
}

// Competition returns a competition by ID.
func (s *SQLiteStore) Competition(ctx context.Context, id string) (model.Competition, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var comp model.Competition
	var activity, method string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, activity, scoring_method, start_ts, end_ts, created_at
		 FROM competitions WHERE id = ?`, id,
	).Scan(&comp.ID, &comp.Name, &activity, &method, &comp.StartTS, &comp.EndTS, &comp.CreatedAt)
	if err == sql.ErrNoRows {
		return model.Competition{}, fmt.Errorf("competition %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Competition{}, fmt.Errorf("query competition: %w", err)
	}
	comp.Activity = model.Activity(activity)
	comp.Method = model.ScoringMethod(method)
	return comp, nil
}

// AddParticipant registers a pubkey; joining twice is a no-op.
func (s *SQLiteStore) AddParticipant(ctx context.Context, competitionID, pubkey string, joinedAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO competition_participants (competition_id, pubkey, joined_at)
		 VALUES (?, ?, ?)`,
		competitionID, pubkey, joinedAt,
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// Participants lists registered pubkeys in join order.
func (s *SQLiteStore) Participants(ctx context.Context, competitionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pubkey FROM competition_participants WHERE competition_id = ? ORDER BY joined_at, pubkey`,
		competitionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var pubkeys []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		pubkeys = append(pubkeys, pk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return pubkeys, nil
}

// QualifyingSubmissions returns the non-flagged submissions by the
// competition's participants matching its activity and inclusive window.
func (s *SQLiteStore) QualifyingSubmissions(ctx context.Context, comp *model.Competition) ([]model.Submission, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	rows, err := s.db.QueryContext(ctx,
		`SELECT s.event_id, s.pubkey, s.activity, s.distance_m, s.duration_s, s.calories,
		        s.created_at, s.provenance, s.baseline_count
		 FROM workout_submissions s
		 JOIN competition_participants p
		   ON p.pubkey = s.pubkey AND p.competition_id = ?
		 WHERE s.flagged = 0
		   AND s.activity = ?
		   AND s.created_at BETWEEN ? AND ?`,
		comp.ID, string(comp.Activity), comp.StartTS, comp.EndTS,
	)
	if err != nil {
		return nil, fmt.Errorf("query qualifying submissions: %w", err)
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		var activity, provenance string
		var distance sql.NullFloat64
		var duration, calories, baseline sql.NullInt64
		if err := rows.Scan(&sub.EventID, &sub.PubKey, &activity, &distance, &duration, &calories,
			&sub.CreatedAt, &provenance, &baseline); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.Activity = model.Activity(activity)
		sub.Provenance = model.Provenance(provenance)
		if distance.Valid {
			v := distance.Float64
			sub.DistanceM = &v
		}
		if duration.Valid {
			v := duration.Int64
			sub.DurationS = &v
		}
		if calories.Valid {
			v := calories.Int64
			sub.Calories = &v
		}
		if baseline.Valid {
			v := baseline.Int64
			sub.BaselineCount = &v
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return subs, nil
}

// Counts reports total and flagged submission rows.
func (s *SQLiteStore) Counts(ctx context.Context) (int, int, error) {
	var submissions, flagged int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(flagged), 0) FROM workout_submissions`,
	).Scan(&submissions, &flagged)
	if err != nil {
		return 0, 0, fmt.Errorf("count submissions: %w", err)
	}
	return submissions, flagged, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
