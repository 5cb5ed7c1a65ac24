package model

// ScoringMethod selects how a competition aggregates qualifying submissions.
type ScoringMethod string

// Supported scoring methods.
const (
	ScoreTotalDistance ScoringMethod = "total_distance"
	ScoreTotalDuration ScoringMethod = "total_duration"
	ScoreWorkoutCount  ScoringMethod = "workout_count"
)

// Valid reports whether m is a supported scoring method.
func (m ScoringMethod) Valid() bool {
	switch m {
	case ScoreTotalDistance, ScoreTotalDuration, ScoreWorkoutCount:
		return true
	}
	return false
}

// Competition is operator-created and immutable for its duration. The time
// window is inclusive on both ends.
type Competition struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Activity  Activity      `json:"activity"`
	Method    ScoringMethod `json:"scoring_method"`
	StartTS   int64         `json:"start_ts"`
	EndTS     int64         `json:"end_ts"`
	CreatedAt int64         `json:"created_at"`
}

// Provenance marks how a submission entered the mirror.
type Provenance string

// Submission provenance values.
const (
	ProvenanceApp       Provenance = "app"
	ProvenanceNostrScan Provenance = "nostr_scan"
	ProvenanceBaseline  Provenance = "baseline_migration"
)

// Valid reports whether p is a known provenance tag.
func (p Provenance) Valid() bool {
	switch p {
	case ProvenanceApp, ProvenanceNostrScan, ProvenanceBaseline:
		return true
	}
	return false
}

// Submission is one persisted mirror row, keyed by the source event ID.
// Flagged rows are retained for audit and appeal, never deleted; they are
// excluded from overlap checks and from scoring.
type Submission struct {
	EventID    string
	PubKey     string
	Activity   Activity
	DistanceM  *float64
	DurationS  *int64
	Calories   *int64
	CreatedAt  int64
	Provenance Provenance
	// BaselineCount carries a pre-aggregated workout count for migrated
	// baseline rows. Nil for live rows, which count as 1.
	BaselineCount *int64
	Flagged       bool
	FlagReason    string
}

// CountWeight is the submission's contribution under workout_count scoring.
func (s *Submission) CountWeight() int64 {
	if s.BaselineCount != nil {
		return *s.BaselineCount
	}
	return 1
}
