package model

// Activity classifies a workout. Unknown or ambiguous records stay Other.
type Activity string

// Recognized activity types.
const (
	ActivityRunning Activity = "running"
	ActivityWalking Activity = "walking"
	ActivityCycling Activity = "cycling"
	ActivityOther   Activity = "other"
)

// Valid reports whether a is one of the recognized activity types.
func (a Activity) Valid() bool {
	switch a {
	case ActivityRunning, ActivityWalking, ActivityCycling, ActivityOther:
		return true
	}
	return false
}

// Split is one per-kilometer segment time, ordered by kilometer index.
type Split struct {
	Km      int
	Seconds int64
}

// Workout is the normalized projection of exactly one RawEvent. Distances
// are always meters after normalization; no mixed units travel downstream.
// Recomputing from the same RawEvent always yields the same Workout.
type Workout struct {
	EventID   string
	PubKey    string
	Activity  Activity
	DistanceM *float64 // nil when the distance tag was absent or unparsable
	DurationS *int64   // nil when the duration tag was absent or unparsable
	Calories  *int64
	Splits    []Split
	CreatedAt int64 // unix seconds
}

// PaceMinPerKm returns the average pace in minutes per kilometer. The second
// return is false when distance or duration is missing, or distance is zero;
// there is no pace claim to judge in that case.
func (w *Workout) PaceMinPerKm() (float64, bool) {
	if w.DistanceM == nil || w.DurationS == nil || *w.DistanceM <= 0 {
		return 0, false
	}
	minutes := float64(*w.DurationS) / 60.0
	return minutes / (*w.DistanceM / 1000.0), true
}
