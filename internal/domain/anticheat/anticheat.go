// Package anticheat applies plausibility rules to normalized workouts.
// A failed rule flags the workout rather than discarding it; flagged rows
// are kept for audit and appeal and excluded from scoring.
package anticheat

import (
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
)

// Flag reasons. The set is open but enumerable; new rules add reasons
// without changing the validator's contract.
const (
	ReasonSuperhumanPace = "superhuman_pace"
)

// Default pace floors in minutes per kilometer. Each sits below the elite
// human record pace for the activity with some margin. Deployments tune
// these per activity through config.
const (
	defaultRunningFloor = 2.5
	defaultWalkingFloor = 5.0
	defaultCyclingFloor = 1.0
	defaultOtherFloor   = 1.0
)

// Result is the validator's verdict for a single workout.
type Result struct {
	Flagged bool
	Reason  string
}

// Option applies a configuration option to the Validator.
type Option func(*Validator)

// WithPaceFloor sets the minimum plausible pace for one activity, in
// minutes per kilometer. Non-positive floors are ignored.
func WithPaceFloor(activity model.Activity, minPerKm float64) Option {
	return func(v *Validator) {
		if minPerKm > 0 {
			v.floors[activity] = minPerKm
		}
	}
}

// WithPaceFloors sets pace floors for several activities at once.
func WithPaceFloors(floors map[model.Activity]float64) Option {
	return func(v *Validator) {
		for a, f := range floors {
			if f > 0 {
				v.floors[a] = f
			}
		}
	}
}

// Validator checks workouts against per-activity pace floors.
type Validator struct {
	floors map[model.Activity]float64
}

// NewValidator creates a Validator with default floors, overridable via
// options.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		floors: map[model.Activity]float64{
			model.ActivityRunning: defaultRunningFloor,
			model.ActivityWalking: defaultWalkingFloor,
			model.ActivityCycling: defaultCyclingFloor,
			model.ActivityOther:   defaultOtherFloor,
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate applies the pace rule. A workout with no distance or duration
// makes no pace claim and passes through accepted. This check is
// independent of duplicate/overlap detection.
func (v *Validator) Validate(w *model.Workout) Result {
	pace, ok := w.PaceMinPerKm()
	if !ok {
		return Result{}
	}
	floor, known := v.floors[w.Activity]
	if !known {
		floor = defaultOtherFloor
	}
	if pace < floor {
		return Result{Flagged: true, Reason: ReasonSuperhumanPace}
	}
	return Result{}
}
