// Package normalize converts the free-form tag set of a workout event into
// a typed Workout. This is the single chokepoint between the untyped wire
// format and the rest of the pipeline; no downstream component inspects raw
// tags again.
package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
)

// Unit conversion and classification constants.
const (
	metersPerKm   = 1000.0
	metersPerMile = 1609.34

	// Pace bands for the classification fallback, minutes per kilometer.
	// Paces inside [runningCeiling, walkingFloor] are ambiguous and stay
	// "other" rather than being silently reclassified.
	runningPaceCeiling = 8.0
	walkingPaceFloor   = 12.0
)

// Tag names of the workout event schema.
const (
	tagExercise = "exercise"
	tagDistance = "distance"
	tagDuration = "duration"
	tagCalories = "calories"
	tagSplit    = "split"
)

// ParseError reports a RawEvent that cannot yield a scoreable Workout.
// It covers a single event; batch processing continues past it.
type ParseError struct {
	EventID string
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("normalize event %s: %s", e.EventID, e.Reason)
}

// Normalize derives a Workout from a RawEvent. It is deterministic: the same
// event always yields the same Workout. A malformed distance or duration tag
// degrades to a nil field rather than discarding the event; only an event
// with no usable activity tag AND no usable distance is rejected, because
// nothing about it can be scored.
func Normalize(ev *model.RawEvent) (model.Workout, error) {
	w := model.Workout{
		EventID:   ev.ID,
		PubKey:    ev.PubKey,
		CreatedAt: ev.CreatedAt,
	}

	w.DistanceM = parseDistance(ev.Tag(tagDistance))
	if secs, ok := parseClockDuration(ev.TagValue(tagDuration)); ok {
		w.DurationS = &secs
	}
	if cal, err := strconv.ParseInt(strings.TrimSpace(ev.TagValue(tagCalories)), 10, 64); err == nil && cal >= 0 {
		w.Calories = &cal
	}
	w.Splits = parseSplits(ev.AllTags(tagSplit))

	exercise := strings.ToLower(strings.TrimSpace(ev.TagValue(tagExercise)))
	if exercise == "" && w.DistanceM == nil {
		return model.Workout{}, &ParseError{EventID: ev.ID, Reason: "no activity tag and no usable distance"}
	}
	w.Activity = classify(exercise, &w)

	return w, nil
}

// classify maps the exercise tag to an activity, falling back to the pace
// heuristic when the tag is absent or generic.
func classify(exercise string, w *model.Workout) model.Activity {
	switch {
	case strings.Contains(exercise, "run"), strings.Contains(exercise, "jog"):
		return model.ActivityRunning
	case strings.Contains(exercise, "walk"), strings.Contains(exercise, "hike"):
		return model.ActivityWalking
	case strings.Contains(exercise, "cycl"), strings.Contains(exercise, "bike"):
		return model.ActivityCycling
	}

	// Generic or unrecognized tag: try the pace heuristic. Paces in the
	// ambiguous band stay "other"; reclassification there would be a guess.
	if pace, ok := w.PaceMinPerKm(); ok {
		switch {
		case pace < runningPaceCeiling:
			return model.ActivityRunning
		case pace > walkingPaceFloor:
			return model.ActivityWalking
		}
	}
	return model.ActivityOther
}

// parseDistance converts a distance tag ["distance", value, unit?] to meters.
// The unit defaults to km. Returns nil for a missing or unparsable value.
func parseDistance(tag []string) *float64 {
	if len(tag) < 2 {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(tag[1]), 64)
	if err != nil || value < 0 {
		return nil
	}

	unit := "km"
	if len(tag) >= 3 && strings.TrimSpace(tag[2]) != "" {
		unit = strings.ToLower(strings.TrimSpace(tag[2]))
	}

	var meters float64
	switch unit {
	case "km":
		meters = value * metersPerKm
	case "mi":
		meters = value * metersPerMile
	case "m":
		meters = value
	default:
		return nil
	}
	return &meters
}

// parseClockDuration parses MM:SS or HH:MM:SS into whole seconds.
func parseClockDuration(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}
	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

// parseSplits parses repeated ["split", kmIndex, "MM:SS"] tags into a
// sequence ordered by kilometer index. Malformed splits are skipped; splits
// are a secondary plausibility signal, not part of the core scoring path.
func parseSplits(tags [][]string) []model.Split {
	var splits []model.Split
	for _, t := range tags {
		if len(t) < 3 {
			continue
		}
		km, err := strconv.Atoi(strings.TrimSpace(t[1]))
		if err != nil || km < 0 {
			continue
		}
		secs, ok := parseClockDuration(t[2])
		if !ok {
			continue
		}
		splits = append(splits, model.Split{Km: km, Seconds: secs})
	}
	sort.Slice(splits, func(i, j int) bool { return splits[i].Km < splits[j].Km })
	return splits
}
