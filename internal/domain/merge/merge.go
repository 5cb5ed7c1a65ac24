// Package merge unions raw event result sets from several relays,
// deduplicating by event ID. Relays frequently return overlapping backlogs
// for the same subscription, so the union step runs before normalization.
package merge

import (
	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
)

// Events returns the unique events across all batches, deduplicated by event
// ID. ID equality implies full-content equality by construction of the ID
// scheme, so the first occurrence wins. No ordering beyond ID uniqueness is
// guaranteed.
func Events(batches ...[]model.RawEvent) []model.RawEvent {
	total := 0
	for _, b := range batches {
		total += len(b)
	}
	seen := make(map[string]struct{}, total)
	out := make([]model.RawEvent, 0, total)
	for _, b := range batches {
		for _, ev := range b {
			if ev.ID == "" {
				continue
			}
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	return out
}
