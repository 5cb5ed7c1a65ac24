// Package model contains domain models passed between layers.
package model

// WorkoutKind is the event kind that marks a completed workout record.
const WorkoutKind = 1301

// RawEvent is a signed event exactly as a relay returns it. The ID is a
// content-derived hash, so ID equality implies full-content equality and
// doubles as the natural idempotency key. RawEvents are never mutated,
// only superseded by newer events with different IDs.
type RawEvent struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Tag returns the first tag with the given name, or nil.
func (e *RawEvent) Tag(name string) []string {
	for _, t := range e.Tags {
		if len(t) > 0 && t[0] == name {
			return t
		}
	}
	return nil
}

// TagValue returns the second element of the first tag with the given name,
// or "" when the tag is absent or carries no value.
func (e *RawEvent) TagValue(name string) string {
	t := e.Tag(name)
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// AllTags returns every tag with the given name, in event order.
func (e *RawEvent) AllTags(name string) [][]string {
	var out [][]string
	for _, t := range e.Tags {
		if len(t) > 0 && t[0] == name {
			out = append(out, t)
		}
	}
	return out
}
