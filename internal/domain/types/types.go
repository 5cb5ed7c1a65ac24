// Package types contains common types used across the application
package types

// Entry represents a leaderboard row for one participant.
type Entry struct {
	Rank         int     `json:"rank"`
	PubKey       string  `json:"pubkey"`
	Score        float64 `json:"score"`
	WorkoutCount int64   `json:"workout_count"`
}
