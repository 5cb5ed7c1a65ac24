package service

import "errors"

// Service errors.
var (
	// ErrNotStarted is returned when an operation requires a started service.
	ErrNotStarted = errors.New("service not started")

	// ErrInvalidCompetition is returned when a competition definition fails validation.
	ErrInvalidCompetition = errors.New("invalid competition definition")

	// ErrInvalidPubKey is returned when a participant pubkey is empty.
	ErrInvalidPubKey = errors.New("invalid pubkey")
)
