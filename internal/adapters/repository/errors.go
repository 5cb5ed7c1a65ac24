package repository

import "errors"

// Sentinel kinds for mirror errors.
var (
	ErrNotFound          = errors.New("competition not found")
	ErrCompetitionExists = errors.New("competition already exists")
)
