package relay

import "errors"

// Sentinel kinds for relay client errors.
var (
	ErrNoRelays = errors.New("no relay endpoints configured")
)
