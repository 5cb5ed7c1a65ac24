// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"

	"github.com/bohemia111/RUNSTR-sub015/internal/domain/model"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath locates the SQLite mirror database.
	DBPath string `koanf:"db_path"`

	// Relays lists the websocket relay endpoints to scan.
	Relays []string `koanf:"relays"`

	// PerRelayTimeoutMS bounds one relay's fetch; GlobalTimeoutMS bounds the
	// whole multi-relay scan.
	PerRelayTimeoutMS int `koanf:"per_relay_timeout_ms"`
	GlobalTimeoutMS   int `koanf:"global_timeout_ms"`

	// EventQueueSize bounds the in-memory event queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of ingest workers.
	WorkerCount int `koanf:"worker_count"`

	// Per-activity pace floors in minutes per km. A workout faster than the
	// floor for its activity is flagged rather than accepted.
	PaceFloorRunning float64 `koanf:"pace_floor_running"`
	PaceFloorWalking float64 `koanf:"pace_floor_walking"`
	PaceFloorCycling float64 `koanf:"pace_floor_cycling"`
	PaceFloorOther   float64 `koanf:"pace_floor_other"`
}

// New creates a Config with defaults.
func New() *Config {
	c := &Config{
		LogLevel:          "info",
		Addr:              ":9080",
		DBPath:            "data/runstr.db",
		Relays:            []string{},
		PerRelayTimeoutMS: 15_000,
		GlobalTimeoutMS:   30_000,
		EventQueueSize:    100_000,
		WorkerCount:       runtime.NumCPU() * 2,
		PaceFloorRunning:  2.5,
		PaceFloorWalking:  5.0,
		PaceFloorCycling:  1.0,
		PaceFloorOther:    1.0,
	}
	return c
}

// PaceFloors collects the per-activity floors into the shape the anti-cheat
// validator consumes. Non-positive values are dropped so defaults apply.
func (c *Config) PaceFloors() map[model.Activity]float64 {
	floors := map[model.Activity]float64{}
	for activity, floor := range map[model.Activity]float64{
		model.ActivityRunning: c.PaceFloorRunning,
		model.ActivityWalking: c.PaceFloorWalking,
		model.ActivityCycling: c.PaceFloorCycling,
		model.ActivityOther:   c.PaceFloorOther,
	} {
		if floor > 0 {
			floors[activity] = floor
		}
	}
	return floors
}
