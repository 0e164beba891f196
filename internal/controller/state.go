package controller

import (
	"time"

	"github.com/woozymasta/geosync/internal/geo"
)

// Phase is the lifecycle position of the controller.
//
//	idle     -> fetching | syncing
//	fetching -> ready | failed
//	syncing  -> fetching | failed
//	ready    -> fetching | syncing
//	failed   -> fetching | syncing
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseSyncing  Phase = "syncing"
	PhaseReady    Phase = "ready"
	PhaseFailed   Phase = "failed"
)

// Status messages published by the workflows.
const (
	StatusFetching     = "Fetching data..."
	StatusSyncing      = "Syncing data..."
	StatusSynchronized = "Data synchronized successfully!"
)

// State is a read-only snapshot of the controller. Data and Stats are shared
// between snapshots and are never mutated after being published; a new fetch
// replaces them with new values.
type State struct {
	Data          *geo.FeatureCollection `json:"data,omitempty"`
	Stats         *geo.Summary           `json:"stats,omitempty"`
	LastFetchedAt *time.Time             `json:"last_fetched_at,omitempty"`
	Phase         Phase                  `json:"phase"`
	Status        string                 `json:"status"`
	// Error holds the description of the last failure while Phase is failed.
	Error string `json:"error,omitempty"`
	Busy  bool   `json:"busy"`
}

// StatsText renders the stats line, empty until the first successful fetch.
func (s State) StatsText() string {
	if s.Stats == nil {
		return ""
	}
	return s.Stats.String()
}
