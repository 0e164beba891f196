// Package controller owns the fetch and synchronization lifecycle of the panel
// and publishes its state to observers.
package controller

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"github.com/woozymasta/geosync/internal/geo"
)

// DefaultTimeLayout formats the timestamp in the fetch status message.
const DefaultTimeLayout = "2006-01-02 15:04:05"

// ErrBusy is returned by Sync while another synchronization is running.
var ErrBusy = eris.New("synchronization already in progress")

// Provider is the remote data source the controller drives.
type Provider interface {
	// GetSyncedData returns the most recently synchronized dataset.
	GetSyncedData(ctx context.Context) (json.RawMessage, error)
	// SyncData triggers a synchronization, it returns no payload.
	SyncData(ctx context.Context) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source used for fetch timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTimeLayout sets the layout of the timestamp in status messages.
func WithTimeLayout(layout string) Option {
	return func(c *Controller) {
		if layout != "" {
			c.layout = layout
		}
	}
}

// Controller sequences fetch and sync workflows and is the only writer of State.
type Controller struct {
	provider Provider
	now      func() time.Time
	subs     map[uint64]chan State
	layout   string
	state    State
	nextSub  uint64

	// fetchMu serializes fetch workflows so each transition consumes one
	// complete provider response.
	fetchMu sync.Mutex
	mu      sync.RWMutex
	busy    atomic.Bool
}

// New returns an idle controller with no data.
func New(p Provider, opts ...Option) *Controller {
	c := &Controller{
		provider: p,
		now:      time.Now,
		layout:   DefaultTimeLayout,
		state:    State{Phase: PhaseIdle},
		subs:     make(map[uint64]chan State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize performs the startup fetch.
func (c *Controller) Initialize(ctx context.Context) error {
	log.Debug().Msg("Loading initial dataset")
	return c.Fetch(ctx)
}

// Fetch retrieves the current dataset, validates it and publishes it with
// fresh statistics. On any failure the previous data, stats and timestamp are
// kept and the controller moves to the failed phase.
func (c *Controller) Fetch(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	c.update(func(s *State) {
		s.Phase = PhaseFetching
		s.Status = StatusFetching
		s.Error = ""
	})

	payload, err := c.provider.GetSyncedData(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Error fetching data")
		c.fail("Error fetching data: ", err)
		return err
	}

	fc, err := geo.Validate(payload)
	if err != nil {
		log.Error().
			Err(err).
			Int("bytes", len(payload)).
			Msg("Invalid GeoJSON data received, keeping previous dataset")
		c.fail("Invalid data received: ", err)
		return err
	}

	stats := geo.Summarize(fc)
	fetchedAt := c.now()

	c.update(func(s *State) {
		s.Phase = PhaseReady
		s.Data = fc
		s.Stats = &stats
		s.LastFetchedAt = &fetchedAt
		s.Status = "Data fetched successfully at " + fetchedAt.Format(c.layout)
	})

	log.Info().
		Int("features", stats.TotalFeatures).
		Str("stats", stats.String()).
		Msg("Data fetched")

	return nil
}

// Sync triggers a remote synchronization and, once it has succeeded, fetches
// the refreshed dataset. Only one Sync runs at a time; concurrent calls get
// ErrBusy. The busy flag is released on every return path.
func (c *Controller) Sync(ctx context.Context) error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.release()

	c.update(func(s *State) {
		s.Phase = PhaseSyncing
		s.Status = StatusSyncing
		s.Error = ""
	})

	if err := c.provider.SyncData(ctx); err != nil {
		log.Error().Err(err).Msg("Error syncing data")
		c.fail("Error syncing data: ", err)
		return err
	}

	c.update(func(s *State) {
		s.Status = StatusSynchronized
	})
	log.Info().Msg("Data synchronized")

	return c.Fetch(ctx)
}

// State returns the latest published snapshot.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Busy reports whether a synchronization is running.
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

// Subscribe returns a channel receiving every published snapshot, starting
// with the current one. Slow readers only see the latest snapshot. The
// returned function unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.state
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			close(ch)
			c.mu.Unlock()
		})
	}
	return ch, cancel
}

func (c *Controller) release() {
	c.busy.Store(false)
	c.update(func(*State) {})
}

func (c *Controller) fail(prefix string, err error) {
	c.update(func(s *State) {
		s.Phase = PhaseFailed
		s.Status = prefix + err.Error()
		s.Error = err.Error()
	})
}

// update replaces the whole state record and notifies subscribers.
func (c *Controller) update(fn func(s *State)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.state
	fn(&next)
	next.Busy = c.busy.Load()
	c.state = next

	for _, ch := range c.subs {
		select {
		case ch <- next:
		default:
			// drop the stale snapshot, only this goroutine sends while holding mu
			select {
			case <-ch:
			default:
			}
			ch <- next
		}
	}
}
