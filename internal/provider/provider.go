// Package provider implements the data provider consumed by the sync controller:
// a synchronization step that mirrors the upstream document into the local
// store, and a read step that returns the mirrored feature collection.
package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"github.com/woozymasta/geosync/internal/geo"
	"github.com/woozymasta/geosync/internal/store"
)

// TransportError is returned for any failure of a provider operation.
type TransportError struct {
	Err error
	Op  string
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Fetcher downloads the upstream document.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
	URL() string
}

// FeatureStore persists synchronized features and the sync log.
type FeatureStore interface {
	Import(ctx context.Context, fc *geo.FeatureCollection) (store.ImportResult, error)
	Collection(ctx context.Context) (*geo.FeatureCollection, error)
	StartSync(ctx context.Context, source string) (*store.SyncRun, error)
	CompleteSync(ctx context.Context, id string, res store.ImportResult) error
	FailSync(ctx context.Context, id string, cause error) error
}

// Local synchronizes an upstream document into a local feature store.
type Local struct {
	fetcher Fetcher
	store   FeatureStore
}

// NewLocal returns a provider pulling from fetcher into st.
func NewLocal(fetcher Fetcher, st FeatureStore) *Local {
	return &Local{fetcher: fetcher, store: st}
}

// SyncData downloads the upstream document and imports new features.
// Every attempt is recorded in the sync log.
func (p *Local) SyncData(ctx context.Context) error {
	run, err := p.store.StartSync(ctx, p.fetcher.URL())
	if err != nil {
		return &TransportError{Op: "sync", Err: err}
	}

	start := time.Now()
	res, err := p.pull(ctx)
	if err != nil {
		if ferr := p.store.FailSync(ctx, run.ID, err); ferr != nil {
			log.Warn().Err(ferr).Str("run", run.ID).Msg("Failed to record sync failure")
		}
		return &TransportError{Op: "sync", Err: err}
	}

	if err := p.store.CompleteSync(ctx, run.ID, res); err != nil {
		return &TransportError{Op: "sync", Err: err}
	}

	log.Info().
		Str("run", run.ID).
		Str("source", p.fetcher.URL()).
		Int("inserted", res.Inserted).
		Int("skipped", res.Skipped).
		Dur("duration", time.Since(start)).
		Msg("Synchronization finished")

	return nil
}

func (p *Local) pull(ctx context.Context) (store.ImportResult, error) {
	body, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return store.ImportResult{}, err
	}

	fc, err := geo.Validate(body)
	if err != nil {
		return store.ImportResult{}, eris.Wrap(err, "invalid upstream document")
	}

	return p.store.Import(ctx, fc)
}

// GetSyncedData returns the mirrored features as a GeoJSON FeatureCollection.
func (p *Local) GetSyncedData(ctx context.Context) (json.RawMessage, error) {
	fc, err := p.store.Collection(ctx)
	if err != nil {
		return nil, &TransportError{Op: "get synced data", Err: err}
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return nil, &TransportError{Op: "get synced data", Err: eris.Wrap(err, "encode collection")}
	}
	return data, nil
}
