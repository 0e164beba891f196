// Package store keeps the synchronized features in a local SQLite database.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/woozymasta/geosync/internal/geo"
)

// Store is a SQLite mirror of the upstream feature collection.
type Store struct {
	db *sql.DB
}

// connPragmas apply to every pooled connection through the DSN.
var connPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// Open opens a SQLite database at the given path and configures WAL mode.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, eris.Wrapf(err, "sqlite: connect %s", path)
	}
	return &Store{db: db}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for _, p := range connPragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

const migration = `
CREATE TABLE IF NOT EXISTS features (
	id           INTEGER PRIMARY KEY,
	feature_type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS geometries (
	id            INTEGER PRIMARY KEY,
	feature_id    INTEGER NOT NULL REFERENCES features(id),
	geometry_type TEXT NOT NULL,
	geometry      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS properties (
	id             INTEGER PRIMARY KEY,
	feature_id     INTEGER NOT NULL REFERENCES features(id),
	property_key   TEXT NOT NULL,
	property_value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_log (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	inserted     INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_geometries_feature_id ON geometries(feature_id);
CREATE INDEX IF NOT EXISTS idx_geometries_lookup ON geometries(geometry_type, geometry);
CREATE INDEX IF NOT EXISTS idx_properties_feature_id ON properties(feature_id);
CREATE INDEX IF NOT EXISTS idx_sync_log_started_at ON sync_log(started_at);
`

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ImportResult reports what an Import did.
type ImportResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// Import inserts every feature of fc that is not stored yet. A feature is
// considered stored when a row with the same feature type, geometry type and
// geometry exists. Properties are kept as JSON encoded values.
func (s *Store) Import(ctx context.Context, fc *geo.FeatureCollection) (ImportResult, error) {
	var res ImportResult
	if fc == nil {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, eris.Wrap(err, "sqlite: begin import")
	}
	defer func() { _ = tx.Rollback() }()

	for i, f := range fc.Features {
		featureType := f.Type
		if featureType == "" {
			featureType = "Feature"
		}

		geometry, err := compact(f.Geometry.Raw())
		if err != nil {
			return res, eris.Wrapf(err, "sqlite: feature %d geometry", i)
		}

		var existing int64
		err = tx.QueryRowContext(ctx, `
			SELECT f.id FROM features f
			JOIN geometries g ON f.id = g.feature_id
			WHERE f.feature_type = ? AND g.geometry_type = ? AND g.geometry = ?
			LIMIT 1`,
			featureType, f.GeometryType(), geometry,
		).Scan(&existing)
		switch {
		case err == nil:
			res.Skipped++
			continue
		case err != sql.ErrNoRows:
			return res, eris.Wrapf(err, "sqlite: lookup feature %d", i)
		}

		r, err := tx.ExecContext(ctx, `INSERT INTO features (feature_type) VALUES (?)`, featureType)
		if err != nil {
			return res, eris.Wrapf(err, "sqlite: insert feature %d", i)
		}
		featureID, err := r.LastInsertId()
		if err != nil {
			return res, eris.Wrap(err, "sqlite: feature id")
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO geometries (feature_id, geometry_type, geometry) VALUES (?, ?, ?)`,
			featureID, f.GeometryType(), geometry,
		); err != nil {
			return res, eris.Wrapf(err, "sqlite: insert geometry %d", i)
		}

		for key, value := range f.Properties {
			encoded, err := json.Marshal(value)
			if err != nil {
				return res, eris.Wrapf(err, "sqlite: encode property %q", key)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO properties (feature_id, property_key, property_value) VALUES (?, ?, ?)`,
				featureID, key, string(encoded),
			); err != nil {
				return res, eris.Wrapf(err, "sqlite: insert property %q", key)
			}
		}

		res.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return res, eris.Wrap(err, "sqlite: commit import")
	}
	return res, nil
}

// Collection reads all stored features back, ordered by insertion.
func (s *Store) Collection(ctx context.Context) (*geo.FeatureCollection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.feature_type, g.geometry_type, g.geometry
		FROM features f
		JOIN geometries g ON f.id = g.feature_id
		ORDER BY f.id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query features")
	}
	defer rows.Close() //nolint:errcheck

	fc := &geo.FeatureCollection{Type: geo.TypeFeatureCollection, Features: []geo.Feature{}}
	index := make(map[int64]int)

	for rows.Next() {
		var (
			id                        int64
			featureType, geometryType string
			geometry                  string
		)
		if err := rows.Scan(&id, &featureType, &geometryType, &geometry); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feature")
		}
		index[id] = len(fc.Features)
		fc.Features = append(fc.Features, geo.Feature{
			Type:       featureType,
			Geometry:   geo.NewGeometry(geometryType, json.RawMessage(geometry)),
			Properties: map[string]any{},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate features")
	}

	props, err := s.db.QueryContext(ctx,
		`SELECT feature_id, property_key, property_value FROM properties ORDER BY feature_id, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query properties")
	}
	defer props.Close() //nolint:errcheck

	for props.Next() {
		var (
			featureID  int64
			key, value string
		)
		if err := props.Scan(&featureID, &key, &value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan property")
		}
		i, ok := index[featureID]
		if !ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			decoded = value
		}
		fc.Features[i].Properties[key] = decoded
	}
	if err := props.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate properties")
	}

	return fc, nil
}

// SyncStatus is the state of a sync_log row.
type SyncStatus string

const (
	SyncRunning  SyncStatus = "running"
	SyncComplete SyncStatus = "complete"
	SyncFailed   SyncStatus = "failed"
)

// SyncRun represents a row in sync_log.
type SyncRun struct {
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Status      SyncStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	ImportResult
}

// StartSync records the beginning of a synchronization from source.
func (s *Store) StartSync(ctx context.Context, source string) (*SyncRun, error) {
	run := &SyncRun{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    SyncRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_log (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Source, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: start sync")
	}
	return run, nil
}

// CompleteSync marks a synchronization as successfully completed.
func (s *Store) CompleteSync(ctx context.Context, id string, res ImportResult) error {
	r, err := s.db.ExecContext(ctx,
		`UPDATE sync_log SET status = ?, inserted = ?, skipped = ?, completed_at = ? WHERE id = ?`,
		string(SyncComplete), res.Inserted, res.Skipped, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete sync %s", id)
	}
	return checkRowsAffected(r, id)
}

// FailSync marks a synchronization as failed with the given cause.
func (s *Store) FailSync(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	r, err := s.db.ExecContext(ctx,
		`UPDATE sync_log SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(SyncFailed), msg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail sync %s", id)
	}
	return checkRowsAffected(r, id)
}

// RecentSyncs returns up to limit sync runs, newest first.
func (s *Store) RecentSyncs(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, status, inserted, skipped, error, started_at, completed_at
		FROM sync_log
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query sync log")
	}
	defer rows.Close() //nolint:errcheck

	runs := []SyncRun{}
	for rows.Next() {
		var (
			run       SyncRun
			status    string
			errText   sql.NullString
			completed sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.Source, &status, &run.Inserted, &run.Skipped,
			&errText, &run.StartedAt, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync log")
		}
		run.Status = SyncStatus(status)
		run.Error = errText.String
		if completed.Valid {
			t := completed.Time
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate sync log")
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("sync run %s not found", id)
	}
	return nil
}

func compact(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}
