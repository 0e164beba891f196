package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/geosync/internal/geo"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func collection(t *testing.T, payload string) *geo.FeatureCollection {
	t.Helper()
	fc, err := geo.Validate(json.RawMessage(payload))
	require.NoError(t, err)
	return fc
}

const twoFeatures = `{"type":"FeatureCollection","features":[
	{"type":"Feature","geometry":{"type":"Point","coordinates":[-74.006,40.7128]},"properties":{"name":"NYC","population":8336817,"capital":false}},
	{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{}}
]}`

func TestStore_EmptyCollection(t *testing.T) {
	st := newTestStore(t)

	fc, err := st.Collection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, geo.TypeFeatureCollection, fc.Type)
	assert.Empty(t, fc.Features)

	out, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(out))
}

func TestStore_ImportAndRead(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	res, err := st.Import(ctx, collection(t, twoFeatures))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Inserted: 2}, res)

	fc, err := st.Collection(ctx)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	first := fc.Features[0]
	assert.Equal(t, "Feature", first.Type)
	assert.Equal(t, "Point", first.GeometryType())
	assert.JSONEq(t, `{"type":"Point","coordinates":[-74.006,40.7128]}`, string(first.Geometry.Raw()))
	assert.Equal(t, "NYC", first.Properties["name"])
	assert.Equal(t, float64(8336817), first.Properties["population"])
	assert.Equal(t, false, first.Properties["capital"])

	assert.Equal(t, "LineString", fc.Features[1].GeometryType())
	assert.Empty(t, fc.Features[1].Properties)
}

func TestStore_ImportSkipsDuplicates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.Import(ctx, collection(t, twoFeatures))
	require.NoError(t, err)

	// Same geometry with different whitespace is still a duplicate.
	again := `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{ "type": "Point", "coordinates": [ -74.006, 40.7128 ] }},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[2,3]}}
	]}`
	res, err := st.Import(ctx, collection(t, again))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Inserted: 1, Skipped: 1}, res)

	fc, err := st.Collection(ctx)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 3)
}

func TestStore_ImportNil(t *testing.T) {
	st := newTestStore(t)
	res, err := st.Import(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res)
}

func TestStore_SyncLog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ok, err := st.StartSync(ctx, "http://example.com/a")
	require.NoError(t, err)
	require.NoError(t, st.CompleteSync(ctx, ok.ID, ImportResult{Inserted: 4, Skipped: 1}))

	bad, err := st.StartSync(ctx, "http://example.com/b")
	require.NoError(t, err)
	require.NoError(t, st.FailSync(ctx, bad.ID, errors.New("status 500")))

	runs, err := st.RecentSyncs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]SyncRun{}
	for _, r := range runs {
		byID[r.ID] = r
	}

	assert.Equal(t, SyncComplete, byID[ok.ID].Status)
	assert.Equal(t, 4, byID[ok.ID].Inserted)
	assert.Equal(t, 1, byID[ok.ID].Skipped)
	assert.NotNil(t, byID[ok.ID].CompletedAt)

	assert.Equal(t, SyncFailed, byID[bad.ID].Status)
	assert.Equal(t, "status 500", byID[bad.ID].Error)
}

func TestStore_CompleteUnknownSync(t *testing.T) {
	st := newTestStore(t)
	err := st.CompleteSync(context.Background(), "missing", ImportResult{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStore_PragmasOnEveryConnection(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// hold several connections at once so the pool has to open new ones
	var conns []*sql.Conn
	for range 3 {
		conn, err := st.db.Conn(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)
	}
	for _, conn := range conns {
		var fk, timeout int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		assert.Equal(t, 1, fk)
		assert.Equal(t, 5000, timeout)
		require.NoError(t, conn.Close())
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"a.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
		dsn("a.db"))
	assert.Contains(t, dsn("file:a.db?mode=rwc"), "mode=rwc&_pragma=journal_mode(WAL)")
}
