package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/geosync/internal/config"
	"github.com/woozymasta/geosync/internal/controller"
	"github.com/woozymasta/geosync/internal/store"
)

const samplePayload = `{"type":"FeatureCollection","features":[
	{"type":"Feature","geometry":{"type":"Point","coordinates":[-74.006,40.7128]},"properties":{"name":"NYC"}},
	{"type":"Feature","geometry":{"type":"LineString","coordinates":[[-74,40],[-73.9,40.8]]}}
]}`

type stubProvider struct {
	mu      sync.Mutex
	payload string
	syncErr error
	gate    chan struct{}
	started chan struct{}
}

func (p *stubProvider) GetSyncedData(context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return json.RawMessage(p.payload), nil
}

func (p *stubProvider) SyncData(context.Context) error {
	if p.started != nil {
		close(p.started)
	}
	if p.gate != nil {
		<-p.gate
	}
	return p.syncErr
}

type stubSyncLog struct {
	runs  []store.SyncRun
	limit int
}

func (l *stubSyncLog) RecentSyncs(_ context.Context, limit int) ([]store.SyncRun, error) {
	l.limit = limit
	return l.runs, nil
}

func newTestServer(t *testing.T, p *stubProvider, syncLog SyncLog) (*ServerContext, *controller.Controller) {
	t.Helper()
	ctrl := controller.New(p)
	srvCtx, err := NewServerContext(config.Default(), ctrl, syncLog)
	require.NoError(t, err)
	return srvCtx, ctrl
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) StateView {
	t.Helper()
	var v StateView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHandleIndex(t *testing.T) {
	srvCtx, _ := newTestServer(t, &stubProvider{payload: samplePayload}, nil)
	h := srvCtx.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "GeoSync Connector")
	assert.Contains(t, body, "tile.openstreetmap.org")
	assert.NotContains(t, body, "{{")

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/favicon.svg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<svg")
}

func TestHandleStateAndData(t *testing.T) {
	srvCtx, ctrl := newTestServer(t, &stubProvider{payload: samplePayload}, nil)
	h := srvCtx.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	require.NoError(t, ctrl.Initialize(context.Background()))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	v := decodeView(t, rec)
	assert.Equal(t, controller.PhaseReady, v.Phase)
	assert.Equal(t, "Type: FeatureCollection | Features: 2 | Point: 1, LineString: 1", v.StatsText)
	assert.NotEmpty(t, v.LastFetchedText)
	assert.False(t, v.Busy)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, samplePayload, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set("If-None-Match", rec.Header().Get("ETag"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestHandleSync(t *testing.T) {
	srvCtx, _ := newTestServer(t, &stubProvider{payload: samplePayload}, nil)
	h := srvCtx.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	v := decodeView(t, rec)
	assert.Equal(t, controller.PhaseReady, v.Phase)
	assert.Equal(t, 2, v.Stats.TotalFeatures)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleSync_Failure(t *testing.T) {
	p := &stubProvider{payload: samplePayload, syncErr: errors.New("upstream down")}
	srvCtx, _ := newTestServer(t, p, nil)

	rec := httptest.NewRecorder()
	srvCtx.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	v := decodeView(t, rec)
	assert.Equal(t, controller.PhaseFailed, v.Phase)
	assert.Equal(t, "Error syncing data: upstream down", v.Status)
	assert.False(t, v.Busy)
}

func TestHandleSync_Busy(t *testing.T) {
	p := &stubProvider{
		payload: samplePayload,
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	srvCtx, ctrl := newTestServer(t, p, nil)
	h := srvCtx.Routes()

	done := make(chan error, 1)
	go func() { done <- ctrl.Sync(context.Background()) }()
	<-p.started

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, decodeView(t, rec).Busy)

	close(p.gate)
	require.NoError(t, <-done)
}

func TestHandleFetch(t *testing.T) {
	p := &stubProvider{payload: `{"type":"FooBar"}`}
	srvCtx, _ := newTestServer(t, p, nil)

	rec := httptest.NewRecorder()
	srvCtx.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/fetch", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	v := decodeView(t, rec)
	assert.Equal(t, controller.PhaseFailed, v.Phase)
	assert.Contains(t, v.Status, "Invalid data received")
	assert.Nil(t, v.Stats)
}

func TestHandleSyncs(t *testing.T) {
	syncLog := &stubSyncLog{runs: []store.SyncRun{{ID: "run-1", Status: store.SyncComplete}}}
	srvCtx, _ := newTestServer(t, &stubProvider{payload: samplePayload}, syncLog)
	h := srvCtx.Routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/syncs?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, syncLog.limit)

	var runs []store.SyncRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/syncs?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	noLog, _ := newTestServer(t, &stubProvider{payload: samplePayload}, nil)
	rec = httptest.NewRecorder()
	noLog.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/syncs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleEvents(t *testing.T) {
	srvCtx, ctrl := newTestServer(t, &stubProvider{payload: samplePayload}, nil)
	ts := httptest.NewServer(srvCtx.Routes())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan StateView, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var v StateView
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &v) == nil {
				events <- v
			}
		}
		close(events)
	}()

	first := <-events
	assert.Equal(t, controller.PhaseIdle, first.Phase)

	require.NoError(t, ctrl.Fetch(context.Background()))

	for v := range events {
		if v.Phase == controller.PhaseReady {
			assert.Equal(t, 2, v.Stats.TotalFeatures)
			return
		}
	}
	t.Fatal("stream closed before ready state")
}
