// Package server exposes the sync controller over HTTP: the panel page, the
// state snapshot, a Server-Sent Events stream and the sync/fetch triggers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/geosync/internal/controller"
	"github.com/woozymasta/geosync/internal/geo"
)

// StateView is the JSON form of a controller snapshot without the dataset.
type StateView struct {
	LastFetchedAt   *time.Time       `json:"last_fetched_at,omitempty"`
	Stats           *geo.Summary     `json:"stats,omitempty"`
	Phase           controller.Phase `json:"phase"`
	Status          string           `json:"status"`
	Error           string           `json:"error,omitempty"`
	StatsText       string           `json:"stats_text,omitempty"`
	LastFetchedText string           `json:"last_fetched_text,omitempty"`
	Busy            bool             `json:"busy"`
}

func (s *ServerContext) view(st controller.State) StateView {
	v := StateView{
		Phase:         st.Phase,
		Status:        st.Status,
		Error:         st.Error,
		Busy:          st.Busy,
		Stats:         st.Stats,
		StatsText:     st.StatsText(),
		LastFetchedAt: st.LastFetchedAt,
	}
	if st.LastFetchedAt != nil {
		v.LastFetchedText = st.LastFetchedAt.Format(s.Config.TimeLayout)
	}
	return v
}

// Routes returns the handler tree wrapped in the request logger.
func (s *ServerContext) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.HandleState)
	mux.HandleFunc("GET /api/data", s.HandleData)
	mux.HandleFunc("GET /api/events", s.HandleEvents)
	mux.HandleFunc("GET /api/syncs", s.HandleSyncs)
	mux.HandleFunc("POST /api/sync", s.HandleSync)
	mux.HandleFunc("POST /api/fetch", s.HandleFetch)
	mux.HandleFunc("GET /favicon.svg", s.HandleFavicon)
	mux.HandleFunc("GET /", s.HandleIndex)

	return RequestLogger(mux)
}

// HandleIndex serves the panel page.
func (s *ServerContext) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	etag := fmt.Sprintf(`"%x"`, len(s.IndexHTML))

	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")
	_, _ = w.Write(s.IndexHTML)
}

// HandleFavicon serves the site icon.
func (s *ServerContext) HandleFavicon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(s.Favicon)
}

// HandleState serves the current snapshot without the dataset.
func (s *ServerContext) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.view(s.Controller.State()))
}

// HandleData serves the last good FeatureCollection. The ETag follows the
// fetch timestamp so unchanged data is answered with 304.
func (s *ServerContext) HandleData(w http.ResponseWriter, r *http.Request) {
	st := s.Controller.State()
	if st.Data == nil || st.LastFetchedAt == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	etag := `"` + strconv.FormatInt(st.LastFetchedAt.UnixNano(), 16) + `"`
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "application/geo+json")
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(st.Data)
}

// HandleSync runs a synchronization followed by a fetch and answers with the
// resulting state. A sync already in progress is answered with 409.
func (s *ServerContext) HandleSync(w http.ResponseWriter, r *http.Request) {
	// the workflow is not aborted when the client goes away
	err := s.Controller.Sync(context.WithoutCancel(r.Context()))
	if errors.Is(err, controller.ErrBusy) {
		writeJSON(w, http.StatusConflict, s.view(s.Controller.State()))
		return
	}
	writeJSON(w, http.StatusOK, s.view(s.Controller.State()))
}

// HandleFetch re-reads the synchronized dataset and answers with the state.
func (s *ServerContext) HandleFetch(w http.ResponseWriter, r *http.Request) {
	_ = s.Controller.Fetch(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, s.view(s.Controller.State()))
}

// HandleSyncs lists recent synchronization runs, ?limit=N (default 20).
func (s *ServerContext) HandleSyncs(w http.ResponseWriter, r *http.Request) {
	if s.SyncLog == nil {
		http.NotFound(w, r)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	runs, err := s.SyncLog.RecentSyncs(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read sync log")
		http.Error(w, "failed to read sync log", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleEvents streams snapshots as Server-Sent Events until the client leaves.
func (s *ServerContext) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, cancel := s.Controller.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(s.view(st))
			if err != nil {
				log.Error().Err(err).Msg("Failed to encode state event")
				return
			}
			if _, err := fmt.Fprintf(w, "event: state\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(v)
}
