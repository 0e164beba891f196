package server

import (
	"bytes"
	"context"
	"encoding/json"
	"text/template"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/woozymasta/geosync/assets"
	"github.com/woozymasta/geosync/internal/config"
	"github.com/woozymasta/geosync/internal/controller"
	"github.com/woozymasta/geosync/internal/store"
)

// Controller is the part of the sync controller the handlers use.
type Controller interface {
	State() controller.State
	Fetch(ctx context.Context) error
	Sync(ctx context.Context) error
	Subscribe() (<-chan controller.State, func())
}

// SyncLog lists recorded synchronization runs.
type SyncLog interface {
	RecentSyncs(ctx context.Context, limit int) ([]store.SyncRun, error)
}

// ServerContext holds dependencies for request handlers.
type ServerContext struct {
	Config     *config.Config
	Controller Controller
	SyncLog    SyncLog
	IndexHTML  []byte
	Favicon    []byte
}

type pageData struct {
	CSS     string
	JS      string
	MapJSON string
}

// NewServerContext renders and minifies the panel page and wires the handlers
// to the controller. syncLog may be nil.
func NewServerContext(cfg *config.Config, ctrl Controller, syncLog SyncLog) (*ServerContext, error) {
	index, err := renderIndex(cfg.Map)
	if err != nil {
		return nil, err
	}

	favicon, err := newMinifier().String("image/svg+xml", assets.Favicon)
	if err != nil {
		return nil, eris.Wrap(err, "server: minify favicon")
	}

	log.Debug().
		Int("index_bytes", len(index)).
		Int("favicon_bytes", len(favicon)).
		Msg("Panel page prepared")

	return &ServerContext{
		Config:     cfg,
		Controller: ctrl,
		SyncLog:    syncLog,
		IndexHTML:  index,
		Favicon:    []byte(favicon),
	}, nil
}

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("text/javascript", js.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	return m
}

// renderIndex builds the single page panel with inlined CSS, JS and map view.
func renderIndex(view config.Map) ([]byte, error) {
	m := newMinifier()

	cssMin, err := m.String("text/css", assets.Style)
	if err != nil {
		return nil, eris.Wrap(err, "server: minify CSS")
	}
	jsMin, err := m.String("text/javascript", assets.Script)
	if err != nil {
		return nil, eris.Wrap(err, "server: minify JS")
	}
	mapJSON, err := json.Marshal(view)
	if err != nil {
		return nil, eris.Wrap(err, "server: encode map view")
	}

	tmpl, err := template.New("index").Parse(assets.IndexTemplate)
	if err != nil {
		return nil, eris.Wrap(err, "server: parse index template")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, pageData{CSS: cssMin, JS: jsMin, MapJSON: string(mapJSON)}); err != nil {
		return nil, eris.Wrap(err, "server: render index")
	}

	out, err := m.Bytes("text/html", buf.Bytes())
	if err != nil {
		return nil, eris.Wrap(err, "server: minify HTML")
	}
	return out, nil
}
