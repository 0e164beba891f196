// Command testapi serves a GeoJSON file as a stand-in for the upstream API.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/woozymasta/geosync/internal/logger"
	"github.com/woozymasta/geosync/internal/server"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	File string `short:"f" long:"file" env:"DATA_FILE"      description:"GeoJSON file to serve" default:"data.geojson"`
	Path string `long:"path"           env:"DATA_PATH"      description:"URL path to serve it on" default:"/getdata"`
	Addr string `short:"a" long:"addr" env:"LISTEN_ADDRESS" description:"Address to listen on" default:"0.0.0.0"`
	Port int    `short:"p" long:"port" env:"LISTEN_PORT"    description:"Port to listen on"    default:"5000"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	mux := http.NewServeMux()
	mux.Handle("GET "+opts.Path, fileHandler(opts.File))

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	log.Info().
		Str("addr", listenAddr).
		Str("path", opts.Path).
		Str("file", opts.File).
		Msg("Test API started")

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           server.RequestLogger(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// fileHandler re-reads path on every request so edits show up on the next sync.
func fileHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Str("file", path).Msg("Attempting to read file")

		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			log.Error().Str("file", path).Msg("File not found")
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Error reading file")
			http.Error(w, "Error reading file: "+err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}
}
