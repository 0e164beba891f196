package main

import (
	"context"
	"os"
	"time"

	"github.com/woozymasta/geosync/internal/config"
	"github.com/woozymasta/geosync/internal/geo"
	"github.com/woozymasta/geosync/internal/logger"
	"github.com/woozymasta/geosync/internal/provider"
	"github.com/woozymasta/geosync/internal/remote"
	"github.com/woozymasta/geosync/internal/store"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string        `short:"c" long:"config"  env:"CONFIG_FILE"     description:"Path to configuration file"`
	APIURL     string        `short:"u" long:"api-url" env:"API_URL"         description:"Upstream GeoJSON URL"        default:"http://localhost:5000/getdata"`
	DBFile     string        `short:"d" long:"db-file" env:"DB_FILE"         description:"Path to the SQLite database" default:"local_data.db"`
	Timeout    time.Duration `short:"t" long:"timeout" env:"REQUEST_TIMEOUT" description:"Upstream request timeout"    default:"15s"`
	History    int           `short:"n" long:"history"                       description:"Print the last N sync runs after synchronizing"`
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

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.Fill(config.Config{
		APIURL:         opts.APIURL,
		DBFile:         opts.DBFile,
		RequestTimeout: opts.Timeout,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := context.Background()

	st, err := store.Open(cfg.DBFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error().Err(closeErr).Str("path", cfg.DBFile).Msg("Failed to close database")
		}
	}()

	if err := st.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	log.Info().
		Str("api_url", cfg.APIURL).
		Str("db_file", cfg.DBFile).
		Msg("Starting synchronization")

	p := provider.NewLocal(remote.NewClient(cfg.APIURL, remote.Options{Timeout: cfg.RequestTimeout}), st)
	if err := p.SyncData(ctx); err != nil {
		log.Error().Err(err).Msg("Synchronization failed")
		os.Exit(1)
	}

	fc, err := st.Collection(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read synchronized data")
		os.Exit(1)
	}
	log.Info().Str("stats", geo.Summarize(fc).String()).Msg("Local dataset")

	if opts.History > 0 {
		runs, err := st.RecentSyncs(ctx, opts.History)
		if err != nil {
			log.Error().Err(err).Msg("Failed to read sync log")
			os.Exit(1)
		}
		for _, run := range runs {
			log.Info().
				Str("run", run.ID).
				Str("status", string(run.Status)).
				Time("started_at", run.StartedAt).
				Int("inserted", run.Inserted).
				Int("skipped", run.Skipped).
				Str("error", run.Error).
				Msg("Sync run")
		}
	}

	log.Info().Msg("Synchronization finished successfully")
}
