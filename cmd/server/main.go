package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/woozymasta/geosync/internal/config"
	"github.com/woozymasta/geosync/internal/controller"
	"github.com/woozymasta/geosync/internal/logger"
	"github.com/woozymasta/geosync/internal/provider"
	"github.com/woozymasta/geosync/internal/remote"
	"github.com/woozymasta/geosync/internal/server"
	"github.com/woozymasta/geosync/internal/store"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile   string        `short:"c" long:"config"        env:"CONFIG_FILE"     description:"Path to configuration file"`
	APIURL       string        `short:"u" long:"api-url"       env:"API_URL"         description:"Upstream GeoJSON URL"                 default:"http://localhost:5000/getdata"`
	DBFile       string        `short:"d" long:"db-file"       env:"DB_FILE"         description:"Path to the SQLite database"          default:"local_data.db"`
	Addr         string        `short:"a" long:"addr"          env:"LISTEN_ADDRESS"  description:"Address to listen on"                 default:"127.0.0.1"`
	Port         int           `short:"p" long:"port"          env:"LISTEN_PORT"     description:"Port to listen on"                    default:"8080"`
	SyncInterval time.Duration `short:"i" long:"sync-interval" env:"SYNC_INTERVAL"   description:"Background sync period, 0 disables"   default:"1h"`
	Timeout      time.Duration `short:"t" long:"timeout"       env:"REQUEST_TIMEOUT" description:"Upstream request timeout"             default:"15s"`
	RequestGap   time.Duration `long:"request-gap"             env:"REQUEST_GAP"     description:"Minimum delay between upstream requests"`
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

	// Setup Logging
	opts.Logger.Setup()

	if err := run(opts); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run(opts Options) error {
	// Load Config
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return err
	}
	cfg.Fill(config.Config{
		APIURL:         opts.APIURL,
		DBFile:         opts.DBFile,
		SyncInterval:   opts.SyncInterval,
		RequestTimeout: opts.Timeout,
		RequestGap:     opts.RequestGap,
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error().Err(closeErr).Str("path", cfg.DBFile).Msg("Failed to close database")
		}
	}()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	client := remote.NewClient(cfg.APIURL, remote.Options{
		Timeout: cfg.RequestTimeout,
		MinGap:  cfg.RequestGap,
	})
	ctrl := controller.New(
		provider.NewLocal(client, st),
		controller.WithTimeLayout(cfg.TimeLayout),
	)

	srvCtx, err := server.NewServerContext(cfg, ctrl, st)
	if err != nil {
		return err
	}

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srvCtx.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := ctrl.Initialize(gctx); err != nil {
			log.Warn().Err(err).Msg("Initial fetch failed")
		}
		return ctrl.Schedule(gctx, cfg.SyncInterval)
	})

	g.Go(func() error {
		log.Info().
			Str("addr", listenAddr).
			Str("api_url", cfg.APIURL).
			Str("db_file", cfg.DBFile).
			Dur("sync_interval", cfg.SyncInterval).
			Msg("Web server started")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}
