// Package main provides the party server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/api/httpapi"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/broadcast"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/enrich"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/filter"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/ledger"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/party"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/playback"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/pool"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/config"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/lastfm"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/logger"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/lyrics"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/snapshot"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/spotify"
)

var (
	app        = kingpin.New("partybox-server", "shared jukebox party server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. A separate function so defers run
// even when returning with an error.
func run(cfg *config.Config) error {
	chain, err := buildFilterChain(cfg)
	if err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}

	ctx := context.Background()
	spotifyClient, err := spotify.New(ctx, spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RefreshToken: cfg.Spotify.RefreshToken,
		Market:       cfg.Spotify.Market,
		DeviceID:     cfg.Spotify.DeviceID,
	})
	if err != nil {
		return fmt.Errorf("failed to create Spotify client: %w", err)
	}

	if err := spotifyClient.CheckPlaylistExists(ctx, cfg.Fallback.PlaylistURL); err != nil {
		return fmt.Errorf("fallback playlist validation failed: %w", err)
	}

	var lyricsClient enrich.LyricsFetcher
	if cfg.Lyrics.Enabled {
		lyricsClient = lyrics.New(cfg.Lyrics.BaseURL)
	}
	var analyzer enrich.Analyzer
	if cfg.LastFM.APIKey != "" {
		lastfmClient, err := lastfm.New(lastfm.Config{APIKey: cfg.LastFM.APIKey})
		if err != nil {
			return fmt.Errorf("failed to create Last.fm client: %w", err)
		}
		analyzer = lastfmClient
	}
	enricher := enrich.New(lyricsClient, analyzer)

	registry := party.NewRegistry()
	hub := broadcast.NewHub(func() *broadcast.Event {
		sess := registry.Active()
		if sess == nil {
			return nil
		}
		return &broadcast.Event{Type: broadcast.EventInit, Payload: httpapi.StatePayload(sess, 0)}
	})

	store := snapshot.NewStore(cfg.Snapshot.Path)
	source := pool.NewPlaylistSource(spotifyClient, cfg.Fallback.PlaylistURL, cfg.Fallback.DisplayName)
	dispatcher := playback.NewDispatcher(registry, spotifyClient, enricher, hub, store, source, nil)

	restoreParty(cfg, registry, store, dispatcher)

	watchdog := playback.NewWatchdog(registry, enricher, playback.WatchdogConfig{
		Interval:     time.Duration(cfg.Prefetch.IntervalMs) * time.Millisecond,
		MinRemaining: time.Duration(cfg.Prefetch.MinRemainingMs) * time.Millisecond,
		MaxRemaining: time.Duration(cfg.Prefetch.MaxRemainingMs) * time.Millisecond,
	}, nil)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchdog.Run(runCtx)

	api := httpapi.NewServer(cfg, registry, dispatcher, hub, chain, spotifyClient, store)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		zlog.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Last snapshot on the way out.
	if sess := registry.Active(); sess != nil {
		if err := store.Save(sess.Snapshot()); err != nil {
			zlog.Error().Err(err).Msg("final snapshot save failed")
		}
	}

	zlog.Info().Msg("server stopped")
	return nil
}

// restoreParty rebuilds the active session from the last snapshot, then
// refills the fallback pool in the background.
func restoreParty(cfg *config.Config, registry *party.Registry, store *snapshot.Store, dispatcher *playback.Dispatcher) {
	saved, err := store.Load()
	if err != nil {
		zlog.Warn().Err(err).Msg("failed to load snapshot, starting fresh")
		return
	}
	if saved == nil {
		return
	}

	sess := party.FromSnapshot(saved, ledger.Config{
		PerHour: cfg.Tokens.PerHour,
		Max:     cfg.Tokens.Max,
		Initial: cfg.Tokens.Initial,
	}, nil)
	registry.Add(sess)
	zlog.Info().Str("party_id", sess.ID()).Str("name", sess.Name()).Time("saved_at", saved.SavedAt).Msg("party restored from snapshot")

	// The pool is not part of the snapshot; rebuild it off the startup path.
	go func() {
		if err := dispatcher.RefreshStation(context.Background()); err != nil {
			zlog.Warn().Err(err).Msg("pool refill after restore failed")
		}
	}()
}

// buildFilterChain instantiates and configures every enabled filter.
func buildFilterChain(cfg *config.Config) (*filter.Chain, error) {
	chain := filter.NewChain()
	for name, factory := range filter.GetRegistered() {
		if !cfg.IsFilterEnabled(name) {
			continue
		}
		f := factory()
		settings := map[string]any{}
		if fc, ok := cfg.Filters[name]; ok && fc.Settings != nil {
			settings = fc.Settings
		}
		if err := f.ValidateConfig(settings); err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
		chain.Add(f)
		zlog.Info().Str("filter", name).Msg("filter enabled")
	}
	return chain, nil
}

// printFilters lists every registered filter with its return codes.
func printFilters() {
	fmt.Println("Available filters:")
	for name, factory := range filter.GetRegistered() {
		f := factory()
		fmt.Printf("  %s - %s (codes: %v)\n", name, f.Description(), f.ReturnCodes())
	}
}
