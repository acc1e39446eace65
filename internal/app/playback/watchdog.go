package playback

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/enrich"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/party"
)

// WatchdogConfig bounds the prefetch trigger window.
type WatchdogConfig struct {
	Interval     time.Duration
	MinRemaining time.Duration
	MaxRemaining time.Duration
}

// Watchdog polls the playback clock and warms up enrichment for the next
// track shortly before the current one ends. It carries no trigger state
// of its own: firing twice for the same track is harmless because the
// enricher dedupes by URI.
type Watchdog struct {
	registry *party.Registry
	enricher *enrich.Enricher
	cfg      WatchdogConfig
	now      func() time.Time
}

// NewWatchdog creates a watchdog. now is injectable for tests; pass nil
// for the system clock.
func NewWatchdog(registry *party.Registry, enricher *enrich.Enricher, cfg WatchdogConfig, now func() time.Time) *Watchdog {
	if now == nil {
		now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MinRemaining <= 0 {
		cfg.MinRemaining = 2 * time.Second
	}
	if cfg.MaxRemaining <= 0 {
		cfg.MaxRemaining = 15 * time.Second
	}
	return &Watchdog{
		registry: registry,
		enricher: enricher,
		cfg:      cfg,
		now:      now,
	}
}

// Run ticks until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	zlog.Info().
		Dur("interval", w.cfg.Interval).
		Dur("min_remaining", w.cfg.MinRemaining).
		Dur("max_remaining", w.cfg.MaxRemaining).
		Msg("prefetch watchdog started")

	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msg("prefetch watchdog stopped")
			return
		case <-ticker.C:
			w.Tick()
		}
	}
}

// Tick checks the window once.
func (w *Watchdog) Tick() {
	s := w.registry.Active()
	if s == nil {
		return
	}
	if s.Flags().KaraokeMode {
		return
	}

	np := s.NowPlaying()
	if np == nil || np.StartedAt.IsZero() || np.Duration <= 0 {
		return
	}

	remaining := np.Remaining(w.now())
	if remaining <= w.cfg.MinRemaining || remaining >= w.cfg.MaxRemaining {
		return
	}

	next, _ := s.Queue.Peek()
	if next == nil {
		return
	}

	zlog.Debug().Str("uri", next.URI).Dur("remaining", remaining).Msg("prefetching next track")
	w.enricher.Prefetch(*next)
}
