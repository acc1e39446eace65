// Package enrich fetches lyrics and listening metadata for tracks,
// deduplicating concurrent requests per track.
package enrich

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/domain/track"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/lastfm"
)

// fetchTimeout bounds one track's enrichment round trip.
const fetchTimeout = 15 * time.Second

// LyricsFetcher retrieves lyrics for a track. A (nil, nil) return means
// no lyrics exist.
type LyricsFetcher interface {
	GetLyrics(ctx context.Context, artist, trackName string, duration time.Duration) (*track.Lyrics, error)
}

// Analyzer retrieves listening metadata for a track.
type Analyzer interface {
	GetTopTags(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.Tag, error)
}

// Result is everything enrichment found for one track. Either field may
// be nil when the upstream had nothing or the fetch failed.
type Result struct {
	URI      string
	Lyrics   *track.Lyrics
	Research *track.Research
}

// Enricher runs enrichment fetches keyed by track URI. The watchdog's
// prefetch and the dispatcher's on-play fetch share one in-flight slot
// per URI, so firing both costs a single upstream round trip.
type Enricher struct {
	lyrics   LyricsFetcher // nil disables lyrics
	analyzer Analyzer      // nil disables research

	mu       sync.Mutex
	inflight map[string]chan struct{}
	results  map[string]*Result
}

// New creates an enricher. Either dependency may be nil to disable that
// half of enrichment.
func New(lyrics LyricsFetcher, analyzer Analyzer) *Enricher {
	return &Enricher{
		lyrics:   lyrics,
		analyzer: analyzer,
		inflight: make(map[string]chan struct{}),
		results:  make(map[string]*Result),
	}
}

// Prefetch starts enrichment in the background and returns immediately.
// Calling it repeatedly for the same URI is free.
func (e *Enricher) Prefetch(t track.Track) {
	e.begin(t)
}

// Enrich returns the enrichment result for a track, waiting for an
// in-flight fetch or starting one as needed.
func (e *Enricher) Enrich(ctx context.Context, t track.Track) (*Result, error) {
	done := e.begin(t)

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results[t.URI], nil
}

// begin ensures a fetch for the track is cached, in flight, or started,
// and returns a channel closed when the result is available.
func (e *Enricher) begin(t track.Track) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.results[t.URI]; ok {
		done := make(chan struct{})
		close(done)
		return done
	}
	if ch, ok := e.inflight[t.URI]; ok {
		return ch
	}

	ch := make(chan struct{})
	e.inflight[t.URI] = ch
	go e.fetch(t, ch)
	return ch
}

// fetch runs the upstream calls. It uses a detached context: a prefetch
// triggered by the watchdog must survive the tick that started it.
func (e *Enricher) fetch(t track.Track, done chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	result := &Result{URI: t.URI}
	artist := t.MainArtist()

	var wg sync.WaitGroup
	if e.lyrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lyrics, err := e.lyrics.GetLyrics(ctx, artist, t.Name, t.Duration)
			if err != nil {
				zlog.Warn().Err(err).Str("uri", t.URI).Msg("lyrics fetch failed")
				return
			}
			result.Lyrics = lyrics
		}()
	}
	if e.analyzer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tags, err := e.analyzer.GetTopTags(ctx, t.Name, artist, 5)
			if err != nil {
				zlog.Warn().Err(err).Str("uri", t.URI).Msg("tag fetch failed")
				return
			}
			if len(tags) == 0 {
				return
			}
			names := make([]string, len(tags))
			for i, tag := range tags {
				names[i] = tag.Name
			}
			result.Research = &track.Research{Tags: names}
		}()
	}
	wg.Wait()

	e.mu.Lock()
	e.results[t.URI] = result
	delete(e.inflight, t.URI)
	e.mu.Unlock()
	close(done)
}
