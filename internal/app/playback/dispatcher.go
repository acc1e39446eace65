// Package playback advances the party from one track to the next and
// keeps the player, snapshot, and connected clients in step.
package playback

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/broadcast"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/enrich"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/party"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/domain/track"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/snapshot"
)

var (
	// ErrNoParty is returned when no party is running.
	ErrNoParty = errors.New("no active party")
	// ErrPopInFlight is returned when another track change is already in
	// progress.
	ErrPopInFlight = errors.New("a track change is already in progress")
	// ErrStationEmpty is returned when both the queue and the fallback
	// pool are empty.
	ErrStationEmpty = errors.New("queue and fallback pool are empty")
)

// Player controls the host's music player.
type Player interface {
	Play(ctx context.Context, uri string) error
	Pause(ctx context.Context) error
	TransferPlayback(ctx context.Context, deviceID string) error
}

// Persister saves party snapshots.
type Persister interface {
	Save(p *snapshot.Party) error
}

// PoolSource loads fallback tracks.
type PoolSource interface {
	Fetch(ctx context.Context) ([]track.Track, error)
}

// Broadcaster fans events out to connected clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev broadcast.Event)
}

// Dispatcher owns every track transition. All paths that change the
// now-playing track go through PopNextTrack, which the session's popping
// flag keeps single-flight.
type Dispatcher struct {
	registry *party.Registry
	player   Player
	enricher *enrich.Enricher
	hub      Broadcaster
	store    Persister
	source   PoolSource
	now      func() time.Time

	refilling int32
}

// NewDispatcher wires a dispatcher. now is injectable for tests; pass
// nil for the system clock.
func NewDispatcher(
	registry *party.Registry,
	player Player,
	enricher *enrich.Enricher,
	hub Broadcaster,
	store Persister,
	source PoolSource,
	now func() time.Time,
) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		registry: registry,
		player:   player,
		enricher: enricher,
		hub:      hub,
		store:    store,
		source:   source,
		now:      now,
	}
}

// PopNextTrack advances to the next track. A second caller arriving
// mid-transition gets ErrPopInFlight; an empty station gets
// ErrStationEmpty and kicks off an async pool refill.
func (d *Dispatcher) PopNextTrack(ctx context.Context) (*track.Track, error) {
	s := d.registry.Active()
	if s == nil {
		return nil, ErrNoParty
	}

	if !s.BeginPop() {
		return nil, ErrPopInFlight
	}
	defer s.EndPop()

	next, fromPool := s.Queue.PopNext()
	if next == nil {
		go d.refillPool(context.Background(), s)
		return nil, ErrStationEmpty
	}

	// Playback failure is a warning, not a rollback: the party state
	// advances so the host can recover the player without losing the
	// queue position.
	if err := d.player.Play(ctx, next.URI); err != nil {
		zlog.Warn().Err(err).Str("uri", next.URI).Msg("player rejected track, advancing anyway")
	}

	state := &track.PlaybackState{
		URI:       next.URI,
		Name:      next.Name,
		Artists:   next.Artists,
		AlbumArt:  next.AlbumArtURL,
		StartedAt: d.now(),
		Duration:  next.Duration,
	}
	s.SetNowPlaying(state)

	d.persist(s)

	d.hub.Broadcast(ctx, broadcast.Event{Type: broadcast.EventTrackChange, Payload: state})
	d.hub.Broadcast(ctx, broadcast.Event{Type: broadcast.EventQueueUpdate, Payload: s.Queue.List()})

	go d.enrichTrack(s, *next)

	zlog.Info().
		Str("uri", next.URI).
		Str("name", next.Name).
		Bool("from_pool", fromPool).
		Msg("track change")
	return next, nil
}

// Pause pauses the host's player without touching party state.
func (d *Dispatcher) Pause(ctx context.Context) error {
	if d.registry.Active() == nil {
		return ErrNoParty
	}
	return d.player.Pause(ctx)
}

// Transfer moves playback to another device.
func (d *Dispatcher) Transfer(ctx context.Context, deviceID string) error {
	if d.registry.Active() == nil {
		return ErrNoParty
	}
	return d.player.TransferPlayback(ctx, deviceID)
}

// RefreshStation rebuilds the fallback pool from the source playlist and
// announces it.
func (d *Dispatcher) RefreshStation(ctx context.Context) error {
	s := d.registry.Active()
	if s == nil {
		return ErrNoParty
	}

	tracks, err := d.source.Fetch(ctx)
	if err != nil {
		return errors.Wrap(err, "station refresh failed")
	}
	s.Queue.RefillPool(tracks)
	d.hub.Broadcast(ctx, broadcast.Event{
		Type:    broadcast.EventStationRefresh,
		Payload: map[string]int{"pool_size": len(tracks)},
	})
	return nil
}

// refillPool is the async path taken when a pop finds the station empty.
// The atomic flag collapses concurrent refill attempts into one fetch.
func (d *Dispatcher) refillPool(ctx context.Context, s *party.Session) {
	if !atomic.CompareAndSwapInt32(&d.refilling, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&d.refilling, 0)

	tracks, err := d.source.Fetch(ctx)
	if err != nil {
		zlog.Error().Err(err).Msg("fallback pool refill failed")
		return
	}
	s.Queue.RefillPool(tracks)
	d.hub.Broadcast(ctx, broadcast.Event{
		Type:    broadcast.EventStationRefresh,
		Payload: map[string]int{"pool_size": len(tracks)},
	})
}

// enrichTrack fetches lyrics and metadata off the pop path and applies
// whatever arrives, unless the party has moved on to another track.
func (d *Dispatcher) enrichTrack(s *party.Session, t track.Track) {
	result, err := d.enricher.Enrich(context.Background(), t)
	if err != nil || result == nil {
		return
	}

	ctx := context.Background()
	if result.Lyrics != nil && s.SetLyrics(t.URI, result.Lyrics) {
		d.hub.Broadcast(ctx, broadcast.Event{Type: broadcast.EventLyricsUpdate, Payload: result.Lyrics})
	}
	if result.Research != nil && s.SetResearch(t.URI, result.Research) {
		d.hub.Broadcast(ctx, broadcast.Event{Type: broadcast.EventResearchUpdate, Payload: result.Research})
	}
}

// persist saves the session snapshot. A failed save must not block the
// party, but it means a restart loses state, so log it loudly.
func (d *Dispatcher) persist(s *party.Session) {
	if err := d.store.Save(s.Snapshot()); err != nil {
		zlog.Error().Err(err).Str("party_id", s.ID()).Msg("snapshot save failed, state will not survive restart")
	}
}
