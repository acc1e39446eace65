// Package pool sources fallback tracks from a host-chosen playlist.
package pool

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/domain/track"
)

// TrackLister fetches the tracks of a playlist.
type TrackLister interface {
	GetPlaylistTracks(ctx context.Context, playlistURL string) ([]track.Track, error)
}

// PlaylistSource loads the fallback pool from a configured playlist and
// stamps each track as a fallback entry.
type PlaylistSource struct {
	client      TrackLister
	playlistURL string
	displayName string
}

// NewPlaylistSource creates a playlist-backed pool source. displayName is
// shown as the requester for fallback tracks, e.g. "House selection".
func NewPlaylistSource(client TrackLister, playlistURL, displayName string) *PlaylistSource {
	return &PlaylistSource{
		client:      client,
		playlistURL: playlistURL,
		displayName: displayName,
	}
}

// Fetch loads the playlist tracks. Tracks with no URI are dropped.
func (s *PlaylistSource) Fetch(ctx context.Context) ([]track.Track, error) {
	tracks, err := s.client.GetPlaylistTracks(ctx, s.playlistURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch fallback playlist")
	}

	out := make([]track.Track, 0, len(tracks))
	now := time.Now()
	for _, t := range tracks {
		if t.URI == "" {
			continue
		}
		t.Fallback = true
		t.AddedByName = s.displayName
		t.AddedAt = now
		out = append(out, t)
	}

	if len(out) == 0 {
		return nil, errors.New("fallback playlist has no playable tracks")
	}

	zlog.Info().Int("tracks", len(out)).Str("playlist", s.playlistURL).Msg("fallback playlist loaded")
	return out, nil
}
