// Package track provides the Track domain entity.
package track

import "time"

// Track represents a Spotify track known to the party.
// Catalog fields come from the Spotify API; voting state belongs to the
// queue manager, which is its only writer.
type Track struct {
	URI         string        `json:"uri"` // Spotify track URI (immutable identity)
	Name        string        `json:"name"`
	Artists     []string      `json:"artists"`
	Album       string        `json:"album"`
	AlbumArtURL string        `json:"album_art_url"`
	Duration    time.Duration `json:"duration"`
	Explicit    bool          `json:"explicit"`
	Markets     []string      `json:"-"` // Catalog detail, not for the wire

	// Voting state
	Votes       int       `json:"votes"`
	Voters      []string  `json:"voters,omitempty"`
	AddedByID   string    `json:"added_by_id,omitempty"`
	AddedByName string    `json:"added_by_name,omitempty"`
	Fallback    bool      `json:"fallback"`
	AddedAt     time.Time `json:"added_at"`
}

// HasVoted reports whether the given guest already voted for this track.
func (t *Track) HasVoted(guestID string) bool {
	for _, v := range t.Voters {
		if v == guestID {
			return true
		}
	}
	return false
}

// AddVote registers a vote for the given guest. It returns false if the
// guest already voted; the count never grows past one per guest.
func (t *Track) AddVote(guestID string) bool {
	if t.HasVoted(guestID) {
		return false
	}
	t.Voters = append(t.Voters, guestID)
	t.Votes++
	return true
}

// IsAvailableInMarket checks if the track is available in the given market.
func (t *Track) IsAvailableInMarket(market string) bool {
	for _, m := range t.Markets {
		if m == market {
			return true
		}
	}
	return false
}

// MainArtist returns the first artist, or an empty string.
func (t *Track) MainArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// Lyrics holds the lyrics variants resolved for a track.
type Lyrics struct {
	Synced string `json:"synced,omitempty"` // LRC-style timestamped lyrics, empty if unavailable
	Plain  string `json:"plain,omitempty"`
}

// Research holds asynchronously resolved enrichment metadata.
type Research struct {
	Tags []string `json:"tags"` // Genre/mood tags from the metadata service
}

// PlaybackState is the snapshot of the single currently-playing track.
// At most one PlaybackState is live at a time; the dispatcher is its
// only writer.
type PlaybackState struct {
	URI       string        `json:"uri"`
	Name      string        `json:"name"`
	Artists   []string      `json:"artists"`
	AlbumArt  string        `json:"album_art"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Lyrics    *Lyrics       `json:"lyrics,omitempty"`   // Populated asynchronously, may stay nil
	Research  *Research     `json:"research,omitempty"` // Populated asynchronously, may stay nil
}

// Remaining returns the remaining playback time at the given instant.
func (p *PlaybackState) Remaining(now time.Time) time.Duration {
	if p == nil || p.StartedAt.IsZero() || p.Duration <= 0 {
		return 0
	}
	remaining := p.Duration - now.Sub(p.StartedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
