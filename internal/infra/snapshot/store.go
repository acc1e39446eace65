// Package snapshot persists party state as a single JSON document.
package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// Party is the on-disk representation of a party. The fallback pool and
// its played history are deliberately absent: they are rebuilt from the
// source playlist on startup.
type Party struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	CreatedAt     time.Time              `json:"created_at"`
	Theme         string                 `json:"theme"`
	KaraokeMode   bool                   `json:"karaoke_mode"`
	TokensEnabled bool                   `json:"tokens_enabled"`
	NowPlaying    *NowPlaying            `json:"now_playing,omitempty"`
	Queue         []QueuedTrack          `json:"queue"`
	Ledger        map[string]LedgerEntry `json:"ledger"`
	SavedAt       time.Time              `json:"saved_at"`
}

// QueuedTrack is a queue entry with its voting state.
type QueuedTrack struct {
	URI         string    `json:"uri"`
	Name        string    `json:"name"`
	Artists     []string  `json:"artists"`
	Album       string    `json:"album"`
	AlbumArtURL string    `json:"album_art_url,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	Explicit    bool      `json:"explicit"`
	Votes       int       `json:"votes"`
	Voters      []string  `json:"voters"`
	AddedByID   string    `json:"added_by_id"`
	AddedByName string    `json:"added_by_name"`
	Fallback    bool      `json:"fallback"`
	AddedAt     time.Time `json:"added_at"`
}

// LedgerEntry is a guest's token account.
type LedgerEntry struct {
	Name        string    `json:"name"`
	Balance     int       `json:"balance"`
	LastAccrual time.Time `json:"last_accrual"`
}

// NowPlaying is the persisted playback state. Enrichment results are not
// saved; they are refetched on demand.
type NowPlaying struct {
	URI        string    `json:"uri"`
	Name       string    `json:"name"`
	Artists    []string  `json:"artists"`
	AlbumArt   string    `json:"album_art,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Store reads and writes party snapshots at a fixed path.
type Store struct {
	path string
}

// NewStore creates a snapshot store. The parent directory is created on
// first save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save writes the snapshot atomically: a temp file in the same directory
// is renamed over the target so a crash mid-write never leaves a torn
// document.
func (s *Store) Save(p *Party) error {
	if p == nil {
		return errors.New("nil party snapshot")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create snapshot directory")
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal snapshot")
	}

	tmp, err := os.CreateTemp(dir, ".party-*.json")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to write snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to close temp file")
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to replace snapshot")
	}
	return nil
}

// Load reads the snapshot. A missing file is not an error: it returns
// (nil, nil) so a fresh install starts with no party.
func (s *Store) Load() (*Party, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read snapshot")
	}

	var p Party
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "failed to parse snapshot")
	}
	return &p, nil
}
