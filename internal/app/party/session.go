// Package party holds the live state of a listening party: its queue,
// token ledger, playback state, and feature flags.
package party

import (
	"sync"
	"time"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/ledger"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/queue"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/domain/track"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/snapshot"
)

// Flags are the party's toggleable settings.
type Flags struct {
	KaraokeMode   bool
	TokensEnabled bool
	Theme         string
}

// Session is one party. All mutable state behind the mutex; Queue and
// Ledger carry their own locks and may be used directly.
type Session struct {
	id        string
	name      string
	createdAt time.Time

	Queue  *queue.Manager
	Ledger *ledger.Ledger

	mu         sync.Mutex
	nowPlaying *track.PlaybackState
	flags      Flags
	popping    bool
}

// NewSession creates a party session. The ID is the host's Spotify user
// ID, so one host cannot run two parties.
func NewSession(hostID, name string, q *queue.Manager, l *ledger.Ledger, flags Flags) *Session {
	return &Session{
		id:        hostID,
		name:      name,
		createdAt: time.Now(),
		Queue:     q,
		Ledger:    l,
		flags:     flags,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Name() string { return s.name }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// BeginPop claims the single-flight pop slot. It returns false while
// another pop is in progress; the caller must not proceed.
func (s *Session) BeginPop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popping {
		return false
	}
	s.popping = true
	return true
}

// EndPop releases the pop slot.
func (s *Session) EndPop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.popping = false
}

// NowPlaying returns a copy of the current playback state, or nil when
// nothing is playing.
func (s *Session) NowPlaying() *track.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nowPlaying == nil {
		return nil
	}
	copied := *s.nowPlaying
	return &copied
}

// SetNowPlaying replaces the playback state.
func (s *Session) SetNowPlaying(state *track.PlaybackState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowPlaying = state
}

// SetLyrics attaches lyrics to the playback state, but only if the given
// URI still matches what is playing. Returns false when the result is
// stale and was discarded.
func (s *Session) SetLyrics(uri string, lyrics *track.Lyrics) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nowPlaying == nil || s.nowPlaying.URI != uri {
		return false
	}
	s.nowPlaying.Lyrics = lyrics
	return true
}

// SetResearch attaches metadata research to the playback state, guarded
// the same way as SetLyrics.
func (s *Session) SetResearch(uri string, research *track.Research) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nowPlaying == nil || s.nowPlaying.URI != uri {
		return false
	}
	s.nowPlaying.Research = research
	return true
}

// Flags returns the current feature flags.
func (s *Session) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// SetTheme switches the party theme.
func (s *Session) SetTheme(theme string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.Theme = theme
}

// SetKaraokeMode toggles karaoke mode. While on, the prefetch watchdog
// leaves the player alone.
func (s *Session) SetKaraokeMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.KaraokeMode = on
}

// SetTokensEnabled toggles token enforcement for queue submissions.
func (s *Session) SetTokensEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.TokensEnabled = on
}

// Snapshot renders the session into its persisted form. The fallback
// pool is excluded; it is rebuilt from the source playlist on startup.
func (s *Session) Snapshot() *snapshot.Party {
	s.mu.Lock()
	nowPlaying := s.nowPlaying
	flags := s.flags
	s.mu.Unlock()

	p := &snapshot.Party{
		ID:            s.id,
		Name:          s.name,
		CreatedAt:     s.createdAt,
		Theme:         flags.Theme,
		KaraokeMode:   flags.KaraokeMode,
		TokensEnabled: flags.TokensEnabled,
		Queue:         make([]snapshot.QueuedTrack, 0, s.Queue.Len()),
		Ledger:        make(map[string]snapshot.LedgerEntry),
		SavedAt:       time.Now(),
	}

	if nowPlaying != nil {
		p.NowPlaying = &snapshot.NowPlaying{
			URI:        nowPlaying.URI,
			Name:       nowPlaying.Name,
			Artists:    nowPlaying.Artists,
			AlbumArt:   nowPlaying.AlbumArt,
			StartedAt:  nowPlaying.StartedAt,
			DurationMs: nowPlaying.Duration.Milliseconds(),
		}
	}

	for _, t := range s.Queue.List() {
		p.Queue = append(p.Queue, snapshot.QueuedTrack{
			URI:         t.URI,
			Name:        t.Name,
			Artists:     t.Artists,
			Album:       t.Album,
			AlbumArtURL: t.AlbumArtURL,
			DurationMs:  t.Duration.Milliseconds(),
			Explicit:    t.Explicit,
			Votes:       t.Votes,
			Voters:      t.Voters,
			AddedByID:   t.AddedByID,
			AddedByName: t.AddedByName,
			Fallback:    t.Fallback,
			AddedAt:     t.AddedAt,
		})
	}

	for id, st := range s.Ledger.Export() {
		p.Ledger[id] = snapshot.LedgerEntry{
			Name:        st.Name,
			Balance:     st.Balance,
			LastAccrual: st.LastAccrual,
		}
	}

	return p
}

// FromSnapshot rebuilds a session from its persisted form.
func FromSnapshot(p *snapshot.Party, ledgerCfg ledger.Config, now func() time.Time) *Session {
	q := queue.NewManager()
	items := make([]*track.Track, 0, len(p.Queue))
	for _, qt := range p.Queue {
		items = append(items, &track.Track{
			URI:         qt.URI,
			Name:        qt.Name,
			Artists:     qt.Artists,
			Album:       qt.Album,
			AlbumArtURL: qt.AlbumArtURL,
			Duration:    time.Duration(qt.DurationMs) * time.Millisecond,
			Explicit:    qt.Explicit,
			Votes:       qt.Votes,
			Voters:      qt.Voters,
			AddedByID:   qt.AddedByID,
			AddedByName: qt.AddedByName,
			Fallback:    qt.Fallback,
			AddedAt:     qt.AddedAt,
		})
	}
	q.Restore(items)

	l := ledger.NewLedger(ledgerCfg, now)
	entries := make(map[string]ledger.AccountState, len(p.Ledger))
	for id, e := range p.Ledger {
		entries[id] = ledger.AccountState{
			Name:        e.Name,
			Balance:     e.Balance,
			LastAccrual: e.LastAccrual,
		}
	}
	l.Restore(entries)

	s := NewSession(p.ID, p.Name, q, l, Flags{
		KaraokeMode:   p.KaraokeMode,
		TokensEnabled: p.TokensEnabled,
		Theme:         p.Theme,
	})
	s.createdAt = p.CreatedAt

	if p.NowPlaying != nil {
		s.nowPlaying = &track.PlaybackState{
			URI:       p.NowPlaying.URI,
			Name:      p.NowPlaying.Name,
			Artists:   p.NowPlaying.Artists,
			AlbumArt:  p.NowPlaying.AlbumArt,
			StartedAt: p.NowPlaying.StartedAt,
			Duration:  time.Duration(p.NowPlaying.DurationMs) * time.Millisecond,
		}
	}

	return s
}
