// Package queue manages the party's request queue and its fallback pool.
package queue

import (
	"math/rand"
	"sort"
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/domain/track"
)

// Outcome reports what EnqueueOrVote did with a submission.
type Outcome int

const (
	// OutcomeAdded means the track was new and is now queued.
	OutcomeAdded Outcome = iota
	// OutcomeVoted means the track was already queued and gained a vote.
	OutcomeVoted
	// OutcomeDuplicate means the guest had already voted for this track.
	OutcomeDuplicate
)

// Manager holds the vote-ordered queue and the shuffle-bag fallback pool.
// The queue orders by votes descending; ties keep submission order. The
// pool is shuffled once per refill and replayed in bag order after every
// entry has been played.
type Manager struct {
	mu      sync.Mutex
	items   []*track.Track
	pool    []track.Track
	history map[string]struct{}
}

// NewManager creates an empty queue manager.
func NewManager() *Manager {
	return &Manager{
		history: make(map[string]struct{}),
	}
}

// EnqueueOrVote adds a track to the queue, or registers a vote if the
// track is already queued. Votes from the same guest are counted once.
func (m *Manager) EnqueueOrVote(t *track.Track, guestID string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.items {
		if existing.URI == t.URI {
			if !existing.AddVote(guestID) {
				return OutcomeDuplicate
			}
			m.resort()
			return OutcomeVoted
		}
	}

	t.AddVote(guestID)
	m.items = append(m.items, t)
	m.resort()
	return OutcomeAdded
}

// PopNext removes and returns the next track to play. When the queue is
// empty the fallback pool is consulted; fromPool reports which source was
// used. Returns nil when both are empty.
func (m *Manager) PopNext() (t *track.Track, fromPool bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) > 0 {
		t = m.items[0]
		m.items = m.items[1:]
		return t, false
	}

	idx := m.nextPoolIndex()
	if idx < 0 {
		return nil, false
	}

	picked := m.pool[idx]
	m.history[picked.URI] = struct{}{}
	return &picked, true
}

// Peek returns the track PopNext would yield, without removing it.
func (m *Manager) Peek() (t *track.Track, fromPool bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) > 0 {
		copied := *m.items[0]
		return &copied, false
	}

	idx := m.nextPoolIndex()
	if idx < 0 {
		return nil, false
	}

	copied := m.pool[idx]
	return &copied, true
}

// nextPoolIndex picks the first bag entry not yet played this cycle. When
// the whole bag has been played the history is cleared and the cycle
// starts over from the top of the bag. Callers must hold the mutex.
func (m *Manager) nextPoolIndex() int {
	if len(m.pool) == 0 {
		return -1
	}

	for i, p := range m.pool {
		if _, played := m.history[p.URI]; !played {
			return i
		}
	}

	zlog.Debug().Int("pool_size", len(m.pool)).Msg("fallback pool exhausted, starting replay cycle")
	m.history = make(map[string]struct{})
	return 0
}

// Remove deletes a queued track by URI.
func (m *Manager) Remove(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, t := range m.items {
		if t.URI == uri {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return true
		}
	}
	return false
}

// Reorder rearranges the queue to match the given URI order. URIs that
// are not in the queue are skipped; queued tracks missing from the list
// keep their relative order at the tail.
func (m *Manager) Reorder(uris []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byURI := make(map[string]*track.Track, len(m.items))
	for _, t := range m.items {
		byURI[t.URI] = t
	}

	reordered := make([]*track.Track, 0, len(m.items))
	taken := make(map[string]struct{}, len(uris))
	for _, uri := range uris {
		if t, ok := byURI[uri]; ok {
			if _, dup := taken[uri]; dup {
				continue
			}
			reordered = append(reordered, t)
			taken[uri] = struct{}{}
		}
	}
	for _, t := range m.items {
		if _, ok := taken[t.URI]; !ok {
			reordered = append(reordered, t)
		}
	}
	m.items = reordered
}

// RefillPool replaces the fallback pool with a freshly shuffled bag and
// resets the replay history.
func (m *Manager) RefillPool(tracks []track.Track) {
	bag := make([]track.Track, len(tracks))
	copy(bag, tracks)
	rand.Shuffle(len(bag), func(i, j int) {
		bag[i], bag[j] = bag[j], bag[i]
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool = bag
	m.history = make(map[string]struct{})
	zlog.Info().Int("pool_size", len(bag)).Msg("fallback pool refilled")
}

// Restore replaces the queue contents, preserving the given order. Used
// when rebuilding a party from a snapshot.
func (m *Manager) Restore(tracks []*track.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = tracks
}

// List returns a copy of the queued tracks in play order.
func (m *Manager) List() []track.Track {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]track.Track, len(m.items))
	for i, t := range m.items {
		out[i] = *t
	}
	return out
}

// Len returns the number of queued tracks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// PoolSize returns the number of tracks in the fallback pool.
func (m *Manager) PoolSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool)
}

// resort orders the queue by votes descending. The sort is stable so
// equal-vote tracks keep submission order. Callers must hold the mutex.
func (m *Manager) resort() {
	sort.SliceStable(m.items, func(i, j int) bool {
		return m.items[i].Votes > m.items[j].Votes
	})
}
