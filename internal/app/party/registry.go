package party

import (
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// Registry tracks sessions by host ID and designates one as active.
// The server runs a single active party; the map exists so a restored
// session and a newly created one can coexist briefly during handover.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	activeID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session and makes it the active party. A prior
// in-memory session is discarded; its snapshot stays on disk until the
// new session persists over it.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeID != "" && r.activeID != s.ID() {
		zlog.Info().Str("party_id", r.activeID).Msg("discarding previous party")
		delete(r.sessions, r.activeID)
	}
	r.sessions[s.ID()] = s
	r.activeID = s.ID()
	zlog.Info().Str("party_id", s.ID()).Str("name", s.Name()).Msg("party activated")
}

// Active returns the active session, or nil when no party is running.
func (r *Registry) Active() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.activeID == "" {
		return nil
	}
	return r.sessions[r.activeID]
}

// Get looks up a session by host ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// End removes the active session. Returns false when no party was
// running.
func (r *Registry) End() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeID == "" {
		return false
	}
	zlog.Info().Str("party_id", r.activeID).Msg("party ended")
	delete(r.sessions, r.activeID)
	r.activeID = ""
	return true
}
