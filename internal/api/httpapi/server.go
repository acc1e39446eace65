// Package httpapi exposes the party over HTTP: a JSON API for guests and
// admins, plus streaming event feeds.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	zlog "github.com/rs/zerolog/log"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/broadcast"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/filter"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/ledger"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/party"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/playback"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/domain/track"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/config"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/spotify"
)

// MusicClient is the slice of the Spotify client the API needs.
type MusicClient interface {
	CurrentUser(ctx context.Context) (*spotify.HostProfile, error)
	GetTrack(ctx context.Context, trackID string) (*track.Track, error)
	Search(ctx context.Context, query string, limit int) ([]track.Track, error)
}

// Server holds the API's collaborators.
type Server struct {
	cfg        *config.Config
	registry   *party.Registry
	dispatcher *playback.Dispatcher
	hub        *broadcast.Hub
	chain      *filter.Chain
	music      MusicClient
	store      playback.Persister
	ledgerCfg  ledger.Config
}

// NewServer creates the API server.
func NewServer(
	cfg *config.Config,
	registry *party.Registry,
	dispatcher *playback.Dispatcher,
	hub *broadcast.Hub,
	chain *filter.Chain,
	music MusicClient,
	store playback.Persister,
) *Server {
	return &Server{
		cfg:        cfg,
		registry:   registry,
		dispatcher: dispatcher,
		hub:        hub,
		chain:      chain,
		music:      music,
		store:      store,
		ledgerCfg: ledger.Config{
			PerHour: cfg.Tokens.PerHour,
			Max:     cfg.Tokens.Max,
			Initial: cfg.Tokens.Initial,
		},
	}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/events", s.handleEvents)
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/party", s.handleCreateParty)
		r.Get("/state", s.handleState)
		r.Post("/guests", s.handleRegisterGuest)
		r.Get("/guests/{guestID}/tokens", s.handleGuestTokens)
		r.Post("/queue", s.handleSubmitTrack)
		r.Post("/queue/pop", s.handlePop)
		r.Post("/queue/remove", s.handleRemoveTrack)
		r.Put("/queue", s.handleReorder)
		r.Post("/pool/refresh", s.handlePoolRefresh)
		r.Get("/search", s.handleSearch)
		r.Post("/reactions", s.handleReaction)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Put("/settings", s.handleUpdateSettings)
			r.Post("/playback/pause", s.handlePause)
			r.Post("/playback/transfer", s.handleTransfer)
			r.Post("/party/end", s.handleEndParty)
		})
	})

	return r
}

// StatePayload builds the full-state document served by /api/state and
// sent as the INIT event to new stream clients.
func StatePayload(s *party.Session, clientCount int) map[string]any {
	flags := s.Flags()
	ledgerState := s.Ledger.Export()
	guests := make(map[string]map[string]any, len(ledgerState))
	for id, acc := range ledgerState {
		guests[id] = map[string]any{
			"name":    acc.Name,
			"balance": acc.Balance,
		}
	}

	return map[string]any{
		"party": map[string]any{
			"id":         s.ID(),
			"name":       s.Name(),
			"created_at": s.CreatedAt(),
		},
		"flags": map[string]any{
			"theme":          flags.Theme,
			"karaoke_mode":   flags.KaraokeMode,
			"tokens_enabled": flags.TokensEnabled,
		},
		"now_playing": s.NowPlaying(),
		"queue":       s.Queue.List(),
		"pool_size":   s.Queue.PoolSize(),
		"guests":      guests,
		"clients":     clientCount,
	}
}

// active returns the running session or writes the no-party error.
func (s *Server) active(w http.ResponseWriter) *party.Session {
	sess := s.registry.Active()
	if sess == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no_party")
	}
	return sess
}

// persist saves the current snapshot, logging loudly on failure.
func (s *Server) persist(sess *party.Session) {
	if err := s.store.Save(sess.Snapshot()); err != nil {
		zlog.Error().Err(err).Msg("snapshot save failed, state will not survive restart")
	}
}

// broadcastQueue announces the queue after a mutation.
func (s *Server) broadcastQueue(ctx context.Context, sess *party.Session) {
	s.hub.Broadcast(ctx, broadcast.Event{Type: broadcast.EventQueueUpdate, Payload: sess.Queue.List()})
}

// broadcastLedger announces token balances after a mutation.
func (s *Server) broadcastLedger(ctx context.Context, sess *party.Session) {
	s.hub.Broadcast(ctx, broadcast.Event{Type: broadcast.EventLedgerUpdate, Payload: sess.Ledger.Export()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("failed to write response")
	}
}

// writeError writes a {error, message} document, resolving the message
// from the configured message catalog.
func (s *Server) writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": s.cfg.Messages.Get(code),
	})
}

// formatWait renders a duration as M:SS for user-facing wait messages.
func formatWait(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
