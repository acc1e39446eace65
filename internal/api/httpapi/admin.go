package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/broadcast"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/playback"
)

// adminOnly rejects requests without the shared admin token.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin-Token") != s.cfg.Admin.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type settingsRequest struct {
	TokenCap      *int    `json:"token_cap,omitempty"`
	Theme         *string `json:"theme,omitempty"`
	KaraokeMode   *bool   `json:"karaoke_mode,omitempty"`
	TokensEnabled *bool   `json:"tokens_enabled,omitempty"`
}

// handleUpdateSettings applies partial settings changes. Lowering the
// token cap clamps every guest balance immediately; this is the only
// place balances are force-adjusted.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	sess := s.active(w)
	if sess == nil {
		return
	}

	if req.TokenCap != nil {
		if *req.TokenCap < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		sess.Ledger.EnforceGlobalCap(*req.TokenCap)
		s.broadcastLedger(r.Context(), sess)
	}

	if req.Theme != nil {
		sess.SetTheme(*req.Theme)
		s.hub.Broadcast(r.Context(), broadcast.Event{
			Type:    broadcast.EventThemeUpdate,
			Payload: map[string]string{"theme": *req.Theme},
		})
	}

	if req.KaraokeMode != nil {
		sess.SetKaraokeMode(*req.KaraokeMode)
		s.hub.Broadcast(r.Context(), broadcast.Event{
			Type:    broadcast.EventKaraokeQueue,
			Payload: map[string]bool{"karaoke_mode": *req.KaraokeMode},
		})
	}

	if req.TokensEnabled != nil {
		sess.SetTokensEnabled(*req.TokensEnabled)
		s.broadcastLedger(r.Context(), sess)
	}

	s.persist(sess)

	flags := sess.Flags()
	writeJSON(w, http.StatusOK, map[string]any{
		"theme":          flags.Theme,
		"karaoke_mode":   flags.KaraokeMode,
		"tokens_enabled": flags.TokensEnabled,
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Pause(r.Context()); err != nil {
		if errors.Is(err, playback.ErrNoParty) {
			s.writeError(w, http.StatusServiceUnavailable, "no_party")
			return
		}
		zlog.Error().Err(err).Msg("pause failed")
		s.writeError(w, http.StatusBadGateway, "spotify_unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if err := s.dispatcher.Transfer(r.Context(), req.DeviceID); err != nil {
		if errors.Is(err, playback.ErrNoParty) {
			s.writeError(w, http.StatusServiceUnavailable, "no_party")
			return
		}
		zlog.Error().Err(err).Str("device_id", req.DeviceID).Msg("transfer failed")
		s.writeError(w, http.StatusBadGateway, "spotify_unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEndParty(w http.ResponseWriter, r *http.Request) {
	sess := s.active(w)
	if sess == nil {
		return
	}

	// Final snapshot, then drop the session.
	s.persist(sess)
	s.registry.End()
	w.WriteHeader(http.StatusNoContent)
}
