package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/go-chi/chi/v5"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/broadcast"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/filter"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/ledger"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/party"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/playback"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/queue"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createPartyRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateParty(w http.ResponseWriter, r *http.Request) {
	var req createPartyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	host, err := s.music.CurrentUser(r.Context())
	if err != nil {
		zlog.Error().Err(err).Msg("failed to resolve host account")
		s.writeError(w, http.StatusBadGateway, "spotify_unavailable")
		return
	}

	name := req.Name
	if name == "" {
		name = host.DisplayName + "'s party"
	}

	sess := party.NewSession(host.ID, name,
		queue.NewManager(),
		ledger.NewLedger(s.ledgerCfg, nil),
		party.Flags{
			TokensEnabled: s.cfg.Tokens.Enabled,
			KaraokeMode:   s.cfg.Karaoke.Enabled,
			Theme:         s.cfg.Theme.Default,
		},
	)
	// A previous party, if any, is discarded; its snapshot survives until
	// the persist below overwrites it.
	s.registry.Add(sess)

	// Fill the fallback pool off the request path; the party is usable
	// while it loads.
	go func() {
		if err := s.dispatcher.RefreshStation(context.Background()); err != nil {
			zlog.Warn().Err(err).Msg("initial station refresh failed")
		}
	}()

	s.persist(sess)

	writeJSON(w, http.StatusCreated, map[string]any{
		"party_id": sess.ID(),
		"name":     sess.Name(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess := s.active(w)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, StatePayload(sess, s.hub.ClientCount()))
}

type registerGuestRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRegisterGuest(w http.ResponseWriter, r *http.Request) {
	var req registerGuestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	sess := s.active(w)
	if sess == nil {
		return
	}

	guestID := sess.Ledger.Register(req.Name)
	balance, until, _ := sess.Ledger.Balance(guestID)

	s.persist(sess)
	s.broadcastLedger(r.Context(), sess)

	writeJSON(w, http.StatusCreated, map[string]any{
		"guest_id":              guestID,
		"balance":               balance,
		"next_token_in_seconds": int(until.Seconds()),
	})
}

func (s *Server) handleGuestTokens(w http.ResponseWriter, r *http.Request) {
	sess := s.active(w)
	if sess == nil {
		return
	}

	guestID := chi.URLParam(r, "guestID")
	balance, until, err := sess.Ledger.Balance(guestID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "guest_not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"balance":               balance,
		"next_token_in_seconds": int(until.Seconds()),
	})
}

type submitTrackRequest struct {
	GuestID string `json:"guest_id"`
	TrackID string `json:"track_id"`
}

// handleSubmitTrack is the guest request flow: spend a token, resolve the
// track, run the filter chain, then enqueue or vote. Every rejection
// after a successful spend refunds the token.
func (s *Server) handleSubmitTrack(w http.ResponseWriter, r *http.Request) {
	var req submitTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GuestID == "" || req.TrackID == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	sess := s.active(w)
	if sess == nil {
		return
	}

	guestName, ok := sess.Ledger.Name(req.GuestID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "guest_not_found")
		return
	}

	spent := false
	if sess.Flags().TokensEnabled {
		if err := sess.Ledger.Spend(req.GuestID); err != nil {
			var insufficient *ledger.InsufficientTokensError
			if errors.As(err, &insufficient) {
				writeJSON(w, http.StatusPaymentRequired, map[string]any{
					"error":            "insufficient_tokens",
					"message":          formatNextToken(s.cfg.Messages.NextToken, insufficient.Until),
					"retry_in_seconds": int(insufficient.Until.Seconds()),
				})
				return
			}
			s.writeError(w, http.StatusNotFound, "guest_not_found")
			return
		}
		spent = true
	}

	refund := func() {
		if spent {
			sess.Ledger.Refund(req.GuestID)
		}
	}

	t, err := s.music.GetTrack(r.Context(), req.TrackID)
	if err != nil {
		refund()
		s.writeError(w, http.StatusNotFound, "track_not_found")
		return
	}

	result := s.chain.Execute(r.Context(), filter.Request{GuestID: req.GuestID, TrackID: req.TrackID}, *t)
	if !result.Accepted {
		refund()
		s.writeError(w, http.StatusUnprocessableEntity, result.Code)
		return
	}

	t.AddedByID = req.GuestID
	t.AddedByName = guestName
	t.AddedAt = time.Now()

	outcome := sess.Queue.EnqueueOrVote(t, req.GuestID)
	if outcome == queue.OutcomeDuplicate {
		refund()
		s.writeError(w, http.StatusConflict, "duplicate_vote")
		return
	}

	s.persist(sess)
	s.broadcastQueue(r.Context(), sess)
	if spent {
		s.broadcastLedger(r.Context(), sess)
	}

	status := http.StatusOK
	verdict := "voted"
	if outcome == queue.OutcomeAdded {
		status = http.StatusCreated
		verdict = "added"
	}
	writeJSON(w, status, map[string]any{
		"outcome": verdict,
		"queue":   sess.Queue.List(),
	})
}

func (s *Server) handlePop(w http.ResponseWriter, r *http.Request) {
	popped, err := s.dispatcher.PopNextTrack(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"track": popped})
	case errors.Is(err, playback.ErrNoParty):
		s.writeError(w, http.StatusServiceUnavailable, "no_party")
	case errors.Is(err, playback.ErrPopInFlight):
		s.writeError(w, http.StatusConflict, "pop_in_flight")
	case errors.Is(err, playback.ErrStationEmpty):
		s.writeError(w, http.StatusConflict, "station_empty")
	default:
		zlog.Error().Err(err).Msg("pop failed")
		s.writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

type removeTrackRequest struct {
	URI string `json:"uri"`
}

func (s *Server) handleRemoveTrack(w http.ResponseWriter, r *http.Request) {
	var req removeTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URI == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	sess := s.active(w)
	if sess == nil {
		return
	}

	if !sess.Queue.Remove(req.URI) {
		s.writeError(w, http.StatusNotFound, "track_not_found")
		return
	}

	s.persist(sess)
	s.broadcastQueue(r.Context(), sess)
	writeJSON(w, http.StatusOK, map[string]any{"queue": sess.Queue.List()})
}

type reorderRequest struct {
	URIs []string `json:"uris"`
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	sess := s.active(w)
	if sess == nil {
		return
	}

	sess.Queue.Reorder(req.URIs)

	s.persist(sess)
	s.broadcastQueue(r.Context(), sess)
	writeJSON(w, http.StatusOK, map[string]any{"queue": sess.Queue.List()})
}

func (s *Server) handlePoolRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.dispatcher.RefreshStation(r.Context())
	switch {
	case err == nil:
		sess := s.registry.Active()
		writeJSON(w, http.StatusOK, map[string]any{"pool_size": sess.Queue.PoolSize()})
	case errors.Is(err, playback.ErrNoParty):
		s.writeError(w, http.StatusServiceUnavailable, "no_party")
	default:
		zlog.Error().Err(err).Msg("station refresh failed")
		s.writeError(w, http.StatusBadGateway, "spotify_unavailable")
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	tracks, err := s.music.Search(r.Context(), query, limit)
	if err != nil {
		zlog.Error().Err(err).Str("query", query).Msg("search failed")
		s.writeError(w, http.StatusBadGateway, "spotify_unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

type reactionRequest struct {
	GuestID string `json:"guest_id"`
	Emoji   string `json:"emoji"`
}

func (s *Server) handleReaction(w http.ResponseWriter, r *http.Request) {
	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GuestID == "" || req.Emoji == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	sess := s.active(w)
	if sess == nil {
		return
	}

	name, ok := sess.Ledger.Name(req.GuestID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "guest_not_found")
		return
	}

	// Reactions are transient: broadcast only, never persisted.
	s.hub.Broadcast(r.Context(), broadcast.Event{
		Type: broadcast.EventReaction,
		Payload: map[string]string{
			"guest_id": req.GuestID,
			"name":     name,
			"emoji":    req.Emoji,
		},
	})
	w.WriteHeader(http.StatusAccepted)
}

// formatNextToken fills the next-token message template with an M:SS wait.
func formatNextToken(template string, until time.Duration) string {
	return fmt.Sprintf(template, formatWait(until))
}
