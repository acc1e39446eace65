package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/broadcast"
)

// eventStream buffers events between the hub's broadcast goroutines and
// one client's writer loop. A full buffer fails the send rather than
// blocking the hub; the hub treats that as any other delivery failure.
type eventStream struct {
	ch chan broadcast.Event
}

func newEventStream() *eventStream {
	return &eventStream{ch: make(chan broadcast.Event, 16)}
}

func (st *eventStream) Send(ctx context.Context, ev broadcast.Event) error {
	select {
	case st.ch <- ev:
		return nil
	default:
		return errors.New("client event buffer full")
	}
}

// handleEvents streams newline-delimited {type, payload} JSON events
// until the client disconnects. The first frame is always INIT.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientID := uuid.NewString()
	stream := newEventStream()
	if err := s.hub.AddClient(r.Context(), clientID, stream); err != nil {
		zlog.Warn().Err(err).Msg("failed to attach event stream")
		return
	}
	defer s.hub.RemoveClient(clientID)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-stream.ch:
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
