package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Guests connect from phones on the venue network; origin checks
	// would only lock out legitimate clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS serves the websocket transport. Frames are identical to the
// ndjson stream: one {type, payload} JSON document per message.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	stream := newEventStream()
	if err := s.hub.AddClient(r.Context(), clientID, stream); err != nil {
		zlog.Warn().Err(err).Msg("failed to attach websocket stream")
		return
	}
	defer s.hub.RemoveClient(clientID)

	// Reader exists only to notice the peer going away; inbound
	// messages are ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-stream.ch:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
