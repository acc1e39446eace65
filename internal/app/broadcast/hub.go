package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// sendTimeout bounds how long one slow client can hold up a broadcast.
const sendTimeout = 500 * time.Millisecond

// Stream is one connected client, regardless of transport.
type Stream interface {
	Send(ctx context.Context, ev Event) error
}

// Hub fans events out to every connected stream. Delivery is best
// effort: a failed or slow client is logged and skipped, never blocking
// the others.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]Stream

	// initFn builds the INIT event for a newly attached client. May be
	// nil when no party is running.
	initFn func() *Event
}

// NewHub creates a hub. initFn is invoked per connecting client to
// produce its INIT frame; return nil to skip.
func NewHub(initFn func() *Event) *Hub {
	return &Hub{
		streams: make(map[string]Stream),
		initFn:  initFn,
	}
}

// AddClient attaches a stream and sends it the INIT event.
func (h *Hub) AddClient(ctx context.Context, id string, s Stream) error {
	h.mu.Lock()
	if _, ok := h.streams[id]; ok {
		h.mu.Unlock()
		return errors.Newf("client %s is already connected", id)
	}
	h.streams[id] = s
	count := len(h.streams)
	initFn := h.initFn
	h.mu.Unlock()

	zlog.Debug().Str("client_id", id).Int("clients", count).Msg("client connected")

	if initFn == nil {
		return nil
	}
	init := initFn()
	if init == nil {
		return nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.Send(sendCtx, *init); err != nil {
		h.RemoveClient(id)
		return errors.Wrap(err, "failed to send init event")
	}
	return nil
}

// RemoveClient detaches a stream.
func (h *Hub) RemoveClient(id string) {
	h.mu.Lock()
	_, ok := h.streams[id]
	delete(h.streams, id)
	count := len(h.streams)
	h.mu.Unlock()

	if ok {
		zlog.Debug().Str("client_id", id).Int("clients", count).Msg("client disconnected")
	}
}

// ClientCount returns the number of attached streams.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

// Broadcast sends the event to every stream in parallel and waits for
// all sends to finish. Individual failures are logged and do not affect
// other clients.
func (h *Hub) Broadcast(ctx context.Context, ev Event) {
	h.mu.RLock()
	targets := make(map[string]Stream, len(h.streams))
	for id, s := range h.streams {
		targets[id] = s
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for id, s := range targets {
		wg.Add(1)
		go func(id string, s Stream) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()

			if err := s.Send(sendCtx, ev); err != nil {
				zlog.Warn().Err(err).
					Str("client_id", id).
					Str("event_type", string(ev.Type)).
					Msg("failed to deliver event")
			}
		}(id, s)
	}
	wg.Wait()

	zlog.Debug().Str("event_type", string(ev.Type)).Int("clients", len(targets)).Msg("event broadcast")
}
