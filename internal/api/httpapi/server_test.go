package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/broadcast"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/enrich"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/filter"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/ledger"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/party"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/playback"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/app/queue"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/domain/track"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/config"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/snapshot"
	"github.com/craigsbooth/spotify-jukebox-sub000/internal/infra/spotify"
)

type stubMusic struct {
	host   *spotify.HostProfile
	tracks map[string]*track.Track
	found  []track.Track
	err    error
}

func (m *stubMusic) CurrentUser(ctx context.Context) (*spotify.HostProfile, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.host, nil
}

func (m *stubMusic) GetTrack(ctx context.Context, trackID string) (*track.Track, error) {
	if t, ok := m.tracks[trackID]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, errors.New("track not found")
}

func (m *stubMusic) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.found, nil
}

type nopPlayer struct{}

func (nopPlayer) Play(ctx context.Context, uri string) error { return nil }

func (nopPlayer) Pause(ctx context.Context) error { return nil }

func (nopPlayer) TransferPlayback(ctx context.Context, deviceID string) error { return nil }

type memStore struct {
	mu   sync.Mutex
	last *snapshot.Party
}

func (s *memStore) Save(p *snapshot.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = p
	return nil
}

type staticSource struct {
	tracks []track.Track
}

func (s *staticSource) Fetch(ctx context.Context) ([]track.Track, error) {
	if len(s.tracks) == 0 {
		return nil, errors.New("playlist empty")
	}
	return s.tracks, nil
}

type env struct {
	server   *Server
	registry *party.Registry
	hub      *broadcast.Hub
	music    *stubMusic
	store    *memStore
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := &config.Config{}
	require.NoError(t, defaults.Set(cfg))
	cfg.Admin.Token = "secret"
	cfg.Tokens.Enabled = true

	registry := party.NewRegistry()
	hub := broadcast.NewHub(func() *broadcast.Event {
		sess := registry.Active()
		if sess == nil {
			return nil
		}
		return &broadcast.Event{Type: broadcast.EventInit, Payload: StatePayload(sess, 0)}
	})

	music := &stubMusic{
		host: &spotify.HostProfile{ID: "host1", DisplayName: "DJ Host"},
		tracks: map[string]*track.Track{
			"t1": {URI: "spotify:track:t1", Name: "Song One", Artists: []string{"Artist"}, Duration: 3 * time.Minute, Markets: []string{"US"}},
			"t2": {URI: "spotify:track:t2", Name: "Song Two", Artists: []string{"Artist"}, Duration: 4 * time.Minute, Markets: []string{"US"}},
		},
		found: []track.Track{{URI: "spotify:track:t1", Name: "Song One"}},
	}

	store := &memStore{}
	source := &staticSource{tracks: []track.Track{{URI: "spotify:track:pool1", Name: "Pool One"}}}
	dispatcher := playback.NewDispatcher(registry, nopPlayer{}, enrich.New(nil, nil), hub, store, source, nil)

	server := NewServer(cfg, registry, dispatcher, hub, filter.NewChain(), music, store)

	return &env{server: server, registry: registry, hub: hub, music: music, store: store}
}

// startParty seeds a running session without going through HTTP.
func (e *env) startParty(t *testing.T) *party.Session {
	t.Helper()
	sess := party.NewSession("host1", "Test Party",
		queue.NewManager(),
		ledger.NewLedger(ledger.Config{PerHour: 3, Max: 3, Initial: 1}, nil),
		party.Flags{TokensEnabled: true, Theme: "classic"},
	)
	e.registry.Add(sess)
	return sess
}

func (e *env) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Routes().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateParty(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/party", map[string]string{"name": "Basement Bash"})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "host1", body["party_id"])
	assert.Equal(t, "Basement Bash", body["name"])

	// A second create replaces the running party.
	rec = e.do(t, http.MethodPost, "/api/party", map[string]string{"name": "Again"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Again", e.registry.Active().Name())
}

func TestCreateParty_DefaultName(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/party", map[string]string{})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "DJ Host's party", decode(t, rec)["name"])
}

func TestCreateParty_SpotifyDown(t *testing.T) {
	e := newEnv(t)
	e.music.err = errors.New("spotify down")

	rec := e.do(t, http.MethodPost, "/api/party", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestState(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	e.startParty(t)
	rec = e.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Contains(t, body, "party")
	assert.Contains(t, body, "flags")
	assert.Contains(t, body, "queue")
}

func TestRegisterGuest(t *testing.T) {
	e := newEnv(t)
	e.startParty(t)

	rec := e.do(t, http.MethodPost, "/api/guests", map[string]string{"name": "Alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.NotEmpty(t, body["guest_id"])
	assert.Equal(t, float64(1), body["balance"])
}

func TestRegisterGuest_Validation(t *testing.T) {
	e := newEnv(t)
	e.startParty(t)

	rec := e.do(t, http.MethodPost, "/api/guests", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGuestTokens(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)
	guestID := sess.Ledger.Register("Alice")

	rec := e.do(t, http.MethodGet, "/api/guests/"+guestID+"/tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["balance"])

	rec = e.do(t, http.MethodGet, "/api/guests/nope/tokens", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitTrack(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)
	alice := sess.Ledger.Register("Alice")
	bob := sess.Ledger.Register("Bob")

	// Alice adds the track.
	rec := e.do(t, http.MethodPost, "/api/queue", map[string]string{"guest_id": alice, "track_id": "t1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "added", decode(t, rec)["outcome"])

	balance, _, _ := sess.Ledger.Balance(alice)
	assert.Equal(t, 0, balance)

	// Bob votes for the same track.
	rec = e.do(t, http.MethodPost, "/api/queue", map[string]string{"guest_id": bob, "track_id": "t1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "voted", decode(t, rec)["outcome"])

	list := sess.Queue.List()
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Votes)
	assert.Equal(t, "Alice", list[0].AddedByName)

	// Queue mutations hit the snapshot store.
	require.NotNil(t, e.store.last)
	assert.Len(t, e.store.last.Queue, 1)
}

func TestSubmitTrack_DuplicateVoteRefunds(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)
	alice := sess.Ledger.Register("Alice")

	rec := e.do(t, http.MethodPost, "/api/queue", map[string]string{"guest_id": alice, "track_id": "t1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Let a token accrue so the duplicate attempt can spend.
	sess.Ledger.Refund(alice)

	rec = e.do(t, http.MethodPost, "/api/queue", map[string]string{"guest_id": alice, "track_id": "t1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_vote", decode(t, rec)["error"])

	// The spent token came back.
	balance, _, _ := sess.Ledger.Balance(alice)
	assert.Equal(t, 1, balance)
}

func TestSubmitTrack_UnknownTrackRefunds(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)
	alice := sess.Ledger.Register("Alice")

	rec := e.do(t, http.MethodPost, "/api/queue", map[string]string{"guest_id": alice, "track_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	balance, _, _ := sess.Ledger.Balance(alice)
	assert.Equal(t, 1, balance)
}

func TestSubmitTrack_InsufficientTokens(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)
	alice := sess.Ledger.Register("Alice")
	require.NoError(t, sess.Ledger.Spend(alice))

	rec := e.do(t, http.MethodPost, "/api/queue", map[string]string{"guest_id": alice, "track_id": "t1"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "insufficient_tokens", body["error"])
	assert.Contains(t, body["message"], "next token in")
}

func TestSubmitTrack_FilterRejectionRefunds(t *testing.T) {
	e := newEnv(t)
	explicit := filter.NewExplicitFilter()
	require.NoError(t, explicit.ValidateConfig(nil))
	e.server.chain.Add(explicit)

	sess := e.startParty(t)
	alice := sess.Ledger.Register("Alice")
	e.music.tracks["t1"].Explicit = true

	rec := e.do(t, http.MethodPost, "/api/queue", map[string]string{"guest_id": alice, "track_id": "t1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "explicit_restriction", decode(t, rec)["error"])

	balance, _, _ := sess.Ledger.Balance(alice)
	assert.Equal(t, 1, balance)
}

func TestSubmitTrack_TokensDisabled(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)
	sess.SetTokensEnabled(false)
	alice := sess.Ledger.Register("Alice")
	require.NoError(t, sess.Ledger.Spend(alice)) // empty balance

	rec := e.do(t, http.MethodPost, "/api/queue", map[string]string{"guest_id": alice, "track_id": "t1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSubmitTrack_UnknownGuest(t *testing.T) {
	e := newEnv(t)
	e.startParty(t)

	rec := e.do(t, http.MethodPost, "/api/queue", map[string]string{"guest_id": "ghost", "track_id": "t1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "guest_not_found", decode(t, rec)["error"])
}

func TestPop(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)
	alice := sess.Ledger.Register("Alice")
	e.do(t, http.MethodPost, "/api/queue", map[string]string{"guest_id": alice, "track_id": "t1"})

	rec := e.do(t, http.MethodPost, "/api/queue/pop", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	np := sess.NowPlaying()
	require.NotNil(t, np)
	assert.Equal(t, "spotify:track:t1", np.URI)
}

func TestPop_StationEmpty(t *testing.T) {
	e := newEnv(t)
	e.startParty(t)

	rec := e.do(t, http.MethodPost, "/api/queue/pop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "station_empty", decode(t, rec)["error"])
}

func TestRemoveAndReorder(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)
	sess.Queue.EnqueueOrVote(&track.Track{URI: "spotify:track:a"}, "g1")
	sess.Queue.EnqueueOrVote(&track.Track{URI: "spotify:track:b"}, "g2")

	rec := e.do(t, http.MethodPut, "/api/queue", map[string][]string{"uris": {"spotify:track:b", "spotify:track:a"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "spotify:track:b", sess.Queue.List()[0].URI)

	rec = e.do(t, http.MethodPost, "/api/queue/remove", map[string]string{"uri": "spotify:track:a"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sess.Queue.Len())

	rec = e.do(t, http.MethodPost, "/api/queue/remove", map[string]string{"uri": "spotify:track:a"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPoolRefresh(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)

	rec := e.do(t, http.MethodPost, "/api/pool/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["pool_size"])
	assert.Equal(t, 1, sess.Queue.PoolSize())
}

func TestSearch(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/search?q=song", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "tracks")
}

func TestReaction(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)
	alice := sess.Ledger.Register("Alice")

	rec := e.do(t, http.MethodPost, "/api/reactions", map[string]string{"guest_id": alice, "emoji": "🔥"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/reactions", map[string]string{"guest_id": "ghost", "emoji": "🔥"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_RequiresToken(t *testing.T) {
	e := newEnv(t)
	e.startParty(t)

	rec := e.do(t, http.MethodPut, "/api/admin/settings", map[string]any{"theme": "neon"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPut, "/api/admin/settings", map[string]any{"theme": "neon"},
		"X-Admin-Token", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmin_UpdateSettings(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)
	alice := sess.Ledger.Register("Alice")
	sess.Ledger.Refund(alice)
	sess.Ledger.Refund(alice) // balance 3

	rec := e.do(t, http.MethodPut, "/api/admin/settings", map[string]any{
		"theme":        "neon",
		"karaoke_mode": true,
		"token_cap":    1,
	}, "X-Admin-Token", "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	flags := sess.Flags()
	assert.Equal(t, "neon", flags.Theme)
	assert.True(t, flags.KaraokeMode)

	balance, _, _ := sess.Ledger.Balance(alice)
	assert.Equal(t, 1, balance)
}

func TestAdmin_EndParty(t *testing.T) {
	e := newEnv(t)
	e.startParty(t)

	rec := e.do(t, http.MethodPost, "/api/party/end", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code) // not under /admin

	rec = e.do(t, http.MethodPost, "/api/admin/party/end", nil, "X-Admin-Token", "secret")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, e.registry.Active())
}

func TestEventsStream_InitFrame(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)
	sess.Queue.EnqueueOrVote(&track.Track{URI: "spotify:track:a", Name: "A"}, "g1")

	ts := httptest.NewServer(e.server.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)

	var ev broadcast.Event
	require.NoError(t, json.Unmarshal([]byte(line), &ev))
	assert.Equal(t, broadcast.EventInit, ev.Type)
}

func TestWebsocket_InitFrame(t *testing.T) {
	e := newEnv(t)
	e.startParty(t)

	ts := httptest.NewServer(e.server.Routes())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev broadcast.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, broadcast.EventInit, ev.Type)
}

func TestEventsStream_ReceivesBroadcasts(t *testing.T) {
	e := newEnv(t)
	sess := e.startParty(t)
	alice := sess.Ledger.Register("Alice")

	ts := httptest.NewServer(e.server.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	_, err = reader.ReadString('\n') // INIT
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return e.hub.ClientCount() == 1
	}, time.Second, 5*time.Millisecond)

	rec := e.do(t, http.MethodPost, "/api/reactions", map[string]string{"guest_id": alice, "emoji": "🎉"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	line, err := reader.ReadString('\n')
	require.NoError(t, err)

	var ev broadcast.Event
	require.NoError(t, json.Unmarshal([]byte(line), &ev))
	assert.Equal(t, broadcast.EventReaction, ev.Type)
	payload, ok := ev.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "🎉", payload["emoji"])
}
