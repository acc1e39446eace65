// Package lyrics fetches synchronized lyrics from the LRCLIB API.
package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/domain/track"
)

const defaultBaseURL = "https://lrclib.net/api"

// Client is an LRCLIB API client.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]*track.Lyrics
}

// New creates a new LRCLIB client. baseURL may be empty to use the public
// instance.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache: make(map[string]*track.Lyrics),
	}
}

type getResponse struct {
	PlainLyrics  string `json:"plainLyrics"`
	SyncedLyrics string `json:"syncedLyrics"`
	Instrumental bool   `json:"instrumental"`
}

// GetLyrics fetches lyrics for a track. Returns (nil, nil) when no lyrics
// exist, so callers can treat a miss as a non-error.
func (c *Client) GetLyrics(ctx context.Context, artist, trackName string, duration time.Duration) (*track.Lyrics, error) {
	if artist == "" || trackName == "" {
		return nil, errors.New("artist and track name are required")
	}

	cacheKey := fmt.Sprintf("%s|%s", artist, trackName)
	c.mu.RLock()
	if cached, ok := c.cache[cacheKey]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	params := url.Values{}
	params.Set("artist_name", artist)
	params.Set("track_name", trackName)
	if duration > 0 {
		params.Set("duration", fmt.Sprintf("%d", int(duration.Seconds())))
	}

	reqURL := fmt.Sprintf("%s/get?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to call lrclib API")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.store(cacheKey, nil)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("lrclib API returned status %d", resp.StatusCode)
	}

	var body getResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}

	if body.Instrumental || (body.SyncedLyrics == "" && body.PlainLyrics == "") {
		c.store(cacheKey, nil)
		return nil, nil
	}

	result := &track.Lyrics{
		Synced: body.SyncedLyrics,
		Plain:  body.PlainLyrics,
	}
	c.store(cacheKey, result)
	return result, nil
}

func (c *Client) store(key string, l *track.Lyrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = l
}
