package lastfm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	c, err := New(Config{APIKey: "key"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestGetTopTags(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "track.getTopTags", r.URL.Query().Get("method"))
		assert.Equal(t, "Radiohead", r.URL.Query().Get("artist"))
		assert.Equal(t, "Karma Police", r.URL.Query().Get("track"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"toptags": {
				"tag": [
					{"name": "alternative", "count": 100},
					{"name": "rock", "count": 88},
					{"name": "britpop", "count": 52}
				]
			}
		}`))
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key"})
	require.NoError(t, err)
	client.baseURL = server.URL

	tags, err := client.GetTopTags(context.Background(), "Karma Police", "Radiohead", 2)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "alternative", tags[0].Name)
	assert.Equal(t, 100, tags[0].Count)

	// Second call hits the cache.
	_, err = client.GetTopTags(context.Background(), "Karma Police", "Radiohead", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetTopTags_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": 6, "message": "Track not found"}`))
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test-key"})
	require.NoError(t, err)
	client.baseURL = server.URL

	_, err = client.GetTopTags(context.Background(), "Nope", "Nobody", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Track not found")
}

func TestGetTopTags_MissingArgs(t *testing.T) {
	client, err := New(Config{APIKey: "test-key"})
	require.NoError(t, err)

	_, err = client.GetTopTags(context.Background(), "", "Artist", 5)
	assert.Error(t, err)

	_, err = client.GetTopTags(context.Background(), "Track", "", 5)
	assert.Error(t, err)
}
