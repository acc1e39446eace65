package lyrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLyrics(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/get", r.URL.Path)
		assert.Equal(t, "Daft Punk", r.URL.Query().Get("artist_name"))
		assert.Equal(t, "Around the World", r.URL.Query().Get("track_name"))
		assert.Equal(t, "428", r.URL.Query().Get("duration"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"plainLyrics": "Around the world, around the world",
			"syncedLyrics": "[00:07.12] Around the world, around the world",
			"instrumental": false
		}`))
	}))
	defer server.Close()

	client := New(server.URL)

	lyrics, err := client.GetLyrics(context.Background(), "Daft Punk", "Around the World", 428*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lyrics)
	assert.Contains(t, lyrics.Synced, "[00:07.12]")
	assert.Contains(t, lyrics.Plain, "Around the world")

	// Second call hits the cache.
	_, err = client.GetLyrics(context.Background(), "Daft Punk", "Around the World", 428*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetLyrics_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL)

	lyrics, err := client.GetLyrics(context.Background(), "Unknown", "Nothing", 0)
	require.NoError(t, err)
	assert.Nil(t, lyrics)
}

func TestGetLyrics_Instrumental(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"plainLyrics": "", "syncedLyrics": "", "instrumental": true}`))
	}))
	defer server.Close()

	client := New(server.URL)

	lyrics, err := client.GetLyrics(context.Background(), "Mogwai", "Helicon 1", 0)
	require.NoError(t, err)
	assert.Nil(t, lyrics)
}

func TestGetLyrics_MissingArgs(t *testing.T) {
	client := New("")

	_, err := client.GetLyrics(context.Background(), "", "Song", 0)
	assert.Error(t, err)

	_, err = client.GetLyrics(context.Background(), "Artist", "", 0)
	assert.Error(t, err)
}

func TestGetLyrics_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL)

	_, err := client.GetLyrics(context.Background(), "Artist", "Song", 0)
	assert.Error(t, err)
}
