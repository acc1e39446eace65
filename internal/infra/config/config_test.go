package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
admin:
  token: "secret"
tokens:
  enabled: true
fallback:
  playlist_url: "https://open.spotify.com/playlist/abc123"
spotify:
  client_id: "id"
  client_secret: "secret"
  refresh_token: "refresh"
`

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Tokens.PerHour)
	assert.Equal(t, 3, cfg.Tokens.Max)
	assert.Equal(t, 1, cfg.Tokens.Initial)
	assert.True(t, cfg.Tokens.Enabled)
	assert.Equal(t, 1000, cfg.Prefetch.IntervalMs)
	assert.Equal(t, 2000, cfg.Prefetch.MinRemainingMs)
	assert.Equal(t, 15000, cfg.Prefetch.MaxRemainingMs)
	assert.Equal(t, "data/party.json", cfg.Snapshot.Path)
	assert.Equal(t, "US", cfg.Spotify.Market)
	assert.Equal(t, "House selection", cfg.Fallback.DisplayName)
	assert.Equal(t, "classic", cfg.Theme.Default)
	assert.Equal(t, "https://lrclib.net/api", cfg.Lyrics.BaseURL)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "missing admin token",
			content: `
fallback:
  playlist_url: "https://open.spotify.com/playlist/abc123"
spotify:
  client_id: "id"
  client_secret: "secret"
  refresh_token: "refresh"
`,
		},
		{
			name: "missing fallback playlist",
			content: `
admin:
  token: "secret"
spotify:
  client_id: "id"
  client_secret: "secret"
  refresh_token: "refresh"
`,
		},
		{
			name: "missing spotify credentials",
			content: `
admin:
  token: "secret"
fallback:
  playlist_url: "https://open.spotify.com/playlist/abc123"
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "from-env")
	t.Setenv("SPOTIFY_CLIENT_ID", "env-id")

	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Admin.Token)
	assert.Equal(t, "env-id", cfg.Spotify.ClientID)
}

func TestLoad_InitialExceedsMax(t *testing.T) {
	path := writeConfig(t, `
admin:
  token: "secret"
tokens:
  initial: 5
  max: 3
fallback:
  playlist_url: "https://open.spotify.com/playlist/abc123"
spotify:
  client_id: "id"
  client_secret: "secret"
  refresh_token: "refresh"
`)

	_, err := Load(path)
	assert.ErrorContains(t, err, "tokens.initial")
}

func TestThemeConfig_Style(t *testing.T) {
	theme := ThemeConfig{
		Default: "neon",
		Settings: map[string]any{
			"accent":     "#ff00ff",
			"background": "#101010",
		},
	}

	style, err := theme.Style()
	assert.NoError(t, err)
	assert.Equal(t, "#ff00ff", style.Accent)
	assert.Equal(t, "#101010", style.Background)
}

func TestMessagesConfig_Get(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	assert.NoError(t, err)

	assert.Equal(t, "guest not found", cfg.Messages.Get("guest_not_found"))
	assert.Equal(t, "you already voted for this track", cfg.Messages.Get("duplicate_vote"))
	// Unknown codes fall through unchanged.
	assert.Equal(t, "whatever", cfg.Messages.Get("whatever"))
}
