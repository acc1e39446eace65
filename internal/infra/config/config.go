// Package config provides configuration loading from YAML files.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Admin    AdminConfig             `yaml:"admin"`
	Tokens   TokensConfig            `yaml:"tokens"`
	Fallback FallbackConfig          `yaml:"fallback"`
	Prefetch PrefetchConfig          `yaml:"prefetch"`
	Snapshot SnapshotConfig          `yaml:"snapshot"`
	Theme    ThemeConfig             `yaml:"theme"`
	Karaoke  KaraokeConfig           `yaml:"karaoke"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Messages MessagesConfig          `yaml:"messages"`
	Spotify  SpotifyConfig           `yaml:"spotify"`
	Lyrics   LyricsConfig            `yaml:"lyrics"`
	LastFM   LastFMConfig            `yaml:"lastfm"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080"`
}

// AdminConfig represents admin authentication configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// TokensConfig represents the guest token economy.
type TokensConfig struct {
	Enabled bool `yaml:"enabled"`
	PerHour int  `yaml:"per_hour" default:"3" validate:"gte=1"`
	Max     int  `yaml:"max" default:"3" validate:"gte=1"`
	Initial int  `yaml:"initial" default:"1" validate:"gte=0"`
}

// FallbackConfig represents the shuffle-pool source playlist.
type FallbackConfig struct {
	PlaylistURL string `yaml:"playlist_url" validate:"required"`
	DisplayName string `yaml:"display_name" default:"House selection"`
}

// PrefetchConfig represents the prefetch watchdog trigger window.
type PrefetchConfig struct {
	IntervalMs     int `yaml:"interval_ms" default:"1000" validate:"gte=100"`
	MinRemainingMs int `yaml:"min_remaining_ms" default:"2000" validate:"gte=0"`
	MaxRemainingMs int `yaml:"max_remaining_ms" default:"15000" validate:"gtefield=MinRemainingMs"`
}

// SnapshotConfig represents snapshot persistence.
type SnapshotConfig struct {
	Path string `yaml:"path" default:"data/party.json"`
}

// ThemeConfig represents display theming. Settings is an open map decoded
// per theme with mapstructure.
type ThemeConfig struct {
	Default  string         `yaml:"default" default:"classic"`
	Settings map[string]any `yaml:"settings"`
}

// ThemeStyle represents the decoded settings of one theme.
type ThemeStyle struct {
	Accent     string `mapstructure:"accent"`
	Background string `mapstructure:"background"`
}

// Style decodes the theme settings map into a ThemeStyle.
func (t *ThemeConfig) Style() (*ThemeStyle, error) {
	var style ThemeStyle
	if err := mapstructure.Decode(t.Settings, &style); err != nil {
		return nil, errors.Wrap(err, "failed to decode theme settings")
	}
	return &style, nil
}

// KaraokeConfig represents karaoke mode.
type KaraokeConfig struct {
	Enabled bool `yaml:"enabled"`
}

// FilterConfig represents a request filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	NextToken             string `yaml:"next_token" default:"next token in %s"`
	GuestNotFound         string `yaml:"guest_not_found" default:"guest not found"`
	DuplicateVote         string `yaml:"duplicate_vote" default:"you already voted for this track"`
	StationEmpty          string `yaml:"station_empty" default:"station is empty, refreshing the pool"`
	TrackNotFound         string `yaml:"track_not_found" default:"track not found"`
	MarketRestriction     string `yaml:"market_restriction" default:"track is not available here"`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"track is too long for the party"`
	ExplicitRestriction   string `yaml:"explicit_restriction" default:"explicit tracks are off at this party"`
	PopInFlight           string `yaml:"pop_in_flight" default:"already advancing to the next track"`
	NoParty               string `yaml:"no_party" default:"no party running"`
}

// Get returns the message for the given code.
func (m *MessagesConfig) Get(code string) string {
	switch code {
	case "guest_not_found":
		return m.GuestNotFound
	case "duplicate_vote":
		return m.DuplicateVote
	case "station_empty":
		return m.StationEmpty
	case "track_not_found":
		return m.TrackNotFound
	case "market_restriction":
		return m.MarketRestriction
	case "duration_limit_exceeded":
		return m.DurationLimitExceeded
	case "explicit_restriction":
		return m.ExplicitRestriction
	case "pop_in_flight":
		return m.PopInFlight
	case "no_party":
		return m.NoParty
	default:
		return code
	}
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	RefreshToken string `yaml:"refresh_token" validate:"required"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
	DeviceID     string `yaml:"device_id"`
}

// LyricsConfig represents the lyrics lookup service.
type LyricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url" default:"https://lrclib.net/api"`
}

// LastFMConfig represents the metadata enrichment service.
// Enrichment is skipped when the API key is empty.
type LastFMConfig struct {
	APIKey string `yaml:"api_key"`
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.LastFM.APIKey = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Tokens.Initial > c.Tokens.Max {
		return errors.Newf("tokens.initial (%d) must not exceed tokens.max (%d)", c.Tokens.Initial, c.Tokens.Max)
	}

	return nil
}
