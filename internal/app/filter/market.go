package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/domain/track"
)

// MarketConfig represents the configuration for MarketFilter.
type MarketConfig struct {
	Market string `yaml:"market" mapstructure:"market" default:"US" validate:"len=2"`
}

// MarketFilter rejects tracks not playable in the party's market.
type MarketFilter struct {
	config *MarketConfig
}

// NewMarketFilter creates a new market filter.
func NewMarketFilter() *MarketFilter {
	return &MarketFilter{}
}

func (f *MarketFilter) Name() string {
	return "market_filter"
}

func (f *MarketFilter) Description() string {
	return "Rejects tracks unavailable in the configured market"
}

func (f *MarketFilter) ReturnCodes() []string {
	return []string{"market_restriction"}
}

func (f *MarketFilter) ValidateConfig(settings map[string]any) error {
	var config MarketConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &config,
		TagName: "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	f.config = &config
	zlog.Info().Msgf("market filter config: %+v", config)
	return nil
}

func (f *MarketFilter) Check(ctx context.Context, req Request, t track.Track) Result {
	if f.config == nil {
		return Accept()
	}

	if !t.IsAvailableInMarket(f.config.Market) {
		return Reject("market_restriction")
	}
	return Accept()
}

func init() {
	Register("market_filter", func() Filter {
		return &MarketFilter{}
	})
}
