package filter

import (
	"context"

	"github.com/craigsbooth/spotify-jukebox-sub000/internal/domain/track"
)

// ExplicitFilter rejects tracks flagged as explicit. It takes no
// settings; enabling it in config is the whole configuration.
type ExplicitFilter struct{}

// NewExplicitFilter creates a new explicit content filter.
func NewExplicitFilter() *ExplicitFilter {
	return &ExplicitFilter{}
}

func (f *ExplicitFilter) Name() string {
	return "explicit_filter"
}

func (f *ExplicitFilter) Description() string {
	return "Rejects tracks flagged as explicit"
}

func (f *ExplicitFilter) ReturnCodes() []string {
	return []string{"explicit_restriction"}
}

func (f *ExplicitFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *ExplicitFilter) Check(ctx context.Context, req Request, t track.Track) Result {
	if t.Explicit {
		return Reject("explicit_restriction")
	}
	return Accept()
}

func init() {
	Register("explicit_filter", func() Filter {
		return &ExplicitFilter{}
	})
}
