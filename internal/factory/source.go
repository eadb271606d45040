package factory

import (
	"fmt"

	"github.com/pulseboard/pulseboard/internal/config"
	"github.com/pulseboard/pulseboard/internal/source"
)

// NewSourceProvider builds the workspace API client. The base URL is required
// for service operation; without it neither sync nor refresh can run.
func NewSourceProvider(cfg *config.Config) (source.Provider, error) {
	if cfg.SourceBaseURL == "" {
		return nil, fmt.Errorf("workspace source URL not configured - required for service operation")
	}
	return source.NewClient(cfg.SourceBaseURL, cfg.SourceToken, cfg.SourcePageSize), nil
}
