package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the effective endpoints
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("AtoZ Bot", GetVersion())

	logger.Info().
		Str("version", GetVersion()).
		Str("host", config.Server.Host).
		Int("port", config.Server.Port).
		Str("cache", config.Cache.Type).
		Str("portal", config.Portal.BaseURL).
		Msg("Controller starting")
}
