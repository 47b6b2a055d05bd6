package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the settings an operator usually needs to see first
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("Prospector", GetVersion())

	logger.Info().
		Str("environment", config.Environment).
		Str("storage", config.Storage.Type).
		Str("output_dir", config.Output.Dir).
		Bool("headless", config.Browser.Headless).
		Msg("Prospector starting")
}
