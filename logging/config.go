package logging

import (
	"os"
	"strings"
)

// GetConfigFromEnv builds a logger configuration from LOG_LEVEL,
// LOG_FORMAT and LOG_ADD_SOURCE, falling back to the defaults.
func GetConfigFromEnv() Config {
	config := DefaultConfig

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = strings.ToLower(format)
	}
	if addSource := os.Getenv("LOG_ADD_SOURCE"); addSource != "" {
		config.AddSource = strings.EqualFold(addSource, "true")
	}
	return config
}
