package config

import (
	"errors"
	"strings"
)

// ConfigurationError reports missing or invalid settings. It is raised
// before any network call and is never retried.
type ConfigurationError struct {
	Missing []string
	Invalid string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return "RETS credentials not configured: set " + strings.Join(e.Missing, ", ")
	}
	return "invalid configuration: " + e.Invalid
}

// IsConfigurationError reports whether err is, or wraps, a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
