package config

import "fmt"

// ConfigError reports a missing or invalid setting. It is fatal at startup:
// no session is created while the configuration is invalid.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Message)
}

func newConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}
