package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates individual configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey reports a missing provider key, naming the variable it is read from
func (v *Validator) ValidateAPIKey(key, envName string) error {
	if envName == "" {
		return newConfigError("model.api_key_env", "cannot be empty")
	}
	if strings.TrimSpace(key) == "" {
		return newConfigError("model.api_key_env", fmt.Sprintf("%s is not set; define it in the environment or a .env file", envName))
	}
	return nil
}

// ValidateProvider validates a provider name
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
		return nil
	case "":
		return newConfigError("model.provider", "cannot be empty")
	default:
		return newConfigError("model.provider", fmt.Sprintf("invalid provider %s (must be: gemini, openai, anthropic)", provider))
	}
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return newConfigError("model.name", "cannot be empty")
	}
	return nil
}

// ValidateEndpoint accepts an empty endpoint (provider default) or an absolute http(s) URL
func (v *Validator) ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return nil
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return newConfigError("model.endpoint", fmt.Sprintf("invalid URL %q", endpoint))
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return newConfigError("model.temperature", fmt.Sprintf("must be between 0 and 2, got %g", temp))
	}
	return nil
}

// ValidatePort validates the gateway port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return newConfigError("gateway.port", fmt.Sprintf("out of range: %d", port))
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return newConfigError("logging.level", fmt.Sprintf("invalid level %s (must be one of: %s)", level, strings.Join(validLevels, ", ")))
}
