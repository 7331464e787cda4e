package config

import (
	"encoding/json"
	"time"
)

// Provider names understood by the agent package
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// GeminiOpenAIEndpoint is Google's OpenAI-compatible chat completions base URL
const GeminiOpenAIEndpoint = "https://generativelanguage.googleapis.com/v1beta/openai/"

// Config represents the main Parley configuration
type Config struct {
	// Model and provider selection
	Model ModelConfig `json:"model" mapstructure:"model"`

	// The single agent every session talks to
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Streaming delivers replies fragment by fragment
	Streaming bool `json:"streaming" mapstructure:"streaming"`

	// Timeout bounds one turn against the provider; zero disables it
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Tracing enables OpenTelemetry spans for turns
	Tracing bool `json:"tracing" mapstructure:"tracing"`

	Session SessionConfig `json:"session" mapstructure:"session"`
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// APIKey is resolved from the environment variable named by Model.APIKeyEnv
	APIKey string `json:"-" mapstructure:"-"`
}

// ModelConfig selects the model and where it is served from
type ModelConfig struct {
	Name        string  `json:"name" mapstructure:"name"`
	Provider    string  `json:"provider" mapstructure:"provider"` // gemini, openai, anthropic
	Endpoint    string  `json:"endpoint" mapstructure:"endpoint"`
	APIKeyEnv   string  `json:"api_key_env" mapstructure:"api_key_env"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// AgentConfig describes the agent and the copy shown around it
type AgentConfig struct {
	Name            string `json:"name" mapstructure:"name"`
	Instructions    string `json:"instructions" mapstructure:"instructions"`
	WelcomeMessage  string `json:"welcome_message" mapstructure:"welcome_message"`
	ThinkingMessage string `json:"thinking_message" mapstructure:"thinking_message"`
}

// SessionConfig holds session lifetime settings
type SessionConfig struct {
	IdleTimeout   time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// GatewayConfig holds WebSocket gateway settings
type GatewayConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name:        "gemini-2.0-flash",
			Provider:    ProviderGemini,
			Endpoint:    "",
			APIKeyEnv:   "GEMINI_API_KEY",
			Temperature: 0,
			MaxTokens:   0,
		},
		Agent: AgentConfig{
			Name:            "Parley Assistant",
			Instructions:    "You are a helpful AI assistant. Keep answers engaging and reasonably short.",
			WelcomeMessage:  "Welcome to Parley! How can I help you today?",
			ThinkingMessage: "Thinking...",
		},
		Streaming: true,
		Timeout:   60 * time.Second,
		Tracing:   false,
		Session: SessionConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}

// ApplyProviderDefaults fills settings that depend on the chosen provider
func (c *Config) ApplyProviderDefaults() {
	if c.Model.Endpoint == "" && c.Model.Provider == ProviderGemini {
		c.Model.Endpoint = GeminiOpenAIEndpoint
	}
	if c.Model.MaxTokens == 0 && c.Model.Provider == ProviderAnthropic {
		c.Model.MaxTokens = 1024
	}
}

// String returns a JSON representation of the config. The API key is never included.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid. It returns a *ConfigError.
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateProvider(c.Model.Provider); err != nil {
		return err
	}
	if err := v.ValidateModel(c.Model.Name); err != nil {
		return err
	}
	if err := v.ValidateEndpoint(c.Model.Endpoint); err != nil {
		return err
	}
	if err := v.ValidateTemperature(c.Model.Temperature); err != nil {
		return err
	}
	if c.Model.MaxTokens < 0 {
		return newConfigError("model.max_tokens", "cannot be negative")
	}
	if c.Model.Provider == ProviderAnthropic && c.Model.MaxTokens == 0 {
		return newConfigError("model.max_tokens", "is required for the anthropic provider")
	}
	if c.Agent.Instructions == "" {
		return newConfigError("agent.instructions", "system prompt cannot be empty")
	}
	if c.Timeout < 0 {
		return newConfigError("timeout", "cannot be negative")
	}
	if c.Session.IdleTimeout < 0 {
		return newConfigError("session.idle_timeout", "cannot be negative")
	}
	if c.Session.IdleTimeout > 0 && c.Session.SweepInterval <= 0 {
		return newConfigError("session.sweep_interval", "must be positive when idle_timeout is set")
	}
	if err := v.ValidatePort(c.Gateway.Port); err != nil {
		return err
	}
	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}

	return v.ValidateAPIKey(c.APIKey, c.Model.APIKeyEnv)
}
