package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PARLEY_MODEL_NAME
const EnvPrefix = "PARLEY"

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a new config loader. An empty configPath means
// $HOME/.parley/parley.json.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// WithEnvFile pins the .env file instead of searching upward from the working directory
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load reads .env, the config file (if present) and PARLEY_* overrides, then
// resolves the API key. It does not validate; call Config.Validate.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := l.GetConfigPath()
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if l.configPath != "" && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyProviderDefaults()
	cfg.APIKey = os.Getenv(cfg.Model.APIKeyEnv)

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".parley", "parley.json")
}

func (l *Loader) loadEnvFile() error {
	path := l.envFile
	if path == "" {
		path = findDotEnv()
		if path == "" {
			return nil
		}
	}

	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// findDotEnv walks from the working directory up to the filesystem root
// looking for a .env file.
func findDotEnv() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// setDefaults registers every key with viper so env overrides apply even
// when the config file does not mention the key.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("model.name", cfg.Model.Name)
	v.SetDefault("model.provider", cfg.Model.Provider)
	v.SetDefault("model.endpoint", cfg.Model.Endpoint)
	v.SetDefault("model.api_key_env", cfg.Model.APIKeyEnv)
	v.SetDefault("model.temperature", cfg.Model.Temperature)
	v.SetDefault("model.max_tokens", cfg.Model.MaxTokens)

	v.SetDefault("agent.name", cfg.Agent.Name)
	v.SetDefault("agent.instructions", cfg.Agent.Instructions)
	v.SetDefault("agent.welcome_message", cfg.Agent.WelcomeMessage)
	v.SetDefault("agent.thinking_message", cfg.Agent.ThinkingMessage)

	v.SetDefault("streaming", cfg.Streaming)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("tracing", cfg.Tracing)

	v.SetDefault("session.idle_timeout", cfg.Session.IdleTimeout)
	v.SetDefault("session.sweep_interval", cfg.Session.SweepInterval)

	v.SetDefault("gateway.host", cfg.Gateway.Host)
	v.SetDefault("gateway.port", cfg.Gateway.Port)
	v.SetDefault("gateway.shared_secret", cfg.Gateway.SharedSecret)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
