// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (PROSPECTO_* overrides)
//  2. Config file (~/.prospecto/config.yaml or ./config.yaml)
//  3. Default values
//
// The Gemini API key is read directly by Genkit from GEMINI_API_KEY and is
// never stored in this struct; only its presence is validated at startup.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the required LLM API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidHistoryWindow indicates the chat history window is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidRegistry indicates the registry client configuration is invalid.
	ErrInvalidRegistry = errors.New("invalid registry configuration")

	// ErrInvalidLeaflet indicates the leaflet fetcher configuration is invalid.
	ErrInvalidLeaflet = errors.New("invalid leaflet configuration")

	// ErrInvalidTimeout indicates a timeout value is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")
)

// Defaults mirroring the CIMA registry (AEMPS) public endpoints.
const (
	// DefaultRegistryBaseURL is the CIMA REST API root.
	DefaultRegistryBaseURL = "https://cima.aemps.es/cima/rest"

	// DefaultLeafletURLTemplate locates the HTML leaflet for a registration
	// number. Both %s verbs receive the registration number.
	DefaultLeafletURLTemplate = "https://cima.aemps.es/cima/dochtml/p/%s/P_%s.html"

	// DefaultModelName is the provider-qualified Genkit model identifier.
	DefaultModelName = "googleai/gemini-2.5-flash"

	// DefaultLeafletMaxChars bounds stored leaflet text (in runes).
	DefaultLeafletMaxChars = 15000

	// DefaultHistoryWindow is the number of transcript messages sent to the
	// model per turn.
	DefaultHistoryWindow = 10
)

// Config stores application configuration.
type Config struct {
	// Model configuration
	ModelName     string        `mapstructure:"model_name"`
	Temperature   float32       `mapstructure:"temperature"`
	HistoryWindow int           `mapstructure:"history_window"`
	TurnTimeout   time.Duration `mapstructure:"turn_timeout"`

	// Registry client configuration
	RegistryBaseURL  string        `mapstructure:"registry_base_url"`
	RegistryPageSize int           `mapstructure:"registry_page_size"`
	RegistryTimeout  time.Duration `mapstructure:"registry_timeout"`

	// Leaflet fetcher configuration
	LeafletURLTemplate string        `mapstructure:"leaflet_url_template"`
	LeafletTimeout     time.Duration `mapstructure:"leaflet_timeout"`
	LeafletMaxChars    int           `mapstructure:"leaflet_max_chars"`

	// Per-session memoization of registry/leaflet lookups
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// Session lifecycle
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`

	// HTTP server (serve mode only)
	Addr string `mapstructure:"addr"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".prospecto")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("PROSPECTO")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("temperature", 0.2)
	v.SetDefault("history_window", DefaultHistoryWindow)
	v.SetDefault("turn_timeout", time.Minute)

	v.SetDefault("registry_base_url", DefaultRegistryBaseURL)
	v.SetDefault("registry_page_size", 50)
	v.SetDefault("registry_timeout", 5*time.Second)

	v.SetDefault("leaflet_url_template", DefaultLeafletURLTemplate)
	v.SetDefault("leaflet_timeout", 10*time.Second)
	v.SetDefault("leaflet_max_chars", DefaultLeafletMaxChars)

	v.SetDefault("cache_ttl", 30*time.Minute)
	v.SetDefault("session_idle_timeout", 30*time.Minute)

	v.SetDefault("addr", "127.0.0.1:3400")
}

// Validate checks configuration values and fails fast on the first problem.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.ModelName == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: %.2f (must be between 0.0 and 2.0)", ErrInvalidTemperature, c.Temperature)
	}
	if c.HistoryWindow < 2 || c.HistoryWindow > 100 {
		return fmt.Errorf("%w: %d (must be between 2 and 100)", ErrInvalidHistoryWindow, c.HistoryWindow)
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("%w: turn timeout must be positive", ErrInvalidTimeout)
	}
	if c.RegistryBaseURL == "" {
		return fmt.Errorf("%w: base URL must not be empty", ErrInvalidRegistry)
	}
	if c.RegistryPageSize < 1 || c.RegistryPageSize > 100 {
		return fmt.Errorf("%w: page size %d (must be between 1 and 100)", ErrInvalidRegistry, c.RegistryPageSize)
	}
	if c.RegistryTimeout <= 0 {
		return fmt.Errorf("%w: registry timeout must be positive", ErrInvalidTimeout)
	}
	if c.LeafletURLTemplate == "" {
		return fmt.Errorf("%w: URL template must not be empty", ErrInvalidLeaflet)
	}
	if c.LeafletTimeout <= 0 {
		return fmt.Errorf("%w: leaflet timeout must be positive", ErrInvalidTimeout)
	}
	if c.LeafletMaxChars < 1 {
		return fmt.Errorf("%w: max chars %d (must be positive)", ErrInvalidLeaflet, c.LeafletMaxChars)
	}
	return nil
}

// ValidateStartup checks runtime preconditions that are fatal before any
// session begins. Currently only the LLM API key.
func (c *Config) ValidateStartup() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable not set", ErrMissingAPIKey)
	}
	return nil
}
