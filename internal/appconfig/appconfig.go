// internal/appconfig/appconfig.go
// Package appconfig manages loading and interpreting application configuration.
package appconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// DefaultConfigPath is the default path to the application's configuration file.
	DefaultConfigPath = "config/config.json"
	// DefaultMaxTokens is the token cap applied when neither request nor backend sets one.
	DefaultMaxTokens = 1000
	// DefaultTemperature is the sampling temperature applied when nothing else sets one.
	DefaultTemperature = 0.7
	// DefaultListenAddr is where `chorus serve` listens when the config omits it.
	DefaultListenAddr = ":3000"
	// defaultTimeout is the per-request deadline for both hosted and self-hosted backends.
	defaultTimeout = 30 * time.Second
	// maxTemperature is the upper bound accepted by every supported protocol.
	maxTemperature = 2.0
)

// Config represents the top-level application configuration.
type Config struct {
	OpenRouterAPIKey     string    `json:"openRouterApiKey" mapstructure:"openRouterApiKey"`
	OpenRouterURL        string    `json:"openRouterUrl,omitempty" mapstructure:"openRouterUrl"`
	Referer              string    `json:"referer,omitempty" mapstructure:"referer"`
	Title                string    `json:"title,omitempty" mapstructure:"title"`
	Backends             []Backend `json:"backends" mapstructure:"backends"`
	DefaultModels        []string  `json:"defaultModels" mapstructure:"defaultModels"`
	MaxTokens            int       `json:"maxTokens" mapstructure:"maxTokens"`
	Temperature          *float64  `json:"temperature,omitempty" mapstructure:"temperature"`
	RemoteTimeoutSeconds int       `json:"remoteTimeout,omitempty" mapstructure:"remoteTimeout"`
	LocalTimeoutSeconds  int       `json:"localTimeout,omitempty" mapstructure:"localTimeout"`
	StrictContent        bool      `json:"strictContent" mapstructure:"strictContent"`
	Debug                bool      `json:"debug" mapstructure:"debug"`
	LogFile              string    `json:"logFile,omitempty" mapstructure:"logFile"`
	ListenAddr           string    `json:"listenAddr,omitempty" mapstructure:"listenAddr"`
	Metrics              bool      `json:"metrics" mapstructure:"metrics"`
	MetricsFile          string    `json:"metricsFile,omitempty" mapstructure:"metricsFile"`
	ConfigPath           string    `json:"-" mapstructure:"-"`
}

// Backend describes one self-hosted model endpoint.
type Backend struct {
	ID          string   `json:"id" mapstructure:"id"`
	Name        string   `json:"name" mapstructure:"name"`
	Model       string   `json:"model,omitempty" mapstructure:"model"`
	Description string   `json:"description,omitempty" mapstructure:"description"`
	Endpoint    string   `json:"endpoint" mapstructure:"endpoint"`
	APIKey      string   `json:"apiKey,omitempty" mapstructure:"apiKey"`
	Protocol    string   `json:"protocol" mapstructure:"protocol"`
	MaxTokens   int      `json:"maxTokens,omitempty" mapstructure:"maxTokens"`
	Temperature *float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	Enabled     bool     `json:"enabled" mapstructure:"enabled"`
	// TimeoutSeconds overrides the config-wide localTimeout for this backend.
	TimeoutSeconds int `json:"timeout,omitempty" mapstructure:"timeout"`
	// Profile names a sampling preset that supplies maxTokens and temperature when unset.
	Profile string `json:"profile,omitempty" mapstructure:"profile"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{
		DefaultModels: []string{"openai/gpt-4o-mini", "google/gemini-2.0-flash-001", "mistralai/codestral-2508"},
		Backends:      DefaultBackends(),
	}
	cfg.ApplyDefaults()
	return cfg
}

// DefaultBackends returns the disabled local backends shipped as examples.
func DefaultBackends() []Backend {
	return []Backend{
		{
			ID:          "local-ollama-llama2",
			Name:        "Local LLaMA 2",
			Model:       "llama2",
			Description: "LLaMA 2 model running locally via Ollama",
			Endpoint:    "http://localhost:11434/api/generate",
			Protocol:    "ollama",
			MaxTokens:   4096,
			Temperature: Float(DefaultTemperature),
		},
		{
			ID:          "local-ollama-mistral",
			Name:        "Local Mistral",
			Model:       "mistral",
			Description: "Mistral model running locally via Ollama",
			Endpoint:    "http://localhost:11434/api/generate",
			Protocol:    "ollama",
			MaxTokens:   4096,
			Temperature: Float(DefaultTemperature),
		},
		{
			ID:          "local-openai-compatible",
			Name:        "Local OpenAI Compatible",
			Description: "Any OpenAI-compatible API endpoint",
			Endpoint:    "http://localhost:8000/v1/chat/completions",
			Protocol:    "openai-compatible",
			MaxTokens:   4096,
			Temperature: Float(DefaultTemperature),
		},
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature == nil {
		c.Temperature = Float(DefaultTemperature)
	}
	if c.RemoteTimeoutSeconds <= 0 {
		c.RemoteTimeoutSeconds = int(defaultTimeout.Seconds())
	}
	if c.LocalTimeoutSeconds <= 0 {
		c.LocalTimeoutSeconds = int(defaultTimeout.Seconds())
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = DefaultListenAddr
	}
	for i := range c.Backends {
		c.Backends[i].applyProfile()
	}
}

// Validate reports semantic problems the schema cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > maxTemperature) {
		errs = append(errs, fmt.Errorf("temperature %.2f is outside [0, 2]", *c.Temperature))
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for i, b := range c.Backends {
		id := strings.TrimSpace(b.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("backends[%d]: id is required", i))
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("backends[%d]: duplicate id %q", i, id))
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(b.Endpoint) == "" {
			errs = append(errs, fmt.Errorf("backend %q: endpoint is required", id))
		}
		if b.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("backend %q: maxTokens must be positive", id))
		}
		if b.Temperature != nil && (*b.Temperature < 0 || *b.Temperature > maxTemperature) {
			errs = append(errs, fmt.Errorf("backend %q: temperature %.2f is outside [0, 2]", id, *b.Temperature))
		}
	}
	return errors.Join(errs...)
}

// Backend returns the backend with the given id.
func (c Config) Backend(id string) (Backend, bool) {
	for _, b := range c.Backends {
		if b.ID == id {
			return b, true
		}
	}
	return Backend{}, false
}

// EnabledBackends returns the backends that may be invoked.
func (c Config) EnabledBackends() []Backend {
	var out []Backend
	for _, b := range c.Backends {
		if b.Enabled {
			out = append(out, b)
		}
	}
	return out
}

// DefaultTemperatureValue returns the config-wide temperature.
func (c Config) DefaultTemperatureValue() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

// RemoteTimeout returns the deadline applied to hosted aggregator requests.
func (c Config) RemoteTimeout() time.Duration {
	if c.RemoteTimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.RemoteTimeoutSeconds) * time.Second
}

// LocalTimeout returns the deadline applied to self-hosted requests.
func (c Config) LocalTimeout() time.Duration {
	if c.LocalTimeoutSeconds <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.LocalTimeoutSeconds) * time.Second
}

// Timeout returns the deadline for b, honoring its override.
func (c Config) Timeout(b Backend) time.Duration {
	if b.TimeoutSeconds > 0 {
		return time.Duration(b.TimeoutSeconds) * time.Second
	}
	return c.LocalTimeout()
}

// LogFilePath returns the path to the application log file, applying a default if not set.
func (c Config) LogFilePath() string {
	if path := c.LogFile; strings.TrimSpace(path) != "" {
		return path
	}
	return "chorus.log"
}

// Load reads, schema-validates, and defaults the configuration at path.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("no configuration file found at %q", path)
		}
		return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
	}
	if err := ValidateSchema(data); err != nil {
		return Config{}, fmt.Errorf("config file %q: %w", path, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("could not parse config file %q: %w", path, err)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration in %q: %w", path, err)
	}
	config.ConfigPath = path
	return config, nil
}
