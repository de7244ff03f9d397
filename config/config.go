// Package config provides configuration management for the application.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	API        APIConfig        `yaml:"api"`
	Logging    LogConfig        `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	HTTP       HTTPConfig       `yaml:"http"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// APIConfig selects the backend and carries its credentials. It is the
// only input of the handler factory.
type APIConfig struct {
	Provider         string `yaml:"provider"`
	APIKey           string `yaml:"api_key"`
	ModelID          string `yaml:"model_id"`
	OpenRouterAPIKey string `yaml:"openrouter_api_key"`
	AWSAccessKey     string `yaml:"aws_access_key"`
	AWSSecretKey     string `yaml:"aws_secret_key"`
	AWSRegion        string `yaml:"aws_region"`
	// BaseURL overrides the backend endpoint.
	BaseURL string `yaml:"base_url"`
	// ToolMode is "native" (default) or "text"; text renders tool blocks as
	// plain text and declares no tools. Only the Chat Completions backends
	// (openai, openrouter) honour it.
	ToolMode string `yaml:"tool_mode"`
}

// Tool modes.
const (
	ToolModeNative = "native"
	ToolModeText   = "text"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey enables bearer authentication on /v1 when non-empty
	MasterKey string `yaml:"master_key"`
	// BodySizeLimit accepts echo's size notation ("10M", "512K")
	BodySizeLimit string `yaml:"body_size_limit"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Format is "json" or "pretty"
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// HTTPConfig holds upstream HTTP client timeouts, in seconds.
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// ResilienceConfig configures the transport retry loop and circuit breaker.
type ResilienceConfig struct {
	MaxRetries              int     `yaml:"max_retries"`
	InitialBackoffMs        int     `yaml:"initial_backoff_ms"`
	MaxBackoffMs            int     `yaml:"max_backoff_ms"`
	BackoffFactor           float64 `yaml:"backoff_factor"`
	CircuitFailureThreshold int     `yaml:"circuit_failure_threshold"`
	CircuitTimeoutSeconds   int     `yaml:"circuit_timeout_seconds"`
}

// buildDefaultConfig returns the configuration used when nothing is set.
func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "10M",
		},
		API: APIConfig{
			Provider: "anthropic",
			ToolMode: ToolModeNative,
		},
		Logging: LogConfig{
			Format: "pretty",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		HTTP: HTTPConfig{
			Timeout:               600,
			ResponseHeaderTimeout: 600,
		},
		Resilience: ResilienceConfig{
			MaxRetries:              3,
			InitialBackoffMs:        1000,
			MaxBackoffMs:            30000,
			BackoffFactor:           2.0,
			CircuitFailureThreshold: 5,
			CircuitTimeoutSeconds:   30,
		},
	}
}

// Load builds the configuration from, in increasing precedence: defaults,
// the YAML file at path (optional; "" skips it), and environment variables.
// A .env file in the working directory is loaded into the environment first
// without overriding variables that are already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := buildDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := decodeYAML(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML expands ${VAR} placeholders in the raw document before decoding
// it on top of cfg.
func decodeYAML(data []byte, cfg *Config) error {
	expanded := expandString(string(data))
	if len(bytes.TrimSpace([]byte(expanded))) == 0 {
		return nil
	}
	return yaml.Unmarshal([]byte(expanded), cfg)
}

// Validate rejects values that cannot work at runtime.
func (c *Config) Validate() error {
	switch c.API.ToolMode {
	case "", ToolModeNative, ToolModeText:
	default:
		return fmt.Errorf("api.tool_mode must be %q or %q, got %q", ToolModeNative, ToolModeText, c.API.ToolMode)
	}
	switch c.Logging.Format {
	case "", "json", "pretty":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"pretty\", got %q", c.Logging.Format)
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	return nil
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString resolves ${VAR} and ${VAR:-default} placeholders. A variable
// that is unset or empty takes the default when one is given; without a
// default the placeholder is left as written.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// applyEnvOverrides copies well-known environment variables over cfg.
func applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		env    string
		target *string
	}{
		{"MODELGATE_PROVIDER", &cfg.API.Provider},
		{"MODELGATE_MODEL", &cfg.API.ModelID},
		{"MODELGATE_BASE_URL", &cfg.API.BaseURL},
		{"MODELGATE_TOOL_MODE", &cfg.API.ToolMode},
		{"OPENROUTER_API_KEY", &cfg.API.OpenRouterAPIKey},
		{"AWS_ACCESS_KEY_ID", &cfg.API.AWSAccessKey},
		{"AWS_SECRET_ACCESS_KEY", &cfg.API.AWSSecretKey},
		{"AWS_REGION", &cfg.API.AWSRegion},
		{"PORT", &cfg.Server.Port},
		{"MODELGATE_MASTER_KEY", &cfg.Server.MasterKey},
		{"BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit},
		{"LOG_FORMAT", &cfg.Logging.Format},
		{"LOG_LEVEL", &cfg.Logging.Level},
		{"METRICS_ENDPOINT", &cfg.Metrics.Endpoint},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.target = v
		}
	}

	// The api_key field belongs to whichever of the two direct-key backends
	// is selected.
	switch strings.ToLower(strings.TrimSpace(cfg.API.Provider)) {
	case "openai":
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			cfg.API.APIKey = v
		}
	default:
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
			cfg.API.APIKey = v
		}
	}

	ints := []struct {
		env    string
		target *int
	}{
		{"HTTP_TIMEOUT", &cfg.HTTP.Timeout},
		{"HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout},
		{"MAX_RETRIES", &cfg.Resilience.MaxRetries},
	}
	for _, i := range ints {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", i.env, err)
		}
		*i.target = n
	}

	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = b
	}
	return nil
}
