package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{"no placeholders", "claude-3-haiku-20240307", nil, "claude-3-haiku-20240307"},
		{"whole value", "${OPENROUTER_API_KEY}", map[string]string{"OPENROUTER_API_KEY": "sk-or-1"}, "sk-or-1"},
		{"embedded", "https://${GW_HOST}/v1", map[string]string{"GW_HOST": "proxy.internal"}, "https://proxy.internal/v1"},
		{"several", "${GW_SCHEME}://${GW_HOST}:${GW_PORT}", map[string]string{"GW_SCHEME": "http", "GW_HOST": "localhost", "GW_PORT": "4000"}, "http://localhost:4000"},
		{"default unused", "${AWS_REGION:-us-east-1}", map[string]string{"AWS_REGION": "eu-west-3"}, "eu-west-3"},
		{"default used", "${AWS_REGION:-us-east-1}", nil, "us-east-1"},
		{"empty takes default", "${AWS_REGION:-us-east-1}", map[string]string{"AWS_REGION": ""}, "us-east-1"},
		{"default with colons", "${GW_BASE_URL:-http://localhost:8080/v1}", nil, "http://localhost:8080/v1"},
		{"empty default", "${MODELGATE_MASTER_KEY:-}", nil, ""},
		{"unset without default is kept", "${GW_MISSING}", nil, "${GW_MISSING}"},
		{"empty without default is kept", "${GW_EMPTY}", map[string]string{"GW_EMPTY": ""}, "${GW_EMPTY}"},
		{"mixed", "${GW_A}-${GW_B:-b}-${GW_C}", map[string]string{"GW_A": "a"}, "a-b-${GW_C}"},
		{"not a placeholder", "$HOME and ${1BAD}", nil, "$HOME and ${1BAD}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"OPENROUTER_API_KEY", "AWS_REGION", "MODELGATE_MASTER_KEY", "GW_MISSING", "GW_C"} {
				t.Setenv(k, "")
				require.NoError(t, os.Unsetenv(k))
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, expandString(tt.input))
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "PORT override",
			envVars: map[string]string{"PORT": "3000"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "3000", cfg.Server.Port)
			},
		},
		{
			name:    "MODELGATE_MASTER_KEY override",
			envVars: map[string]string{"MODELGATE_MASTER_KEY": "my-secret"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "my-secret", cfg.Server.MasterKey)
			},
		},
		{
			name:    "anthropic key lands in api_key by default",
			envVars: map[string]string{"ANTHROPIC_API_KEY": "sk-ant", "OPENAI_API_KEY": "sk-oai"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "anthropic", cfg.API.Provider)
				assert.Equal(t, "sk-ant", cfg.API.APIKey)
			},
		},
		{
			name:    "openai key lands in api_key for openai",
			envVars: map[string]string{"MODELGATE_PROVIDER": "openai", "ANTHROPIC_API_KEY": "sk-ant", "OPENAI_API_KEY": "sk-oai"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "openai", cfg.API.Provider)
				assert.Equal(t, "sk-oai", cfg.API.APIKey)
			},
		},
		{
			name:    "provider name matched case-insensitively",
			envVars: map[string]string{"MODELGATE_PROVIDER": " OpenAI ", "ANTHROPIC_API_KEY": "sk-ant", "OPENAI_API_KEY": "sk-oai"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "sk-oai", cfg.API.APIKey)
			},
		},
		{
			name: "bedrock credentials",
			envVars: map[string]string{
				"MODELGATE_PROVIDER":    "bedrock",
				"AWS_ACCESS_KEY_ID":     "AKIA",
				"AWS_SECRET_ACCESS_KEY": "secret",
				"AWS_REGION":            "us-east-1",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "AKIA", cfg.API.AWSAccessKey)
				assert.Equal(t, "secret", cfg.API.AWSSecretKey)
				assert.Equal(t, "us-east-1", cfg.API.AWSRegion)
			},
		},
		{
			name:    "bool and int overrides",
			envVars: map[string]string{"METRICS_ENABLED": "true", "HTTP_TIMEOUT": "30", "MAX_RETRIES": "0"},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Metrics.Enabled)
				assert.Equal(t, 30, cfg.HTTP.Timeout)
				assert.Equal(t, 0, cfg.Resilience.MaxRetries)
			},
		},
		{
			name:    "no env vars set preserves defaults",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "8080", cfg.Server.Port)
				assert.Equal(t, 600, cfg.HTTP.Timeout)
				assert.Equal(t, ToolModeNative, cfg.API.ToolMode)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg := buildDefaultConfig()
			require.NoError(t, applyEnvOverrides(cfg))
			tt.check(t, cfg)
		})
	}
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_TIMEOUT", "soon")
	assert.Error(t, applyEnvOverrides(buildDefaultConfig()))

	clearEnv(t)
	t.Setenv("METRICS_ENABLED", "maybe")
	assert.Error(t, applyEnvOverrides(buildDefaultConfig()))
}

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test. t.Setenv restores the originals afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MODELGATE_PROVIDER", "MODELGATE_MODEL", "MODELGATE_BASE_URL", "MODELGATE_TOOL_MODE",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY",
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION",
		"PORT", "MODELGATE_MASTER_KEY", "BODY_SIZE_LIMIT", "LOG_FORMAT", "LOG_LEVEL",
		"METRICS_ENABLED", "METRICS_ENDPOINT", "HTTP_TIMEOUT", "HTTP_RESPONSE_HEADER_TIMEOUT", "MAX_RETRIES",
	} {
		t.Setenv(k, "")
	}
}
