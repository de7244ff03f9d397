package providers

import (
	"modelgate/config"
	"modelgate/internal/core"
)

// requiredCredentials lists, per provider type, the configuration fields that
// must be non-empty before an adapter is built. The anthropic backend is
// absent on purpose: it is also the fallback for unknown provider names and
// an unauthenticated call is rejected by the backend itself.
var requiredCredentials = map[string][]struct {
	field string
	value func(config.APIConfig) string
}{
	"openai": {
		{"api_key", func(c config.APIConfig) string { return c.APIKey }},
	},
	"openrouter": {
		{"openrouter_api_key", func(c config.APIConfig) string { return c.OpenRouterAPIKey }},
	},
	"bedrock": {
		{"aws_region", func(c config.APIConfig) string { return c.AWSRegion }},
	},
}

// checkCredentials enforces requiredCredentials and the bedrock key-pair rule:
// access and secret key are either both set or both absent (the latter
// selects the ambient AWS credential chain).
func checkCredentials(cfg config.APIConfig) error {
	for _, rc := range requiredCredentials[cfg.Provider] {
		if rc.value(cfg) == "" {
			return core.NewMissingCredentialError(cfg.Provider, rc.field)
		}
	}
	if cfg.Provider == "bedrock" {
		switch {
		case cfg.AWSAccessKey != "" && cfg.AWSSecretKey == "":
			return core.NewMissingCredentialError(cfg.Provider, "aws_secret_key")
		case cfg.AWSAccessKey == "" && cfg.AWSSecretKey != "":
			return core.NewMissingCredentialError(cfg.Provider, "aws_access_key")
		}
	}
	return nil
}
