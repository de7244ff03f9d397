// Package openrouter is the adapter for the OpenRouter marketplace, which
// speaks the Chat Completions wire format.
package openrouter

import (
	"net/http"

	"modelgate/config"
	"modelgate/internal/core"
	"modelgate/internal/modeldata"
	"modelgate/internal/providers"
	"modelgate/internal/providers/openai"
)

const (
	providerName   = "openrouter"
	defaultBaseURL = "https://openrouter.ai/api/v1"

	// Attribution shown on openrouter.ai rankings.
	appReferer = "modelgate"
	appTitle   = "modelgate"
)

// Registration adds the backend to a providers.ProviderFactory.
var Registration = providers.Registration{
	Type: providerName,
	New: func(cfg config.APIConfig, opts providers.Options) (core.Handler, error) {
		return New(cfg, opts)
	},
}

// New creates the OpenRouter handler for cfg.
func New(cfg config.APIConfig, opts providers.Options) (*openai.Handler, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiKey := cfg.OpenRouterAPIKey
	transport := openai.NewHTTPTransport(providerName, baseURL, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("HTTP-Referer", appReferer)
		req.Header.Set("X-Title", appTitle)
	}, opts)

	return openai.NewHandler(openai.HandlerConfig{
		Provider:  providerName,
		Registry:  modeldata.OpenRouter,
		ModelID:   cfg.ModelID,
		TextTools: cfg.ToolMode == config.ToolModeText,
		Transport: transport,
		Logger:    opts.Log(),
	})
}
