// Package providers selects and constructs the backend adapter for a
// configuration.
package providers

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"modelgate/config"
	"modelgate/internal/core"
	"modelgate/internal/llmclient"
)

// DefaultProvider is the backend used when the configured provider name is
// empty or unknown.
const DefaultProvider = "anthropic"

// Options carries the shared collaborators handed to every adapter builder.
type Options struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	Resilience config.ResilienceConfig
	// Hooks observe the HTTP attempts of llmclient-based transports.
	Hooks llmclient.Hooks
}

// ClientConfig returns the llmclient configuration for one backend.
func (o Options) ClientConfig(providerName, baseURL string) llmclient.Config {
	cfg := llmclient.DefaultConfig(providerName, baseURL)
	cfg.Hooks = o.Hooks
	r := o.Resilience
	if r == (config.ResilienceConfig{}) {
		return cfg
	}
	cfg.MaxRetries = max(r.MaxRetries, 0)
	if r.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	if r.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(r.MaxBackoffMs) * time.Millisecond
	}
	if r.BackoffFactor > 0 {
		cfg.BackoffFactor = r.BackoffFactor
	}
	if r.CircuitFailureThreshold > 0 {
		cfg.CircuitBreaker.FailureThreshold = r.CircuitFailureThreshold
	}
	if r.CircuitTimeoutSeconds > 0 {
		cfg.CircuitBreaker.Timeout = time.Duration(r.CircuitTimeoutSeconds) * time.Second
	}
	return cfg
}

// Log returns the configured logger or the process default.
func (o Options) Log() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Builder creates an adapter from configuration.
type Builder func(cfg config.APIConfig, opts Options) (core.Handler, error)

// Registration binds a provider type name to its builder.
type Registration struct {
	Type string
	New  Builder
}

// ProviderFactory builds handlers from registered backends.
type ProviderFactory struct {
	builders  map[string]Builder
	opts      Options
	observers []CallObserver
}

// NewProviderFactory returns an empty factory.
func NewProviderFactory(opts Options) *ProviderFactory {
	return &ProviderFactory{
		builders: make(map[string]Builder),
		opts:     opts,
	}
}

// Add registers a backend. A later registration replaces an earlier one.
func (f *ProviderFactory) Add(reg Registration) {
	f.builders[reg.Type] = reg.New
}

// Observe adds an observer notified after every CreateMessage call of the
// handlers built afterwards.
func (f *ProviderFactory) Observe(o CallObserver) {
	f.observers = append(f.observers, o)
}

// Types lists the registered provider types.
func (f *ProviderFactory) Types() []string {
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build selects the adapter for cfg.Provider. Unknown names fall back to
// DefaultProvider with a warning; a missing required credential fails with a
// missing-credential error before any adapter is constructed.
func (f *ProviderFactory) Build(cfg config.APIConfig) (core.Handler, error) {
	logger := f.opts.Log()

	providerType := strings.ToLower(strings.TrimSpace(cfg.Provider))
	builder, ok := f.builders[providerType]
	if !ok {
		if providerType != "" {
			logger.Warn("unknown provider, falling back to default",
				"provider", cfg.Provider,
				"default", DefaultProvider,
			)
		}
		providerType = DefaultProvider
		builder, ok = f.builders[providerType]
		if !ok {
			return nil, fmt.Errorf("default provider %q is not registered", DefaultProvider)
		}
	}
	cfg.Provider = providerType

	if err := checkCredentials(cfg); err != nil {
		logger.Error("handler build failed", "provider", providerType, "error", err)
		return nil, err
	}

	handler, err := builder(cfg, f.opts)
	if err != nil {
		logger.Error("handler build failed", "provider", providerType, "model", cfg.ModelID, "error", err)
		return nil, err
	}

	modelID, _ := handler.GetModel()
	logger.Info("handler built", "provider", providerType, "model", modelID)

	if len(f.observers) > 0 {
		handler = newHandlerWrapper(handler, providerType, f.observers)
	}
	return handler, nil
}
