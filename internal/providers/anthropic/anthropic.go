// Package anthropic is the adapter for the Anthropic Messages API, the
// reference wire format of the gateway. Its codec and handler are shared with
// bedrock.
package anthropic

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"modelgate/config"
	"modelgate/internal/core"
	"modelgate/internal/llmclient"
	"modelgate/internal/modeldata"
	"modelgate/internal/providers"
)

const (
	providerName        = "anthropic"
	defaultBaseURL      = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// Registration adds the backend to a providers.ProviderFactory.
var Registration = providers.Registration{
	Type: providerName,
	New: func(cfg config.APIConfig, opts providers.Options) (core.Handler, error) {
		return New(cfg, opts)
	},
}

// Transport sends one Messages API request.
type Transport interface {
	CreateMessage(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error)
}

type httpTransport struct {
	client *llmclient.Client
}

// NewHTTPTransport returns a Transport that calls the Messages API at baseURL.
func NewHTTPTransport(apiKey, baseURL string, opts providers.Options) Transport {
	client := llmclient.New(opts.HTTPClient, opts.ClientConfig(providerName, baseURL), func(req *http.Request) {
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
	})
	return &httpTransport{client: client}
}

func (t *httpTransport) CreateMessage(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	var headers map[string]string
	if len(req.Betas) > 0 {
		headers = map[string]string{"anthropic-beta": strings.Join(req.Betas, ",")}
	}
	var resp MessagesResponse
	err := t.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     req,
		Headers:  headers,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// HandlerConfig describes one Messages-API backend.
type HandlerConfig struct {
	Provider  string
	Registry  *modeldata.Registry
	ModelID   string
	Transport Transport
	Logger    *slog.Logger
	// Wire adjusts a rendered request to the body the transport actually
	// sends. It is applied by CreateUserReadableRequest only.
	Wire func(*MessagesRequest)
}

// Handler implements core.Handler for Messages-API backends.
type Handler struct {
	provider  string
	modelID   string
	model     core.ModelDescriptor
	transport Transport
	logger    *slog.Logger
	wire      func(*MessagesRequest)
}

// New creates the handler for cfg. The API key is not checked here; an
// unauthenticated call fails at the backend.
func New(cfg config.APIConfig, opts providers.Options) (*Handler, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return NewWithTransport(cfg.ModelID, NewHTTPTransport(cfg.APIKey, baseURL, opts), opts.Log())
}

// NewWithTransport creates the Anthropic handler around an arbitrary
// transport. An empty modelID selects the registry default.
func NewWithTransport(modelID string, transport Transport, logger *slog.Logger) (*Handler, error) {
	return NewHandler(HandlerConfig{
		Provider:  providerName,
		Registry:  modeldata.Anthropic,
		ModelID:   modelID,
		Transport: transport,
		Logger:    logger,
	})
}

// NewHandler creates a handler from hc.
func NewHandler(hc HandlerConfig) (*Handler, error) {
	id, model, err := hc.Registry.Resolve(hc.ModelID)
	if err != nil {
		return nil, err
	}
	logger := hc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		provider:  hc.Provider,
		modelID:   id,
		model:     model,
		transport: hc.Transport,
		logger:    logger,
		wire:      hc.Wire,
	}, nil
}

// ProviderName returns the backend name the handler was created for.
func (h *Handler) ProviderName() string {
	return h.provider
}

// GetModel returns the configured model id and its descriptor.
func (h *Handler) GetModel() (string, core.ModelDescriptor) {
	return h.modelID, h.model.Clone()
}

// CreateMessage sends the conversation and normalizes the reply.
func (h *Handler) CreateMessage(ctx context.Context, systemPrompt string, messages []core.Message, tools []core.Tool) (*core.Response, error) {
	req, err := BuildRequest(h.modelID, h.model, systemPrompt, messages, tools)
	if err != nil {
		return nil, providers.Fail(ctx, h.logger, h.provider, h.modelID, core.StageBuild, err)
	}
	h.logger.DebugContext(ctx, "request built",
		"provider", h.provider,
		"model", h.modelID,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"prompt_cache", len(req.Betas) > 0,
	)

	reply, err := h.transport.CreateMessage(ctx, req)
	if err != nil {
		return nil, providers.Fail(ctx, h.logger, h.provider, h.modelID, core.StageSend, err)
	}

	resp, err := NormalizeResponse(reply)
	if err != nil {
		return nil, providers.Fail(ctx, h.logger, h.provider, h.modelID, core.StageNormalize, err)
	}
	h.logger.DebugContext(ctx, "response normalized",
		"provider", h.provider,
		"model", h.modelID,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"cache_read_tokens", resp.Usage.CacheReadInputTokens,
	)
	return resp, nil
}

// CreateUserReadableRequest renders the request a single user turn would
// produce, with every image payload stripped. Nothing is sent.
func (h *Handler) CreateUserReadableRequest(content []core.ContentBlock) *core.DisplayEcho {
	stripped := core.StripBinaryPayloads(content)
	echo := &core.DisplayEcho{
		Provider: h.provider,
		Model:    h.modelID,
		Content:  stripped,
		Text:     core.FlattenText(stripped),
	}

	req, err := BuildRequest(h.modelID, h.model, "", []core.Message{{Role: core.RoleUser, Content: stripped}}, nil)
	if err != nil {
		return echo
	}
	if h.wire != nil {
		h.wire(req)
	}
	if raw, err := json.Marshal(req); err == nil {
		echo.Request = raw
	}
	return echo
}
