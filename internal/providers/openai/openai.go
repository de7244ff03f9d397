// Package openai is the adapter for the OpenAI Chat Completions API. Its
// handler is generic over any Chat Completions compatible backend and is
// reused by openrouter.
package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"modelgate/config"
	"modelgate/internal/core"
	"modelgate/internal/llmclient"
	"modelgate/internal/modeldata"
	"modelgate/internal/providers"
)

const (
	providerName   = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
)

// Registration adds the backend to a providers.ProviderFactory.
var Registration = providers.Registration{
	Type: providerName,
	New: func(cfg config.APIConfig, opts providers.Options) (core.Handler, error) {
		return New(cfg, opts)
	},
}

// Transport sends one Chat Completions request.
type Transport interface {
	CreateChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

type httpTransport struct {
	client *llmclient.Client
}

// NewHTTPTransport returns a Transport that posts to baseURL/chat/completions.
// headerSetter adds the backend's authentication headers.
func NewHTTPTransport(provider, baseURL string, headerSetter llmclient.HeaderSetter, opts providers.Options) Transport {
	return &httpTransport{
		client: llmclient.New(opts.HTTPClient, opts.ClientConfig(provider, baseURL), headerSetter),
	}
}

func (t *httpTransport) CreateChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	err := t.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     req,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// HandlerConfig describes one Chat Completions backend.
type HandlerConfig struct {
	Provider  string
	Registry  *modeldata.Registry
	ModelID   string
	TextTools bool
	Transport Transport
	Logger    *slog.Logger
}

// Handler implements core.Handler for Chat Completions backends.
type Handler struct {
	provider  string
	modelID   string
	model     core.ModelDescriptor
	codec     Codec
	transport Transport
	logger    *slog.Logger
}

// New creates the OpenAI handler for cfg.
func New(cfg config.APIConfig, opts providers.Options) (*Handler, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiKey := cfg.APIKey
	transport := NewHTTPTransport(providerName, baseURL, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+apiKey)

		// Forward the request ID when OpenAI accepts it: ASCII only, at
		// most 512 bytes. Anything else is rejected with a 400.
		if requestID := core.GetRequestID(req.Context()); requestID != "" && isValidClientRequestID(requestID) {
			req.Header.Set("X-Client-Request-Id", requestID)
		}
	}, opts)

	return NewHandler(HandlerConfig{
		Provider:  providerName,
		Registry:  modeldata.OpenAI,
		ModelID:   cfg.ModelID,
		TextTools: cfg.ToolMode == config.ToolModeText,
		Transport: transport,
		Logger:    opts.Log(),
	})
}

func isValidClientRequestID(id string) bool {
	if len(id) > 512 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}

// NewHandler creates a handler from hc. An empty model id selects the
// registry default.
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
		codec:     Codec{SupportsImages: model.SupportsImages, TextTools: hc.TextTools},
		transport: hc.Transport,
		logger:    logger,
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

// BuildRequest assembles the request for one call.
func (h *Handler) BuildRequest(systemPrompt string, messages []core.Message, tools []core.Tool) (*ChatRequest, error) {
	encoded, err := h.codec.EncodeMessages(systemPrompt, messages)
	if err != nil {
		return nil, err
	}
	req := &ChatRequest{
		Model:     h.modelID,
		Messages:  encoded,
		MaxTokens: h.model.MaxTokens,
		Tools:     h.codec.EncodeTools(tools),
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}
	return req, nil
}

// CreateMessage sends the conversation and normalizes the reply.
func (h *Handler) CreateMessage(ctx context.Context, systemPrompt string, messages []core.Message, tools []core.Tool) (*core.Response, error) {
	req, err := h.BuildRequest(systemPrompt, messages, tools)
	if err != nil {
		return nil, providers.Fail(ctx, h.logger, h.provider, h.modelID, core.StageBuild, err)
	}
	h.logger.DebugContext(ctx, "request built",
		"provider", h.provider,
		"model", h.modelID,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"text_tools", h.codec.TextTools,
	)

	reply, err := h.transport.CreateChatCompletion(ctx, req)
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
	req, err := h.BuildRequest("", []core.Message{{Role: core.RoleUser, Content: stripped}}, nil)
	if err != nil {
		return echo
	}
	if raw, err := json.Marshal(req); err == nil {
		echo.Request = raw
	}
	return echo
}
