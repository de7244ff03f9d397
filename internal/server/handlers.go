// Package server provides HTTP handlers and server setup for the gateway.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"modelgate/internal/core"
	"modelgate/internal/modeldata"
	"modelgate/internal/usage"
)

// Handler holds the HTTP handlers
type Handler struct {
	llm    core.Handler
	logger *slog.Logger
}

// NewHandler creates a new handler around the configured backend.
func NewHandler(llm core.Handler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{llm: llm, logger: logger}
}

// MessageResponse is the body of POST /v1/messages.
type MessageResponse struct {
	*core.Response
	Cost usage.CostResult `json:"cost"`
}

// EchoRequest is the body of POST /v1/messages/echo.
type EchoRequest struct {
	Content core.Blocks `json:"content"`
}

// ModelInfo describes one model of the backend registry.
type ModelInfo struct {
	ID string `json:"id"`
	core.ModelDescriptor
}

// ModelResponse is the body of GET /v1/model.
type ModelResponse struct {
	Provider string `json:"provider"`
	ModelInfo
}

// ModelsResponse is the body of GET /v1/models.
type ModelsResponse struct {
	Provider string      `json:"provider"`
	Default  string      `json:"default"`
	Models   []ModelInfo `json:"models"`
}

// CreateMessage handles POST /v1/messages
func (h *Handler) CreateMessage(c echo.Context) error {
	var req core.Request
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if err := validateRequest(&req); err != nil {
		return handleError(c, err)
	}

	ctx := c.Request().Context()
	resp, err := h.llm.CreateMessage(ctx, req.System, req.Messages, req.Tools)
	if err != nil {
		return handleError(c, err)
	}

	_, model := h.llm.GetModel()
	cost := usage.CalculateCost(model, resp.Usage)
	if cost.Caveat != "" {
		h.logger.WarnContext(ctx, "cost is incomplete", "model", resp.Model, "caveat", cost.Caveat)
	}
	return c.JSON(http.StatusOK, MessageResponse{Response: resp, Cost: cost})
}

// Echo handles POST /v1/messages/echo. It renders the request one user turn
// would produce without sending it.
func (h *Handler) Echo(c echo.Context) error {
	var req EchoRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if len(req.Content) == 0 {
		return handleError(c, core.NewInvalidRequestError("content is required", nil))
	}
	return c.JSON(http.StatusOK, h.llm.CreateUserReadableRequest(req.Content))
}

// Model handles GET /v1/model
func (h *Handler) Model(c echo.Context) error {
	id, model := h.llm.GetModel()
	return c.JSON(http.StatusOK, ModelResponse{
		Provider:  h.providerName(),
		ModelInfo: ModelInfo{ID: id, ModelDescriptor: model},
	})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	provider := h.providerName()
	registry, ok := modeldata.For(provider)
	if !ok {
		id, model := h.llm.GetModel()
		return c.JSON(http.StatusOK, ModelsResponse{
			Provider: provider,
			Default:  id,
			Models:   []ModelInfo{{ID: id, ModelDescriptor: model}},
		})
	}

	resp := ModelsResponse{Provider: provider, Default: registry.DefaultModelID()}
	for _, id := range registry.IDs() {
		model, err := registry.Lookup(id)
		if err != nil {
			return handleError(c, err)
		}
		resp.Models = append(resp.Models, ModelInfo{ID: id, ModelDescriptor: model})
	}
	return c.JSON(http.StatusOK, resp)
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) providerName() string {
	if namer, ok := h.llm.(core.ProviderNamer); ok {
		return namer.ProviderName()
	}
	return ""
}

func validateRequest(req *core.Request) error {
	if len(req.Messages) == 0 {
		return core.NewInvalidRequestError("messages must not be empty", nil)
	}
	for i, m := range req.Messages {
		switch m.Role {
		case core.RoleUser, core.RoleAssistant:
		default:
			return core.NewInvalidRequestError(fmt.Sprintf("messages[%d]: role must be user or assistant, got %q", i, m.Role), nil)
		}
	}
	seen := make(map[string]int, len(req.Tools))
	for i, t := range req.Tools {
		if t.Name == "" {
			return core.NewInvalidRequestError(fmt.Sprintf("tools[%d]: name is required", i), nil)
		}
		if j, dup := seen[t.Name]; dup {
			return core.NewInvalidRequestError(fmt.Sprintf("tools[%d]: name %q already used by tools[%d]", i, t.Name, j), nil)
		}
		seen[t.Name] = i
	}
	return nil
}

// handleError converts gateway errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
