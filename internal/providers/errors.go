package providers

import (
	"context"
	"errors"
	"log/slog"

	"modelgate/internal/core"
)

// Fail classifies err as a GatewayError tagged with provider, model and stage,
// logs it and returns it. Errors that are not already GatewayErrors become
// backend transport errors at the send stage and invalid-request errors
// otherwise.
func Fail(ctx context.Context, logger *slog.Logger, provider, model string, stage core.Stage, err error) error {
	var gwErr *core.GatewayError
	if !errors.As(err, &gwErr) {
		if stage == core.StageSend {
			gwErr = core.AsTransportError(provider, err)
		} else {
			gwErr = core.NewInvalidRequestError(err.Error(), err)
		}
	}
	gwErr.WithContext(provider, model, stage)

	logger.ErrorContext(ctx, "request failed",
		"provider", provider,
		"model", model,
		"stage", gwErr.Stage,
		"error_type", gwErr.Type,
		"error", gwErr.Message,
	)
	return gwErr
}
