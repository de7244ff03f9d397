package providers

import (
	"context"
	"time"

	"modelgate/internal/core"
)

// CallInfo describes one finished CreateMessage call.
type CallInfo struct {
	Provider string
	Model    string
	Duration time.Duration
	// Response is nil when Err is set.
	Response *core.Response
	Err      error
}

// CallObserver is notified after every CreateMessage call.
type CallObserver func(ctx context.Context, info CallInfo)

type handlerWrapper struct {
	inner        core.Handler
	providerName string
	observers    []CallObserver
}

func newHandlerWrapper(h core.Handler, providerName string, observers []CallObserver) core.Handler {
	return &handlerWrapper{inner: h, providerName: providerName, observers: observers}
}

func (w *handlerWrapper) CreateMessage(ctx context.Context, systemPrompt string, messages []core.Message, tools []core.Tool) (*core.Response, error) {
	start := time.Now()
	resp, err := w.inner.CreateMessage(ctx, systemPrompt, messages, tools)

	modelID, _ := w.inner.GetModel()
	info := CallInfo{
		Provider: w.providerName,
		Model:    modelID,
		Duration: time.Since(start),
		Response: resp,
		Err:      err,
	}
	for _, o := range w.observers {
		o(ctx, info)
	}
	return resp, err
}

func (w *handlerWrapper) CreateUserReadableRequest(content []core.ContentBlock) *core.DisplayEcho {
	return w.inner.CreateUserReadableRequest(content)
}

func (w *handlerWrapper) GetModel() (string, core.ModelDescriptor) {
	return w.inner.GetModel()
}

func (w *handlerWrapper) ProviderName() string {
	return w.providerName
}
