// Package modeldata holds the static per-backend model registries: the
// capability and pricing metadata of every model a backend adapter accepts.
package modeldata

import (
	"sort"

	"modelgate/internal/core"
)

// Registry maps the model ids of one backend to their descriptors.
// It is immutable after construction and safe for concurrent reads.
type Registry struct {
	backend   string
	defaultID string
	models    map[string]core.ModelDescriptor
}

func newRegistry(backend, defaultID string, models map[string]core.ModelDescriptor) *Registry {
	if _, ok := models[defaultID]; !ok {
		panic("modeldata: default model " + defaultID + " missing from " + backend + " registry")
	}
	return &Registry{backend: backend, defaultID: defaultID, models: models}
}

// Backend returns the backend name the registry belongs to.
func (r *Registry) Backend() string {
	return r.backend
}

// DefaultModelID returns the id used when no model is configured.
func (r *Registry) DefaultModelID() string {
	return r.defaultID
}

// Lookup returns the descriptor for modelID or an unknown-model error.
func (r *Registry) Lookup(modelID string) (core.ModelDescriptor, error) {
	d, ok := r.models[modelID]
	if !ok {
		return core.ModelDescriptor{}, core.NewUnknownModelError(r.backend, modelID)
	}
	return d.Clone(), nil
}

// Resolve is Lookup with an empty id meaning the default model.
func (r *Registry) Resolve(modelID string) (string, core.ModelDescriptor, error) {
	if modelID == "" {
		modelID = r.defaultID
	}
	d, err := r.Lookup(modelID)
	if err != nil {
		return "", core.ModelDescriptor{}, err
	}
	return modelID, d, nil
}

// IDs lists the known model ids in lexical order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// For returns the registry of the named backend.
func For(backend string) (*Registry, bool) {
	switch backend {
	case "anthropic":
		return Anthropic, true
	case "bedrock":
		return Bedrock, true
	case "openrouter":
		return OpenRouter, true
	case "openai":
		return OpenAI, true
	default:
		return nil, false
	}
}
