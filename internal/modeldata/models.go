package modeldata

import "modelgate/internal/core"

func price(v float64) *float64 { return &v }

// Anthropic is the registry of the reference provider.
var Anthropic = newRegistry("anthropic", "claude-3-5-sonnet-20240620", map[string]core.ModelDescriptor{
	"claude-3-5-sonnet-20240620": {
		MaxTokens:           8192,
		SupportsImages:      true,
		SupportsPromptCache: true,
		InputPrice:          3.0,
		OutputPrice:         15.0,
		CacheWritesPrice:    price(3.75),
		CacheReadsPrice:     price(0.3),
	},
	"claude-3-opus-20240229": {
		MaxTokens:           4096,
		SupportsImages:      true,
		SupportsPromptCache: false,
		InputPrice:          15.0,
		OutputPrice:         75.0,
		CacheWritesPrice:    price(18.75),
		CacheReadsPrice:     price(1.5),
	},
	"claude-3-sonnet-20240229": {
		MaxTokens:      4096,
		SupportsImages: true,
		InputPrice:     3.0,
		OutputPrice:    15.0,
	},
	"claude-3-haiku-20240307": {
		MaxTokens:           4096,
		SupportsImages:      true,
		SupportsPromptCache: true,
		InputPrice:          0.25,
		OutputPrice:         1.25,
		CacheWritesPrice:    price(0.3),
		CacheReadsPrice:     price(0.03),
	},
})

// Bedrock is the registry of the managed-cloud backend.
var Bedrock = newRegistry("bedrock", "anthropic.claude-3-5-sonnet-20240620-v1:0", map[string]core.ModelDescriptor{
	"anthropic.claude-3-5-sonnet-20240620-v1:0": {MaxTokens: 4096, SupportsImages: true, InputPrice: 3.0, OutputPrice: 15.0},
	"anthropic.claude-3-opus-20240229-v1:0":     {MaxTokens: 4096, SupportsImages: true, InputPrice: 15.0, OutputPrice: 75.0},
	"anthropic.claude-3-sonnet-20240229-v1:0":   {MaxTokens: 4096, SupportsImages: true, InputPrice: 3.0, OutputPrice: 15.0},
	"anthropic.claude-3-haiku-20240307-v1:0":    {MaxTokens: 4096, SupportsImages: true, InputPrice: 0.25, OutputPrice: 1.25},
})

// OpenRouter is the registry of the routed-marketplace backend.
var OpenRouter = newRegistry("openrouter", "anthropic/claude-3.5-sonnet:beta", map[string]core.ModelDescriptor{
	"anthropic/claude-3.5-sonnet:beta": {MaxTokens: 8192, SupportsImages: true, InputPrice: 3.0, OutputPrice: 15.0},
	"anthropic/claude-3-opus:beta":     {MaxTokens: 4096, SupportsImages: true, InputPrice: 15, OutputPrice: 75},
	"anthropic/claude-3-sonnet:beta":   {MaxTokens: 4096, SupportsImages: true, InputPrice: 3, OutputPrice: 15},
	"anthropic/claude-3-haiku:beta":    {MaxTokens: 4096, SupportsImages: true, InputPrice: 0.25, OutputPrice: 1.25},
	"openai/gpt-4o-2024-08-06":         {MaxTokens: 16384, SupportsImages: true, InputPrice: 2.5, OutputPrice: 10},
	"openai/gpt-4o-mini-2024-07-18":    {MaxTokens: 16384, SupportsImages: true, InputPrice: 0.15, OutputPrice: 0.6},
	"openai/gpt-4-turbo":               {MaxTokens: 4096, SupportsImages: true, InputPrice: 10, OutputPrice: 30},
	"deepseek/deepseek-coder":          {MaxTokens: 4096, InputPrice: 0.14, OutputPrice: 0.28},
	"mistralai/mistral-large":          {MaxTokens: 8192, InputPrice: 3, OutputPrice: 9},
})

// OpenAI is the registry of the generic-completion backend.
var OpenAI = newRegistry("openai", "gpt-4-1106-vision-preview", map[string]core.ModelDescriptor{
	"gpt-4-1106-vision-preview": {MaxTokens: 16384, SupportsImages: true, InputPrice: 10, OutputPrice: 30},
	"gpt-4-turbo-preview":       {MaxTokens: 16384, InputPrice: 10, OutputPrice: 30},
	"gpt-4":                     {MaxTokens: 8192, InputPrice: 30, OutputPrice: 60},
	"gpt-3.5-turbo":             {MaxTokens: 4096, InputPrice: 0.5, OutputPrice: 1.5},
})
