package core

import "encoding/json"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single turn in the conversation.
// Content order is significant and preserved by every translator.
type Message struct {
	Role    Role   `json:"role"`
	Content Blocks `json:"content"`
}

// Tool declares a function the model may call.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request is the canonical create-message request.
type Request struct {
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
}

// StopReason describes why generation ended.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonStopSequence StopReason = "stop_sequence"
	StopReasonNone         StopReason = "none"
)

// Usage represents token usage information
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Response is the canonical create-message response.
// Content holds only TextBlock and ToolUseBlock values.
type Response struct {
	ID         string     `json:"id,omitempty"`
	Role       Role       `json:"role"`
	Model      string     `json:"model"`
	Content    Blocks     `json:"content"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// ModelDescriptor is the static capability and pricing metadata of one model.
// Prices are USD per million tokens.
type ModelDescriptor struct {
	MaxTokens           int      `json:"max_tokens"`
	SupportsImages      bool     `json:"supports_images"`
	SupportsPromptCache bool     `json:"supports_prompt_cache"`
	InputPrice          float64  `json:"input_price"`
	OutputPrice         float64  `json:"output_price"`
	CacheWritesPrice    *float64 `json:"cache_writes_price,omitempty"`
	CacheReadsPrice     *float64 `json:"cache_reads_price,omitempty"`
}

// Clone returns a copy that shares no pointers with d.
func (d ModelDescriptor) Clone() ModelDescriptor {
	if d.CacheWritesPrice != nil {
		v := *d.CacheWritesPrice
		d.CacheWritesPrice = &v
	}
	if d.CacheReadsPrice != nil {
		v := *d.CacheReadsPrice
		d.CacheReadsPrice = &v
	}
	return d
}

// DisplayEcho is the human-readable rendition of an outbound request.
// It is built for display and audit only and is never dispatched.
type DisplayEcho struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	// Content is the user turn with every binary payload replaced.
	Content Blocks `json:"content"`
	// Text is Content flattened to plain text.
	Text string `json:"text"`
	// Request is the backend-native request body built from Content.
	Request json.RawMessage `json:"request,omitempty"`
}
