package anthropic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"modelgate/internal/core"
)

const promptCachingBeta = "prompt-caching-2024-07-31"

// EncodeContent converts canonical blocks to Messages API blocks. Images are
// replaced by their textual placeholder when supportsImages is false.
func EncodeContent(blocks []core.ContentBlock, supportsImages bool) ([]ContentBlock, error) {
	out := make([]ContentBlock, 0, len(blocks))
	for _, block := range blocks {
		encoded, err := encodeBlock(block, supportsImages)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded)
	}
	return out, nil
}

func encodeBlock(block core.ContentBlock, supportsImages bool) (ContentBlock, error) {
	switch b := block.(type) {
	case core.TextBlock:
		return ContentBlock{Type: "text", Text: b.Text}, nil
	case core.ImageBlock:
		if !supportsImages {
			return ContentBlock{Type: "text", Text: core.ImagePlaceholder(b)}, nil
		}
		return ContentBlock{Type: "image", Source: &ImageSource{
			Type:      "base64",
			MediaType: b.MediaType,
			Data:      b.Data,
		}}, nil
	case core.ToolUseBlock:
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		raw, err := json.Marshal(input)
		if err != nil {
			return ContentBlock{}, fmt.Errorf("encode input of tool call %s: %w", b.ID, err)
		}
		return ContentBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: raw}, nil
	case core.ToolResultBlock:
		result := ContentBlock{Type: "tool_result", ToolUseID: b.ToolUseID, IsError: b.IsError}
		switch {
		case b.Structured():
			nested, err := EncodeContent(b.Blocks, supportsImages)
			if err != nil {
				return ContentBlock{}, err
			}
			result.Content = nested
		case b.Text != "":
			result.Content = []ContentBlock{{Type: "text", Text: b.Text}}
		}
		return result, nil
	default:
		return ContentBlock{}, fmt.Errorf("unsupported content block %T", block)
	}
}

// EncodeMessages converts a canonical conversation, preserving turn order.
func EncodeMessages(messages []core.Message, supportsImages bool) ([]Message, error) {
	out := make([]Message, 0, len(messages))
	for i, m := range messages {
		content, err := EncodeContent(m.Content, supportsImages)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		out = append(out, Message{Role: string(m.Role), Content: content})
	}
	return out, nil
}

// EncodeTools converts tool declarations one-to-one.
func EncodeTools(tools []core.Tool) []Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out = append(out, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return out
}

// BuildRequest assembles the request for one call. max_tokens is the model's
// limit. Models with prompt-cache support get cache breakpoints on the system
// prompt and on the last two user turns.
func BuildRequest(modelID string, model core.ModelDescriptor, system string, messages []core.Message, tools []core.Tool) (*MessagesRequest, error) {
	encoded, err := EncodeMessages(messages, model.SupportsImages)
	if err != nil {
		return nil, err
	}

	req := &MessagesRequest{
		Model:     modelID,
		MaxTokens: model.MaxTokens,
		Messages:  encoded,
		Tools:     EncodeTools(tools),
	}
	if system != "" {
		req.System = []ContentBlock{{Type: "text", Text: system}}
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = &ToolChoice{Type: "auto"}
	}
	if model.SupportsPromptCache {
		applyPromptCache(req)
	}
	return req, nil
}

func applyPromptCache(req *MessagesRequest) {
	if n := len(req.System); n > 0 {
		req.System[n-1].CacheControl = &CacheControl{Type: "ephemeral"}
	}
	marked := 0
	for i := len(req.Messages) - 1; i >= 0 && marked < 2; i-- {
		m := &req.Messages[i]
		if m.Role != string(core.RoleUser) || len(m.Content) == 0 {
			continue
		}
		m.Content[len(m.Content)-1].CacheControl = &CacheControl{Type: "ephemeral"}
		marked++
	}
	req.Betas = append(req.Betas, promptCachingBeta)
}

// DecodeContent converts Messages API blocks back to canonical blocks. Block
// types without a canonical counterpart are skipped.
func DecodeContent(blocks []ContentBlock) (core.Blocks, error) {
	out := make(core.Blocks, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, core.TextBlock{Text: b.Text})
		case "image":
			if b.Source != nil {
				out = append(out, core.ImageBlock{MediaType: b.Source.MediaType, Data: b.Source.Data})
			}
		case "tool_use":
			use, err := DecodeToolUse(b)
			if err != nil {
				return nil, err
			}
			out = append(out, use)
		case "tool_result":
			result := core.ToolResultBlock{ToolUseID: b.ToolUseID, IsError: b.IsError}
			if len(b.Content) > 0 {
				nested, err := DecodeContent(b.Content)
				if err != nil {
					return nil, err
				}
				result.Blocks = nested
			}
			out = append(out, result)
		}
	}
	return out, nil
}

// DecodeToolUse converts a tool_use block. The input must be a JSON object;
// anything else is a malformed-arguments error. An absent input is {}.
func DecodeToolUse(b ContentBlock) (core.ToolUseBlock, error) {
	use := core.ToolUseBlock{ID: b.ID, Name: b.Name, Input: map[string]any{}}

	raw := bytes.TrimSpace(b.Input)
	if len(raw) == 0 {
		return use, nil
	}
	// Unmarshal into a map accepts null, so the object check is required;
	// both checks also name the offending JSON type in the error.
	if !gjson.ValidBytes(raw) {
		return core.ToolUseBlock{}, core.NewMalformedToolArgumentsError("", b.Name, b.ID, errors.New("input is not valid JSON"))
	}
	if parsed := gjson.ParseBytes(raw); !parsed.IsObject() {
		return core.ToolUseBlock{}, core.NewMalformedToolArgumentsError("", b.Name, b.ID, fmt.Errorf("input is a JSON %s", parsed.Type))
	}
	if err := json.Unmarshal(raw, &use.Input); err != nil {
		return core.ToolUseBlock{}, core.NewMalformedToolArgumentsError("", b.Name, b.ID, err)
	}
	return use, nil
}

// NormalizeStopReason maps a Messages API stop_reason to the canonical set.
func NormalizeStopReason(reason string) core.StopReason {
	switch reason {
	case "end_turn":
		return core.StopReasonEndTurn
	case "max_tokens":
		return core.StopReasonMaxTokens
	case "tool_use":
		return core.StopReasonToolUse
	case "stop_sequence":
		return core.StopReasonStopSequence
	default:
		return core.StopReasonNone
	}
}

// NormalizeResponse converts a Messages API reply to the canonical response.
func NormalizeResponse(resp *MessagesResponse) (*core.Response, error) {
	if resp == nil {
		gwErr := core.NewBackendTransportError("", http.StatusBadGateway, "empty reply", nil)
		gwErr.Stage = core.StageNormalize
		return nil, gwErr
	}
	content, err := DecodeContent(resp.Content)
	if err != nil {
		return nil, err
	}
	return &core.Response{
		ID:         resp.ID,
		Role:       core.RoleAssistant,
		Model:      resp.Model,
		Content:    content,
		StopReason: NormalizeStopReason(resp.StopReason),
		Usage: core.Usage{
			InputTokens:              max(resp.Usage.InputTokens, 0),
			OutputTokens:             max(resp.Usage.OutputTokens, 0),
			CacheCreationInputTokens: max(resp.Usage.CacheCreationInputTokens, 0),
			CacheReadInputTokens:     max(resp.Usage.CacheReadInputTokens, 0),
		},
	}, nil
}
