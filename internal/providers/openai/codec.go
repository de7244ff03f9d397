package openai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"modelgate/internal/core"
)

// Codec translates between canonical messages and Chat Completions messages.
type Codec struct {
	// SupportsImages sends images as data URLs; otherwise they become text
	// placeholders.
	SupportsImages bool
	// TextTools renders tool_use and tool_result blocks as plain text and
	// declares no tools, for servers without function calling.
	TextTools bool
}

// EncodeMessages converts the system prompt and the conversation. A user
// turn holding tool results expands into one "tool" message per result
// followed by a user message with the remaining content.
func (c Codec) EncodeMessages(system string, messages []core.Message) ([]ChatMessage, error) {
	out := make([]ChatMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, ChatMessage{Role: "system", Content: TextContent(system)})
	}
	for i, m := range messages {
		var (
			encoded []ChatMessage
			err     error
		)
		if m.Role == core.RoleAssistant {
			encoded, err = c.encodeAssistant(m.Content)
		} else {
			encoded = c.encodeUser(m.Content)
		}
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		out = append(out, encoded...)
	}
	return out, nil
}

func (c Codec) encodeUser(blocks []core.ContentBlock) []ChatMessage {
	if c.TextTools {
		return []ChatMessage{{Role: "user", Content: c.encodeParts(blocks)}}
	}

	var out []ChatMessage
	var moved []core.ContentBlock
	var rest []core.ContentBlock
	for _, block := range blocks {
		result, ok := block.(core.ToolResultBlock)
		if !ok {
			rest = append(rest, block)
			continue
		}
		out = append(out, ChatMessage{
			Role:       "tool",
			ToolCallID: result.ToolUseID,
			Content:    TextContent(c.toolResultText(result)),
		})
		if c.SupportsImages {
			for _, img := range result.Images() {
				moved = append(moved, img)
			}
		}
	}

	if parts := append(moved, rest...); len(parts) > 0 {
		out = append(out, ChatMessage{Role: "user", Content: c.encodeParts(parts)})
	}
	return out
}

// toolResultText flattens a tool result for a "tool" message, which cannot
// carry images. Images that travel in the following user message are noted.
func (c Codec) toolResultText(result core.ToolResultBlock) string {
	var text string
	if !result.Structured() {
		text = result.Text
	} else {
		lines := make([]string, 0, len(result.Blocks))
		for _, block := range result.Blocks {
			switch b := block.(type) {
			case core.TextBlock:
				lines = append(lines, b.Text)
			case core.ImageBlock:
				if c.SupportsImages {
					lines = append(lines, fmt.Sprintf("[Image: %s, attached in the next message]", b.MediaType))
				} else {
					lines = append(lines, core.ImagePlaceholder(b))
				}
			}
		}
		text = strings.Join(lines, "\n")
	}
	if result.IsError {
		return "Error: " + text
	}
	return text
}

func (c Codec) encodeAssistant(blocks []core.ContentBlock) ([]ChatMessage, error) {
	if c.TextTools {
		return []ChatMessage{{Role: "assistant", Content: TextContent(core.FlattenText(blocks))}}, nil
	}

	msg := ChatMessage{Role: "assistant"}
	var texts []string
	for _, block := range blocks {
		switch b := block.(type) {
		case core.TextBlock:
			texts = append(texts, b.Text)
		case core.ImageBlock:
			texts = append(texts, core.ImagePlaceholder(b))
		case core.ToolResultBlock:
			texts = append(texts, core.ToolResultText(b))
		case core.ToolUseBlock:
			call, err := EncodeToolCall(b)
			if err != nil {
				return nil, err
			}
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
	}
	if len(texts) > 0 {
		msg.Content = TextContent(strings.Join(texts, "\n"))
	}
	return []ChatMessage{msg}, nil
}

// encodeParts renders user content. A lone text block is sent as a plain
// string.
func (c Codec) encodeParts(blocks []core.ContentBlock) MessageContent {
	parts := make([]ContentPart, 0, len(blocks))
	for _, block := range blocks {
		switch b := block.(type) {
		case core.TextBlock:
			parts = append(parts, ContentPart{Type: "text", Text: b.Text})
		case core.ImageBlock:
			if c.SupportsImages {
				parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: DataURL(b)}})
			} else {
				parts = append(parts, ContentPart{Type: "text", Text: core.ImagePlaceholder(b)})
			}
		case core.ToolUseBlock:
			parts = append(parts, ContentPart{Type: "text", Text: core.ToolUseText(b)})
		case core.ToolResultBlock:
			parts = append(parts, ContentPart{Type: "text", Text: core.ToolResultText(b)})
		}
	}
	if len(parts) == 1 && parts[0].Type == "text" {
		return TextContent(parts[0].Text)
	}
	return MessageContent{Parts: parts}
}

// DataURL renders an image as a base64 data URL.
func DataURL(img core.ImageBlock) string {
	return "data:" + img.MediaType + ";base64," + img.Data
}

// EncodeToolCall converts a canonical tool invocation to a tool_calls entry.
func EncodeToolCall(b core.ToolUseBlock) (ToolCall, error) {
	input := b.Input
	if input == nil {
		input = map[string]any{}
	}
	args, err := json.Marshal(input)
	if err != nil {
		return ToolCall{}, fmt.Errorf("encode arguments of tool call %s: %w", b.ID, err)
	}
	return ToolCall{ID: b.ID, Type: "function", Function: FunctionCall{Name: b.Name, Arguments: string(args)}}, nil
}

// EncodeTools converts tool declarations. In text-tool mode no tools are
// declared.
func (c Codec) EncodeTools(tools []core.Tool) []Tool {
	if c.TextTools || len(tools) == 0 {
		return nil
	}
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, Tool{
			Type: "function",
			Function: FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// DecodeMessage converts a reply message to canonical blocks: its text
// first, then one ToolUseBlock per tool call in order.
func DecodeMessage(msg ChatMessage) (core.Blocks, error) {
	out := core.Blocks{}
	switch {
	case msg.Content.Text != nil:
		if *msg.Content.Text != "" {
			out = append(out, core.TextBlock{Text: *msg.Content.Text})
		}
	default:
		for _, part := range msg.Content.Parts {
			if part.Type == "text" && part.Text != "" {
				out = append(out, core.TextBlock{Text: part.Text})
			}
		}
	}

	for _, call := range msg.ToolCalls {
		use, err := DecodeToolCall(call)
		if err != nil {
			return nil, err
		}
		out = append(out, use)
	}

	if msg.FunctionCall != nil {
		use, err := DecodeToolCall(ToolCall{
			ID:       "call_" + uuid.NewString(),
			Type:     "function",
			Function: *msg.FunctionCall,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, use)
	}
	return out, nil
}

// DecodeToolCall converts a tool call. The arguments must be a JSON object;
// invalid JSON, any other JSON value and an empty string are
// malformed-arguments errors.
func DecodeToolCall(call ToolCall) (core.ToolUseBlock, error) {
	raw := bytes.TrimSpace([]byte(call.Function.Arguments))
	name, id := call.Function.Name, call.ID

	if len(raw) == 0 {
		return core.ToolUseBlock{}, core.NewMalformedToolArgumentsError("", name, id, errors.New("arguments are empty"))
	}
	// Unmarshal into a map accepts null, so the object check is required;
	// both checks also name the offending JSON type in the error.
	if !gjson.ValidBytes(raw) {
		return core.ToolUseBlock{}, core.NewMalformedToolArgumentsError("", name, id, errors.New("arguments are not valid JSON"))
	}
	if parsed := gjson.ParseBytes(raw); !parsed.IsObject() {
		return core.ToolUseBlock{}, core.NewMalformedToolArgumentsError("", name, id, fmt.Errorf("arguments are a JSON %s", parsed.Type))
	}

	input := map[string]any{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return core.ToolUseBlock{}, core.NewMalformedToolArgumentsError("", name, id, err)
	}
	return core.ToolUseBlock{ID: id, Name: name, Input: input}, nil
}

// NormalizeFinishReason maps a Chat Completions finish_reason to the
// canonical set.
func NormalizeFinishReason(reason string) core.StopReason {
	switch reason {
	case "stop":
		return core.StopReasonEndTurn
	case "length":
		return core.StopReasonMaxTokens
	case "tool_calls", "function_call":
		return core.StopReasonToolUse
	case "content_filter":
		return core.StopReasonStopSequence
	default:
		return core.StopReasonNone
	}
}

// NormalizeResponse converts the first choice of a reply.
func NormalizeResponse(resp *ChatResponse) (*core.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		gwErr := core.NewBackendTransportError("", http.StatusBadGateway, "reply contains no choices", nil)
		gwErr.Stage = core.StageNormalize
		return nil, gwErr
	}
	choice := resp.Choices[0]

	content, err := DecodeMessage(choice.Message)
	if err != nil {
		return nil, err
	}

	out := &core.Response{
		ID:         resp.ID,
		Role:       core.RoleAssistant,
		Model:      resp.Model,
		Content:    content,
		StopReason: NormalizeFinishReason(choice.FinishReason),
	}
	if u := resp.Usage; u != nil {
		// prompt_tokens includes the cached tokens; InputTokens counts only
		// the uncached part, as on the Messages API.
		var cached int
		if u.PromptTokensDetails != nil {
			cached = min(max(u.PromptTokensDetails.CachedTokens, 0), max(u.PromptTokens, 0))
		}
		out.Usage.InputTokens = max(u.PromptTokens-cached, 0)
		out.Usage.OutputTokens = max(u.CompletionTokens, 0)
		out.Usage.CacheReadInputTokens = cached
	}
	return out, nil
}
