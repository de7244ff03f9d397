package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/config"
	"modelgate/internal/core"
	"modelgate/internal/modeldata"
	"modelgate/internal/providers"
)

type fakeTransport struct {
	lastRequest *ChatRequest
	reply       *ChatResponse
	err         error
}

func (f *fakeTransport) CreateChatCompletion(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.lastRequest = req
	return f.reply, f.err
}

func userText(text string) core.Message {
	return core.Message{Role: core.RoleUser, Content: core.Blocks{core.TextBlock{Text: text}}}
}

func textReply(text, finish string) *ChatResponse {
	return &ChatResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4",
		Choices: []Choice{{
			Message:      ChatMessage{Role: "assistant", Content: TextContent(text)},
			FinishReason: finish,
		}},
	}
}

func newTestHandler(t *testing.T, modelID string, transport Transport, textTools bool) *Handler {
	t.Helper()
	h, err := NewHandler(HandlerConfig{
		Provider:  "openai",
		Registry:  modeldata.OpenAI,
		ModelID:   modelID,
		TextTools: textTools,
		Transport: transport,
	})
	require.NoError(t, err)
	return h
}

func TestMessageContent_JSON(t *testing.T) {
	tests := []struct {
		name    string
		content MessageContent
		want    string
	}{
		{"string", TextContent("hi"), `"hi"`},
		{"empty string", TextContent(""), `""`},
		{"null", MessageContent{}, `null`},
		{"parts", MessageContent{Parts: []ContentPart{{Type: "text", Text: "a"}}}, `[{"type":"text","text":"a"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.content)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))

			var back MessageContent
			require.NoError(t, json.Unmarshal(raw, &back))
			assert.Equal(t, tt.content, back)
		})
	}
}

func TestText_RoundTrip(t *testing.T) {
	codec := Codec{SupportsImages: true}
	for _, text := range []string{"hello", "multi\nline ✓", `{"looks":"like json"}`} {
		encoded, err := codec.EncodeMessages("", []core.Message{userText(text)})
		require.NoError(t, err)
		require.Len(t, encoded, 1)

		decoded, err := DecodeMessage(encoded[0])
		require.NoError(t, err)
		assert.Equal(t, core.Blocks{core.TextBlock{Text: text}}, decoded)
	}
}

func TestEncodeMessages_SystemFirst(t *testing.T) {
	encoded, err := Codec{}.EncodeMessages("be brief", []core.Message{userText("hi")})
	require.NoError(t, err)
	require.Len(t, encoded, 2)
	assert.Equal(t, "system", encoded[0].Role)
	assert.Equal(t, "be brief", *encoded[0].Content.Text)
	assert.Equal(t, "user", encoded[1].Role)
}

func TestEncodeMessages_ToolRoundTrip(t *testing.T) {
	messages := []core.Message{
		userText("list files"),
		{Role: core.RoleAssistant, Content: core.Blocks{
			core.TextBlock{Text: "Listing."},
			core.ToolUseBlock{ID: "call_1", Name: "ls", Input: map[string]any{"dir": "."}},
			core.ToolUseBlock{ID: "call_2", Name: "pwd"},
		}},
		{Role: core.RoleUser, Content: core.Blocks{
			core.ToolResultBlock{ToolUseID: "call_1", Text: "go.mod"},
			core.ToolResultBlock{ToolUseID: "call_2", Text: "permission denied", IsError: true},
			core.TextBlock{Text: "continue"},
		}},
	}
	encoded, err := Codec{}.EncodeMessages("", messages)
	require.NoError(t, err)
	require.Len(t, encoded, 5)

	assistant := encoded[1]
	assert.Equal(t, "Listing.", *assistant.Content.Text)
	require.Len(t, assistant.ToolCalls, 2)
	assert.Equal(t, "call_1", assistant.ToolCalls[0].ID)
	assert.Equal(t, "function", assistant.ToolCalls[0].Type)
	assert.JSONEq(t, `{"dir":"."}`, assistant.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "{}", assistant.ToolCalls[1].Function.Arguments)

	assert.Equal(t, ChatMessage{Role: "tool", ToolCallID: "call_1", Content: TextContent("go.mod")}, encoded[2])
	assert.Equal(t, ChatMessage{Role: "tool", ToolCallID: "call_2", Content: TextContent("Error: permission denied")}, encoded[3])
	assert.Equal(t, ChatMessage{Role: "user", Content: TextContent("continue")}, encoded[4])

	decoded, err := DecodeMessage(assistant)
	require.NoError(t, err)
	assert.Equal(t, core.Blocks{
		core.TextBlock{Text: "Listing."},
		core.ToolUseBlock{ID: "call_1", Name: "ls", Input: map[string]any{"dir": "."}},
		core.ToolUseBlock{ID: "call_2", Name: "pwd", Input: map[string]any{}},
	}, decoded)
}

func TestEncodeMessages_AssistantWithoutTextHasNullContent(t *testing.T) {
	encoded, err := Codec{}.EncodeMessages("", []core.Message{{Role: core.RoleAssistant, Content: core.Blocks{
		core.ToolUseBlock{ID: "call_1", Name: "ls"},
	}}})
	require.NoError(t, err)
	raw, err := json.Marshal(encoded[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"content":null`)
}

func TestEncodeMessages_Images(t *testing.T) {
	payload := "U0VDUkVUUEFZTE9BRA=="
	image := core.ImageBlock{MediaType: "image/jpeg", Data: payload}

	t.Run("supported", func(t *testing.T) {
		encoded, err := Codec{SupportsImages: true}.EncodeMessages("", []core.Message{{Role: core.RoleUser, Content: core.Blocks{
			core.TextBlock{Text: "what is this?"}, image,
		}}})
		require.NoError(t, err)
		parts := encoded[0].Content.Parts
		require.Len(t, parts, 2)
		assert.Equal(t, "image_url", parts[1].Type)
		assert.Equal(t, "data:image/jpeg;base64,"+payload, parts[1].ImageURL.URL)
	})

	t.Run("unsupported", func(t *testing.T) {
		encoded, err := Codec{}.EncodeMessages("", []core.Message{{Role: core.RoleUser, Content: core.Blocks{
			core.TextBlock{Text: "what is this?"}, image,
		}}})
		require.NoError(t, err)
		raw, err := json.Marshal(encoded)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), payload)
		assert.Contains(t, string(raw), "[Image: image/jpeg, base64 data omitted]")
	})
}

func TestEncodeMessages_ToolResultImagesMoveToUserMessage(t *testing.T) {
	result := core.ToolResultBlock{ToolUseID: "call_1", Blocks: core.Blocks{
		core.TextBlock{Text: "screenshot taken"},
		core.ImageBlock{MediaType: "image/png", Data: "iVBOR"},
	}}

	encoded, err := Codec{SupportsImages: true}.EncodeMessages("", []core.Message{{Role: core.RoleUser, Content: core.Blocks{result}}})
	require.NoError(t, err)
	require.Len(t, encoded, 2)

	assert.Equal(t, "tool", encoded[0].Role)
	assert.Equal(t, "screenshot taken\n[Image: image/png, attached in the next message]", *encoded[0].Content.Text)
	assert.Equal(t, "user", encoded[1].Role)
	require.Len(t, encoded[1].Content.Parts, 1)
	assert.Equal(t, "data:image/png;base64,iVBOR", encoded[1].Content.Parts[0].ImageURL.URL)

	encoded, err = Codec{}.EncodeMessages("", []core.Message{{Role: core.RoleUser, Content: core.Blocks{result}}})
	require.NoError(t, err)
	require.Len(t, encoded, 1)
	assert.Equal(t, "screenshot taken\n[Image: image/png, base64 data omitted]", *encoded[0].Content.Text)
}

func TestEncodeMessages_TextTools(t *testing.T) {
	codec := Codec{TextTools: true}
	encoded, err := codec.EncodeMessages("", []core.Message{
		{Role: core.RoleAssistant, Content: core.Blocks{
			core.ToolUseBlock{ID: "call_1", Name: "ls", Input: map[string]any{"dir": "."}},
		}},
		{Role: core.RoleUser, Content: core.Blocks{
			core.ToolResultBlock{ToolUseID: "call_1", Text: "go.mod"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, encoded, 2)
	assert.Empty(t, encoded[0].ToolCalls)
	assert.Equal(t, "[Tool Use: ls]\n{\"dir\":\".\"}", *encoded[0].Content.Text)
	assert.Equal(t, "user", encoded[1].Role)
	assert.Equal(t, "[Tool Result: go.mod]", *encoded[1].Content.Text)

	assert.Nil(t, codec.EncodeTools([]core.Tool{{Name: "ls"}}))
}

func TestEncodeTools(t *testing.T) {
	tools := Codec{}.EncodeTools([]core.Tool{
		{Name: "ls", Description: "list", InputSchema: map[string]any{"type": "object", "required": []any{"dir"}}},
		{Name: "pwd"},
	})
	require.Len(t, tools, 2)
	assert.Equal(t, "function", tools[0].Type)
	assert.Equal(t, "ls", tools[0].Function.Name)
	assert.Equal(t, "list", tools[0].Function.Description)
	assert.Equal(t, []any{"dir"}, tools[0].Function.Parameters["required"])
	assert.Equal(t, "object", tools[1].Function.Parameters["type"])

	assert.Nil(t, Codec{}.EncodeTools(nil))
}

func TestDecodeToolCall_Malformed(t *testing.T) {
	for _, args := range []string{"", "not json", "[1,2]", `"x"`, "42", `{"a":`, "null"} {
		t.Run(args, func(t *testing.T) {
			_, err := DecodeToolCall(ToolCall{ID: "call_1", Type: "function", Function: FunctionCall{Name: "ls", Arguments: args}})
			require.Error(t, err)
			var gwErr *core.GatewayError
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, core.ErrorTypeMalformedToolArguments, gwErr.Type)
			assert.Contains(t, gwErr.Message, "call_1")
		})
	}
}

func TestDecodeMessage_LegacyFunctionCall(t *testing.T) {
	blocks, err := DecodeMessage(ChatMessage{
		Role:         "assistant",
		FunctionCall: &FunctionCall{Name: "ls", Arguments: `{"dir":"/"}`},
	})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	use, ok := blocks[0].(core.ToolUseBlock)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(use.ID, "call_"))
	assert.Equal(t, "ls", use.Name)
	assert.Equal(t, map[string]any{"dir": "/"}, use.Input)
}

func TestDecodeMessage_Parts(t *testing.T) {
	blocks, err := DecodeMessage(ChatMessage{Content: MessageContent{Parts: []ContentPart{
		{Type: "text", Text: "a"},
		{Type: "text", Text: ""},
		{Type: "refusal"},
		{Type: "text", Text: "b"},
	}}})
	require.NoError(t, err)
	assert.Equal(t, core.Blocks{core.TextBlock{Text: "a"}, core.TextBlock{Text: "b"}}, blocks)
}

func TestNormalizeFinishReason(t *testing.T) {
	tests := map[string]core.StopReason{
		"stop":           core.StopReasonEndTurn,
		"length":         core.StopReasonMaxTokens,
		"tool_calls":     core.StopReasonToolUse,
		"function_call":  core.StopReasonToolUse,
		"content_filter": core.StopReasonStopSequence,
		"":               core.StopReasonNone,
		"weird":          core.StopReasonNone,
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeFinishReason(in), in)
	}
}

func TestNormalizeResponse_Usage(t *testing.T) {
	reply := textReply("hi", "stop")
	reply.Usage = &ChatUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}
	reply.Usage.PromptTokensDetails = &struct {
		CachedTokens int `json:"cached_tokens"`
	}{CachedTokens: 64}

	resp, err := NormalizeResponse(reply)
	require.NoError(t, err)
	assert.Equal(t, core.Usage{InputTokens: 36, OutputTokens: 20, CacheReadInputTokens: 64}, resp.Usage)
	assert.Equal(t, core.RoleAssistant, resp.Role)
}

func TestNormalizeResponse_CachedTokensClamped(t *testing.T) {
	reply := textReply("hi", "stop")
	reply.Usage = &ChatUsage{PromptTokens: 10, CompletionTokens: 1}
	reply.Usage.PromptTokensDetails = &struct {
		CachedTokens int `json:"cached_tokens"`
	}{CachedTokens: 50}

	resp, err := NormalizeResponse(reply)
	require.NoError(t, err)
	assert.Equal(t, core.Usage{InputTokens: 0, OutputTokens: 1, CacheReadInputTokens: 10}, resp.Usage)
}

func TestNormalizeResponse_NoChoices(t *testing.T) {
	_, err := NormalizeResponse(&ChatResponse{})
	require.Error(t, err)
	assert.True(t, core.IsErrorType(err, core.ErrorTypeBackendTransport))
}

func TestHandler_CreateMessage(t *testing.T) {
	transport := &fakeTransport{reply: &ChatResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4",
		Choices: []Choice{{
			Message: ChatMessage{Role: "assistant", ToolCalls: []ToolCall{
				{ID: "call_1", Type: "function", Function: FunctionCall{Name: "ls", Arguments: `{"dir":"."}`}},
			}},
			FinishReason: "tool_calls",
		}},
	}}
	h := newTestHandler(t, "gpt-4", transport, false)

	resp, err := h.CreateMessage(context.Background(), "sys", []core.Message{userText("list")}, []core.Tool{{Name: "ls"}})
	require.NoError(t, err)

	req := transport.lastRequest
	assert.Equal(t, "gpt-4", req.Model)
	assert.Equal(t, 8192, req.MaxTokens)
	assert.Equal(t, "auto", req.ToolChoice)
	require.Len(t, req.Tools, 1)

	assert.Equal(t, core.StopReasonToolUse, resp.StopReason)
	assert.Equal(t, core.Blocks{core.ToolUseBlock{ID: "call_1", Name: "ls", Input: map[string]any{"dir": "."}}}, resp.Content)
}

func TestHandler_CreateMessage_MalformedArguments(t *testing.T) {
	transport := &fakeTransport{reply: &ChatResponse{Choices: []Choice{{
		Message: ChatMessage{ToolCalls: []ToolCall{
			{ID: "call_1", Type: "function", Function: FunctionCall{Name: "ls", Arguments: "not json"}},
		}},
		FinishReason: "tool_calls",
	}}}}
	h := newTestHandler(t, "", transport, false)

	_, err := h.CreateMessage(context.Background(), "", []core.Message{userText("list")}, nil)
	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, core.ErrorTypeMalformedToolArguments, gwErr.Type)
	assert.Equal(t, "openai", gwErr.Provider)
	assert.Equal(t, "gpt-4-1106-vision-preview", gwErr.Model)
	assert.Equal(t, core.StageNormalize, gwErr.Stage)
}

func TestHandler_CreateMessage_TransportError(t *testing.T) {
	h := newTestHandler(t, "", &fakeTransport{err: errors.New("connection reset")}, false)

	_, err := h.CreateMessage(context.Background(), "", []core.Message{userText("hi")}, nil)
	var gwErr *core.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, core.ErrorTypeBackendTransport, gwErr.Type)
	assert.Equal(t, core.StageSend, gwErr.Stage)
}

func TestHandler_ImageOnTextOnlyModel(t *testing.T) {
	payload := "U0VDUkVUUEFZTE9BRA=="
	transport := &fakeTransport{reply: textReply("a cat", "stop")}
	h := newTestHandler(t, "gpt-4", transport, false)

	_, err := h.CreateMessage(context.Background(), "", []core.Message{{Role: core.RoleUser, Content: core.Blocks{
		core.ImageBlock{MediaType: "image/png", Data: payload},
	}}}, nil)
	require.NoError(t, err)

	raw, err := json.Marshal(transport.lastRequest)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), payload)
	assert.Contains(t, string(raw), "[Image: image/png, base64 data omitted]")
}

func TestNewHandler_UnknownModel(t *testing.T) {
	_, err := NewHandler(HandlerConfig{Provider: "openai", Registry: modeldata.OpenAI, ModelID: "claude-3-opus-20240229"})
	assert.True(t, core.IsErrorType(err, core.ErrorTypeUnknownModel))
}

func TestCreateUserReadableRequest(t *testing.T) {
	h := newTestHandler(t, "", &fakeTransport{}, false)
	content := core.Blocks{
		core.TextBlock{Text: "describe"},
		core.ImageBlock{MediaType: "image/png", Data: "UkVBTFBBWUxPQUQ="},
	}
	echo := h.CreateUserReadableRequest(content)

	assert.Equal(t, "openai", echo.Provider)
	assert.Equal(t, "gpt-4-1106-vision-preview", echo.Model)
	assert.NotContains(t, string(echo.Request), "UkVBTFBBWUxPQUQ=")
	assert.Contains(t, string(echo.Request), "data:image/png;base64,...")
	assert.Equal(t, "describe\n[Image: image/png, base64 data omitted]", echo.Text)
	assert.Equal(t, "UkVBTFBBWUxPQUQ=", content[1].(core.ImageBlock).Data)
}

func TestHTTPTransport_UnencodableToolSchema(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	opts := providers.Options{Resilience: config.ResilienceConfig{MaxRetries: 2, InitialBackoffMs: 300}}
	h, err := New(config.APIConfig{Provider: "openai", APIKey: "sk-test", BaseURL: server.URL}, opts)
	require.NoError(t, err)

	tools := []core.Tool{{Name: "calc", InputSchema: map[string]any{"type": "number", "maximum": math.Inf(1)}}}
	_, err = h.CreateMessage(context.Background(), "", []core.Message{userText("hi")}, tools)
	require.Error(t, err)

	var gwErr *core.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, core.ErrorTypeInvalidRequest, gwErr.Type)
	assert.Equal(t, core.StageBuild, gwErr.Stage)
	assert.Equal(t, 0, hits)
}

func TestIsValidClientRequestID(t *testing.T) {
	assert.True(t, isValidClientRequestID("req-123"))
	assert.False(t, isValidClientRequestID("réq"))
	assert.False(t, isValidClientRequestID(strings.Repeat("a", 513)))
}

func TestHTTPTransport(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		gotHeaders = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-3.5-turbo",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`)
	}))
	defer server.Close()

	h, err := New(config.APIConfig{Provider: "openai", APIKey: "sk-test", ModelID: "gpt-3.5-turbo", BaseURL: server.URL}, providers.Options{})
	require.NoError(t, err)

	ctx := core.WithRequestID(context.Background(), "req-42")
	resp, err := h.CreateMessage(ctx, "", []core.Message{userText("hi")}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotHeaders.Get("Authorization"))
	assert.Equal(t, "req-42", gotHeaders.Get("X-Client-Request-Id"))
	assert.Equal(t, "gpt-3.5-turbo", gotBody["model"])
	assert.Equal(t, float64(4096), gotBody["max_tokens"])

	assert.Equal(t, core.Blocks{core.TextBlock{Text: "Hello!"}}, resp.Content)
	assert.Equal(t, core.StopReasonEndTurn, resp.StopReason)
	assert.Equal(t, 9, resp.Usage.InputTokens)
}
