package core

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImagePlaceholder(t *testing.T) {
	got := ImagePlaceholder(ImageBlock{MediaType: "image/png", Data: "iVBORw0KGgo="})
	assert.Equal(t, "[Image: image/png, base64 data omitted]", got)
	assert.NotContains(t, got, "iVBORw0KGgo=")
}

func TestFlattenText(t *testing.T) {
	blocks := Blocks{
		TextBlock{Text: "look at this"},
		ImageBlock{MediaType: "image/jpeg", Data: "AAAA"},
		ToolUseBlock{ID: "toolu_1", Name: "read_file", Input: map[string]any{"path": "main.go"}},
		ToolResultBlock{ToolUseID: "toolu_1", Text: "package main"},
	}

	want := strings.Join([]string{
		"look at this",
		"[Image: image/jpeg, base64 data omitted]",
		"[Tool Use: read_file]\n{\"path\":\"main.go\"}",
		"[Tool Result: package main]",
	}, "\n")
	assert.Equal(t, want, FlattenText(blocks))
}

func TestResultContentText_Structured(t *testing.T) {
	result := ToolResultBlock{
		ToolUseID: "toolu_2",
		Blocks: Blocks{
			TextBlock{Text: "screenshot taken"},
			ImageBlock{MediaType: "image/png", Data: "payload"},
		},
	}
	assert.True(t, result.Structured())
	assert.Len(t, result.Images(), 1)
	assert.Equal(t, "screenshot taken\n[Image: image/png, base64 data omitted]", ResultContentText(result))
}

func TestToolUseText_NilInput(t *testing.T) {
	assert.Equal(t, "[Tool Use: list]\n{}", ToolUseText(ToolUseBlock{Name: "list"}))
}

func TestTextContent(t *testing.T) {
	blocks := Blocks{
		TextBlock{Text: "first"},
		ToolUseBlock{ID: "t", Name: "n"},
		TextBlock{Text: "second"},
	}
	assert.Equal(t, "first\nsecond", TextContent(blocks))
}

func TestMessageJSON_StringContent(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &msg))
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, Blocks{TextBlock{Text: "hello"}}, msg.Content)
}

func TestMessageJSON_Blocks(t *testing.T) {
	raw := `{"role":"user","content":[
		{"type":"text","text":"see attached"},
		{"type":"image","source":{"type":"base64","media_type":"image/png","data":"QUJD"}},
		{"type":"tool_result","tool_use_id":"toolu_1","content":"done","is_error":true},
		{"type":"tool_result","tool_use_id":"toolu_2","content":[{"type":"text","text":"shot"},{"type":"image","source":{"type":"base64","media_type":"image/jpeg","data":"REVG"}}]}
	]}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.Len(t, msg.Content, 4)

	assert.Equal(t, TextBlock{Text: "see attached"}, msg.Content[0])
	assert.Equal(t, ImageBlock{MediaType: "image/png", Data: "QUJD"}, msg.Content[1])
	assert.Equal(t, ToolResultBlock{ToolUseID: "toolu_1", Text: "done", IsError: true}, msg.Content[2])

	nested, ok := msg.Content[3].(ToolResultBlock)
	require.True(t, ok)
	assert.True(t, nested.Structured())
	assert.Equal(t, []ImageBlock{{MediaType: "image/jpeg", Data: "REVG"}}, nested.Images())

	encoded, err := json.Marshal(msg)
	require.NoError(t, err)
	var again Message
	require.NoError(t, json.Unmarshal(encoded, &again))
	assert.Equal(t, msg, again)
}

func TestMessageJSON_ToolUse(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"assistant","content":[{"type":"tool_use","id":"toolu_9","name":"search","input":{"q":"go"}}]}`), &msg))
	assert.Equal(t, ToolUseBlock{ID: "toolu_9", Name: "search", Input: map[string]any{"q": "go"}}, msg.Content[0])
}

func TestMessageJSON_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown block type", `{"role":"user","content":[{"type":"video"}]}`},
		{"image without source", `{"role":"user","content":[{"type":"image"}]}`},
		{"tool_use input not an object", `{"role":"assistant","content":[{"type":"tool_use","id":"t","name":"n","input":[1,2]}]}`},
		{"tool_use nested in tool_result", `{"role":"user","content":[{"type":"tool_result","tool_use_id":"t","content":[{"type":"tool_use","id":"x","name":"n","input":{}}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			assert.Error(t, json.Unmarshal([]byte(tt.raw), &msg))
		})
	}
}

func TestModelDescriptor_Clone(t *testing.T) {
	price := 3.75
	d := ModelDescriptor{MaxTokens: 8192, CacheWritesPrice: &price}
	c := d.Clone()
	*c.CacheWritesPrice = 99
	assert.Equal(t, 3.75, *d.CacheWritesPrice)
}
