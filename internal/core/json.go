package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// blockJSON is the discriminated wire form of a content block.
type blockJSON struct {
	Type      BlockType        `json:"type"`
	Text      *string          `json:"text,omitempty"`
	Source    *imageSourceJSON `json:"source,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     json.RawMessage  `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   json.RawMessage  `json:"content,omitempty"`
	IsError   bool             `json:"is_error,omitempty"`
}

type imageSourceJSON struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// MarshalJSON encodes blocks in their discriminated form.
func (b Blocks) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	out := make([]blockJSON, 0, len(b))
	for _, block := range b {
		encoded, err := encodeBlock(block)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts either a bare string (one text block) or an array of
// discriminated blocks.
func (b *Blocks) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*b = Blocks{TextBlock{Text: text}}
		return nil
	}

	var raw []blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Blocks, 0, len(raw))
	for i, r := range raw {
		block, err := decodeBlock(r)
		if err != nil {
			return fmt.Errorf("content[%d]: %w", i, err)
		}
		out = append(out, block)
	}
	*b = out
	return nil
}

func encodeBlock(block ContentBlock) (blockJSON, error) {
	switch v := block.(type) {
	case TextBlock:
		text := v.Text
		return blockJSON{Type: BlockTypeText, Text: &text}, nil
	case ImageBlock:
		return blockJSON{Type: BlockTypeImage, Source: &imageSourceJSON{
			Type:      "base64",
			MediaType: v.MediaType,
			Data:      v.Data,
		}}, nil
	case ToolUseBlock:
		input := v.Input
		if input == nil {
			input = map[string]any{}
		}
		raw, err := json.Marshal(input)
		if err != nil {
			return blockJSON{}, fmt.Errorf("tool_use %s: %w", v.ID, err)
		}
		return blockJSON{Type: BlockTypeToolUse, ID: v.ID, Name: v.Name, Input: raw}, nil
	case ToolResultBlock:
		var content []byte
		var err error
		if v.Structured() {
			content, err = v.Blocks.MarshalJSON()
		} else {
			content, err = json.Marshal(v.Text)
		}
		if err != nil {
			return blockJSON{}, fmt.Errorf("tool_result %s: %w", v.ToolUseID, err)
		}
		return blockJSON{Type: BlockTypeToolResult, ToolUseID: v.ToolUseID, Content: content, IsError: v.IsError}, nil
	default:
		return blockJSON{}, fmt.Errorf("unsupported content block %T", block)
	}
}

func decodeBlock(r blockJSON) (ContentBlock, error) {
	switch r.Type {
	case BlockTypeText:
		if r.Text == nil {
			return TextBlock{}, nil
		}
		return TextBlock{Text: *r.Text}, nil
	case BlockTypeImage:
		if r.Source == nil {
			return nil, fmt.Errorf("image block has no source")
		}
		return ImageBlock{MediaType: r.Source.MediaType, Data: r.Source.Data}, nil
	case BlockTypeToolUse:
		input := map[string]any{}
		if len(r.Input) > 0 && !bytes.Equal(bytes.TrimSpace(r.Input), []byte("null")) {
			if err := json.Unmarshal(r.Input, &input); err != nil {
				return nil, fmt.Errorf("tool_use %s: input must be an object: %w", r.ID, err)
			}
		}
		return ToolUseBlock{ID: r.ID, Name: r.Name, Input: input}, nil
	case BlockTypeToolResult:
		result := ToolResultBlock{ToolUseID: r.ToolUseID, IsError: r.IsError}
		content := bytes.TrimSpace(r.Content)
		switch {
		case len(content) == 0 || bytes.Equal(content, []byte("null")):
		case content[0] == '"':
			if err := json.Unmarshal(content, &result.Text); err != nil {
				return nil, err
			}
		default:
			var nested Blocks
			if err := nested.UnmarshalJSON(content); err != nil {
				return nil, fmt.Errorf("tool_result %s: %w", r.ToolUseID, err)
			}
			for _, block := range nested {
				if t := block.BlockType(); t != BlockTypeText && t != BlockTypeImage {
					return nil, fmt.Errorf("tool_result %s: %s blocks are not allowed in results", r.ToolUseID, t)
				}
			}
			result.Blocks = nested
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unknown content block type %q", r.Type)
	}
}
