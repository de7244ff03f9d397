package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BlockType is the discriminator of a content block.
type BlockType string

const (
	BlockTypeText       BlockType = "text"
	BlockTypeImage      BlockType = "image"
	BlockTypeToolUse    BlockType = "tool_use"
	BlockTypeToolResult BlockType = "tool_result"
)

// ContentBlock is one unit of message content. The set of implementations is
// closed: TextBlock, ImageBlock, ToolUseBlock and ToolResultBlock.
type ContentBlock interface {
	BlockType() BlockType
	isContentBlock()
}

// Blocks is an ordered sequence of content blocks.
type Blocks []ContentBlock

// TextBlock is plain text content.
type TextBlock struct {
	Text string
}

// ImageBlock is an inline image. Data is the base64 payload.
type ImageBlock struct {
	MediaType string
	Data      string
}

// ToolUseBlock is a model-issued tool invocation.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultBlock carries the output of a tool invocation back to the model.
// When Blocks is nil the result is the plain string Text; otherwise Blocks
// holds only TextBlock and ImageBlock values.
type ToolResultBlock struct {
	ToolUseID string
	Text      string
	Blocks    Blocks
	IsError   bool
}

func (TextBlock) BlockType() BlockType       { return BlockTypeText }
func (ImageBlock) BlockType() BlockType      { return BlockTypeImage }
func (ToolUseBlock) BlockType() BlockType    { return BlockTypeToolUse }
func (ToolResultBlock) BlockType() BlockType { return BlockTypeToolResult }

func (TextBlock) isContentBlock()       {}
func (ImageBlock) isContentBlock()      {}
func (ToolUseBlock) isContentBlock()    {}
func (ToolResultBlock) isContentBlock() {}

// Structured reports whether the result carries blocks rather than a string.
func (b ToolResultBlock) Structured() bool {
	return b.Blocks != nil
}

// Images returns the image blocks embedded in a structured result.
func (b ToolResultBlock) Images() []ImageBlock {
	var images []ImageBlock
	for _, block := range b.Blocks {
		if img, ok := block.(ImageBlock); ok {
			images = append(images, img)
		}
	}
	return images
}

// ImagePlaceholder is the textual stand-in used for an image on backends or
// models without image input. It never contains the payload.
func ImagePlaceholder(img ImageBlock) string {
	return fmt.Sprintf("[Image: %s, base64 data omitted]", img.MediaType)
}

// ToolUseText renders a tool invocation for backends without function calling.
func ToolUseText(b ToolUseBlock) string {
	return fmt.Sprintf("[Tool Use: %s]\n%s", b.Name, marshalInput(b.Input))
}

// ToolResultText renders a tool result for backends without function calling.
func ToolResultText(b ToolResultBlock) string {
	return fmt.Sprintf("[Tool Result: %s]", ResultContentText(b))
}

// ResultContentText flattens the content of a tool result, replacing images
// with their placeholder.
func ResultContentText(b ToolResultBlock) string {
	if !b.Structured() {
		return b.Text
	}
	return FlattenText(b.Blocks)
}

// FlattenText renders blocks as plain text joined by line breaks. Images become
// placeholders and tool blocks use their textual fallback form.
func FlattenText(blocks []ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		switch b := block.(type) {
		case TextBlock:
			parts = append(parts, b.Text)
		case ImageBlock:
			parts = append(parts, ImagePlaceholder(b))
		case ToolUseBlock:
			parts = append(parts, ToolUseText(b))
		case ToolResultBlock:
			parts = append(parts, ToolResultText(b))
		}
	}
	return strings.Join(parts, "\n")
}

// TextContent concatenates the text blocks of a response, ignoring tool calls.
func TextContent(blocks []ContentBlock) string {
	var sb strings.Builder
	for _, block := range blocks {
		if t, ok := block.(TextBlock); ok {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func marshalInput(input map[string]any) string {
	if input == nil {
		return "{}"
	}
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(data)
}
