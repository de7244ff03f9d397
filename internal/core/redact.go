package core

// BinaryPlaceholder replaces image payloads in display copies of a request.
const BinaryPlaceholder = "..."

// StripBinaryPayloads returns a copy of blocks in which every image payload,
// including images nested in tool results, is replaced by BinaryPlaceholder.
// The input is never modified and the operation is idempotent.
func StripBinaryPayloads(blocks []ContentBlock) Blocks {
	if blocks == nil {
		return nil
	}
	out := make(Blocks, len(blocks))
	for i, block := range blocks {
		switch b := block.(type) {
		case ImageBlock:
			b.Data = BinaryPlaceholder
			out[i] = b
		case ToolResultBlock:
			if b.Structured() {
				b.Blocks = StripBinaryPayloads(b.Blocks)
			}
			out[i] = b
		case ToolUseBlock:
			b.Input = cloneMap(b.Input)
			out[i] = b
		default:
			out[i] = block
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
