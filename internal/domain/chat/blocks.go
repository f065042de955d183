package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

const (
	BlockTypeText       = "text"
	BlockTypeThinking   = "thinking"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// ContentBlock is one element of a node's blocks array. The engine treats
// blocks as opaque except for preview extraction; unknown types round-trip.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use fields.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result fields.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

func (n *ChatNode) ContentBlocks() ([]ContentBlock, error) {
	if len(n.Blocks) == 0 {
		return nil, nil
	}
	var out []ContentBlock
	if err := json.Unmarshal(n.Blocks, &out); err != nil {
		return nil, fmt.Errorf("decode blocks: %w", err)
	}
	return out, nil
}

func (n *ChatNode) SetBlocks(blocks []ContentBlock) error {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	raw, err := json.Marshal(blocks)
	if err != nil {
		return fmt.Errorf("encode blocks: %w", err)
	}
	n.Blocks = datatypes.JSON(raw)
	return nil
}

// PreviewText returns the first non-empty text-bearing block, whitespace
// collapsed, cut to maxRunes with a trailing ellipsis. Undecodable blocks
// yield an empty preview rather than an error; previews are cosmetic.
func (n *ChatNode) PreviewText(maxRunes int) string {
	blocks, err := n.ContentBlocks()
	if err != nil {
		return ""
	}
	for _, b := range blocks {
		if b.Type != BlockTypeText && b.Type != BlockTypeThinking {
			continue
		}
		txt := strings.Join(strings.Fields(b.Text), " ")
		if txt == "" {
			continue
		}
		if maxRunes <= 0 {
			return txt
		}
		runes := []rune(txt)
		if len(runes) <= maxRunes {
			return txt
		}
		return string(runes[:maxRunes]) + "…"
	}
	return ""
}
