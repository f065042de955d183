package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	NodeStatusPending   = "pending"
	NodeStatusCompleted = "completed"
	NodeStatusFailed    = "failed"
)

// ChatNode is one message in a topic's conversation tree. parent_id == NULL
// marks the root; a topic has at most one live root, backstopped by a partial
// unique index on (topic_id) WHERE parent_id IS NULL AND deleted_at IS NULL.
type ChatNode struct {
	// IDs are assigned in the repo layer, not by a DB default.
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TopicID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_chat_node_topic_parent,priority:1" json:"topic_id"`

	ParentID *uuid.UUID `gorm:"type:uuid;column:parent_id;index:idx_chat_node_topic_parent,priority:2" json:"parent_id"`

	Role   string `gorm:"column:role;not null;index" json:"role"`
	Status string `gorm:"column:status;not null;default:'completed';index" json:"status"`

	// Content blocks, opaque to the tree engine except for preview extraction.
	Blocks datatypes.JSON `gorm:"type:jsonb;column:blocks;not null;default:'[]'" json:"blocks"`

	// Nodes with the same parent_id and the same non-zero group id render as
	// one collapsed unit. 0 means ungrouped.
	SiblingsGroupID int `gorm:"column:siblings_group_id;not null;default:0;index" json:"siblings_group_id"`

	// Generation metadata, passed through untouched.
	AssistantID string         `gorm:"column:assistant_id;not null;default:''" json:"assistant_id,omitempty"`
	ModelID     string         `gorm:"column:model_id;not null;default:''" json:"model_id,omitempty"`
	TraceID     string         `gorm:"column:trace_id;not null;default:''" json:"trace_id,omitempty"`
	Stats       datatypes.JSON `gorm:"type:jsonb;column:stats" json:"stats,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ChatNode) TableName() string { return "chat_node" }

func (n *ChatNode) IsRoot() bool { return n.ParentID == nil }

// DisplayRole maps system nodes to assistant for presentation. Stored roles
// are never rewritten.
func (n *ChatNode) DisplayRole() string {
	if n.Role == RoleSystem {
		return RoleAssistant
	}
	return n.Role
}
