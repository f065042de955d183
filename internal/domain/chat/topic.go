package chat

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Topic struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Title    string         `gorm:"column:title;not null;default:'New Topic'" json:"title"`
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata;not null;default:'{}'" json:"metadata,omitempty"`

	// Advisory pointer to the node whose branch the client is viewing.
	// Structure lives in chat_node; a stale pointer is never trusted blindly.
	ActiveNodeID *uuid.UUID `gorm:"type:uuid;column:active_node_id;index" json:"active_node_id,omitempty"`

	LastNodeAt time.Time `gorm:"column:last_node_at;not null;index" json:"last_node_at"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Topic) TableName() string { return "topic" }
