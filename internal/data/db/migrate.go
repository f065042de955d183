package db

import (
	"fmt"

	types "github.com/yungbote/arbor-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Topic{},
		&types.ChatNode{},
	)
}

// EnsureTreeIndexes creates the indexes AutoMigrate cannot express. All DDL
// here must run on both postgres and sqlite.
func EnsureTreeIndexes(db *gorm.DB) error {
	// At most one live root per topic. The mutation engine checks first; this
	// index is the backstop that turns a racing second root into a unique
	// violation instead of a corrupt forest.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_node_topic_root
		ON chat_node (topic_id)
		WHERE parent_id IS NULL AND deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_chat_node_topic_root: %w", err)
	}

	// Child expansion inside the recursive traversals.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chat_node_parent_alive
		ON chat_node (parent_id)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_chat_node_parent_alive: %w", err)
	}

	// Sibling-group batch loads: one scan per (topic, parent, group) probe.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chat_node_topic_parent_group
		ON chat_node (topic_id, parent_id, siblings_group_id);
	`).Error; err != nil {
		return fmt.Errorf("create idx_chat_node_topic_parent_group: %w", err)
	}

	// Recency ordering for topic listings.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_topic_last_node_at
		ON topic (last_node_at)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_topic_last_node_at: %w", err)
	}

	return nil
}
