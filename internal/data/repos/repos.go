package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/arbor-backend/internal/data/repos/chat"
	"github.com/yungbote/arbor-backend/internal/platform/logger"
)

type TopicRepo = chat.TopicRepo
type ChatNodeRepo = chat.ChatNodeRepo
type ChatTreeRepo = chat.ChatTreeRepo

func NewTopicRepo(db *gorm.DB, baseLog *logger.Logger) TopicRepo {
	return chat.NewTopicRepo(db, baseLog)
}
func NewChatNodeRepo(db *gorm.DB, baseLog *logger.Logger) ChatNodeRepo {
	return chat.NewChatNodeRepo(db, baseLog)
}
func NewChatTreeRepo(db *gorm.DB, baseLog *logger.Logger) ChatTreeRepo {
	return chat.NewChatTreeRepo(db, baseLog)
}

// MapError re-export so services translate storage faults without importing
// the chat repo package directly.
var MapError = chat.MapError
