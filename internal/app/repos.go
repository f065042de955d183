package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/arbor-backend/internal/data/repos"
	"github.com/yungbote/arbor-backend/internal/platform/logger"
)

type Repos struct {
	Topic repos.TopicRepo
	Node  repos.ChatNodeRepo
	Tree  repos.ChatTreeRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Topic: repos.NewTopicRepo(db, log),
		Node:  repos.NewChatNodeRepo(db, log),
		Tree:  repos.NewChatTreeRepo(db, log),
	}
}
