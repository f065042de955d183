package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/arbor-backend/internal/platform/logger"
	"github.com/yungbote/arbor-backend/internal/realtime"
	"github.com/yungbote/arbor-backend/internal/realtime/bus"
	"github.com/yungbote/arbor-backend/internal/services"
)

type Services struct {
	Notifier services.TreeNotifier
	Topic    services.TopicService
	Tree     services.TreeService
}

// wireServices picks the SSE emitter first: with a redis bus every instance
// publishes there and delivers through its forwarder, so events reach clients
// connected to any replica. Without redis, events go straight to the local hub.
func wireServices(db *gorm.DB, log *logger.Logger, repos Repos, sseHub *realtime.SSEHub, sseBus bus.Bus) Services {
	log.Info("Wiring services...")

	var emitter services.SSEEmitter
	if sseBus != nil {
		emitter = &services.RedisEmitter{Bus: sseBus}
	} else {
		emitter = &services.HubEmitter{Hub: sseHub}
	}
	notifier := services.NewTreeNotifier(emitter)

	return Services{
		Notifier: notifier,
		Topic:    services.NewTopicService(db, log, repos.Topic, repos.Node, notifier),
		Tree:     services.NewTreeService(db, log, repos.Topic, repos.Node, repos.Tree, notifier),
	}
}
