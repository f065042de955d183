package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/arbor-backend/internal/http"
	httpH "github.com/yungbote/arbor-backend/internal/http/handlers"
	"github.com/yungbote/arbor-backend/internal/observability"
	"github.com/yungbote/arbor-backend/internal/platform/logger"
	"github.com/yungbote/arbor-backend/internal/realtime"
)

type Handlers struct {
	Health *httpH.HealthHandler
	Topic  *httpH.TopicHandler
	Tree   *httpH.TreeHandler
	Events *httpH.EventsHandler
}

func wireHandlers(log *logger.Logger, services Services, sseHub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(),
		Topic:  httpH.NewTopicHandler(services.Topic),
		Tree:   httpH.NewTreeHandler(services.Tree),
		Events: httpH.NewEventsHandler(log, sseHub),
	}
}

func wireRouter(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:         log,
		Metrics:     metrics,
		ServiceName: cfg.ServiceName,
		OtelEnabled: observability.OtelEnabled(),
		CORSOrigins: cfg.CORSOrigins,

		HealthHandler: handlers.Health,
		TopicHandler:  handlers.Topic,
		TreeHandler:   handlers.Tree,
		EventsHandler: handlers.Events,
	})
}
