package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/arbor-backend/internal/http/handlers"
	httpMW "github.com/yungbote/arbor-backend/internal/http/middleware"
	"github.com/yungbote/arbor-backend/internal/observability"
	"github.com/yungbote/arbor-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	OtelEnabled bool
	CORSOrigins []string

	HealthHandler *httpH.HealthHandler
	TopicHandler  *httpH.TopicHandler
	TreeHandler   *httpH.TreeHandler
	EventsHandler *httpH.EventsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.OtelEnabled {
		name := cfg.ServiceName
		if name == "" {
			name = "arbor"
		}
		r.Use(otelgin.Middleware(name))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS(cfg.CORSOrigins))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api/v1")
	{
		// Topics
		if cfg.TopicHandler != nil {
			api.POST("/topics", cfg.TopicHandler.CreateTopic)
			api.GET("/topics", cfg.TopicHandler.ListTopics)
			api.GET("/topics/:id", cfg.TopicHandler.GetTopic)
			api.PATCH("/topics/:id", cfg.TopicHandler.RenameTopic)
			api.DELETE("/topics/:id", cfg.TopicHandler.DeleteTopic)
		}

		// Tree projections and node CRUD
		if cfg.TreeHandler != nil {
			api.GET("/topics/:id/tree", cfg.TreeHandler.GetTree)
			api.GET("/topics/:id/branch", cfg.TreeHandler.GetBranch)
			api.POST("/topics/:id/nodes", cfg.TreeHandler.CreateNode)
			api.GET("/nodes/:id", cfg.TreeHandler.GetNode)
			api.PATCH("/nodes/:id", cfg.TreeHandler.UpdateNode)
			api.DELETE("/nodes/:id", cfg.TreeHandler.DeleteNode)
			api.GET("/nodes/:id/path", cfg.TreeHandler.GetPath)
		}

		// Realtime (SSE)
		if cfg.EventsHandler != nil {
			api.GET("/topics/:id/events", cfg.EventsHandler.Stream)
		}
	}

	return r
}
