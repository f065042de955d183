package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/arbor-backend/internal/data/db"
	"github.com/yungbote/arbor-backend/internal/observability"
	"github.com/yungbote/arbor-backend/internal/platform/logger"
	"github.com/yungbote/arbor-backend/internal/realtime"
	"github.com/yungbote/arbor-backend/internal/realtime/bus"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	Hub      *realtime.SSEHub
	Bus      bus.Bus
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	theDB, err := openDatabase(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	metrics := observability.Init(log)

	sseHub := realtime.NewSSEHub(log, cfg.SSEHeartbeat)

	var sseBus bus.Bus
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		sseBus, err = bus.NewRedisBus(log)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init redis bus: %w", err)
		}
	}

	reposet := wireRepos(theDB, log)
	serviceset := wireServices(theDB, log, reposet, sseHub, sseBus)
	handlerset := wireHandlers(log, serviceset, sseHub)
	router := wireRouter(log, cfg, handlerset, metrics)

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
		Hub:      sseHub,
		Bus:      sseBus,
		Metrics:  metrics,
	}, nil
}

func openDatabase(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DBDriver)) {
	case "sqlite":
		svc, err := db.NewSQLiteService(log)
		if err != nil {
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		if err := svc.AutoMigrateAll(); err != nil {
			return nil, fmt.Errorf("sqlite automigrate: %w", err)
		}
		return svc.DB(), nil
	default:
		svc, err := db.NewPostgresService(log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		if err := svc.AutoMigrateAll(); err != nil {
			return nil, fmt.Errorf("postgres automigrate: %w", err)
		}
		return svc.DB(), nil
	}
}

// Start launches the background pieces: tracing, the metrics endpoint and
// collectors, and the redis forwarder that feeds remote events into the
// local hub.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.otelShutdown = observability.InitOTel(ctx, a.Log, observability.OtelConfig{
		ServiceName: a.Cfg.ServiceName,
		Environment: a.Cfg.Environment,
		Version:     a.Cfg.Version,
	})

	if a.Metrics != nil {
		a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Cfg.RedisAddr)
		a.Metrics.StartTreeStatsCollector(ctx, a.Log, a.DB)
		a.Metrics.StartSLOEvaluator(ctx, a.Log)
	}

	if a.Bus != nil {
		if err := a.Bus.StartForwarder(ctx, func(m realtime.SSEMessage) {
			a.Hub.Broadcast(m)
		}); err != nil {
			a.Log.Error("start SSE forwarder failed", "error", err)
		}
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
		a.otelShutdown = nil
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
