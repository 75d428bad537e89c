package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/yungbote/projectmatch-backend/internal/agent"
	"github.com/yungbote/projectmatch-backend/internal/clients/llm"
	"github.com/yungbote/projectmatch-backend/internal/clients/redisconn"
	"github.com/yungbote/projectmatch-backend/internal/clients/vector"
	"github.com/yungbote/projectmatch-backend/internal/data/checkpoint"
	"github.com/yungbote/projectmatch-backend/internal/data/db"
	"github.com/yungbote/projectmatch-backend/internal/data/repos/requirement"
	httpx "github.com/yungbote/projectmatch-backend/internal/http"
	httpH "github.com/yungbote/projectmatch-backend/internal/http/handlers"
	"github.com/yungbote/projectmatch-backend/internal/observability"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
	"github.com/yungbote/projectmatch-backend/internal/retrieval"
)

// App wires the conversation service end to end: storage, clients,
// the retrieval engine, the compiled conversation graph, and the HTTP
// transport.
type App struct {
	Log         *logger.Logger
	Cfg         Config
	DB          *gorm.DB
	Checkpoints *checkpoint.Swappable
	Runner      *agent.Runner
	Server      *httpx.Server

	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	gormDB := pg.DB()

	pool, err := db.NewQueryPool(ctx, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init query pool: %w", err)
	}

	llmClient, err := llm.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	vecCfg, err := vector.ResolveConfigFromEnv()
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("resolve vector config: %w", err)
	}
	vectors, err := vector.NewStore(log, vecCfg)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init vector store: %w", err)
	}

	store, err := buildCheckpointStore(log, cfg, gormDB)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reqRepo := requirement.NewRepo(gormDB, log)
	searchRepo, err := requirement.NewSearchRepo(log, pool)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init search repo: %w", err)
	}

	engine, err := retrieval.NewEngine(log, searchRepo, llmClient, vectors, cfg.ProjectCollection)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init retrieval engine: %w", err)
	}

	svc, err := agent.NewService(log, llmClient, engine, vectors, reqRepo, gormDB)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init agent service: %w", err)
	}
	g, err := svc.Compile()
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("compile conversation graph: %w", err)
	}
	runner, err := agent.NewRunner(log, g, store)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init runner: %w", err)
	}

	server := httpx.NewServer(httpx.RouterConfig{
		Log:           log,
		AgentHandler:  httpH.NewAgentHandler(log, runner),
		HealthHandler: httpH.NewHealthHandler(),
		ServiceName:   cfg.ServiceName,
	})

	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           gormDB,
		Checkpoints:  store,
		Runner:       runner,
		Server:       server,
		otelShutdown: otelShutdown,
	}, nil
}

// buildCheckpointStore selects the configured persistence backend and
// wraps it in a Swappable so operators can switch backends without
// rebuilding the app wiring.
func buildCheckpointStore(log *logger.Logger, cfg Config, gormDB *gorm.DB) (*checkpoint.Swappable, error) {
	switch cfg.CheckpointBackend {
	case CheckpointBackendMemory:
		log.Warn("using in-memory checkpoint store, threads will not survive restarts")
		return checkpoint.NewSwappable(checkpoint.NewMemoryStore()), nil

	case CheckpointBackendRedis:
		rdb, err := redisconn.New(log)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		store, err := checkpoint.NewRedisStore(log, checkpoint.NewGoredisKV(rdb), cfg.CheckpointTTL)
		if err != nil {
			return nil, fmt.Errorf("init redis checkpoint store: %w", err)
		}
		return checkpoint.NewSwappable(store), nil

	case CheckpointBackendPostgres:
		store, err := checkpoint.NewPostgresStore(log, gormDB)
		if err != nil {
			return nil, fmt.Errorf("init postgres checkpoint store: %w", err)
		}
		return checkpoint.NewSwappable(store), nil

	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.CheckpointBackend)
	}
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("server starting", "addr", a.Cfg.ListenAddr, "checkpoint_backend", a.Cfg.CheckpointBackend)
	return a.Server.Run(a.Cfg.ListenAddr)
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
