package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/projectmatch-backend/internal/http/handlers"
	httpMW "github.com/yungbote/projectmatch-backend/internal/http/middleware"
	"github.com/yungbote/projectmatch-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AgentHandler  *httpH.AgentHandler
	HealthHandler *httpH.HealthHandler

	ServiceName string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "projectmatch-backend"
	}
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.AgentHandler != nil {
			api.POST("/agent/turn", httpMW.AttachThreadID(), cfg.AgentHandler.Turn)
			api.GET("/agent/history/:thread_id", cfg.AgentHandler.History)
			api.GET("/agent/history/:thread_id/checkpoints", cfg.AgentHandler.Checkpoints)
			api.DELETE("/agent/history/:thread_id", cfg.AgentHandler.DeleteThread)
		}
	}

	return r
}
