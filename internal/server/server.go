package server

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"grocery-backend/internal/dispatch"
	"grocery-backend/internal/ingest"
	"grocery-backend/internal/runs"
	"grocery-backend/internal/shared/config"
	"grocery-backend/internal/shared/metrics"
	"grocery-backend/internal/shared/server/middleware"
)

// NewEngine builds the gin engine with middleware and routes registered.
func NewEngine(cfg config.Config, engine *runs.Engine, ingestHandler *ingest.Handler, deadLetters dispatch.DeadLetterStore) *gin.Engine {
	if cfg.Env != "dev" && cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)

	r.GET("/healthz", healthz)
	r.GET("/metrics", metrics.Handler())

	registerRoutes(r, engine, ingestHandler, deadLetters)
	return r
}

// Addr returns a normalized listen address for the given port.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
