package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"grocery-backend/internal/dispatch"
	"grocery-backend/internal/ingest"
	"grocery-backend/internal/runs"
	"grocery-backend/internal/shared/server/respond"
)

func registerRoutes(r *gin.Engine, engine *runs.Engine, ingestHandler *ingest.Handler, deadLetters dispatch.DeadLetterStore) {
	api := r.Group("/v1")

	ingestHandler.RegisterRoutes(api)

	api.GET("/runs/:id", func(c *gin.Context) {
		run, err := engine.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, runs.ErrNotFound) {
				respond.Error(c, http.StatusNotFound, "not_found", "run not found", nil)
				return
			}
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load run", nil)
			return
		}
		respond.OK(c, run)
	})

	api.GET("/deadletters", func(c *gin.Context) {
		letters, err := deadLetters.List(c.Request.Context())
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list dead letters", nil)
			return
		}
		respond.OK(c, gin.H{"deadLetters": letters, "count": len(letters)})
	})
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
