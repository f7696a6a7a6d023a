package main

import (
	"context"
	"log"

	"grocery-backend/internal/bootstrap"
	"grocery-backend/internal/server"
	"grocery-backend/internal/shared/config"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}

	// Runs suspended before the last shutdown get their deadlines re-armed.
	if err := app.Engine.RecoverSuspensions(ctx); err != nil {
		log.Printf("recover suspensions: %v", err)
	}

	addr := server.Addr(cfg.Port)
	log.Printf("starting API server on %s", addr)

	if err := app.Router.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
