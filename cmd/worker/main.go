package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"grocery-backend/internal/bootstrap"
	"grocery-backend/internal/dispatch"
	"grocery-backend/internal/shared/config"
	"grocery-backend/internal/shared/metrics"
	"grocery-backend/internal/shared/telemetry"
	"grocery-backend/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	if err := app.Engine.RecoverSuspensions(ctx); err != nil {
		log.Printf("recover suspensions: %v", err)
	}

	concurrency := cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	log.Printf("worker started provider=%s concurrency=%d", cfg.QueueProvider, concurrency)

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		delivery, err := app.Queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			log.Printf("receive: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if delivery == nil {
			// Memory queues return immediately when idle.
			if cfg.QueueProvider != "sqs" {
				select {
				case <-ctx.Done():
					break pollLoop
				case <-time.After(500 * time.Millisecond):
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			break pollLoop
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(d *dispatch.Delivery) {
			defer wg.Done()
			defer func() { <-sem }()
			handleDelivery(ctx, app, d)
		}(delivery)
	}

	log.Printf("shutdown requested, waiting up to %s for in-flight jobs", cfg.ShutdownTimeout)
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(cfg.ShutdownTimeout):
		log.Printf("shutdown timeout reached; exiting with in-flight jobs")
	}
}

func handleDelivery(ctx context.Context, app *bootstrap.App, d *dispatch.Delivery) {
	job, err := worker.ParseMessage(d.Body)
	if err != nil {
		// Malformed payloads never become parseable; drop them.
		telemetry.Error("worker.unrecoverable_message", map[string]any{
			"handle":        d.Handle,
			"receive_count": d.ReceiveCount,
			"error":         err.Error(),
		})
		if ackErr := app.Queue.Acknowledge(ctx, d); ackErr != nil {
			log.Printf("acknowledge unrecoverable message: %v", ackErr)
		}
		metrics.IncJobsFailed()
		return
	}

	if err := app.Processor.Process(ctx, job); err != nil {
		telemetry.Error("worker.job_failed", map[string]any{
			"job_id":        job.JobID,
			"run_id":        job.RunID,
			"receive_count": d.ReceiveCount,
			"error":         err.Error(),
		})
		return
	}

	if err := app.Queue.Acknowledge(ctx, d); err != nil {
		// The outcome is durable; a duplicate redelivery resolves as a no-op.
		log.Printf("acknowledge job %s: %v", job.JobID, err)
	}
}
