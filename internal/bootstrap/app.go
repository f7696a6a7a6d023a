package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"grocery-backend/internal/completion"
	"grocery-backend/internal/dispatch"
	"grocery-backend/internal/ingest"
	"grocery-backend/internal/llm"
	bedrockllm "grocery-backend/internal/llm/bedrock"
	openaillm "grocery-backend/internal/llm/openai"
	"grocery-backend/internal/ocr"
	"grocery-backend/internal/runs"
	"grocery-backend/internal/server"
	"grocery-backend/internal/shared/config"
	"grocery-backend/internal/shared/storage/db"
	"grocery-backend/internal/shared/storage/object"
	localstore "grocery-backend/internal/shared/storage/object/local"
	s3store "grocery-backend/internal/shared/storage/object/s3"
	"grocery-backend/internal/worker"
)

// App holds shared dependencies for the server and worker binaries.
type App struct {
	Config      config.Config
	Router      *gin.Engine
	DB          *sql.DB
	Store       object.Store
	Queue       dispatch.Queue
	DeadLetters dispatch.DeadLetterStore
	Repo        runs.Repo
	Channel     *completion.Channel
	Engine      *runs.Engine
	Processor   *worker.Processor
	Ingest      *ingest.Handler
}

// Build prepares shared dependencies without starting any listeners.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	deadLetters := buildDeadLetters(sqlDB)

	queue, err := buildQueue(ctx, cfg, deadLetters)
	if err != nil {
		return nil, err
	}

	capability, err := buildOCR(ctx, cfg, store)
	if err != nil {
		return nil, err
	}

	llmClient, err := buildLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var repo runs.Repo
	if sqlDB != nil {
		repo = &runs.PGRepo{DB: sqlDB}
	} else {
		repo = runs.NewMemoryRepo()
	}

	channel := completion.NewChannel()
	engine := runs.NewEngine(repo, capability, queue, channel, runs.Options{
		OCRMaxAttempts: cfg.OCRMaxAttempts,
		OCRBackoff:     cfg.OCRBackoff,
		SuspendTimeout: cfg.SuspendTimeout,
	})

	app := &App{
		Config:      cfg,
		DB:          sqlDB,
		Store:       store,
		Queue:       queue,
		DeadLetters: deadLetters,
		Repo:        repo,
		Channel:     channel,
		Engine:      engine,
		Processor:   &worker.Processor{LLM: llmClient, Resolver: engine},
		Ingest:      ingest.NewHandler(engine, store, cfg.S3Bucket, cfg.S3Prefix),
	}
	app.Router = server.NewEngine(cfg, engine, app.Ingest, deadLetters)
	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.Store, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Prefix)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildDeadLetters(sqlDB *sql.DB) dispatch.DeadLetterStore {
	if sqlDB != nil {
		return &dispatch.PGDeadLetterStore{DB: sqlDB}
	}
	return dispatch.NewMemoryDeadLetterStore()
}

func buildQueue(ctx context.Context, cfg config.Config, deadLetters dispatch.DeadLetterStore) (dispatch.Queue, error) {
	switch cfg.QueueProvider {
	case "sqs":
		return dispatch.NewSQSQueue(ctx, dispatch.SQSQueueConfig{
			QueueURL:            cfg.SQSQueueURL,
			Region:              cfg.AWSRegion,
			Visibility:          cfg.VisibilityTimeout,
			MaxReceives:         cfg.MaxReceives,
			DeadLetterRetention: cfg.DeadLetterRetention,
		}, deadLetters)
	default:
		return dispatch.NewMemoryQueue(dispatch.MemoryQueueConfig{
			Visibility:          cfg.VisibilityTimeout,
			MaxReceives:         cfg.MaxReceives,
			DeadLetterRetention: cfg.DeadLetterRetention,
		}, deadLetters), nil
	}
}

func buildOCR(ctx context.Context, cfg config.Config, store object.Store) (ocr.Capability, error) {
	switch cfg.OCRProvider {
	case "textract":
		return ocr.NewTextract(ctx, cfg.AWSRegion)
	default:
		return ocr.NewLocal(store), nil
	}
}

func buildLLM(ctx context.Context, cfg config.Config) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "bedrock":
		return bedrockllm.NewClient(ctx, cfg.AWSRegion, cfg.LLMModel)
	default:
		apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		if apiKey == "" {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: OPENAI_API_KEY empty; using placeholder llm client")
				return llm.PlaceholderClient{}, nil
			}
			return nil, fmt.Errorf("OPENAI_API_KEY is required")
		}
		return openaillm.NewClient(apiKey, cfg.LLMModel)
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
