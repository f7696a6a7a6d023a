package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	DatabaseURL string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string

	QueueProvider     string
	SQSQueueURL       string
	VisibilityTimeout time.Duration
	MaxReceives       int

	OCRProvider    string
	OCRMaxAttempts int
	OCRBackoff     time.Duration

	LLMProvider string
	LLMModel    string

	SuspendTimeout      time.Duration
	DeadLetterRetention time.Duration

	WorkerConcurrency int
	ShutdownTimeout   time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             normalizeEnv(getEnv("ENV", "dev")),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		ObjectStoreType: normalizeProvider(getEnv("OBJECT_STORE", "local"), "s3", "local"),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),

		QueueProvider:     normalizeProvider(getEnv("QUEUE_PROVIDER", "memory"), "sqs", "memory"),
		SQSQueueURL:       getEnv("SQS_QUEUE_URL", ""),
		VisibilityTimeout: secondsEnv("QUEUE_VISIBILITY_TIMEOUT_SECONDS", 60),
		MaxReceives:       intEnv("QUEUE_MAX_RECEIVES", 3),

		OCRProvider:    normalizeProvider(getEnv("OCR_PROVIDER", "local"), "textract", "local"),
		OCRMaxAttempts: intEnv("OCR_MAX_ATTEMPTS", 3),
		OCRBackoff:     millisEnv("OCR_BACKOFF_MS", 500),

		LLMProvider: normalizeProvider(getEnv("LLM_PROVIDER", "openai"), "bedrock", "openai"),
		LLMModel:    getEnv("LLM_MODEL", ""),

		SuspendTimeout:      secondsEnv("SUSPEND_TIMEOUT_SECONDS", 300),
		DeadLetterRetention: secondsEnv("DEAD_LETTER_RETENTION_SECONDS", 14*24*60*60),

		WorkerConcurrency: intEnv("WORKER_CONCURRENCY", 4),
		ShutdownTimeout:   secondsEnv("SHUTDOWN_TIMEOUT_SECONDS", 30),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}

func secondsEnv(key string, def int) time.Duration {
	return time.Duration(intEnv(key, def)) * time.Second
}

func millisEnv(key string, def int) time.Duration {
	return time.Duration(intEnv(key, def)) * time.Millisecond
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

// normalizeProvider collapses a raw provider name onto one of the two
// supported values, defaulting to fallback.
func normalizeProvider(raw, match, fallback string) string {
	if strings.ToLower(strings.TrimSpace(raw)) == match {
		return match
	}
	return fallback
}
