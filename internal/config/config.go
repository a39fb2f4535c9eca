package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Recognition service (OCR)
	OCRServiceURL string
	OCRAPIKey     string
	OCRModel      string

	// Structuring service (LLM)
	LLMServiceURL string
	LLMAPIKey     string
	LLMModel      string

	// HTTP client: per-attempt budget for external calls
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration

	// Pipeline
	ExtractionTimeout time.Duration // end-to-end budget per import
	ChunkConcurrency  int
	TaskWorkers       int
	TaskQueueSize     int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseServiceKey string
	StorageBucket      string

	// JWT / Auth
	JWTSecret string
}

// Load reads configuration from environment variables with defaults.
// A .env file in the working directory is honored but never overrides
// variables already set in the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OCRServiceURL: getEnv("OCR_SERVICE_URL", "http://localhost:8091"),
		OCRAPIKey:     getEnv("OCR_API_KEY", ""),
		OCRModel:      getEnv("OCR_MODEL", "document-recognition-v2"),

		LLMServiceURL: getEnv("LLM_SERVICE_URL", "http://localhost:8092"),
		LLMAPIKey:     getEnv("LLM_API_KEY", ""),
		LLMModel:      getEnv("LLM_MODEL", "gemini-2.0-flash"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 60*time.Second),

		MaxRetries:      getEnvInt("MAX_RETRIES", 2),
		InitialBackoff:  getEnvDuration("INITIAL_BACKOFF", 500*time.Millisecond),
		MaxBackoff:      getEnvDuration("MAX_BACKOFF", 10*time.Second),
		BreakerFailures: getEnvInt("BREAKER_FAILURES", 5),
		BreakerCooldown: getEnvDuration("BREAKER_COOLDOWN", 60*time.Second),

		ExtractionTimeout: getEnvDuration("EXTRACTION_TIMEOUT", 150*time.Second),
		ChunkConcurrency:  getEnvInt("CHUNK_CONCURRENCY", 4),
		TaskWorkers:       getEnvInt("TASK_WORKERS", 4),
		TaskQueueSize:     getEnvInt("TASK_QUEUE_SIZE", 64),

		CacheTTL: getEnvDuration("CACHE_TTL", 10*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", "statements"),

		JWTSecret: getEnv("JWT_SECRET", "ingest-default-dev-secret-change-me"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
