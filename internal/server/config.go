package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/piukhq/midas-sub000/internal/core"
	"github.com/piukhq/midas-sub000/internal/publish"
)

// Config holds process configuration from environment variables.
type Config struct {
	Port     string
	GRPCPort string

	DatabaseDSN    string
	DBMaxOpenConns int
	DBTxAttempts   int

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	WorkQueue         string
	WorkerConcurrency int

	Retry           core.RetryPolicy
	CallbackTimeout time.Duration

	// JobTimeout bounds one job run; a task IN_PROGRESS for longer is reclaimed.
	JobTimeout time.Duration

	MessageBus     string
	AWSRegion      string
	AWSEndpointURL string // For LocalStack
	SQSQueueName   string
	SQSWaitSeconds int
	KafkaBrokers   []string
	KafkaTopic     string
	KafkaGroupID   string

	LedgerTable string

	Hermes         publish.HermesConfig
	PublishWorkers int

	// APIKey protects the /tasks endpoints when set.
	APIKey string

	SweepSchedule string
	SweepGrace    time.Duration

	ShutdownTimeout time.Duration
	LogLevel        string
}

// LoadConfig reads configuration from environment variables with defaults.
// A .env file in the working directory, if any, seeds unset variables.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:     getEnv("PORT", "8000"),
		GRPCPort: getEnv("GRPC_PORT", "9090"),

		DatabaseDSN:    getEnv("DATABASE_DSN", "postgres://postgres@localhost:5432/midas?sslmode=disable"),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 10),
		DBTxAttempts:   getEnvInt("DB_TX_ATTEMPTS", 2),

		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		WorkQueue:         getEnv("WORK_QUEUE", "midas_retries"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),

		Retry: core.RetryPolicy{
			BackoffBase:        getEnvFloat("RETRY_BACKOFF_BASE", 3),
			Unit:               time.Minute,
			MaxRetries:         getEnvInt("MAX_RETRY_COUNT", 3),
			MaxCallbackRetries: getEnvInt("MAX_CALLBACK_RETRY_COUNT", 4),
		},
		CallbackTimeout: getEnvDuration("CALLBACK_TIMEOUT", time.Hour),
		JobTimeout:      getEnvDuration("JOB_TIMEOUT", 10*time.Minute),

		MessageBus:     strings.ToLower(getEnv("MESSAGE_BUS", "sqs")),
		AWSRegion:      getEnv("AWS_REGION", "eu-west-2"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""), // Empty = real AWS
		SQSQueueName:   getEnv("SQS_QUEUE_NAME", "midas-events"),
		SQSWaitSeconds: getEnvInt("SQS_WAIT_SECONDS", 20),
		KafkaBrokers:   splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "loyalty-card-events"),
		KafkaGroupID:   getEnv("KAFKA_GROUP_ID", "midas"),

		LedgerTable: getEnv("LEDGER_TABLE", ""),

		Hermes: publish.HermesConfig{
			BaseURL:        getEnv("HERMES_URL", "http://localhost:8000"),
			APIKey:         getEnv("SERVICE_API_KEY", ""),
			Timeout:        getEnvDuration("HERMES_TIMEOUT", 10*time.Second),
			RateLimit:      getEnvInt("HERMES_RATE_LIMIT", 600),
			RateBurst:      getEnvInt("HERMES_RATE_BURST", 10),
			BreakerEnabled: getEnvBool("HERMES_BREAKER", true),
		},
		PublishWorkers: getEnvInt("PUBLISH_WORKERS", 3),

		APIKey: getEnv("API_KEY", ""),

		SweepSchedule: getEnv("SWEEP_SCHEDULE", "@every 5m"),
		SweepGrace:    getEnvDuration("SWEEP_GRACE", 15*time.Minute),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
	return cfg, cfg.Validate()
}

// Validate checks the settings that would otherwise fail at runtime.
func (c Config) Validate() error {
	var errs []error
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.PublishWorkers < 1 {
		errs = append(errs, fmt.Errorf("PUBLISH_WORKERS must be >= 1, got %d", c.PublishWorkers))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.WorkerConcurrency))
	}
	if c.CallbackTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CALLBACK_TIMEOUT must be positive, got %s", c.CallbackTimeout))
	}
	if c.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("JOB_TIMEOUT must be positive, got %s", c.JobTimeout))
	}
	switch c.MessageBus {
	case "sqs", "kafka":
	default:
		errs = append(errs, fmt.Errorf("MESSAGE_BUS must be sqs or kafka, got %q", c.MessageBus))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
