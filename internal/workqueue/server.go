package workqueue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// ServerConfig configures the worker process.
type ServerConfig struct {
	Queue           string
	Concurrency     int
	ShutdownTimeout time.Duration
}

// Middleware wraps every job handler.
type Middleware func(asynq.Handler) asynq.Handler

// Server runs job handlers pulled from the work queue.
type Server struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	logger     *slog.Logger
	middleware []Middleware
}

// NewServer creates a worker server.
func NewServer(redisOpt asynq.RedisConnOpt, cfg ServerConfig, logger *slog.Logger) *Server {
	con := cfg.Concurrency
	if con <= 0 {
		con = 10
	}
	q := cfg.Queue
	if q == "" {
		q = "default"
	}
	if logger == nil {
		logger = slog.Default()
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     con,
		Queues:          map[string]int{q: 1},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          &asynqLogger{logger: logger.With("component", "asynq")},
	})
	return &Server{server: server, mux: asynq.NewServeMux(), logger: logger}
}

// Handle registers h for the task type.
func (s *Server) Handle(taskType string, h asynq.Handler) {
	s.mux.Handle(taskType, h)
}

// Use appends middleware applied outside the logging middleware.
func (s *Server) Use(mw ...Middleware) {
	s.middleware = append(s.middleware, mw...)
}

// Start begins processing in the background.
func (s *Server) Start() error {
	var h asynq.Handler = s.lifecycleMiddleware(s.mux)
	for i := len(s.middleware) - 1; i >= 0; i-- {
		h = s.middleware[i](h)
	}
	return s.server.Start(h)
}

// Shutdown waits for in-flight jobs up to the shutdown timeout.
func (s *Server) Shutdown() { s.server.Shutdown() }

func (s *Server) lifecycleMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		id, _ := asynq.GetTaskID(ctx)
		retried, _ := asynq.GetRetryCount(ctx)
		start := time.Now()

		err := next.ProcessTask(ctx, t)

		attrs := []any{
			"job_id", id,
			"type", t.Type(),
			"redelivery", retried,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if err != nil {
			s.logger.Error("job failed", append(attrs, "error", err)...)
		} else {
			s.logger.Debug("job completed", attrs...)
		}
		return err
	})
}

// RedisOptions builds the asynq connection options.
func RedisOptions(addr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
}

// RedisChecker pings the work queue's Redis.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a checker for the Redis behind opt.
func NewRedisChecker(opt asynq.RedisClientOpt) *RedisChecker {
	return &RedisChecker{client: redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	})}
}

func (c *RedisChecker) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *RedisChecker) Close() error { return c.client.Close() }

// asynqLogger adapts slog to asynq.Logger.
type asynqLogger struct {
	logger *slog.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
