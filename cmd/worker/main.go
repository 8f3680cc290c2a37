package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"refermail/internal/config"
	"refermail/internal/database"
	"refermail/internal/docfetch"
	"refermail/internal/llm"
	"refermail/internal/metrics"
	"refermail/internal/profile"
	"refermail/internal/storage"
	"refermail/internal/tasks"
	"refermail/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	llmClient, closeBackends, err := buildLLMClient(context.Background(), cfg.LLM, logger)
	if err != nil {
		log.Fatalf("init llm client: %v", err)
	}
	defer closeBackends()
	logger.Info("llm client ready", slog.Any("backends", llmClient.Backends()))

	fetcher := docfetch.NewFetcher(storageClient, cfg.Upload.MaxBytes)
	pipeline := profile.NewPipeline(fetcher, llmClient, logger)
	profiles := profile.NewStore(db)
	notifier := worker.NewRedisNotifier(redisClient)

	policy := tasks.PolicyFromConfig(cfg.Worker)
	server := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}, asynq.Config{
		Concurrency:    cfg.Worker.Concurrency,
		RetryDelayFunc: policy.AsynqDelayFunc(),
	})

	resumeHandler := worker.NewResumeTaskHandler(db, pipeline, profiles, notifier, logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeResumeProcess, resumeHandler)

	logger.Info("worker service started",
		slog.String("redis_addr", cfg.Redis.Addr()),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}

// buildLLMClient 按配置装配补全后端，API Key 为空的后端视为未启用。
func buildLLMClient(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*llm.Client, func(), error) {
	var backends []llm.Backend
	var closers []func() error

	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, fmt.Errorf("init gemini backend: %w", err)
		}
		backends = append(backends, gemini)
		closers = append(closers, gemini.Close)
	}
	if cfg.GroqAPIKey != "" {
		groq, err := llm.NewGroqBackend(cfg.GroqAPIKey, cfg.GroqModel)
		if err != nil {
			return nil, nil, fmt.Errorf("init groq backend: %w", err)
		}
		backends = append(backends, groq)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close llm backend", slog.Any("error", err))
			}
		}
	}
	return llm.NewClient(logger, cfg.RequestTimeout, backends...), closeAll, nil
}
