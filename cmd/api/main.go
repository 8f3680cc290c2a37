package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"refermail/internal/api"
	"refermail/internal/auth"
	"refermail/internal/config"
	"refermail/internal/database"
	"refermail/internal/llm"
	"refermail/internal/storage"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.MigrateAll(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	logger.Info("database ready",
		slog.String("host", cfg.Database.Host),
		slog.String("name", cfg.Database.Name),
	)

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	authService, err := loadAuthService(cfg.Auth)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	llmClient, closeBackends, err := buildLLMClient(context.Background(), cfg.LLM, logger)
	if err != nil {
		log.Fatalf("init llm client: %v", err)
	}
	defer closeBackends()
	logger.Info("llm client ready", slog.Any("backends", llmClient.Backends()))

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, db, asynqClient, authService, redisClient, logger, storageClient, llmClient, cfg)

	address := fmt.Sprintf(":%d", cfg.API.Port)
	logger.Info("api listening", slog.String("address", address))
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}

func loadAuthService(cfg config.AuthConfig) (*auth.AuthService, error) {
	publicKey, err := os.ReadFile(cfg.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}

	var privateKey []byte
	if cfg.PrivateKeyFile != "" {
		privateKey, err = os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
	}

	return auth.NewAuthService(publicKey, privateKey, cfg.AccessTokenTTL)
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
