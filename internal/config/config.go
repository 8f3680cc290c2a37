package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Auth     AuthConfig     `mapstructure:"auth"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Clamd    ClamdConfig    `mapstructure:"clamd"`
	Upload   UploadConfig   `mapstructure:"upload"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置（Asynq 队列与通知 Pub/Sub 共用）。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Region           string `mapstructure:"region"`
	Bucket           string `mapstructure:"bucket"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig contains JWT validation settings. Tokens are issued by the
// identity provider; the private key is only needed by cmd/admin and tests.
type AuthConfig struct {
	PublicKeyFile  string        `mapstructure:"public_key_file"`
	PrivateKeyFile string        `mapstructure:"private_key_file"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// LLMConfig 描述补全后端的启用与模型配置。
// 某个后端的 API Key 为空即视为该后端未启用。
type LLMConfig struct {
	GeminiAPIKey   string        `mapstructure:"gemini_api_key"`
	GeminiModel    string        `mapstructure:"gemini_model"`
	GroqAPIKey     string        `mapstructure:"groq_api_key"`
	GroqModel      string        `mapstructure:"groq_model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// WorkerConfig 描述队列消费端的并发与重试策略。
type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
}

// ClamdConfig contains the clamd scanner address; empty disables scanning.
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// UploadConfig 限制简历上传的大小。
type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Addr returns the host:port form used by redis and asynq clients.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "refermail")
	v.SetDefault("database.user", "refermail")
	v.SetDefault("database.password", "refermail")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "resumes")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("llm.gemini_model", "gemini-1.5-flash")
	v.SetDefault("llm.groq_model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.request_timeout", 60*time.Second)
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.retry_base_delay", 30*time.Second)
	v.SetDefault("worker.rate_limit_delay", 5*time.Minute)
	v.SetDefault("upload.max_bytes", 20*1024*1024)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                 "API_PORT",
		"database.host":            "DATABASE_HOST",
		"database.port":            "DATABASE_PORT",
		"database.name":            "POSTGRES_DB",
		"database.user":            "POSTGRES_USER",
		"database.password":        "POSTGRES_PASSWORD",
		"database.sslmode":         "DATABASE_SSLMODE",
		"redis.host":               "REDIS_HOST",
		"redis.port":               "REDIS_PORT",
		"minio.endpoint":           "MINIO_ENDPOINT",
		"minio.public_endpoint":    "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":      "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":  "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":            "MINIO_USE_SSL",
		"minio.region":             "MINIO_REGION",
		"minio.bucket":             "MINIO_BUCKET",
		"minio.bucket_lookup":      "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket": "MINIO_AUTO_CREATE_BUCKET",
		"auth.public_key_file":     "JWT_PUBLIC_KEY_FILE",
		"auth.private_key_file":    "JWT_PRIVATE_KEY_FILE",
		"auth.access_token_ttl":    "JWT_ACCESS_TOKEN_TTL",
		"llm.gemini_api_key":       "GEMINI_API_KEY",
		"llm.gemini_model":         "GEMINI_MODEL",
		"llm.groq_api_key":         "GROQ_API_KEY",
		"llm.groq_model":           "GROQ_MODEL",
		"llm.request_timeout":      "LLM_REQUEST_TIMEOUT",
		"worker.concurrency":       "WORKER_CONCURRENCY",
		"worker.max_attempts":      "WORKER_MAX_ATTEMPTS",
		"worker.retry_base_delay":  "WORKER_RETRY_BASE_DELAY",
		"worker.rate_limit_delay":  "WORKER_RATE_LIMIT_DELAY",
		"clamd.addr":               "CLAMD_ADDR",
		"upload.max_bytes":         "UPLOAD_MAX_BYTES",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.PublicKeyFile == "" {
		return errors.New("jwt public key file is required")
	}
	if cfg.Auth.AccessTokenTTL <= 0 {
		return errors.New("jwt access token ttl must be positive")
	}
	if cfg.LLM.RequestTimeout <= 0 {
		return errors.New("llm request timeout must be positive")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	if cfg.Worker.MaxAttempts <= 0 {
		return errors.New("worker max attempts must be positive")
	}
	if cfg.Worker.RetryBaseDelay <= 0 {
		return errors.New("worker retry base delay must be positive")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return errors.New("upload max bytes must be positive")
	}
	return nil
}
