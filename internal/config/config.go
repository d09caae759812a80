package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	LLM      LLMConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Notify   NotifyConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type LLMConfig struct {
	OpenAIKey        string
	AnthropicKey     string
	DefaultProvider  string
	DefaultModel     string
	VisionModel      string
	EmbeddingModel   string
	FallbackProvider string
	MaxRetries       int
}

type StorageConfig struct {
	SupabaseURL string
	SupabaseKey string
	Bucket      string
}

type PipelineConfig struct {
	ValidationPages  int // leading pages rasterized for validation
	RefineThreshold  int // confidence below this gets a second pass
	RetentionDays    int // grace period before hard delete
	MaxUploadBytes   int64
	RasterDPI        int
}

type NotifyConfig struct {
	ServiceURL string
	Secret     string
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxRetries, err := getEnvInt("LLM_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_MAX_RETRIES: %w", err)
	}

	validationPages, err := getEnvInt("PIPELINE_VALIDATION_PAGES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_VALIDATION_PAGES: %w", err)
	}

	refineThreshold, err := getEnvInt("PIPELINE_REFINE_THRESHOLD", 70)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_REFINE_THRESHOLD: %w", err)
	}

	retentionDays, err := getEnvInt("PIPELINE_RETENTION_DAYS", 30)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_RETENTION_DAYS: %w", err)
	}

	rasterDPI, err := getEnvInt("PIPELINE_RASTER_DPI", 150)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_RASTER_DPI: %w", err)
	}

	maxUpload, err := getEnvInt("PIPELINE_MAX_UPLOAD_MB", 32)
	if err != nil {
		return nil, fmt.Errorf("invalid PIPELINE_MAX_UPLOAD_MB: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "openai"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "gpt-4o-mini"),
			VisionModel:      getEnv("LLM_VISION_MODEL", "gpt-4o"),
			EmbeddingModel:   getEnv("LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			MaxRetries:       maxRetries,
		},
		Storage: StorageConfig{
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "statements"),
		},
		Pipeline: PipelineConfig{
			ValidationPages: validationPages,
			RefineThreshold: refineThreshold,
			RetentionDays:   retentionDays,
			MaxUploadBytes:  int64(maxUpload) << 20,
			RasterDPI:       rasterDPI,
		},
		Notify: NotifyConfig{
			ServiceURL: getEnv("NOTIFY_SERVICE_URL", ""),
			Secret:     getEnv("NOTIFY_SECRET", ""),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
