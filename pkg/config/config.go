package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/noah-isme/tm-inbox-console/internal/models"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env      string
	Reviewer string

	API           APIConfig
	Queue         QueueConfig
	Lookup        LookupConfig
	Redis         RedisConfig
	Log           LogConfig
	Metrics       MetricsConfig
	Views         ViewsConfig
	Consolidation ConsolidationConfig
	DevServer     DevServerConfig
}

// APIConfig describes how the console reaches the remote inbox service.
type APIConfig struct {
	BaseURL          string
	Timeout          time.Duration
	Retries          int
	TokenSecret      string
	TokenTTL         time.Duration
	TokenIssuer      string
	BreakerFailures  int
	BreakerTimeout   time.Duration
	BreakerHalfOpens int
}

// QueueConfig tunes the review queue view.
type QueueConfig struct {
	DebounceInterval time.Duration
	DefaultPageSize  int
}

// LookupConfig governs the series/book lookup cache.
type LookupConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig exposes prometheus collectors over HTTP when Addr is set.
type MetricsConfig struct {
	Addr string
}

// ViewsConfig locates the saved views file.
type ViewsConfig struct {
	File string
}

// ConsolidationConfig configures the asynchronous consolidation queue.
type ConsolidationConfig struct {
	Retries    int
	RetryDelay time.Duration
}

// DevServerConfig configures the local in-memory inbox service.
type DevServerConfig struct {
	Port           int
	AllowedOrigins []string
	// Seed is how many sample pairs the server starts with.
	Seed int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Reviewer = strings.TrimSpace(v.GetString("REVIEWER"))

	cfg.API = APIConfig{
		BaseURL:          strings.TrimRight(v.GetString("INBOX_API_URL"), "/"),
		Timeout:          parseDuration(v.GetString("INBOX_API_TIMEOUT"), 15*time.Second),
		Retries:          v.GetInt("INBOX_API_RETRIES"),
		TokenSecret:      v.GetString("INBOX_API_TOKEN_SECRET"),
		TokenTTL:         parseDuration(v.GetString("INBOX_API_TOKEN_TTL"), 15*time.Minute),
		TokenIssuer:      v.GetString("INBOX_API_TOKEN_ISSUER"),
		BreakerFailures:  v.GetInt("INBOX_BREAKER_FAILURES"),
		BreakerTimeout:   parseDuration(v.GetString("INBOX_BREAKER_TIMEOUT"), 30*time.Second),
		BreakerHalfOpens: v.GetInt("INBOX_BREAKER_HALF_OPEN_REQUESTS"),
	}

	cfg.Queue = QueueConfig{
		DebounceInterval: parseDuration(v.GetString("DEBOUNCE_INTERVAL"), 400*time.Millisecond),
		DefaultPageSize:  v.GetInt("DEFAULT_PAGE_SIZE"),
	}
	if !models.IsAllowedPageSize(cfg.Queue.DefaultPageSize) {
		return nil, fmt.Errorf("DEFAULT_PAGE_SIZE %d is not one of %v", cfg.Queue.DefaultPageSize, models.AllowedPageSizes)
	}

	cfg.Lookup = LookupConfig{
		CacheEnabled: v.GetBool("LOOKUP_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("LOOKUP_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
		Output: v.GetString("LOG_OUTPUT"),
	}

	cfg.Metrics = MetricsConfig{Addr: v.GetString("METRICS_ADDR")}

	cfg.Views = ViewsConfig{File: expandHome(v.GetString("VIEWS_FILE"))}

	cfg.Consolidation = ConsolidationConfig{
		Retries:    v.GetInt("CONSOLIDATE_RETRIES"),
		RetryDelay: parseDuration(v.GetString("CONSOLIDATE_RETRY_DELAY"), 5*time.Second),
	}

	cfg.DevServer = DevServerConfig{
		Port:           v.GetInt("DEV_SERVER_PORT"),
		AllowedOrigins: splitAndTrim(v.GetString("DEV_SERVER_ALLOWED_ORIGINS")),
		Seed:           v.GetInt("DEV_SERVER_SEED"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("REVIEWER", "")

	v.SetDefault("INBOX_API_URL", "http://localhost:8080")
	v.SetDefault("INBOX_API_TIMEOUT", "15s")
	v.SetDefault("INBOX_API_RETRIES", 2)
	v.SetDefault("INBOX_API_TOKEN_SECRET", "")
	v.SetDefault("INBOX_API_TOKEN_TTL", "15m")
	v.SetDefault("INBOX_API_TOKEN_ISSUER", "inbox-console")
	v.SetDefault("INBOX_BREAKER_FAILURES", 5)
	v.SetDefault("INBOX_BREAKER_TIMEOUT", "30s")
	v.SetDefault("INBOX_BREAKER_HALF_OPEN_REQUESTS", 1)

	v.SetDefault("DEBOUNCE_INTERVAL", "400ms")
	v.SetDefault("DEFAULT_PAGE_SIZE", 20)

	v.SetDefault("LOOKUP_CACHE_ENABLED", true)
	v.SetDefault("LOOKUP_CACHE_TTL", "10m")

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_OUTPUT", "stderr")

	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("VIEWS_FILE", "~/.inbox-console/views.yaml")

	v.SetDefault("CONSOLIDATE_RETRIES", 3)
	v.SetDefault("CONSOLIDATE_RETRY_DELAY", "5s")

	v.SetDefault("DEV_SERVER_PORT", 8090)
	v.SetDefault("DEV_SERVER_ALLOWED_ORIGINS", "")
	v.SetDefault("DEV_SERVER_SEED", 50)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
