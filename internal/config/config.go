// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	AdminKey        string        `yaml:"admin_key"`
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	EnqueuePerMin   int           `yaml:"enqueue_per_minute"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // memory | postgres
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"` // apply migrations on start
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AIConfig struct {
	Provider          string            `yaml:"provider"` // anthropic | openai | gemini | noop
	AnthropicKey      string            `yaml:"anthropic_key"`
	AnthropicBaseURL  string            `yaml:"anthropic_base_url"`
	OpenAIKey         string            `yaml:"openai_key"`
	OpenAIBaseURL     string            `yaml:"openai_base_url"`
	GeminiKey         string            `yaml:"gemini_key"`
	GeminiURL         string            `yaml:"gemini_url"`
	ModelProviders    map[string]string `yaml:"model_providers"` // model id -> provider
	MaxTokens         int               `yaml:"max_tokens"`
	MaxRetries        int               `yaml:"max_retries"`
	BaseDelay         time.Duration     `yaml:"base_delay"`
	MaxDelay          time.Duration     `yaml:"max_delay"`
	Timeout           time.Duration     `yaml:"timeout"`
	ConcurrentLimit   int               `yaml:"concurrent_limit"` // max concurrent provider calls
	RequestsPerSecond float64           `yaml:"requests_per_second"`
}

type LoopConfig struct {
	MaxIterations   int `yaml:"max_iterations"`
	ReviewThreshold int `yaml:"review_threshold"`
}

type SchedulerConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
}

type BridgeConfig struct {
	Command  string        `yaml:"command"`
	Workdir  string        `yaml:"workdir"`
	MaxTurns int           `yaml:"max_turns"`
	Timeout  time.Duration `yaml:"timeout"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
	Workers int    `yaml:"workers"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	AI        AIConfig        `yaml:"ai"`
	Loop      LoopConfig      `yaml:"loop"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Security  SecurityConfig  `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path (a missing file is fine in dev), loads .env,
// applies env overrides and defaults, then validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && dev:
		// dev runs on defaults
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()
	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.AI.AnthropicKey, "OMNICODER_ANTHROPIC_KEY")
	setStr(&cfg.AI.OpenAIKey, "OMNICODER_OPENAI_KEY")
	setStr(&cfg.AI.GeminiKey, "OMNICODER_GEMINI_KEY")
	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Telegram.Token, "OMNICODER_TELEGRAM_TOKEN")
	setStr(&cfg.HTTP.AdminKey, "OMNICODER_ADMIN_KEY")
	setStr(&cfg.HTTP.JWTSecret, "OMNICODER_JWT_SECRET")
	setStr(&cfg.Security.EncryptionKey, "OMNICODER_ENCRYPTION_KEY")
	if v := os.Getenv("OMNICODER_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.TokenTTL <= 0 {
		cfg.HTTP.TokenTTL = 12 * time.Hour
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTP.EnqueuePerMin <= 0 {
		cfg.HTTP.EnqueuePerMin = 30
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Storage.Driver == "" {
		if cfg.Database.URL != "" {
			cfg.Storage.Driver = "postgres"
		} else {
			cfg.Storage.Driver = "memory"
		}
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "anthropic"
	}
	if cfg.AI.AnthropicBaseURL == "" {
		cfg.AI.AnthropicBaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.AI.MaxTokens <= 0 {
		cfg.AI.MaxTokens = 8000
	}
	if cfg.AI.MaxRetries < 0 {
		cfg.AI.MaxRetries = 0
	} else if cfg.AI.MaxRetries == 0 {
		cfg.AI.MaxRetries = 3
	}
	if cfg.AI.BaseDelay <= 0 {
		cfg.AI.BaseDelay = time.Second
	}
	if cfg.AI.MaxDelay <= 0 {
		cfg.AI.MaxDelay = 60 * time.Second
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 120 * time.Second
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 8
	}

	if cfg.Loop.MaxIterations <= 0 {
		cfg.Loop.MaxIterations = 10
	}
	if cfg.Loop.ReviewThreshold <= 0 {
		cfg.Loop.ReviewThreshold = 70
	}

	if cfg.Scheduler.MaxConcurrent <= 0 {
		cfg.Scheduler.MaxConcurrent = 3
	}
	if cfg.Scheduler.PollInterval <= 0 {
		cfg.Scheduler.PollInterval = 2 * time.Second
	}
	if cfg.Scheduler.CleanupInterval <= 0 {
		cfg.Scheduler.CleanupInterval = time.Hour
	}
	if cfg.Scheduler.LockTTL <= 0 {
		cfg.Scheduler.LockTTL = 30 * time.Second
	}

	if cfg.Bridge.Command == "" {
		cfg.Bridge.Command = "claude"
	}
	if cfg.Bridge.Workdir == "" {
		cfg.Bridge.Workdir = "."
	}
	if cfg.Bridge.MaxTurns <= 0 {
		cfg.Bridge.MaxTurns = 3
	}
	if cfg.Bridge.Timeout <= 0 {
		cfg.Bridge.Timeout = 2 * time.Minute
	}

	if cfg.Telegram.Workers <= 0 {
		cfg.Telegram.Workers = 4
	}
}

// Validate checks cross-field requirements after defaults are applied.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			return errors.New("telegram.token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return errors.New("telegram.chat_id is required when telegram is enabled")
		}
	}
	if k := len(c.Security.EncryptionKey); k != 0 && k != 16 && k != 24 && k != 32 {
		return fmt.Errorf("security.encryption_key must be 16, 24, or 32 bytes; got %d", k)
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
