package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port         string     `env:"PORT" envDefault:"8080"`
	Environment  string     `env:"ENVIRONMENT" envDefault:"development"`
	LogLevelName string     `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel     slog.Level `env:"-"`
	WorkerID     string     `env:"WORKER_ID"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/pbem.db"`
	RedisURL     string `env:"REDIS_URL"`

	LLMProvider     string        `env:"LLM_PROVIDER" envDefault:"anthropic"`
	ModelName       string        `env:"MODEL_NAME"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	GeminiAPIKey    string        `env:"GEMINI_API_KEY"`
	OllamaBaseURL   string        `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	LLMTimeout      time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`

	PollInterval        time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	GuardAcquireTimeout time.Duration `env:"GUARD_ACQUIRE_TIMEOUT" envDefault:"2m"`
	LockTTL             time.Duration `env:"LOCK_TTL" envDefault:"5m"`
	BatchSize           int           `env:"BATCH_SIZE" envDefault:"10"`
	BatchErrorCap       int           `env:"BATCH_ERROR_CAP" envDefault:"20"`
	MaxAttempts         int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	RetryDelay          time.Duration `env:"RETRY_DELAY" envDefault:"1m"`

	Summary    SummaryConfig
	Initiative string `env:"INITIATIVE" envDefault:"by_id"`

	NarratorAddress string `env:"NARRATOR_ADDRESS" envDefault:"ia_narrator@aimailrol.com"`
	MailDomain      string `env:"MAIL_DOMAIN" envDefault:"aimailrol.com"`
}

// SummaryConfig holds the two-tier summarization thresholds
type SummaryConfig struct {
	MaxRaw      int `env:"MAX_RAW" envDefault:"10"`
	NPure       int `env:"N_PURE" envDefault:"3"`
	MaxScenes   int `env:"MAX_SCENES" envDefault:"5"`
	ScenesPure  int `env:"SCENES_PURE" envDefault:"2"`
	MaxStories  int `env:"MAX_STORIES" envDefault:"5"`
	StoriesPure int `env:"STORIES_PURE" envDefault:"2"`
	MaxChars    int `env:"MAX_SUMMARY_CHARS" envDefault:"4000"`
}

// Load reads the configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	s := c.Summary
	switch {
	case s.MaxRaw <= 0 || s.NPure < 0 || s.NPure >= s.MaxRaw:
		return fmt.Errorf("invalid message thresholds: MAX_RAW=%d N_PURE=%d", s.MaxRaw, s.NPure)
	case s.MaxScenes <= 0 || s.ScenesPure < 0 || s.ScenesPure >= s.MaxScenes:
		return fmt.Errorf("invalid scene thresholds: MAX_SCENES=%d SCENES_PURE=%d", s.MaxScenes, s.ScenesPure)
	case s.MaxStories <= 0 || s.StoriesPure < 0 || s.StoriesPure >= s.MaxStories:
		return fmt.Errorf("invalid story thresholds: MAX_STORIES=%d STORIES_PURE=%d", s.MaxStories, s.StoriesPure)
	case c.PollInterval <= 0:
		return fmt.Errorf("POLL_INTERVAL must be positive")
	case c.LLMTimeout <= 0:
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	case c.BatchSize <= 0:
		return fmt.Errorf("BATCH_SIZE must be positive")
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
