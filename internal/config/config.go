package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendDynamoDB = "dynamodb"
)

// Config contains all runtime settings for the tutor service. It is read once
// at startup; nothing below internal/app reads the environment.
type Config struct {
	StorageBackend   string
	SessionPath      string
	StateTable       string
	SessionRetention time.Duration

	OpenAIAPIKey  string
	ParamPrefix   string
	OpenAIBaseURL string
	OpenAIModel   string
	LLMTimeout    time.Duration

	MaxMessageLength int
	CORSOrigins      []string

	LogLevel         string
	Port             int
	ShutdownTimeout  time.Duration
	MetricsNamespace string
}

// Load reads environment variables and applies defaults.
func Load() (Config, error) {
	cfg := Config{
		StorageBackend:   strings.ToLower(envOrDefault("STORAGE_BACKEND", BackendFile)),
		SessionPath:      envOrDefault("SESSION_STORAGE_PATH", "data/sessions.json"),
		StateTable:       trimmedEnv("STATE_TABLE"),
		OpenAIAPIKey:     trimmedEnv("OPENAI_API_KEY"),
		ParamPrefix:      trimmedEnv("PARAM_PREFIX"),
		OpenAIBaseURL:    envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:      envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		CORSOrigins:      splitList(envOrDefault("CORS_ORIGINS", "*")),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		MetricsNamespace: envOrDefault("METRICS_NAMESPACE", "tutor"),
	}

	var err error
	if cfg.SessionRetention, err = durationFromEnv("SESSION_RETENTION", 720*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = durationFromEnv("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessageLength, err = intFromEnv("MAX_MESSAGE_LENGTH", 2000); err != nil {
		return Config{}, err
	}
	if cfg.Port, err = intFromEnv("PORT", 8080); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StorageBackend {
	case BackendMemory, BackendFile:
	case BackendDynamoDB:
		if c.StateTable == "" {
			return errors.New("STATE_TABLE is required when STORAGE_BACKEND=dynamodb")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of memory, file, dynamodb; got %q", c.StorageBackend)
	}
	if c.StorageBackend == BackendFile && strings.TrimSpace(c.SessionPath) == "" {
		return errors.New("SESSION_STORAGE_PATH must not be empty")
	}
	if c.SessionRetention < 0 {
		return errors.New("SESSION_RETENTION must be >= 0")
	}
	if c.LLMTimeout <= 0 {
		return errors.New("LLM_TIMEOUT must be positive")
	}
	if c.MaxMessageLength <= 0 {
		return errors.New("MAX_MESSAGE_LENGTH must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.OpenAIAPIKey == "" && c.ParamPrefix == "" {
		return errors.New("either OPENAI_API_KEY or PARAM_PREFIX must be set")
	}
	return nil
}

// UsesAWS reports whether the configuration needs an AWS SDK config.
func (c Config) UsesAWS() bool {
	return c.StorageBackend == BackendDynamoDB || c.OpenAIAPIKey == ""
}

// Addr is the listen address of the local server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	if v == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
