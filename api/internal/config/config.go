package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"homework-grader/api/internal/logger"
)

type Config struct {
	Port string `yaml:"port"`

	// Engine is the default grading engine: gemini | gpt | claude.
	Engine   string `yaml:"engine"`
	Language string `yaml:"grading_language"`

	GeminiAPIKey    string `yaml:"gemini_api_key"`
	GeminiModel     string `yaml:"gemini_model"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIModel     string `yaml:"openai_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`

	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	SessionTTL     time.Duration `yaml:"-"`
	SweepInterval  time.Duration `yaml:"-"`

	TelegramBotToken string `yaml:"telegram_bot_token"`
	WebhookURL       string `yaml:"webhook_url"`

	LogLevel string `yaml:"log_level"`

	// raw YAML durations
	SessionTTLRaw    string `yaml:"session_ttl"`
	SweepIntervalRaw string `yaml:"session_sweep_interval"`
}

const (
	defaultPort           = "8080"
	defaultGeminiModel    = "gemini-2.5-flash"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultMaxUpload      = 10 << 20
	defaultSessionTTL     = 2 * time.Hour
	defaultSweepInterval  = 10 * time.Minute
)

// Load reads CONFIG_PATH (default config.yaml, optional) and then the
// environment; env wins. Startup aborts on invalid configuration.
func Load() *Config {
	path := getEnv(os.Getenv, "CONFIG_PATH", "config.yaml")
	cfg, err := LoadFrom(path, os.Getenv)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	return cfg
}

func LoadFrom(path string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			logger.WithField("path", path).Info("loaded config file")
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	override(getenv, &cfg.Port, "PORT")
	override(getenv, &cfg.Engine, "GRADER_ENGINE")
	override(getenv, &cfg.Language, "GRADING_LANGUAGE")
	override(getenv, &cfg.GeminiAPIKey, "GEMINI_API_KEY")
	override(getenv, &cfg.GeminiModel, "GEMINI_MODEL")
	override(getenv, &cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	override(getenv, &cfg.OpenAIModel, "OPENAI_MODEL")
	override(getenv, &cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	override(getenv, &cfg.AnthropicModel, "ANTHROPIC_MODEL")
	override(getenv, &cfg.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	override(getenv, &cfg.WebhookURL, "WEBHOOK_URL")
	override(getenv, &cfg.LogLevel, "LOG_LEVEL")
	override(getenv, &cfg.SessionTTLRaw, "SESSION_TTL")
	override(getenv, &cfg.SweepIntervalRaw, "SESSION_SWEEP_INTERVAL")
	if v := strings.TrimSpace(getenv("MAX_UPLOAD_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_UPLOAD_BYTES %q: %w", v, err)
		}
		cfg.MaxUploadBytes = n
	}

	setDefault(&cfg.Port, defaultPort)
	setDefault(&cfg.Engine, "gemini")
	setDefault(&cfg.GeminiModel, defaultGeminiModel)
	setDefault(&cfg.OpenAIModel, defaultOpenAIModel)
	setDefault(&cfg.AnthropicModel, defaultAnthropicModel)
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}

	var err error
	if cfg.SessionTTL, err = parseDuration(cfg.SessionTTLRaw, defaultSessionTTL); err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}
	if cfg.SweepInterval, err = parseDuration(cfg.SweepIntervalRaw, defaultSweepInterval); err != nil {
		return nil, fmt.Errorf("invalid SESSION_SWEEP_INTERVAL: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be > 0 (got %d)", c.MaxUploadBytes)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}

	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	switch c.Engine {
	case "gemini":
		return requireKey(c.GeminiAPIKey, "GEMINI_API_KEY")
	case "gpt", "openai":
		c.Engine = "gpt"
		return requireKey(c.OpenAIAPIKey, "OPENAI_API_KEY")
	case "claude", "anthropic":
		c.Engine = "claude"
		return requireKey(c.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	default:
		return fmt.Errorf("unknown GRADER_ENGINE %q (gemini | gpt | claude)", c.Engine)
	}
}

// RequireTelegram is checked by the bot binary only.
func (c *Config) RequireTelegram() error {
	return requireKey(c.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
}

// SweepSchedule is the cron spec for the session reaper.
func (c *Config) SweepSchedule() string {
	return "@every " + c.SweepInterval.String()
}

func (c *Config) ServerAddress() string { return "0.0.0.0:" + strings.TrimSpace(c.Port) }

func requireKey(v, name string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("missing required env %s", name)
	}
	return nil
}

func getEnv(getenv func(string) string, k, def string) string {
	if v := getenv(k); v != "" {
		return v
	}
	return def
}

func override(getenv func(string) string, dst *string, k string) {
	if v := strings.TrimSpace(getenv(k)); v != "" {
		*dst = v
	}
}

func setDefault(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}
