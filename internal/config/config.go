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

const configPathEnv = "CONFIG_PATH"

// Config holds every runtime setting of the service.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	Session  SessionConfig  `yaml:"session"`
	Mail     MailConfig     `yaml:"mail"`
	LLM      LLMConfig      `yaml:"llm"`
}

type HTTPConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// APIConfig points at the portal's REST backend.
type APIConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Timeout time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL     string        `yaml:"url"`
	LockTTL time.Duration `yaml:"lockTtl"`
}

type RabbitMQConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SessionConfig struct {
	File string `yaml:"file"`
	// AllowRemote lets non-loopback callers log in and out.
	AllowRemote bool `yaml:"allowRemote"`
}

// MailConfig drives the recruiter-mailbox watcher.
type MailConfig struct {
	Enabled         bool          `yaml:"enabled"`
	CredentialsFile string        `yaml:"credentialsFile"`
	TokenFile       string        `yaml:"tokenFile"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	Query           string        `yaml:"query"`
}

type LLMConfig struct {
	APIKey string `yaml:"apiKey"`
	Model  string `yaml:"model"`
}

// Default returns a configuration usable for local development.
func Default() Config {
	return Config{
		HTTP:     HTTPConfig{Port: "8080"},
		API:      APIConfig{BaseURL: "http://localhost:5000/api", Timeout: 10 * time.Second},
		Redis:    RedisConfig{LockTTL: 30 * time.Second},
		RabbitMQ: RabbitMQConfig{Queue: "application_stage_changes"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Session:  SessionConfig{File: "session.json"},
		Mail: MailConfig{
			CredentialsFile: "credential.json",
			TokenFile:       "token.json",
			PollInterval:    time.Minute,
			Query:           "subject:(application OR interview OR shortlist OR offer OR rejected OR status) newer_than:7d",
		},
		LLM: LLMConfig{Model: "gemini-2.5-flash"},
	}
}

// Load reads .env, an optional YAML file named by CONFIG_PATH, and then
// environment overrides, in that order of increasing precedence.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(configPathEnv)); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTP.Port = envOr("HTTP_PORT", c.HTTP.Port)
	if origins := envOr("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		c.HTTP.AllowedOrigins = splitList(origins)
	}
	c.API.BaseURL = envOr("API_BASE_URL", c.API.BaseURL)
	c.API.Timeout = durationOr("API_TIMEOUT", c.API.Timeout)
	c.Database.DSN = envOr("DATABASE_URL", c.Database.DSN)
	c.Redis.URL = envOr("REDIS_URL", c.Redis.URL)
	c.Redis.LockTTL = durationOr("SUBMIT_LOCK_TTL", c.Redis.LockTTL)
	c.RabbitMQ.URL = envOr("RABBITMQ_URL", c.RabbitMQ.URL)
	c.RabbitMQ.Queue = envOr("RABBITMQ_QUEUE", c.RabbitMQ.Queue)
	c.Logging.Level = envOr("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envOr("LOG_FORMAT", c.Logging.Format)
	c.Session.File = envOr("SESSION_FILE", c.Session.File)
	c.Session.AllowRemote = boolOr("SESSION_ALLOW_REMOTE", c.Session.AllowRemote)
	c.Mail.Enabled = boolOr("MAIL_WATCHER_ENABLED", c.Mail.Enabled)
	c.Mail.CredentialsFile = envOr("GMAIL_CREDENTIALS_FILE", c.Mail.CredentialsFile)
	c.Mail.TokenFile = envOr("GMAIL_TOKEN_FILE", c.Mail.TokenFile)
	c.Mail.PollInterval = durationOr("MAIL_POLL_INTERVAL", c.Mail.PollInterval)
	c.LLM.APIKey = envOr("GEMINI_API_KEY", c.LLM.APIKey)
	c.LLM.Model = envOr("GEMINI_MODEL", c.LLM.Model)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.API.BaseURL) == "" {
		problems = append(problems, "API_BASE_URL is required")
	}
	if c.API.Timeout <= 0 {
		problems = append(problems, "API_TIMEOUT must be positive")
	}
	if c.HTTP.Port == "" {
		problems = append(problems, "HTTP_PORT is required")
	}
	if c.Mail.Enabled {
		if c.Database.DSN == "" {
			problems = append(problems, "DATABASE_URL is required by the mail watcher")
		}
		if c.LLM.APIKey == "" {
			problems = append(problems, "GEMINI_API_KEY is required by the mail watcher")
		}
		if c.Mail.PollInterval < 10*time.Second {
			problems = append(problems, "MAIL_POLL_INTERVAL must be at least 10s")
		}
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func durationOr(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func boolOr(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
