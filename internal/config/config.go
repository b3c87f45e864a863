// Package config provides environment configuration for the API server and the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Environment        string
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Primary database: conversations, turns, audit trail
	DatabaseDriver string
	DatabaseURL    string

	// Read-only replica queried by the agent
	ReplicaDriver   string
	ReplicaURL      string
	ReplicaMaxConns int

	// Query bounds
	QueryMaxRows     int
	QueryBatchSize   int
	QueryBusyTimeout time.Duration
	SchemaCacheTTL   time.Duration

	// LLM settings
	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	GeminiAPIKey    string

	// Agent settings
	AgentMaxIterations int
	AgentMaxTokens     int
	LLMCallTimeout     time.Duration
	ClassifySmallTalk  bool
	HistoryLimit       int
	Timezone           string
	BusinessRulesFile  string

	// JWT settings; auth is off when the secret is empty
	JWTSecret string

	// CORS origins; empty allows any http(s) origin
	AllowedOrigins []string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// NATS settings; the mirror is off when the URL is empty
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// LoadEnvFile loads variables from dotenv files into the environment without overriding
// variables that are already set. With no paths it reads ./.env; a missing file is not an error.
func LoadEnvFile(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		Environment:        getEnv("ENV", "production"),
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 180*time.Second),

		// Databases
		DatabaseDriver:  getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:     getEnv("DATABASE_URL", "chat_analytics.db"),
		ReplicaDriver:   getEnv("REPLICA_DRIVER", ""),
		ReplicaURL:      getEnv("REPLICA_URL", ""),
		ReplicaMaxConns: getIntEnv("REPLICA_MAX_CONNS", 4),

		// Query bounds
		QueryMaxRows:     getIntEnv("QUERY_MAX_ROWS", 200),
		QueryBatchSize:   getIntEnv("QUERY_BATCH_SIZE", 50),
		QueryBusyTimeout: getDurationEnv("QUERY_BUSY_TIMEOUT", 5*time.Second),
		SchemaCacheTTL:   getDurationEnv("SCHEMA_CACHE_TTL", time.Hour),

		// LLM
		LLMProvider:     getEnv("LLM_PROVIDER", "openai"),
		LLMModel:        getEnv("LLM_MODEL", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),

		// Agent
		AgentMaxIterations: getIntEnv("AGENT_MAX_ITERATIONS", 5),
		AgentMaxTokens:     getIntEnv("AGENT_MAX_TOKENS", 1024),
		LLMCallTimeout:     getDurationEnv("LLM_CALL_TIMEOUT", 60*time.Second),
		ClassifySmallTalk:  getBoolEnv("CLASSIFY_SMALL_TALK", true),
		HistoryLimit:       getIntEnv("HISTORY_LIMIT", 10),
		Timezone:           getEnv("TIMEZONE", "Asia/Kolkata"),
		BusinessRulesFile:  getEnv("BUSINESS_RULES_FILE", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// CORS
		AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// ReplicaSettings returns the replica driver and DSN. Without an explicit replica the
// primary database is queried through a read-only session.
func (c *Config) ReplicaSettings() (driver, dsn string) {
	if c.ReplicaURL == "" {
		return c.DatabaseDriver, c.DatabaseURL
	}
	driver = c.ReplicaDriver
	if driver == "" {
		driver = c.DatabaseDriver
	}
	return driver, c.ReplicaURL
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// APIKey returns the key of the configured LLM provider.
func (c *Config) APIKey() string {
	switch strings.ToLower(c.LLMProvider) {
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

// Validate checks the settings needed to answer questions.
func (c *Config) Validate() error {
	var errs []error
	if c.APIKey() == "" {
		errs = append(errs, fmt.Errorf("an API key is required for LLM provider %q", c.LLMProvider))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.QueryMaxRows <= 0 {
		errs = append(errs, errors.New("QUERY_MAX_ROWS must be positive"))
	}
	if c.AgentMaxIterations <= 0 {
		errs = append(errs, errors.New("AGENT_MAX_ITERATIONS must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var values []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
