package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/turanyalin/MachineLearningHuggingFaceDataFetchingScript/pkg/errors"
)

// Retry policy names accepted by COLLAB_RETRY_POLICY
const (
	RetryNone    = "none"
	RetryFixed   = "fixed"
	RetryBackoff = "backoff"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Hub
	HubEndpoint    string
	HubToken       string // passed through as a bearer token, never stored
	RepoKind       string // model, space or dataset
	SortBy         string
	Direction      int
	Limit          int     // explicit limit; 0 means derive from TopPercent
	TopPercent     float64 // share of EstimatedTotal to collect
	EstimatedTotal int
	RequestTimeout time.Duration

	// Collection
	Concurrency int
	RetryPolicy string
	MaxRetries  int
	RetryDelay  time.Duration
	RunTimeout  time.Duration // 0 disables the run-level deadline
	OutputDir   string
	LogFile     string
	Schedule    string // cron expression used by the serve command

	// Neo4j
	Neo4jEnabled  bool
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		HubEndpoint:    strings.TrimRight(getEnv("HF_ENDPOINT", "https://huggingface.co"), "/"),
		HubToken:       getEnv("HF_TOKEN", ""),
		RepoKind:       getEnv("HF_REPO_KIND", "model"),
		SortBy:         getEnv("HF_SORT", "downloads"),
		Direction:      getEnvInt("HF_DIRECTION", -1),
		Limit:          getEnvInt("HF_LIMIT", 0),
		TopPercent:     getEnvFloat("HF_TOP_PERCENT", 1),
		EstimatedTotal: getEnvInt("HF_ESTIMATED_TOTAL", 1531678),
		RequestTimeout: getEnvDuration("HF_REQUEST_TIMEOUT", 30*time.Second),
		Concurrency:    getEnvInt("COLLAB_CONCURRENCY", 10),
		RetryPolicy:    strings.ToLower(getEnv("COLLAB_RETRY_POLICY", RetryNone)),
		MaxRetries:     getEnvInt("COLLAB_MAX_RETRIES", 3),
		RetryDelay:     getEnvDuration("COLLAB_RETRY_DELAY", 60*time.Second),
		RunTimeout:     getEnvDuration("COLLAB_RUN_TIMEOUT", 0),
		OutputDir:      getEnv("COLLAB_OUTPUT_DIR", "data"),
		LogFile:        getEnv("COLLAB_LOG_FILE", ""),
		Schedule:       getEnv("COLLAB_SCHEDULE", "0 0 * * *"),
		Neo4jEnabled:   getEnvBool("NEO4J_ENABLED", false),
		Neo4jURI:       getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:      getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:  getEnv("NEO4J_PASSWORD", "password"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.HubEndpoint == "" {
		return apperrors.NewConfigMissingRequired("HF_ENDPOINT")
	}
	switch c.RepoKind {
	case "model", "space", "dataset":
	default:
		return apperrors.NewConfigValidationFailed("HF_REPO_KIND", fmt.Sprintf("unknown repository kind %q", c.RepoKind))
	}
	if c.Direction != -1 && c.Direction != 1 {
		return apperrors.NewConfigValidationFailed("HF_DIRECTION", "must be -1 or 1")
	}
	if c.Limit < 0 {
		return apperrors.NewConfigValidationFailed("HF_LIMIT", "must not be negative")
	}
	if c.Limit == 0 && (c.TopPercent <= 0 || c.TopPercent > 100) {
		return apperrors.NewConfigValidationFailed("HF_TOP_PERCENT", "must be in (0, 100]")
	}
	if c.Concurrency < 1 {
		return apperrors.NewConfigValidationFailed("COLLAB_CONCURRENCY", "must be positive")
	}
	switch c.RetryPolicy {
	case RetryNone, RetryFixed, RetryBackoff:
	default:
		return apperrors.NewConfigValidationFailed("COLLAB_RETRY_POLICY", fmt.Sprintf("unknown policy %q", c.RetryPolicy))
	}
	if c.MaxRetries < 0 {
		return apperrors.NewConfigValidationFailed("COLLAB_MAX_RETRIES", "must not be negative")
	}
	if c.Neo4jEnabled {
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
		if c.Neo4jPassword == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
