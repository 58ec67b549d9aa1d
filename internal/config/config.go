// Package config loads runtime configuration for the OpsForge agent
// plane from the environment, with an optional .env file for local
// development.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the OpsForge agent plane.
type Config struct {
	Port           int
	Host           string
	Env            string
	Version        string
	LogLevel       string
	AllowedOrigins []string
	APIKey         string

	Oracle    OracleConfig
	Agent     AgentConfig
	GitHub    GitHubConfig
	Vercel    VercelConfig
	GCS       GCSConfig
	Store     StoreConfig
	Telemetry TelemetryConfig
}

// OracleConfig selects and tunes the LLM provider that drives the
// agent loop.
type OracleConfig struct {
	Provider        string
	Model           string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
}

// AgentConfig bounds the execution loop.
type AgentConfig struct {
	MaxIterations    int
	MaxIterationsCap int
	RetryBudget      int
	RetryBackoff     time.Duration
	ToolTimeout      time.Duration
	HistoryLimit     int
	PolicyFile       string
}

type GitHubConfig struct {
	Token      string
	DefaultOrg string
}

type VercelConfig struct {
	Token  string
	TeamID string
}

type GCSConfig struct {
	ProjectID   string
	Bucket      string
	AccessToken string
}

// StoreConfig selects the run store backend. Driver is "memory" or
// "postgres"; SnapshotPath only applies to the memory driver.
type StoreConfig struct {
	Driver       string
	DatabaseURL  string
	SnapshotPath string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is applied first when
// present.
func Load() *Config {
	loadDotEnv(".env")

	return &Config{
		Port:           envInt("OPSFORGE_PORT", 8000),
		Host:           envStr("OPSFORGE_HOST", "0.0.0.0"),
		Env:            envStr("OPSFORGE_ENV", "development"),
		Version:        envStr("OPSFORGE_VERSION", "0.1.0"),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		AllowedOrigins: envList("ALLOWED_ORIGINS", []string{"*"}),
		APIKey:         envStr("OPSFORGE_API_KEY", ""),
		Oracle: OracleConfig{
			Provider:        envStr("ORACLE_PROVIDER", "anthropic"),
			Model:           envStr("ORACLE_MODEL", ""),
			AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
			OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
			Temperature:     envFloat("ORACLE_TEMPERATURE", 0.7),
			MaxTokens:       envInt("ORACLE_MAX_TOKENS", 4096),
			Timeout:         envDur("ORACLE_TIMEOUT", 120*time.Second),
		},
		Agent: AgentConfig{
			MaxIterations:    envInt("AGENT_MAX_ITERATIONS", 10),
			MaxIterationsCap: envInt("AGENT_MAX_ITERATIONS_CAP", 50),
			RetryBudget:      envInt("AGENT_RETRY_BUDGET", 3),
			RetryBackoff:     envDur("AGENT_RETRY_BACKOFF", 2*time.Second),
			ToolTimeout:      envDur("AGENT_TOOL_TIMEOUT", 60*time.Second),
			HistoryLimit:     envInt("AGENT_HISTORY_LIMIT", 0),
			PolicyFile:       envStr("POLICY_FILE", ""),
		},
		GitHub: GitHubConfig{
			Token:      envStr("GITHUB_TOKEN", ""),
			DefaultOrg: envStr("GITHUB_DEFAULT_ORG", ""),
		},
		Vercel: VercelConfig{
			Token:  envStr("VERCEL_TOKEN", ""),
			TeamID: envStr("VERCEL_TEAM_ID", ""),
		},
		GCS: GCSConfig{
			ProjectID:   envStr("GCS_PROJECT_ID", ""),
			Bucket:      envStr("GCS_BUCKET_NAME", ""),
			AccessToken: envStr("GCS_ACCESS_TOKEN", ""),
		},
		Store: StoreConfig{
			Driver:       envStr("STORE_DRIVER", "memory"),
			DatabaseURL:  envStr("DATABASE_URL", ""),
			SnapshotPath: envStr("STORE_SNAPSHOT", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "opsforge-agent-plane"),
		},
	}
}

// loadDotEnv loads environment variables from path. Missing files are
// ignored.
func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("Could not load env file")
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
