// Package server provides the public entry point for initializing the
// OpsForge agent plane server.
//
// This package exists in pkg/ (not internal/) so that embedders can
// compose the full server with their own middleware or lifecycle.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8000", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/agent-plane/internal/agent"
	"github.com/opsforge/opsforge/agent-plane/internal/api"
	"github.com/opsforge/opsforge/agent-plane/internal/api/handlers"
	"github.com/opsforge/opsforge/agent-plane/internal/config"
	"github.com/opsforge/opsforge/agent-plane/internal/invoke"
	"github.com/opsforge/opsforge/agent-plane/internal/oracle"
	"github.com/opsforge/opsforge/agent-plane/internal/policy"
	"github.com/opsforge/opsforge/agent-plane/internal/registry"
	"github.com/opsforge/opsforge/agent-plane/internal/store"
	"github.com/opsforge/opsforge/agent-plane/internal/telemetry"
	"github.com/opsforge/opsforge/agent-plane/internal/tools"
)

// Server holds the initialized OpsForge agent plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the run store backing the service.
	Store store.Store

	// Agent is the task execution service. Exposed so embedders can
	// drive runs without going through HTTP.
	Agent *agent.Service

	// Host and Port form the listen address.
	Host string
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all agent plane components from the environment and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the agent plane with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	applyLogLevel(cfg.LogLevel)

	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	st, err := newStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	reg := registry.New()
	if err := tools.Register(reg, tools.Config{
		GitHub: tools.GitHubConfig{
			Token:      cfg.GitHub.Token,
			DefaultOrg: cfg.GitHub.DefaultOrg,
		},
		Vercel: tools.VercelConfig{
			Token:  cfg.Vercel.Token,
			TeamID: cfg.Vercel.TeamID,
		},
		GCS: tools.GCSConfig{
			ProjectID:   cfg.GCS.ProjectID,
			Bucket:      cfg.GCS.Bucket,
			AccessToken: cfg.GCS.AccessToken,
		},
	}); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	orc, err := newOracle(cfg.Oracle)
	if err != nil {
		return nil, fmt.Errorf("init oracle: %w", err)
	}
	log.Info().Str("provider", orc.Name()).Msg("✅ Oracle initialized")

	eng, err := newPolicy(cfg.Agent.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	decider := agent.NewDecider(orc, reg, cfg.Agent.HistoryLimit)
	loop := agent.NewLoop(decider, invoke.New(reg), eng, agent.Config{
		RetryBudget:  cfg.Agent.RetryBudget,
		RetryBackoff: cfg.Agent.RetryBackoff,
		ToolTimeout:  cfg.Agent.ToolTimeout,
	})
	svc := agent.NewService(loop, st, cfg.Agent.MaxIterations, cfg.Agent.MaxIterationsCap)

	h := handlers.New(svc, reg, st, cfg.Version)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        st,
		Agent:        svc,
		Host:         cfg.Host,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func newStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		st := store.NewMemoryStore(cfg.SnapshotPath)
		log.Info().Msg("✅ In-memory run store initialized")
		return st, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres driver requires DATABASE_URL")
		}
		return store.NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newOracle(cfg config.OracleConfig) (oracle.Oracle, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY")
		}
		return oracle.NewAnthropic(oracle.AnthropicConfig{
			APIKey:      cfg.AnthropicAPIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY")
		}
		return oracle.NewOpenAI(oracle.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}), nil
	case "test":
		// Deterministic provider for smoke testing the service
		// surface without API keys. Runs fail fast with an oracle
		// exhaustion result.
		return oracle.NewScripted(), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}

func newPolicy(path string) (*policy.Engine, error) {
	if path == "" {
		return policy.New(), nil
	}
	return policy.Load(path)
}

func applyLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
