// Package tools provides the built-in DevOps tool catalog: GitHub
// repository and code management, Vercel deployments, and Google Cloud
// Storage artifact handling. Each provider contributes its slice of
// the catalog; Register wires them all into the live registry.
package tools

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/agent-plane/internal/registry"
)

// Config bundles the provider credentials for the full catalog.
type Config struct {
	GitHub GitHubConfig
	Vercel VercelConfig
	GCS    GCSConfig
}

// Register builds the provider clients and registers every catalog
// tool with reg.
func Register(reg *registry.Registry, cfg Config) error {
	var catalog []registry.Tool
	catalog = append(catalog, NewGitHubClient(cfg.GitHub).Tools()...)
	catalog = append(catalog, NewVercelClient(cfg.Vercel).Tools()...)
	catalog = append(catalog, NewGCSClient(cfg.GCS).Tools()...)

	for _, t := range catalog {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("register tool %s: %w", t.Name, err)
		}
	}

	log.Info().
		Int("tools", len(catalog)).
		Str("gcs_bucket", cfg.GCS.Bucket).
		Msg("🧰 Tool catalog registered")
	return nil
}

// ── Argument helpers ─────────────────────────────────────────────────────

// Arguments arrive schema-validated, so these helpers only normalize
// types and apply defaults.

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argStringDefault(args map[string]any, key, fallback string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func argBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// argInt accepts float64 because JSON numbers decode that way.
func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
