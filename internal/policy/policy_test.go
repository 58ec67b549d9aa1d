package policy_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsforge/opsforge/agent-plane/internal/policy"
	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	return path
}

func failedObs(kind models.ErrorKind, message string) models.Observation {
	return models.Observation{OK: false, ErrorKind: kind, Message: message}
}

// ─── Loading ─────────────────────────────────────────────────

func TestLoadEmptyPathIsDefault(t *testing.T) {
	eng, err := policy.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}

	if _, fatal := eng.FatalRule("any_tool", failedObs(models.ErrKindToolExecution, "boom")); fatal {
		t.Error("default engine marked a failure fatal, want recoverable")
	}
	if d := eng.ToolTimeout("any_tool", 60*time.Second); d != 60*time.Second {
		t.Errorf("default ToolTimeout = %s, want fallback 60s", d)
	}
}

func TestLoadBadRuleFails(t *testing.T) {
	path := writePolicy(t, `
fatal:
  - name: broken
    when: "this is not ((( an expression"
`)
	if _, err := policy.Load(path); err == nil {
		t.Fatal("Load() with invalid expression should return error, got nil")
	}
}

func TestLoadMissingConditionFails(t *testing.T) {
	path := writePolicy(t, `
fatal:
  - name: empty
`)
	if _, err := policy.Load(path); err == nil {
		t.Fatal("Load() with missing condition should return error, got nil")
	}
}

func TestLoadBadTimeoutFails(t *testing.T) {
	path := writePolicy(t, `
tool_timeouts:
  deploy_to_vercel: "two minutes"
`)
	if _, err := policy.Load(path); err == nil {
		t.Fatal("Load() with unparseable duration should return error, got nil")
	}
}

// ─── Fatal Rules ─────────────────────────────────────────────

func TestFatalRuleMatching(t *testing.T) {
	path := writePolicy(t, `
fatal:
  - name: github-auth
    when: error_kind == "tool_execution_error" && message contains "403"
  - name: vercel-deploy
    when: tool == "deploy_to_vercel" && message contains "401"
`)
	eng, err := policy.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	name, fatal := eng.FatalRule("create_github_repo",
		failedObs(models.ErrKindToolExecution, "Error creating repository: 403 Forbidden"))
	if !fatal {
		t.Fatal("FatalRule() on 403 execution error = false, want true")
	}
	if name != "github-auth" {
		t.Errorf("FatalRule() name = %q, want %q", name, "github-auth")
	}

	name, fatal = eng.FatalRule("deploy_to_vercel",
		failedObs(models.ErrKindToolExecution, "Error deploying: 401 Unauthorized"))
	if !fatal || name != "vercel-deploy" {
		t.Errorf("FatalRule() = (%q, %v), want (vercel-deploy, true)", name, fatal)
	}

	// Same message on a different tool misses the second rule.
	if _, fatal := eng.FatalRule("create_vercel_project",
		failedObs(models.ErrKindToolExecution, "Error: 401 Unauthorized")); fatal {
		t.Error("FatalRule() matched a rule scoped to another tool")
	}

	// Timeouts are not covered by either rule.
	if _, fatal := eng.FatalRule("create_github_repo",
		failedObs(models.ErrKindTimeout, `tool "create_github_repo" timed out after 1m0s`)); fatal {
		t.Error("FatalRule() marked a timeout fatal, want recoverable")
	}
}

func TestFatalRuleFirstMatchWins(t *testing.T) {
	path := writePolicy(t, `
fatal:
  - name: first
    when: message contains "fail"
  - name: second
    when: message contains "fail"
`)
	eng, err := policy.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	name, fatal := eng.FatalRule("t", failedObs(models.ErrKindToolExecution, "hard fail"))
	if !fatal || name != "first" {
		t.Errorf("FatalRule() = (%q, %v), want (first, true)", name, fatal)
	}
}

func TestFatalRuleIgnoresSuccesses(t *testing.T) {
	path := writePolicy(t, `
fatal:
  - name: everything
    when: "true"
`)
	eng, err := policy.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, fatal := eng.FatalRule("t", models.Observation{OK: true, Value: "fine"}); fatal {
		t.Error("FatalRule() matched a successful observation")
	}
}

// ─── Timeout Overrides ───────────────────────────────────────

func TestToolTimeoutOverrides(t *testing.T) {
	path := writePolicy(t, `
tool_timeouts:
  deploy_to_vercel: 2m
  upload_to_gcs: 90s
`)
	eng, err := policy.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if d := eng.ToolTimeout("deploy_to_vercel", time.Minute); d != 2*time.Minute {
		t.Errorf("ToolTimeout(deploy_to_vercel) = %s, want 2m", d)
	}
	if d := eng.ToolTimeout("upload_to_gcs", time.Minute); d != 90*time.Second {
		t.Errorf("ToolTimeout(upload_to_gcs) = %s, want 90s", d)
	}
	if d := eng.ToolTimeout("create_github_repo", time.Minute); d != time.Minute {
		t.Errorf("ToolTimeout(unlisted) = %s, want fallback 1m", d)
	}
}
