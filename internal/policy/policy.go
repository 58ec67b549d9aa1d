// Package policy classifies tool failures and tunes tool execution
// from an operator-supplied YAML file. Two knobs are exposed:
//
//   - fatal rules: expr conditions over {tool, error_kind, message};
//     the first match marks an observation fatal and the run fails
//     instead of continuing.
//   - tool_timeouts: per-tool overrides of the global tool timeout.
//
// Without a policy file every failure is recoverable and the global
// timeout applies, so the engine's zero value is a valid default.
package policy

import (
	"fmt"
	"os"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

// Rule is one fatal-failure condition from the policy file.
type Rule struct {
	Name string `yaml:"name"`
	When string `yaml:"when"`
}

type policyFile struct {
	Fatal        []Rule            `yaml:"fatal"`
	ToolTimeouts map[string]string `yaml:"tool_timeouts"`
}

type compiledRule struct {
	name    string
	program *vm.Program
}

// Engine evaluates failure observations against the loaded policy.
type Engine struct {
	rules    []compiledRule
	timeouts map[string]time.Duration
}

// New returns an engine with no rules and no timeout overrides.
func New() *Engine {
	return &Engine{}
}

// Load reads and compiles a policy file. An empty path yields the
// default engine.
func Load(path string) (*Engine, error) {
	if path == "" {
		return New(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	eng := New()

	env := expr.Env(map[string]any{
		"tool":       "",
		"error_kind": "",
		"message":    "",
	})
	for _, rule := range pf.Fatal {
		if rule.When == "" {
			return nil, fmt.Errorf("fatal rule %q has no condition", rule.Name)
		}
		program, err := expr.Compile(rule.When, env, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile fatal rule %q: %w", rule.Name, err)
		}
		eng.rules = append(eng.rules, compiledRule{name: rule.Name, program: program})
	}

	if len(pf.ToolTimeouts) > 0 {
		eng.timeouts = make(map[string]time.Duration, len(pf.ToolTimeouts))
		for tool, raw := range pf.ToolTimeouts {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("tool timeout for %q: %w", tool, err)
			}
			eng.timeouts[tool] = d
		}
	}

	log.Info().
		Str("path", path).
		Int("fatal_rules", len(eng.rules)).
		Int("timeout_overrides", len(eng.timeouts)).
		Msg("Policy loaded")
	return eng, nil
}

// FatalRule returns the name of the first fatal rule matching a failed
// observation. Rules that error during evaluation are skipped.
func (e *Engine) FatalRule(tool string, obs models.Observation) (string, bool) {
	if e == nil || len(e.rules) == 0 || obs.OK {
		return "", false
	}

	env := map[string]any{
		"tool":       tool,
		"error_kind": string(obs.ErrorKind),
		"message":    obs.Message,
	}
	for _, rule := range e.rules {
		out, err := expr.Run(rule.program, env)
		if err != nil {
			log.Warn().Str("rule", rule.name).Err(err).Msg("Fatal rule evaluation failed, skipping")
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return rule.name, true
		}
	}
	return "", false
}

// ToolTimeout returns the timeout for a tool, falling back to the
// given default when no override exists.
func (e *Engine) ToolTimeout(tool string, fallback time.Duration) time.Duration {
	if e == nil || e.timeouts == nil {
		return fallback
	}
	if d, ok := e.timeouts[tool]; ok {
		return d
	}
	return fallback
}
