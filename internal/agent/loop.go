// Package agent implements the autonomous task execution loop: it asks
// the oracle for the next step, invokes the chosen tool, folds the
// observation back into the conversation, and repeats until the oracle
// finishes, a policy rule stops the run, or the iteration budget is
// spent. The loop always hands its caller a well formed result.
package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/agent-plane/internal/invoke"
	"github.com/opsforge/opsforge/agent-plane/internal/oracle"
	"github.com/opsforge/opsforge/agent-plane/internal/policy"
	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

// malformedReprompt is folded into the conversation after a reply that
// was neither a tool call nor a final answer.
const malformedReprompt = "Your last reply could not be used: it contained neither a usable tool call nor a final answer. Reply with a single tool call to continue, or a plain-text summary to finish."

// Config carries the per-pass knobs of the loop. Zero values mean no
// oracle retries and unbounded tool execution.
type Config struct {
	// RetryBudget is how many times a pass may retry an unavailable
	// oracle before the run fails.
	RetryBudget int

	// RetryBackoff is the initial delay between oracle retries; the
	// delay grows exponentially from there.
	RetryBackoff time.Duration

	// ToolTimeout bounds a single tool invocation unless a policy
	// override names a different bound for that tool.
	ToolTimeout time.Duration
}

// Outcome is everything a single run produced: the caller-facing
// result plus the pass trace and token usage kept on the run record.
type Outcome struct {
	Status models.RunStatus
	Result *models.Result
	Passes []models.PassRecord
	Usage  models.TokenUsage
}

// Loop drives one task from its opening message to a terminal status.
type Loop struct {
	decider *Decider
	invoker *invoke.Invoker
	policy  *policy.Engine
	cfg     Config
}

// NewLoop assembles the loop. A nil policy engine falls back to the
// default engine, which never stops a run.
func NewLoop(decider *Decider, invoker *invoke.Invoker, engine *policy.Engine, cfg Config) *Loop {
	if engine == nil {
		engine = policy.New()
	}
	return &Loop{decider: decider, invoker: invoker, policy: engine, cfg: cfg}
}

// Run executes the task held by st until it reaches a terminal status.
// It never returns an error: every failure mode, including oracle
// outages and cancellation, lands in the Outcome as a result with
// success=false.
func (l *Loop) Run(ctx context.Context, st *State) *Outcome {
	out := &Outcome{Passes: []models.PassRecord{}}
	start := time.Now()

	log.Info().
		Str("goal", st.Goal).
		Int("max_iterations", st.MaxIterations).
		Msg("🛠️ Task execution started")

	for !st.Exhausted() {
		if ctx.Err() != nil {
			return l.terminal(st, out, models.RunFailed, false,
				fmt.Sprintf("Task cancelled: %v", ctx.Err()))
		}

		passStart := time.Now()
		decision, err := l.decide(ctx, st)
		if err != nil {
			var malformed *MalformedDecisionError
			if errors.As(err, &malformed) {
				l.foldMalformed(st, out, malformed, passStart)
				continue
			}
			if ctx.Err() != nil {
				return l.terminal(st, out, models.RunFailed, false,
					fmt.Sprintf("Task cancelled: %v", ctx.Err()))
			}
			log.Error().
				Err(err).
				Str("error_kind", string(models.ErrKindOracleExhausted)).
				Int("retry_budget", l.cfg.RetryBudget).
				Msg("Oracle retry budget exhausted")
			return l.terminal(st, out, models.RunFailed, false,
				fmt.Sprintf("Oracle unavailable after %d attempts: %v", l.cfg.RetryBudget+1, err))
		}

		out.Usage.InputTokens += decision.Usage.InputTokens
		out.Usage.OutputTokens += decision.Usage.OutputTokens
		out.Usage.TotalTokens += decision.Usage.TotalTokens

		if decision.Action.Kind == ActionFinish {
			st.AppendAssistant(decision.Action.Summary)
			out.Passes = append(out.Passes, models.PassRecord{
				Number:    len(out.Passes) + 1,
				Kind:      models.PassFinish,
				Summary:   decision.Action.Summary,
				LatencyMs: time.Since(passStart).Milliseconds(),
			})
			log.Info().
				Int("iterations", st.IterationCount).
				Int64("total_ms", time.Since(start).Milliseconds()).
				Msg("✅ Task execution complete")
			return l.terminal(st, out, models.RunSucceeded, true, decision.Action.Summary)
		}

		call := decision.Action.Call
		if decision.Content != "" {
			st.AppendAssistant(decision.Content)
		}
		st.BeginDeployment()

		obs := l.invoker.Invoke(ctx, *call, l.policy.ToolTimeout(call.Name, l.cfg.ToolTimeout))
		if obs.OK {
			st.AppendToolResult(call.Name, obs.Value)
			st.AddArtifacts(obs.ArtifactRefs...)
		} else {
			st.AppendToolResult(call.Name, obs.Message)
		}
		st.NextIteration()
		out.Passes = append(out.Passes, models.PassRecord{
			Number:      len(out.Passes) + 1,
			Kind:        models.PassToolCall,
			ToolCall:    call,
			Observation: &obs,
			LatencyMs:   time.Since(passStart).Milliseconds(),
		})

		if rule, fatal := l.policy.FatalRule(call.Name, obs); fatal {
			log.Warn().
				Str("rule", rule).
				Str("tool", call.Name).
				Msg("🚫 Fatal policy rule matched, stopping run")
			return l.terminal(st, out, models.RunFailed, false,
				fmt.Sprintf("Stopped by policy rule %q after %s: %s", rule, call.Name, obs.Message))
		}

		log.Debug().
			Int("iteration", st.IterationCount).
			Str("tool", call.Name).
			Bool("ok", obs.OK).
			Msg("Agentic loop continuing")
	}

	log.Warn().
		Int("max_iterations", st.MaxIterations).
		Msg("Task hit max iterations")
	message := strings.TrimSpace(fmt.Sprintf("[Max iterations (%d) reached] %s",
		st.MaxIterations, st.LastAssistantContent()))
	return l.terminal(st, out, models.RunIterationsExhausted, false, message)
}

// decide asks the oracle for the next action, retrying unavailable
// oracles within the configured budget. Retries do not consume the
// iteration budget. Malformed decisions are permanent: reprompting is
// the loop's job, not the transport's.
func (l *Loop) decide(ctx context.Context, st *State) (*Decision, error) {
	bo := backoff.NewExponentialBackOff()
	if l.cfg.RetryBackoff > 0 {
		bo.InitialInterval = l.cfg.RetryBackoff
	}
	bo.MaxElapsedTime = 0

	budget := l.cfg.RetryBudget
	if budget < 0 {
		budget = 0
	}
	strategy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(budget)), ctx)

	var decision *Decision
	attempt := 0
	op := func() error {
		attempt++
		d, err := l.decider.Decide(ctx, st.Messages)
		if err != nil {
			var unavailable *oracle.UnavailableError
			if errors.As(err, &unavailable) {
				log.Warn().
					Err(err).
					Int("attempt", attempt).
					Str("error_kind", string(models.ErrKindOracleUnavailable)).
					Msg("Oracle unavailable, backing off")
				return err
			}
			return backoff.Permanent(err)
		}
		decision = d
		return nil
	}
	if err := backoff.Retry(op, strategy); err != nil {
		return nil, err
	}
	return decision, nil
}

// foldMalformed turns an uninterpretable oracle reply into a
// corrective conversation turn and consumes one iteration so a
// persistently confused oracle still terminates.
func (l *Loop) foldMalformed(st *State, out *Outcome, derr *MalformedDecisionError, passStart time.Time) {
	log.Warn().
		Str("error_kind", string(models.ErrKindMalformedDecision)).
		Str("reason", derr.Reason).
		Msg("Malformed oracle decision, reprompting")
	if derr.Content != "" {
		st.AppendAssistant(derr.Content)
	}
	st.AppendUser(malformedReprompt)
	st.NextIteration()
	out.Passes = append(out.Passes, models.PassRecord{
		Number:    len(out.Passes) + 1,
		Kind:      models.PassMalformed,
		Summary:   derr.Reason,
		LatencyMs: time.Since(passStart).Milliseconds(),
	})
}

// terminal settles the deployment status for the given run status and
// freezes the state into a Result.
func (l *Loop) terminal(st *State, out *Outcome, status models.RunStatus, success bool, message string) *Outcome {
	if status == models.RunSucceeded {
		st.CompleteDeployment()
	} else {
		st.FailDeployment()
	}

	artifacts := slices.Clone(st.Artifacts)
	if artifacts == nil {
		artifacts = []string{}
	}

	out.Status = status
	out.Result = &models.Result{
		Success:   success,
		Message:   message,
		Artifacts: artifacts,
		Metadata: models.ResultMetadata{
			Iterations:       st.IterationCount,
			DeploymentStatus: st.DeploymentStatus,
		},
	}
	return out
}
