package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/agent-plane/internal/oracle"
	"github.com/opsforge/opsforge/agent-plane/internal/registry"
	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

// systemPrompt frames every oracle call. It is sent out of band on each
// request, never stored in the transcript.
const systemPrompt = `You are an autonomous DevOps engineer agent. Your role is to:
1. Write production-quality code based on user requirements
2. Commit code to GitHub repositories
3. Deploy applications to Vercel
4. Store artifacts in Google Cloud Storage

Always think step-by-step and use the available tools to accomplish tasks.
Be thorough and ensure deployments are successful.`

// ActionKind discriminates what the oracle decided to do next.
type ActionKind string

const (
	// ActionCall asks the loop to invoke a single tool.
	ActionCall ActionKind = "call"

	// ActionFinish ends the run with a final summary.
	ActionFinish ActionKind = "finish"
)

// Action is one interpreted oracle decision.
type Action struct {
	Kind    ActionKind
	Call    *models.ToolCall
	Summary string
}

// Decision pairs the interpreted action with the raw assistant content
// and the token usage of the call that produced it.
type Decision struct {
	Action  Action
	Content string
	Usage   models.TokenUsage
}

// MalformedDecisionError reports an oracle reply that could not be
// interpreted as either a tool call or a final answer. Content carries
// the raw reply so the loop can fold it back into the conversation.
type MalformedDecisionError struct {
	Reason  string
	Content string
}

func (e *MalformedDecisionError) Error() string {
	return fmt.Sprintf("malformed decision: %s", e.Reason)
}

// Decider turns the current transcript into the next Action. It owns no
// state of its own and never mutates the messages it is given.
type Decider struct {
	oracle       oracle.Oracle
	registry     *registry.Registry
	historyLimit int
}

// NewDecider wires a decider to an oracle and the live tool registry.
// historyLimit caps how many transcript messages are sent per call;
// zero means the full transcript.
func NewDecider(o oracle.Oracle, reg *registry.Registry, historyLimit int) *Decider {
	return &Decider{oracle: o, registry: reg, historyLimit: historyLimit}
}

// Decide asks the oracle for the next step. Oracle transport failures
// surface as *oracle.UnavailableError and uninterpretable replies as
// *MalformedDecisionError; retry policy is the caller's business.
func (d *Decider) Decide(ctx context.Context, messages []models.Message) (*Decision, error) {
	req := &oracle.Request{
		System:   systemPrompt,
		Messages: windowMessages(messages, d.historyLimit),
		Tools:    d.registry.Definitions(),
	}

	completion, err := d.oracle.Complete(ctx, req)
	if err != nil {
		var unavailable *oracle.UnavailableError
		if errors.As(err, &unavailable) {
			return nil, err
		}
		return nil, &oracle.UnavailableError{Provider: d.oracle.Name(), Err: err}
	}

	if len(completion.ToolCalls) > 0 {
		if len(completion.ToolCalls) > 1 {
			log.Warn().
				Int("count", len(completion.ToolCalls)).
				Str("tool", completion.ToolCalls[0].Name).
				Msg("Oracle proposed multiple tool calls, taking the first")
		}
		call := completion.ToolCalls[0]
		if call.Name == "" {
			return nil, &MalformedDecisionError{Reason: "tool call with empty name", Content: completion.Content}
		}
		if call.Arguments == nil {
			return nil, &MalformedDecisionError{
				Reason:  fmt.Sprintf("tool call %q carries unparseable arguments", call.Name),
				Content: completion.Content,
			}
		}
		if call.ID == "" {
			call.ID = "call_0"
		}
		return &Decision{
			Action:  Action{Kind: ActionCall, Call: &call},
			Content: completion.Content,
			Usage:   completion.Usage,
		}, nil
	}

	content := strings.TrimSpace(completion.Content)
	if content == "" {
		return nil, &MalformedDecisionError{Reason: "empty completion"}
	}

	// Some providers emit tool calls as plain JSON content instead of
	// structured calls. Accept that shape before treating the reply as
	// a final answer.
	if calls := parseToolCalls(content); len(calls) > 0 {
		call := calls[0]
		if len(calls) > 1 {
			log.Warn().
				Int("count", len(calls)).
				Str("tool", call.Name).
				Msg("Oracle proposed multiple tool calls, taking the first")
		}
		if call.Name == "" {
			return nil, &MalformedDecisionError{Reason: "tool call with empty name", Content: completion.Content}
		}
		return &Decision{
			Action:  Action{Kind: ActionCall, Call: &call},
			Content: completion.Content,
			Usage:   completion.Usage,
		}, nil
	}

	return &Decision{
		Action:  Action{Kind: ActionFinish, Summary: completion.Content},
		Content: completion.Content,
		Usage:   completion.Usage,
	}, nil
}

// parseToolCalls extracts tool calls from plain completion content.
// It accepts either a {"tool_calls": [...]} wrapper or a bare array and
// returns nil when the content is anything else.
func parseToolCalls(content string) []models.ToolCall {
	trimmed := strings.TrimSpace(content)

	var wrapper struct {
		ToolCalls []models.ToolCall `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapper); err == nil && len(wrapper.ToolCalls) > 0 {
		return normalizeCalls(wrapper.ToolCalls)
	}

	var direct []models.ToolCall
	if err := json.Unmarshal([]byte(trimmed), &direct); err == nil && len(direct) > 0 {
		return normalizeCalls(direct)
	}

	return nil
}

func normalizeCalls(calls []models.ToolCall) []models.ToolCall {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = fmt.Sprintf("call_%d", i)
		}
		if calls[i].Arguments == nil {
			calls[i].Arguments = map[string]any{}
		}
	}
	return calls
}

// windowMessages trims the transcript to the newest limit messages
// while always keeping the opening task message in view.
func windowMessages(msgs []models.Message, limit int) []models.Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	window := make([]models.Message, 0, limit)
	window = append(window, msgs[0])
	window = append(window, msgs[len(msgs)-(limit-1):]...)
	return window
}
