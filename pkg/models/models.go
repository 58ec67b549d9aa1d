// Package models defines the shared data types for the OpsForge agent
// plane: conversation messages, tool calls, observations, run records,
// and the result envelope returned to clients. Types here are plain
// data with JSON tags; behavior lives in the internal packages.
package models

import (
	"time"
)

// ── Conversation ─────────────────────────────────────────────

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in the agent's conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ── Task Request ─────────────────────────────────────────────

// TaskRequest is the client-facing request to execute a task.
type TaskRequest struct {
	Task          string `json:"task"`
	Context       string `json:"context,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// ── Statuses ─────────────────────────────────────────────────

// DeploymentStatus tracks the coarse progress of the deployment work
// a run is performing.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentCompleted  DeploymentStatus = "completed"
	DeploymentFailed     DeploymentStatus = "failed"
)

// RunStatus tracks the lifecycle of a run through the agent loop.
type RunStatus string

const (
	RunRunning             RunStatus = "running"
	RunSucceeded           RunStatus = "succeeded"
	RunFailed              RunStatus = "failed"
	RunIterationsExhausted RunStatus = "iterations_exhausted"
)

// ── Tool Calls & Observations ────────────────────────────────

// ToolCall is a request to invoke a named tool with arguments.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ErrorKind classifies a failed tool invocation or decision so callers
// can react without parsing message text.
type ErrorKind string

const (
	ErrKindUnknownTool       ErrorKind = "unknown_tool"
	ErrKindInvalidArguments  ErrorKind = "invalid_arguments"
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindToolExecution     ErrorKind = "tool_execution_error"
	ErrKindMalformedDecision ErrorKind = "malformed_decision"
	ErrKindOracleUnavailable ErrorKind = "oracle_unavailable"
	ErrKindOracleExhausted   ErrorKind = "oracle_exhausted"
)

// ToolOutput is what a tool handler returns on success.
type ToolOutput struct {
	Value        string   `json:"value"`
	ArtifactRefs []string `json:"artifact_refs,omitempty"`
}

// Observation is the uniform record of one tool invocation outcome.
// Either the success fields or the error fields are populated, never both.
type Observation struct {
	OK           bool      `json:"ok"`
	Value        string    `json:"value,omitempty"`
	ArtifactRefs []string  `json:"artifact_refs,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// ── Results ──────────────────────────────────────────────────

// ResultMetadata carries run statistics alongside the result.
type ResultMetadata struct {
	Iterations       int              `json:"iterations"`
	DeploymentStatus DeploymentStatus `json:"deployment_status"`
}

// Result is the envelope every run produces, regardless of how the run
// ended. It contains no timestamps or generated IDs so a replay of the
// same inputs yields an identical result.
type Result struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Artifacts []string       `json:"artifacts"`
	Metadata  ResultMetadata `json:"metadata"`
}

// ── Tool Catalog ─────────────────────────────────────────────

// ToolDefinition is the provider-facing description of a registered
// tool: its name, what it does, and a JSON schema for its arguments.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ── Oracle ───────────────────────────────────────────────────

// TokenUsage captures token consumption for a single completion.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Completion is a normalized oracle response: free text plus any
// structured tool calls the provider returned.
type Completion struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     TokenUsage `json:"usage"`
}

// ── Run Records ──────────────────────────────────────────────

// Pass kinds classify what happened in one loop iteration.
const (
	PassToolCall  = "tool_call"
	PassFinish    = "finish"
	PassMalformed = "malformed"
)

// PassRecord captures one iteration of the agent loop for inspection
// after the run completes.
type PassRecord struct {
	Number      int          `json:"number"`
	Kind        string       `json:"kind"`
	ToolCall    *ToolCall    `json:"tool_call,omitempty"`
	Observation *Observation `json:"observation,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	LatencyMs   int64        `json:"latency_ms"`
}

// RunRecord is the persisted trace of a single task execution.
type RunRecord struct {
	ID         string       `json:"id" db:"id"`
	Goal       string       `json:"goal" db:"goal"`
	Context    string       `json:"context,omitempty" db:"context"`
	Status     RunStatus    `json:"status" db:"status"`
	Result     *Result      `json:"result,omitempty"`
	Passes     []PassRecord `json:"passes,omitempty"`
	Usage      TokenUsage   `json:"usage"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
}
