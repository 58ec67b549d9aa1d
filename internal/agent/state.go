package agent

import (
	"fmt"

	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

// State is the working memory of a single task run. Messages and
// artifacts are append only, deployment status only moves forward, and
// the iteration count never exceeds MaxIterations.
type State struct {
	// Goal is the task text exactly as the caller submitted it.
	Goal string

	// Context is the optional extra context supplied with the task.
	Context string

	// Messages is the ordered conversation transcript. Entries are
	// only ever appended, never rewritten or dropped.
	Messages []models.Message

	// Artifacts collects references produced by tools, in the order
	// they were produced. Duplicates are kept.
	Artifacts []string

	// DeploymentStatus tracks how far the run got. It advances
	// pending -> in_progress -> completed, with in_progress -> failed
	// as the only sideways move. Terminal statuses never change.
	DeploymentStatus models.DeploymentStatus

	// IterationCount is the number of loop passes consumed so far.
	IterationCount int

	// MaxIterations bounds IterationCount for this run.
	MaxIterations int
}

// NewState seeds a run with the opening user message. Extra context is
// folded into that first message rather than kept as a separate turn.
func NewState(goal, context string, maxIterations int) *State {
	content := goal
	if context != "" {
		content = goal + "\n\nContext: " + context
	}
	return &State{
		Goal:    goal,
		Context: context,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: content},
		},
		Artifacts:        []string{},
		DeploymentStatus: models.DeploymentPending,
		MaxIterations:    maxIterations,
	}
}

// ── Transcript ───────────────────────────────────────────────────────────

// AppendAssistant records a model turn.
func (s *State) AppendAssistant(content string) {
	s.Messages = append(s.Messages, models.Message{Role: models.RoleAssistant, Content: content})
}

// AppendUser records a caller or corrective turn.
func (s *State) AppendUser(content string) {
	s.Messages = append(s.Messages, models.Message{Role: models.RoleUser, Content: content})
}

// AppendToolResult folds a tool observation into the transcript so the
// next decision sees what the tool returned.
func (s *State) AppendToolResult(tool, content string) {
	s.Messages = append(s.Messages, models.Message{
		Role:    models.RoleTool,
		Content: fmt.Sprintf("[Tool: %s] %s", tool, content),
	})
}

// LastAssistantContent returns the content of the most recent assistant
// turn, or "" when the model has not spoken yet.
func (s *State) LastAssistantContent() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == models.RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// AddArtifacts appends artifact references in order. Duplicates are
// deliberately kept so the list mirrors what the tools actually did.
func (s *State) AddArtifacts(refs ...string) {
	s.Artifacts = append(s.Artifacts, refs...)
}

// ── Deployment status ────────────────────────────────────────────────────

// BeginDeployment moves a pending run to in_progress. Any later status
// wins over this one.
func (s *State) BeginDeployment() {
	if s.DeploymentStatus == models.DeploymentPending {
		s.DeploymentStatus = models.DeploymentInProgress
	}
}

// CompleteDeployment marks the run completed unless it already reached
// a terminal status.
func (s *State) CompleteDeployment() {
	if s.DeploymentStatus == models.DeploymentPending || s.DeploymentStatus == models.DeploymentInProgress {
		s.DeploymentStatus = models.DeploymentCompleted
	}
}

// FailDeployment marks the run failed unless it already completed.
// This is the only transition that does not advance the status.
func (s *State) FailDeployment() {
	if s.DeploymentStatus == models.DeploymentPending || s.DeploymentStatus == models.DeploymentInProgress {
		s.DeploymentStatus = models.DeploymentFailed
	}
}

// NextIteration consumes one pass of the iteration budget.
func (s *State) NextIteration() {
	s.IterationCount++
}

// Exhausted reports whether the iteration budget is spent.
func (s *State) Exhausted() bool {
	return s.IterationCount >= s.MaxIterations
}
