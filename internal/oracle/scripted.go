package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

// Step is one scripted oracle turn: either a completion or an error.
type Step struct {
	Completion *models.Completion
	Err        error
}

// Scripted replays a fixed sequence of completions and errors. It
// backs ORACLE_PROVIDER=test and the loop tests, where every oracle
// behavior, including outages, must be reproducible.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	next     int
	requests []Request
}

// NewScripted creates a scripted oracle that replays steps in order.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

func (s *Scripted) Name() string { return "scripted" }

// Complete returns the next scripted step. Running past the end of
// the script returns an UnavailableError.
func (s *Scripted) Complete(ctx context.Context, req *Request) (*models.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, *req)

	if s.next >= len(s.steps) {
		return nil, unavailable(s.Name(), 0,
			fmt.Errorf("script exhausted after %d steps", len(s.steps)))
	}
	step := s.steps[s.next]
	s.next++

	if step.Err != nil {
		return nil, step.Err
	}
	completion := *step.Completion
	return &completion, nil
}

// Requests returns a copy of every request seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// ── Step Constructors ────────────────────────────────────────

// Finish scripts an assistant turn with plain text and no tool calls.
func Finish(content string) Step {
	return Step{Completion: &models.Completion{Content: content}}
}

// Call scripts an assistant turn requesting a single tool call.
func Call(name string, args map[string]any) Step {
	if args == nil {
		args = map[string]any{}
	}
	return Step{Completion: &models.Completion{
		ToolCalls: []models.ToolCall{{Name: name, Arguments: args}},
	}}
}

// Reply scripts a fully specified completion.
func Reply(c models.Completion) Step {
	return Step{Completion: &c}
}

// Outage scripts a provider availability failure.
func Outage() Step {
	return Step{Err: unavailable("scripted", 0, fmt.Errorf("scripted outage"))}
}

// Fail scripts an arbitrary error.
func Fail(err error) Step {
	return Step{Err: err}
}
