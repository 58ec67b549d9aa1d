// Package oracle adapts LLM providers behind a single completion
// interface. Each adapter translates the conversation, system prompt,
// and tool definitions into the provider's wire format and normalizes
// the reply into a Completion. Provider availability failures are
// typed so the agent loop can apply its retry budget.
package oracle

import (
	"context"
	"fmt"

	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

// Request is one completion request: the system prompt, the
// conversation so far, and the tools the model may call.
type Request struct {
	System   string
	Messages []models.Message
	Tools    []models.ToolDefinition
}

// Oracle produces the next assistant turn for a conversation.
type Oracle interface {
	// Complete returns the provider's reply. Transport failures, rate
	// limits, and server errors return an *UnavailableError; the reply
	// itself is never inspected for validity here.
	Complete(ctx context.Context, req *Request) (*models.Completion, error)

	// Name identifies the provider for logging.
	Name() string
}

// UnavailableError marks a provider failure that may succeed on retry:
// connection errors, HTTP 429, and 5xx responses all land here.
type UnavailableError struct {
	Provider string
	Status   int
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: provider unavailable (status %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: provider unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func unavailable(provider string, status int, err error) *UnavailableError {
	return &UnavailableError{Provider: provider, Status: status, Err: err}
}
