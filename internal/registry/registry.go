// Package registry maintains the catalog of tools the agent loop may
// invoke. Tools are registered once at startup; the loop looks them up
// by name on every pass and hands the full definition list to the
// oracle so it knows what it can call.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

// Handler executes a tool against its arguments. On success it returns
// the observable output; on failure it returns an error whose text is
// folded back into the conversation.
type Handler func(ctx context.Context, args map[string]any) (*models.ToolOutput, error)

// Tool is one registered capability: a unique name, a human-readable
// description for the oracle, a JSON schema for its arguments, and the
// handler that does the work.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     Handler
}

// DuplicateToolError is returned when a tool name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// UnknownToolError is returned when a lookup names a tool that was
// never registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// Registry is a thread-safe tool catalog. Registration order is
// preserved so List and Definitions are deterministic across runs.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool to the registry. Registering a name twice
// returns a DuplicateToolError and leaves the registry unchanged.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return &DuplicateToolError{Name: t.Name}
	}
	tool := t
	r.tools[t.Name] = &tool
	r.order = append(r.order, t.Name)
	return nil
}

// Lookup returns the tool registered under name, or an UnknownToolError.
func (r *Registry) Lookup(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return t, nil
}

// List returns all registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.tools[name])
	}
	return out
}

// Definitions returns the provider-facing description of every tool,
// in registration order.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]models.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, models.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema,
		})
	}
	return defs
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
