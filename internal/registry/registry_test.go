package registry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/opsforge/opsforge/agent-plane/internal/registry"
	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

func noopHandler(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
	return &models.ToolOutput{Value: "ok"}, nil
}

// ─── Register ────────────────────────────────────────────────

func TestRegisterAndLookup(t *testing.T) {
	r := registry.New()

	err := r.Register(registry.Tool{
		Name:        "create_github_repo",
		Description: "Create a new GitHub repository",
		Schema:      map[string]any{"type": "object"},
		Handler:     noopHandler,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tool, err := r.Lookup("create_github_repo")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if tool.Name != "create_github_repo" {
		t.Errorf("Lookup().Name = %q, want %q", tool.Name, "create_github_repo")
	}
	if tool.Description != "Create a new GitHub repository" {
		t.Errorf("Lookup().Description = %q, want %q", tool.Description, "Create a new GitHub repository")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := registry.New()

	if err := r.Register(registry.Tool{Name: "dup", Handler: noopHandler}); err != nil {
		t.Fatalf("Register() first call error = %v", err)
	}

	err := r.Register(registry.Tool{Name: "dup", Handler: noopHandler})
	if err == nil {
		t.Fatal("Register() duplicate should return error, got nil")
	}
	var dupErr *registry.DuplicateToolError
	if !errors.As(err, &dupErr) {
		t.Fatalf("Register() duplicate error type = %T, want *DuplicateToolError", err)
	}
	if dupErr.Name != "dup" {
		t.Errorf("DuplicateToolError.Name = %q, want %q", dupErr.Name, "dup")
	}

	// The original registration must be untouched
	if r.Count() != 1 {
		t.Errorf("Count() after duplicate register = %d, want 1", r.Count())
	}
}

func TestRegisterInvalid(t *testing.T) {
	r := registry.New()

	if err := r.Register(registry.Tool{Name: "", Handler: noopHandler}); err == nil {
		t.Error("Register() with empty name should return error, got nil")
	}
	if err := r.Register(registry.Tool{Name: "no-handler"}); err == nil {
		t.Error("Register() with nil handler should return error, got nil")
	}
	if r.Count() != 0 {
		t.Errorf("Count() after invalid registers = %d, want 0", r.Count())
	}
}

// ─── Lookup ──────────────────────────────────────────────────

func TestLookupUnknown(t *testing.T) {
	r := registry.New()

	_, err := r.Lookup("never-registered")
	if err == nil {
		t.Fatal("Lookup() of unregistered tool should return error, got nil")
	}
	var unknownErr *registry.UnknownToolError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("Lookup() error type = %T, want *UnknownToolError", err)
	}
	if unknownErr.Name != "never-registered" {
		t.Errorf("UnknownToolError.Name = %q, want %q", unknownErr.Name, "never-registered")
	}
}

// ─── List / Definitions ──────────────────────────────────────

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := registry.New()

	names := []string{"zeta", "alpha", "mike", "bravo"}
	for _, name := range names {
		if err := r.Register(registry.Tool{Name: name, Handler: noopHandler}); err != nil {
			t.Fatalf("Register(%q) error = %v", name, err)
		}
	}

	// List must return registration order, not map iteration order,
	// on every call.
	for i := 0; i < 5; i++ {
		tools := r.List()
		if len(tools) != len(names) {
			t.Fatalf("List() returned %d tools, want %d", len(tools), len(names))
		}
		for j, tool := range tools {
			if tool.Name != names[j] {
				t.Errorf("List()[%d].Name = %q, want %q", j, tool.Name, names[j])
			}
		}
	}
}

func TestDefinitions(t *testing.T) {
	r := registry.New()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
		"required": []any{"name"},
	}
	r.Register(registry.Tool{
		Name:        "create_vercel_project",
		Description: "Create a new Vercel project",
		Schema:      schema,
		Handler:     noopHandler,
	})

	defs := r.Definitions()
	if len(defs) != 1 {
		t.Fatalf("Definitions() returned %d, want 1", len(defs))
	}
	if defs[0].Name != "create_vercel_project" {
		t.Errorf("Definitions()[0].Name = %q, want %q", defs[0].Name, "create_vercel_project")
	}
	if defs[0].Parameters["type"] != "object" {
		t.Errorf("Definitions()[0].Parameters[type] = %v, want %q", defs[0].Parameters["type"], "object")
	}
}

func TestConcurrentLookups(t *testing.T) {
	r := registry.New()
	for i := 0; i < 10; i++ {
		r.Register(registry.Tool{Name: fmt.Sprintf("tool-%d", i), Handler: noopHandler})
	}

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				if _, err := r.Lookup(fmt.Sprintf("tool-%d", i%10)); err != nil {
					t.Errorf("Lookup() error = %v", err)
					return
				}
				_ = r.List()
			}
		}()
	}
	for g := 0; g < 8; g++ {
		<-done
	}
}
