package invoke_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opsforge/opsforge/agent-plane/internal/invoke"
	"github.com/opsforge/opsforge/agent-plane/internal/registry"
	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

func newInvoker(t *testing.T, tools ...registry.Tool) *invoke.Invoker {
	t.Helper()
	reg := registry.New()
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register(%q) error = %v", tool.Name, err)
		}
	}
	return invoke.New(reg)
}

// ─── Success ─────────────────────────────────────────────────

func TestInvokeSuccess(t *testing.T) {
	inv := newInvoker(t, registry.Tool{
		Name: "echo",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
		Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
			return &models.ToolOutput{
				Value:        "echo: " + args["text"].(string),
				ArtifactRefs: []string{"ref-1"},
			}, nil
		},
	})

	obs := inv.Invoke(context.Background(), models.ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"text": "hello"},
	}, time.Second)

	if !obs.OK {
		t.Fatalf("Invoke() OK = false, message = %q", obs.Message)
	}
	if obs.Value != "echo: hello" {
		t.Errorf("Invoke().Value = %q, want %q", obs.Value, "echo: hello")
	}
	if len(obs.ArtifactRefs) != 1 || obs.ArtifactRefs[0] != "ref-1" {
		t.Errorf("Invoke().ArtifactRefs = %v, want [ref-1]", obs.ArtifactRefs)
	}
	if obs.ErrorKind != "" {
		t.Errorf("Invoke().ErrorKind = %q, want empty", obs.ErrorKind)
	}
}

// ─── Unknown Tool ────────────────────────────────────────────

func TestInvokeUnknownTool(t *testing.T) {
	inv := newInvoker(t)

	obs := inv.Invoke(context.Background(), models.ToolCall{
		Name:      "not-there",
		Arguments: map[string]any{"whatever": 1},
	}, time.Second)

	if obs.OK {
		t.Fatal("Invoke() of unknown tool OK = true, want false")
	}
	if obs.ErrorKind != models.ErrKindUnknownTool {
		t.Errorf("Invoke().ErrorKind = %q, want %q", obs.ErrorKind, models.ErrKindUnknownTool)
	}
	if !strings.Contains(obs.Message, "not-there") {
		t.Errorf("Invoke().Message = %q, want it to name the tool", obs.Message)
	}
}

// The unknown-tool check fires before argument validation: a bogus
// call to a nonexistent tool reports unknown_tool, not invalid_arguments.
func TestInvokeUnknownToolBeforeValidation(t *testing.T) {
	inv := newInvoker(t)

	obs := inv.Invoke(context.Background(), models.ToolCall{Name: "ghost"}, time.Second)
	if obs.ErrorKind != models.ErrKindUnknownTool {
		t.Errorf("Invoke().ErrorKind = %q, want %q", obs.ErrorKind, models.ErrKindUnknownTool)
	}
}

// ─── Invalid Arguments ───────────────────────────────────────

func TestInvokeMissingRequiredArgument(t *testing.T) {
	called := false
	inv := newInvoker(t, registry.Tool{
		Name: "strict",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
			"required": []any{"name"},
		},
		Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
			called = true
			return &models.ToolOutput{}, nil
		},
	})

	obs := inv.Invoke(context.Background(), models.ToolCall{
		Name:      "strict",
		Arguments: map[string]any{},
	}, time.Second)

	if obs.OK {
		t.Fatal("Invoke() with missing required arg OK = true, want false")
	}
	if obs.ErrorKind != models.ErrKindInvalidArguments {
		t.Errorf("Invoke().ErrorKind = %q, want %q", obs.ErrorKind, models.ErrKindInvalidArguments)
	}
	if called {
		t.Error("handler was called despite invalid arguments")
	}
}

func TestInvokeWrongArgumentType(t *testing.T) {
	inv := newInvoker(t, registry.Tool{
		Name: "typed",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count": map[string]any{"type": "integer"},
				"flag":  map[string]any{"type": "boolean"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
			return &models.ToolOutput{}, nil
		},
	})

	obs := inv.Invoke(context.Background(), models.ToolCall{
		Name:      "typed",
		Arguments: map[string]any{"count": "three"},
	}, time.Second)
	if obs.ErrorKind != models.ErrKindInvalidArguments {
		t.Errorf("string for integer: ErrorKind = %q, want %q", obs.ErrorKind, models.ErrKindInvalidArguments)
	}

	// JSON numbers decode as float64; integral values must pass.
	obs = inv.Invoke(context.Background(), models.ToolCall{
		Name:      "typed",
		Arguments: map[string]any{"count": float64(3), "flag": true},
	}, time.Second)
	if !obs.OK {
		t.Errorf("integral float64 for integer rejected: %q", obs.Message)
	}
}

func TestInvokeUnknownArgumentRejected(t *testing.T) {
	inv := newInvoker(t, registry.Tool{
		Name: "closed",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
			return &models.ToolOutput{}, nil
		},
	})

	obs := inv.Invoke(context.Background(), models.ToolCall{
		Name:      "closed",
		Arguments: map[string]any{"a": "x", "b": "y"},
	}, time.Second)
	if obs.ErrorKind != models.ErrKindInvalidArguments {
		t.Errorf("extra argument: ErrorKind = %q, want %q", obs.ErrorKind, models.ErrKindInvalidArguments)
	}
}

// ─── Execution Errors ────────────────────────────────────────

func TestInvokeHandlerError(t *testing.T) {
	inv := newInvoker(t, registry.Tool{
		Name: "failing",
		Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
			return nil, errors.New("Error creating repository: 422 name already exists")
		},
	})

	obs := inv.Invoke(context.Background(), models.ToolCall{Name: "failing"}, time.Second)

	if obs.OK {
		t.Fatal("Invoke() of failing handler OK = true, want false")
	}
	if obs.ErrorKind != models.ErrKindToolExecution {
		t.Errorf("Invoke().ErrorKind = %q, want %q", obs.ErrorKind, models.ErrKindToolExecution)
	}
	if obs.Message != "Error creating repository: 422 name already exists" {
		t.Errorf("Invoke().Message = %q, want the handler's error text", obs.Message)
	}
}

func TestInvokePanicIsNormalized(t *testing.T) {
	inv := newInvoker(t, registry.Tool{
		Name: "bomb",
		Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
			panic("boom")
		},
	})

	obs := inv.Invoke(context.Background(), models.ToolCall{Name: "bomb"}, time.Second)

	if obs.OK {
		t.Fatal("Invoke() of panicking handler OK = true, want false")
	}
	if obs.ErrorKind != models.ErrKindToolExecution {
		t.Errorf("Invoke().ErrorKind = %q, want %q", obs.ErrorKind, models.ErrKindToolExecution)
	}
	if !strings.Contains(obs.Message, "panicked") || !strings.Contains(obs.Message, "boom") {
		t.Errorf("Invoke().Message = %q, want panic details", obs.Message)
	}
}

// ─── Timeouts ────────────────────────────────────────────────

func TestInvokeTimeout(t *testing.T) {
	inv := newInvoker(t, registry.Tool{
		Name: "slow",
		Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
			select {
			case <-time.After(5 * time.Second):
				return &models.ToolOutput{Value: "done"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	start := time.Now()
	obs := inv.Invoke(context.Background(), models.ToolCall{Name: "slow"}, 50*time.Millisecond)
	elapsed := time.Since(start)

	if obs.OK {
		t.Fatal("Invoke() of slow handler OK = true, want false")
	}
	if obs.ErrorKind != models.ErrKindTimeout {
		t.Errorf("Invoke().ErrorKind = %q, want %q", obs.ErrorKind, models.ErrKindTimeout)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Invoke() took %s, want prompt return on timeout", elapsed)
	}
}

func TestInvokeZeroTimeoutUnbounded(t *testing.T) {
	inv := newInvoker(t, registry.Tool{
		Name: "quick",
		Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
			return &models.ToolOutput{Value: "ok"}, nil
		},
	})

	obs := inv.Invoke(context.Background(), models.ToolCall{Name: "quick"}, 0)
	if !obs.OK {
		t.Fatalf("Invoke() with zero timeout OK = false, message = %q", obs.Message)
	}
}

// ─── Argument Isolation ──────────────────────────────────────

func TestInvokeDoesNotMutateCallerArguments(t *testing.T) {
	inv := newInvoker(t, registry.Tool{
		Name: "mutator",
		Handler: func(ctx context.Context, args map[string]any) (*models.ToolOutput, error) {
			args["injected"] = true
			return &models.ToolOutput{}, nil
		},
	})

	args := map[string]any{"original": "value"}
	inv.Invoke(context.Background(), models.ToolCall{Name: "mutator", Arguments: args}, time.Second)

	if _, ok := args["injected"]; ok {
		t.Error("handler mutation leaked into the caller's argument map")
	}
}
