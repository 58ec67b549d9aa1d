package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/opsforge/opsforge/agent-plane/internal/agent"
	"github.com/opsforge/opsforge/agent-plane/internal/invoke"
	"github.com/opsforge/opsforge/agent-plane/internal/oracle"
	"github.com/opsforge/opsforge/agent-plane/internal/registry"
	"github.com/opsforge/opsforge/agent-plane/internal/store"
	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

func newTestService(t *testing.T, sc *oracle.Scripted, reg *registry.Registry, defaultMax, maxCap int) (*agent.Service, store.Store) {
	t.Helper()
	st := store.NewMemoryStore("")
	t.Cleanup(func() { st.Close() })
	loop := newTestLoop(sc, reg, nil)
	return agent.NewService(loop, st, defaultMax, maxCap), st
}

func TestServiceExecuteTaskPersistsRun(t *testing.T) {
	reg := testRegistry(t)
	sc := oracle.NewScripted(
		oracle.Call("create_github_repo", map[string]any{"name": "demo"}),
		oracle.Finish("Repository demo is ready."),
	)
	svc, st := newTestService(t, sc, reg, 10, 50)

	result, runID := svc.ExecuteTask(context.Background(), models.TaskRequest{
		Task: "create a repository named demo",
	})
	if !result.Success {
		t.Fatalf("ExecuteTask() result = %+v, want success", result)
	}
	if runID == "" {
		t.Fatal("ExecuteTask() returned an empty run ID")
	}

	record, err := st.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun(%s) error = %v", runID, err)
	}
	if record.Status != models.RunSucceeded {
		t.Errorf("record.Status = %q, want %q", record.Status, models.RunSucceeded)
	}
	if record.Goal != "create a repository named demo" {
		t.Errorf("record.Goal = %q, want the task text", record.Goal)
	}
	if record.FinishedAt == nil {
		t.Error("record.FinishedAt should be set after execution")
	}
	if len(record.Passes) != 2 {
		t.Errorf("record.Passes has %d entries, want 2", len(record.Passes))
	}
	if record.Result == nil || record.Result.Metadata.Iterations != 1 {
		t.Errorf("record.Result = %+v, want iterations 1", record.Result)
	}
}

func TestServiceMaxIterationsClamped(t *testing.T) {
	reg := testRegistry(t)
	sc := oracle.NewScripted(
		oracle.Call("create_github_repo", map[string]any{"name": "demo"}),
		oracle.Call("create_github_repo", map[string]any{"name": "demo"}),
		oracle.Call("create_github_repo", map[string]any{"name": "demo"}),
		oracle.Call("create_github_repo", map[string]any{"name": "demo"}),
	)
	svc, _ := newTestService(t, sc, reg, 10, 3)

	result, _ := svc.ExecuteTask(context.Background(), models.TaskRequest{
		Task:          "create a repository named demo",
		MaxIterations: 50,
	})

	if result.Success {
		t.Error("ExecuteTask() should exhaust, not succeed")
	}
	// The requested budget of 50 is clamped to the configured cap.
	if result.Metadata.Iterations != 3 {
		t.Errorf("Iterations = %d, want the cap of 3", result.Metadata.Iterations)
	}
}

func TestServiceCancelRun(t *testing.T) {
	reg := registry.New()
	err := reg.Register(registry.Tool{
		Name:        "slow_tool",
		Description: "Blocks until cancelled.",
		Schema:      map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, _ map[string]any) (*models.ToolOutput, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("Register(slow_tool) error = %v", err)
	}

	sc := oracle.NewScripted(oracle.Call("slow_tool", map[string]any{}))
	svc, st := newTestService(t, sc, reg, 10, 50)

	done := make(chan *models.Result, 1)
	go func() {
		result, _ := svc.ExecuteTask(context.Background(), models.TaskRequest{Task: "block forever"})
		done <- result
	}()

	// Wait until the run shows up, then cancel it.
	var runID string
	deadline := time.Now().Add(2 * time.Second)
	for runID == "" {
		if time.Now().After(deadline) {
			t.Fatal("run never appeared in the store")
		}
		runs, err := st.ListRuns(context.Background(), store.RunFilter{})
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(runs) > 0 {
			runID = runs[0].ID
		} else {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if !svc.Cancel(runID) {
		t.Fatalf("Cancel(%s) = false, want true", runID)
	}

	select {
	case result := <-done:
		if result.Success {
			t.Error("cancelled run should not succeed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ExecuteTask() did not return after cancellation")
	}

	record, err := st.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("GetRun(%s) error = %v", runID, err)
	}
	if record.Status != models.RunFailed {
		t.Errorf("record.Status = %q, want %q", record.Status, models.RunFailed)
	}
}

func TestServiceCancelUnknownRun(t *testing.T) {
	reg := testRegistry(t)
	sc := oracle.NewScripted(oracle.Finish("done"))
	svc, _ := newTestService(t, sc, reg, 10, 50)

	if svc.Cancel("no-such-run") {
		t.Error("Cancel() on an unknown run = true, want false")
	}
}

func TestServiceActiveRuns(t *testing.T) {
	reg := testRegistry(t)
	sc := oracle.NewScripted(oracle.Finish("done"))
	svc, _ := newTestService(t, sc, reg, 10, 50)

	if got := svc.ActiveRuns(); got != 0 {
		t.Errorf("ActiveRuns() = %d, want 0 before any task", got)
	}

	svc.ExecuteTask(context.Background(), models.TaskRequest{Task: "noop"})
	if got := svc.ActiveRuns(); got != 0 {
		t.Errorf("ActiveRuns() = %d, want 0 after completion", got)
	}
}
