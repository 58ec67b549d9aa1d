package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/agent-plane/internal/store"
	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

// Service fronts the loop for the API layer: it creates run records,
// executes tasks, and lets callers inspect or cancel in-flight runs.
type Service struct {
	loop  *Loop
	store store.Store

	defaultMaxIterations int
	maxIterationsCap     int

	runsMu sync.RWMutex
	runs   map[string]context.CancelFunc
}

// NewService wires the loop to a run store. defaultMax is the
// iteration budget used when a task does not ask for one; maxCap
// clamps caller-supplied budgets.
func NewService(loop *Loop, st store.Store, defaultMax, maxCap int) *Service {
	return &Service{
		loop:                 loop,
		store:                st,
		defaultMaxIterations: defaultMax,
		maxIterationsCap:     maxCap,
		runs:                 make(map[string]context.CancelFunc),
	}
}

// ExecuteTask runs a task to completion and returns its result along
// with the run record ID. The result is always well formed; storage
// trouble is logged, never surfaced to the caller.
func (s *Service) ExecuteTask(ctx context.Context, req models.TaskRequest) (*models.Result, string) {
	st := NewState(req.Task, req.Context, s.resolveMaxIterations(req.MaxIterations))

	record := &models.RunRecord{
		ID:        uuid.NewString(),
		Goal:      req.Task,
		Context:   req.Context,
		Status:    models.RunRunning,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, record); err != nil {
		log.Warn().Err(err).Str("run_id", record.ID).Msg("Failed to persist run record")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.track(record.ID, cancel)
	defer s.untrack(record.ID)

	outcome := s.loop.Run(runCtx, st)

	finished := time.Now().UTC()
	record.Status = outcome.Status
	record.Result = outcome.Result
	record.Passes = outcome.Passes
	record.Usage = outcome.Usage
	record.FinishedAt = &finished
	// UpdateRun uses the parent context so a cancelled run still gets
	// its terminal status written.
	if err := s.store.UpdateRun(ctx, record); err != nil {
		log.Warn().Err(err).Str("run_id", record.ID).Msg("Failed to update run record")
	}

	return outcome.Result, record.ID
}

// Cancel aborts an in-flight run. It reports whether a run with that
// ID was actually running.
func (s *Service) Cancel(id string) bool {
	s.runsMu.Lock()
	cancel, ok := s.runs[id]
	if ok {
		cancel()
		delete(s.runs, id)
	}
	s.runsMu.Unlock()

	if ok {
		log.Info().Str("run_id", id).Msg("🛑 Run cancelled")
	}
	return ok
}

// Run returns one run record by ID.
func (s *Service) Run(ctx context.Context, id string) (*models.RunRecord, error) {
	return s.store.GetRun(ctx, id)
}

// Runs lists run records, newest first.
func (s *Service) Runs(ctx context.Context, filter store.RunFilter) ([]models.RunRecord, error) {
	return s.store.ListRuns(ctx, filter)
}

// ActiveRuns reports how many runs are currently executing.
func (s *Service) ActiveRuns() int {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()
	return len(s.runs)
}

func (s *Service) track(id string, cancel context.CancelFunc) {
	s.runsMu.Lock()
	s.runs[id] = cancel
	s.runsMu.Unlock()
}

func (s *Service) untrack(id string) {
	s.runsMu.Lock()
	delete(s.runs, id)
	s.runsMu.Unlock()
}

func (s *Service) resolveMaxIterations(requested int) int {
	max := s.defaultMaxIterations
	if requested > 0 {
		max = requested
	}
	if s.maxIterationsCap > 0 && max > s.maxIterationsCap {
		max = s.maxIterationsCap
	}
	if max < 1 {
		max = 1
	}
	return max
}
