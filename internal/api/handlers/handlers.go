// Package handlers implements the HTTP handlers for the OpsForge agent
// plane. Handlers stay thin: request decoding, status mapping, and
// response shaping. Task execution itself lives in the agent service.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/agent-plane/internal/agent"
	"github.com/opsforge/opsforge/agent-plane/internal/registry"
	"github.com/opsforge/opsforge/agent-plane/internal/store"
	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

const serviceDescription = "Autonomous DevOps Agent"

// Handlers holds all handler dependencies.
type Handlers struct {
	Agent    *agent.Service
	Registry *registry.Registry
	Store    store.Store
	Version  string
}

// New creates a new Handlers instance with all dependencies.
func New(svc *agent.Service, reg *registry.Registry, st store.Store, version string) *Handlers {
	return &Handlers{
		Agent:    svc,
		Registry: reg,
		Store:    st,
		Version:  version,
	}
}

// ── Service metadata ─────────────────────────────────────────────────────

// Root describes the service and its endpoints.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"name":        "OpsForge Agent Plane",
		"version":     h.Version,
		"description": serviceDescription,
		"endpoints": map[string]string{
			"health": "/health",
			"status": "/agent/status",
			"task":   "/agent/task",
			"tools":  "/agent/tools",
			"runs":   "/agent/runs",
		},
	})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.Version,
	})
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	defs := h.Registry.Definitions()
	tools := make([]string, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, d.Name)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"version":     h.Version,
		"description": serviceDescription,
		"tools":       tools,
		"active_runs": h.Agent.ActiveRuns(),
	})
}

// ── Task execution ───────────────────────────────────────────────────────

// ExecuteTask runs a DevOps task through the agent loop and returns the
// result envelope. The loop itself never errors; every outcome is a 200
// with success reflecting how the run ended.
func (h *Handlers) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	var req models.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		respondError(w, http.StatusBadRequest, "task is required")
		return
	}

	log.Info().Str("task", req.Task).Msg("Executing task")

	result, runID := h.Agent.ExecuteTask(r.Context(), req)

	w.Header().Set("X-Run-Id", runID)
	respondJSON(w, http.StatusOK, result)
}

// ── Tool catalog ─────────────────────────────────────────────────────────

func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	defs := h.Registry.Definitions()
	respondJSON(w, http.StatusOK, map[string]any{
		"tools": defs,
		"count": len(defs),
	})
}

// ── Runs ─────────────────────────────────────────────────────────────────

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Status: r.URL.Query().Get("status"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	runs, err := h.Agent.Runs(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []models.RunRecord{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := h.Agent.Run(r.Context(), runID)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); ok {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// CancelRun aborts an in-flight run. Cancelling a run that already
// finished is a conflict, not a repeatable no-op, so the caller can
// tell the difference.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if h.Agent.Cancel(runID) {
		respondJSON(w, http.StatusOK, map[string]string{
			"status": "cancelled",
			"run_id": runID,
		})
		return
	}

	if _, err := h.Agent.Run(r.Context(), runID); err != nil {
		if _, ok := err.(*store.ErrNotFound); ok {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondError(w, http.StatusConflict, "run is not active")
}

// ── Helpers ──────────────────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
