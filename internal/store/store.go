// Package store provides the storage interface and implementations for
// the OpsForge agent plane. Runs live in memory by default; PostgreSQL
// backs durable deployments.
package store

import (
	"context"

	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

// Store is the primary storage interface for the agent plane. Handler
// and service code depend on this interface, making it easy to swap
// between in-memory (tests, local dev) and PostgreSQL (production).
type Store interface {
	RunStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate prepares the backing schema.
	Migrate(ctx context.Context) error
}

// RunFilter defines optional filters for listing runs.
type RunFilter struct {
	Status string // exact match on run status
	Limit  int    // max results (default 100)
}

// RunStore persists task run records.
type RunStore interface {
	ListRuns(ctx context.Context, filter RunFilter) ([]models.RunRecord, error)
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	CreateRun(ctx context.Context, run *models.RunRecord) error
	UpdateRun(ctx context.Context, run *models.RunRecord) error
	DeleteRun(ctx context.Context, id string) error
}

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
