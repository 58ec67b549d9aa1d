// Package store — in-memory Store implementation.
// Used as a fallback when PostgreSQL is not available (local dev,
// tests). Supports file-based snapshot persistence so run history
// survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

// defaultRunTTL is how long finished runs are kept before eviction.
const defaultRunTTL = 7 * 24 * time.Hour

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Runs map[string]*models.RunRecord `json:"runs"`
}

// MemoryStore implements Store with an in-memory map.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*models.RunRecord // key: id

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop

	// Runs whose finished_at is older than this are evicted
	// automatically. Set via OPSFORGE_RUN_TTL (Go duration string).
	runTTL time.Duration
}

// NewMemoryStore creates a new in-memory store. A non-empty
// snapshotPath enables JSON persistence to that file.
func NewMemoryStore(snapshotPath string) *MemoryStore {
	runTTL := defaultRunTTL
	if ttlStr := os.Getenv("OPSFORGE_RUN_TTL"); ttlStr != "" {
		if parsed, err := time.ParseDuration(ttlStr); err == nil {
			runTTL = parsed
		} else {
			log.Warn().Str("value", ttlStr).Msg("Invalid OPSFORGE_RUN_TTL, using default 7d")
		}
	}

	m := &MemoryStore{
		runs:         make(map[string]*models.RunRecord),
		snapshotPath: snapshotPath,
		saveCh:       make(chan struct{}, 1),
		doneCh:       make(chan struct{}),
		runTTL:       runTTL,
	}

	if m.snapshotPath != "" {
		if dir := filepath.Dir(m.snapshotPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				log.Warn().Err(err).Str("dir", dir).Msg("Cannot create data dir, persistence disabled")
				m.snapshotPath = ""
			}
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	go m.runEvictionLoop()

	log.Info().
		Str("run_ttl", runTTL.String()).
		Str("snapshot", m.snapshotPath).
		Msg("Memory store configured")

	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop runs in a goroutine, debouncing save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			m.saveSnapshot()
		}
	}
}

// runEvictionLoop periodically removes finished runs older than runTTL.
func (m *MemoryStore) runEvictionLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.doneCh:
			return
		case <-ticker.C:
			m.evictExpiredRuns()
		}
	}
}

// evictExpiredRuns removes finished runs older than the configured TTL.
// In-flight runs are never evicted.
func (m *MemoryStore) evictExpiredRuns() {
	cutoff := time.Now().Add(-m.runTTL)

	m.mu.Lock()
	var evicted int
	for id, r := range m.runs {
		if r.FinishedAt != nil && r.FinishedAt.Before(cutoff) {
			delete(m.runs, id)
			evicted++
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		log.Info().Int("evicted", evicted).Str("ttl", m.runTTL.String()).Msg("Evicted expired runs")
		m.requestSave()
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{Runs: m.runs}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to replace snapshot")
	}
}

// loadSnapshot restores data from disk, if a snapshot exists.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Runs != nil {
		m.runs = snap.Runs
	}

	log.Info().Int("runs", len(m.runs)).Str("path", m.snapshotPath).Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		// Already closed
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ── Run Store ───────────────────────────────────────────────

func (m *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]models.RunRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	var result []models.RunRecord
	for _, r := range m.runs {
		if filter.Status != "" && string(r.Status) != filter.Status {
			continue
		}
		result = append(result, *r)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (*models.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "run", Key: id}
	}
	copy := *r
	return &copy, nil
}

func (m *MemoryStore) CreateRun(_ context.Context, run *models.RunRecord) error {
	m.mu.Lock()
	copy := *run
	m.runs[run.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateRun(_ context.Context, run *models.RunRecord) error {
	m.mu.Lock()
	copy := *run
	m.runs[run.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return &ErrNotFound{Entity: "run", Key: id}
	}
	delete(m.runs, id)
	return nil
}
