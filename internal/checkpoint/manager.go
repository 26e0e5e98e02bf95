// Package checkpoint persists batch-run completion state. The manager
// is the only component allowed to mutate the on-disk run checkpoint;
// pipelines track their own stage-level files elsewhere.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"lessonforge/pkg/models"
)

const (
	snapshotPrefix = "run_checkpoint_"
	snapshotSuffix = ".json"
	// snapshotTimeFormat is fixed-width so lexicographic order is
	// chronological order
	snapshotTimeFormat = "2006-01-02T15-04-05.000000000"
)

// SeedMismatchError is the fatal run-configuration inconsistency raised
// when a resume attempt uses a different seed than the one jobs already
// completed under.
type SeedMismatchError struct {
	Existing int64
	Given    int64
	Dir      string
}

func (e *SeedMismatchError) Error() string {
	return fmt.Sprintf(
		"run checkpoint in %s was created with seed %d but this run uses seed %d; "+
			"rerun with --seed %d or delete the checkpoint directory to start over",
		e.Dir, e.Existing, e.Given, e.Existing)
}

// Manager owns the run checkpoint for one batch. Safe for concurrent
// use by job workers.
type Manager struct {
	dir           string
	logger        *slog.Logger
	flushInterval time.Duration
	retain        int

	mu         sync.Mutex
	checkpoint models.RunCheckpoint
	dirty      bool
	rev        uint64 // bumped on every mutation, guards the flush clean-mark

	stopFlusher chan struct{}
	flusherDone chan struct{}
}

// Open loads the most recent valid snapshot from dir, or starts a fresh
// checkpoint when none exists, and begins periodic flushing.
func Open(dir string, flushInterval time.Duration, retain int, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	m := &Manager{
		dir:           dir,
		logger:        logger.With("component", "run_checkpoint"),
		flushInterval: flushInterval,
		retain:        retain,
		checkpoint: models.RunCheckpoint{
			Version:       models.RunCheckpointVersion,
			CompletedJobs: make(map[string]models.JobCompletion),
		},
		stopFlusher: make(chan struct{}),
		flusherDone: make(chan struct{}),
	}

	if cp, path, ok := m.loadLatest(); ok {
		m.checkpoint = cp
		m.logger.Info("Run checkpoint loaded",
			"path", path,
			"completed_jobs", len(cp.CompletedJobs))
	}

	go m.flushLoop()
	return m, nil
}

// loadLatest scans snapshot files newest-first and returns the first
// one that parses and carries the expected version. Corrupt snapshots
// are skipped with a warning so an interrupted write never blocks
// resumption.
func (m *Manager) loadLatest() (models.RunCheckpoint, string, bool) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Warn("Failed to read checkpoint directory", "error", err)
		return models.RunCheckpoint{}, "", false
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, snapshotPrefix) && strings.HasSuffix(name, snapshotSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for i := len(names) - 1; i >= 0; i-- {
		path := filepath.Join(m.dir, names[i])
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn("Skipping unreadable snapshot", "path", path, "error", err)
			continue
		}

		var cp models.RunCheckpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			m.logger.Warn("Skipping corrupt snapshot", "path", path, "error", err)
			continue
		}
		if cp.Version != models.RunCheckpointVersion {
			m.logger.Warn("Skipping snapshot with unknown version", "path", path, "version", cp.Version)
			continue
		}
		if cp.CompletedJobs == nil {
			cp.CompletedJobs = make(map[string]models.JobCompletion)
		}
		return cp, path, true
	}

	return models.RunCheckpoint{}, "", false
}

// EnsureSeed binds the batch seed. A fresh checkpoint (no completions)
// adopts the given seed; a checkpoint that has completions under a
// different seed is a fatal inconsistency, never a silent reset.
func (m *Manager) EnsureSeed(seed int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.checkpoint.Seed == nil || len(m.checkpoint.CompletedJobs) == 0 {
		m.checkpoint.Seed = &seed
		m.markDirtyLocked()
		return nil
	}
	if *m.checkpoint.Seed != seed {
		return &SeedMismatchError{Existing: *m.checkpoint.Seed, Given: seed, Dir: m.dir}
	}
	return nil
}

// IsCompleted reports whether a job already completed in a prior run
func (m *Manager) IsCompleted(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.checkpoint.CompletedJobs[jobID]
	return ok
}

// MarkCompleted records a job completion. Idempotent and append-only.
func (m *Manager) MarkCompleted(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checkpoint.CompletedJobs[jobID]; ok {
		return
	}
	m.checkpoint.CompletedJobs[jobID] = models.JobCompletion{CompletedAt: time.Now().UTC()}
	m.markDirtyLocked()
}

func (m *Manager) markDirtyLocked() {
	m.dirty = true
	m.rev++
}

// CompletedCount returns how many jobs the checkpoint has recorded
func (m *Manager) CompletedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.checkpoint.CompletedJobs)
}

// PruneTo drops completion records for jobs absent from the current
// input set, keeping the checkpoint consistent with a changed corpus.
func (m *Manager) PruneTo(jobIDs []string) {
	keep := make(map[string]bool, len(jobIDs))
	for _, id := range jobIDs {
		keep[id] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.checkpoint.CompletedJobs {
		if !keep[id] {
			delete(m.checkpoint.CompletedJobs, id)
			m.markDirtyLocked()
		}
	}
}

// Flush writes a new snapshot if anything changed since the last
// write. The state stays dirty until the snapshot is safely on disk,
// so a failed write is retried by the next flush instead of dropped.
func (m *Manager) Flush() error {
	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return nil
	}
	m.checkpoint.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m.checkpoint, "", "  ")
	rev := m.rev
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal run checkpoint: %w", err)
	}

	name := snapshotPrefix + time.Now().UTC().Format(snapshotTimeFormat) + snapshotSuffix
	path := filepath.Join(m.dir, name)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}

	// Mark clean only if nothing mutated while the snapshot was written
	m.mu.Lock()
	if m.rev == rev {
		m.dirty = false
	}
	m.mu.Unlock()
	m.logger.Debug("Run checkpoint flushed", "path", path)

	m.pruneSnapshots()
	return nil
}

// pruneSnapshots removes snapshots beyond the retention count to bound
// disk usage
func (m *Manager) pruneSnapshots() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, snapshotPrefix) && strings.HasSuffix(name, snapshotSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for i := 0; i < len(names)-m.retain; i++ {
		path := filepath.Join(m.dir, names[i])
		if err := os.Remove(path); err != nil {
			m.logger.Warn("Failed to prune old snapshot", "path", path, "error", err)
		}
	}
}

func (m *Manager) flushLoop() {
	defer close(m.flusherDone)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				m.logger.Error("Periodic checkpoint flush failed", "error", err)
			}
		case <-m.stopFlusher:
			return
		}
	}
}

// Close stops periodic flushing and performs a final flush
func (m *Manager) Close() error {
	close(m.stopFlusher)
	<-m.flusherDone
	return m.Flush()
}
