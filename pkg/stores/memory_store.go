package stores

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore implements RunStorage with an in-process ordered map. It is
// non-durable: contents are scoped to the process lifetime. A single RWMutex
// serializes writers against readers so a record is either fully visible or
// not present at all.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
}

// NewMemoryStore creates an empty in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*Run),
	}
}

// AddRun inserts a new record. The record is cloned on the way in so later
// caller-side mutation cannot corrupt the store.
func (s *MemoryStore) AddRun(_ context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.RunID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRun, run.RunID)
	}

	s.runs[run.RunID] = run.Clone()
	s.order = append(s.order, run.RunID)
	return nil
}

// HasRun reports whether a record with the given run ID exists.
func (s *MemoryStore) HasRun(_ context.Context, runID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.runs[runID]
	return ok, nil
}

// GetRunByID returns a snapshot of the stored record.
func (s *MemoryStore) GetRunByID(_ context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return run.Clone(), nil
}

// AllRuns returns snapshots of every record in insertion order.
func (s *MemoryStore) AllRuns(_ context.Context) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Run, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id].Clone())
	}
	return out, nil
}

// AllRunsForPipeline performs a linear scan over current records. Scale is
// bounded by process memory, so a scan is acceptable here.
func (s *MemoryStore) AllRunsForPipeline(_ context.Context, pipelineName string) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Run{}
	for _, id := range s.order {
		if run := s.runs[id]; run.PipelineName == pipelineName {
			out = append(out, run.Clone())
		}
	}
	return out, nil
}

// AllRunsForTag returns the records carrying the exact tag key/value pair.
func (s *MemoryStore) AllRunsForTag(_ context.Context, key, value string) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Run{}
	for _, id := range s.order {
		if run := s.runs[id]; run.HasTag(key, value) {
			out = append(out, run.Clone())
		}
	}
	return out, nil
}

// Wipe removes every record atomically with respect to concurrent reads.
func (s *MemoryStore) Wipe(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = make(map[string]*Run)
	s.order = nil
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error {
	return nil
}
