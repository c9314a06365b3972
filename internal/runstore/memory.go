package runstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process [Store].
type MemoryStore struct {
	mu   sync.RWMutex
	runs []Run
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Save implements [Store].
func (s *MemoryStore) Save(_ context.Context, run *Run) error {
	Prepare(run)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == run.ID {
			return fmt.Errorf("runstore: run %s already exists", run.ID)
		}
	}
	c := *run
	c.Events = slices.Clone(run.Events)
	s.runs = append(s.runs, c)
	return nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		if r.ID == id {
			r.Events = slices.Clone(r.Events)
			return &r, nil
		}
	}
	return nil, nil
}

// List implements [Store].
func (s *MemoryStore) List(_ context.Context, video string) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Run
	for _, r := range s.runs {
		if video == "" || r.Video == video {
			r.Events = slices.Clone(r.Events)
			out = append(out, r)
		}
	}
	return out, nil
}

// PersonalBest implements [Store].
func (s *MemoryStore) PersonalBest(_ context.Context) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best, ok := Fastest(s.runs)
	if !ok {
		return nil, nil
	}
	r := *best
	r.Events = slices.Clone(best.Events)
	return &r, nil
}
