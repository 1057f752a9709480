package api

import (
	"context"
	"fmt"
	"sync"

	"spatialstat/domain/core"
	"spatialstat/domain/spatial"
	"spatialstat/internal/errors"
	"spatialstat/ports"
)

// MemoryStore keeps completed analyses in memory, evicting the oldest once
// capacity is reached
type MemoryStore struct {
	mu       sync.RWMutex
	results  map[core.AnalysisID]*spatial.AnalysisResult
	order    []core.AnalysisID
	capacity int
}

// NewMemoryStore creates a store holding at most capacity results; 0 means
// unbounded
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		results:  make(map[core.AnalysisID]*spatial.AnalysisResult),
		capacity: capacity,
	}
}

var _ ports.ResultStore = (*MemoryStore)(nil)

// Save stores result, replacing any result with the same ID
func (s *MemoryStore) Save(ctx context.Context, result *spatial.AnalysisResult) error {
	if result == nil || result.ID == "" {
		return errors.InvalidInput("cannot store a result without an ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[result.ID]; !exists {
		s.order = append(s.order, result.ID)
	}
	s.results[result.ID] = result

	for s.capacity > 0 && len(s.order) > s.capacity {
		delete(s.results, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// Get returns the result stored under id
func (s *MemoryStore) Get(ctx context.Context, id core.AnalysisID) (*spatial.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[id]
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("analysis %s", id))
	}
	return result, nil
}

// List returns up to limit results, newest first; limit ≤ 0 returns all
func (s *MemoryStore) List(ctx context.Context, limit int) ([]*spatial.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*spatial.AnalysisResult, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.results[s.order[i]])
	}
	return out, nil
}
