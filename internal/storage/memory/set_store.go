package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/storage"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
)

// SetStore is an in-memory implementation of storage.SetRepository.
type SetStore struct {
	mu   sync.RWMutex
	data map[string]*types.Set
}

// NewSetStore creates a store seeded with the given Sets.
func NewSetStore(sets ...types.Set) *SetStore {
	s := &SetStore{data: make(map[string]*types.Set)}
	for _, set := range sets {
		s.Put(set)
	}
	return s
}

// Put inserts or replaces a Set. This stands in for external management
// actions such as re-enabling.
func (s *SetStore) Put(set types.Set) {
	if set.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[set.ID] = cloneSet(&set)
}

// ListActive returns active Sets ordered by ID.
func (s *SetStore) ListActive(_ context.Context) ([]types.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.Set
	for _, set := range s.data {
		if set.IsActive {
			result = append(result, *cloneSet(set))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Get retrieves a Set by ID.
func (s *SetStore) Get(_ context.Context, id string) (*types.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneSet(set), nil
}

// MarkEvaluated stamps the last evaluation time.
func (s *SetStore) MarkEvaluated(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	set.LastEvaluationAt = &at
	set.UpdatedAt = at
	return nil
}

// Disable flips an active Set to inactive.
func (s *SetStore) Disable(_ context.Context, id string, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if !set.IsActive {
		return storage.ErrAlreadyDisabled
	}
	set.IsActive = false
	set.AutoDisabledAt = &at
	set.AutoDisabledReason = reason
	set.LastEvaluationAt = &at
	set.UpdatedAt = at
	return nil
}

func cloneSet(set *types.Set) *types.Set {
	c := *set
	c.ConnectionIDs = append([]string(nil), set.ConnectionIDs...)
	c.Symbols = append([]string(nil), set.Symbols...)
	if set.Parameters != nil {
		c.Parameters = make(map[string]any, len(set.Parameters))
		for k, v := range set.Parameters {
			c.Parameters[k] = v
		}
	}
	if set.LastEvaluationAt != nil {
		t := *set.LastEvaluationAt
		c.LastEvaluationAt = &t
	}
	if set.AutoDisabledAt != nil {
		t := *set.AutoDisabledAt
		c.AutoDisabledAt = &t
	}
	return &c
}

var _ storage.SetRepository = (*SetStore)(nil)
