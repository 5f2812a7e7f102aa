// Package memory provides in-memory repository implementations used for
// fixtures, local runs and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/atlas-desktop/strategy-optimizer/internal/storage"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
)

// PositionStore is an in-memory implementation of storage.PositionRepository.
type PositionStore struct {
	mu   sync.RWMutex
	data []types.Position
}

// NewPositionStore creates a store seeded with the given positions.
func NewPositionStore(positions ...types.Position) *PositionStore {
	s := &PositionStore{}
	s.Add(positions...)
	return s
}

// Add appends positions. Positions without an ID are ignored.
func (s *PositionStore) Add(positions ...types.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range positions {
		if p.ID == "" {
			continue
		}
		s.data = append(s.data, p)
	}
}

// ListClosed returns closed positions opened at or after q.Since, newest first.
func (s *PositionStore) ListClosed(_ context.Context, q storage.PositionQuery) ([]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.Position
	for _, p := range s.data {
		if p.Status != types.PositionClosed {
			continue
		}
		if !q.Since.IsZero() && p.OpenedAt.Before(q.Since) {
			continue
		}
		if len(q.Symbols) > 0 && !slices.Contains(q.Symbols, p.Symbol) {
			continue
		}
		if q.IndicationType != "" && p.IndicationType != q.IndicationType {
			continue
		}
		result = append(result, p)
	}
	newestFirst(result)
	return result, nil
}

// ListForSet returns every position belonging to the Set, newest first.
func (s *PositionStore) ListForSet(_ context.Context, set types.Set) ([]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.Position
	for _, p := range s.data {
		if storage.MatchesSet(p, set) {
			result = append(result, p)
		}
	}
	newestFirst(result)
	return result, nil
}

func newestFirst(positions []types.Position) {
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].OpenedAt.After(positions[j].OpenedAt)
	})
}

var _ storage.PositionRepository = (*PositionStore)(nil)
