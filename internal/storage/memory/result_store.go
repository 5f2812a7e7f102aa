package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/storage"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/atlas-desktop/strategy-optimizer/pkg/utils"
)

// ResultStore is an in-memory implementation of storage.ResultStore.
type ResultStore struct {
	mu      sync.RWMutex
	configs map[string]*types.OptimizationConfig
	scores  map[string][]types.CandidateScore // keyed by config_id
	now     func() time.Time
}

// NewResultStore creates a new in-memory result store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		configs: make(map[string]*types.OptimizationConfig),
		scores:  make(map[string][]types.CandidateScore),
		now:     time.Now,
	}
}

// CreateConfig inserts a new config.
func (s *ResultStore) CreateConfig(_ context.Context, cfg *types.OptimizationConfig) error {
	if cfg == nil || cfg.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configs[cfg.ID]; exists {
		return fmt.Errorf("config %s: %w", cfg.ID, storage.ErrInvalidInput)
	}
	cfgCopy := *cfg
	s.configs[cfg.ID] = &cfgCopy
	return nil
}

// GetConfig retrieves a config by ID.
func (s *ResultStore) GetConfig(_ context.Context, id string) (*types.OptimizationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, exists := s.configs[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cfgCopy := *cfg
	return &cfgCopy, nil
}

// UpdateConfigStatus stamps the outcome of a run.
func (s *ResultStore) UpdateConfigStatus(_ context.Context, id string, status types.ConfigStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, exists := s.configs[id]
	if !exists {
		return storage.ErrNotFound
	}
	cfg.Status = status
	return nil
}

// SaveScores stores each valid score. Invalid rows are skipped and reported.
func (s *ResultStore) SaveScores(_ context.Context, configID string, scores []types.CandidateScore) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configs[configID]; !exists {
		return 0, storage.ErrNotFound
	}

	var errs []error
	saved := 0
	for _, sc := range scores {
		if err := validScore(sc); err != nil {
			errs = append(errs, fmt.Errorf("candidate %d: %w", sc.Candidate.Index, err))
			continue
		}
		sc.ConfigID = configID
		if sc.ID == "" {
			sc.ID = utils.GenerateID("")
		}
		if sc.CreatedAt.IsZero() {
			sc.CreatedAt = s.now()
		}
		s.scores[configID] = append(s.scores[configID], sc)
		saved++
	}
	return saved, errors.Join(errs...)
}

// LoadTop returns up to n stored scores in ranking order.
func (s *ResultStore) LoadTop(_ context.Context, configID string, n int) ([]types.CandidateScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.scores[configID]
	result := make([]types.CandidateScore, len(stored))
	copy(result, stored)

	sort.SliceStable(result, func(i, j int) bool {
		return types.ScoreLess(result[i], result[j])
	})
	if n >= 0 && n < len(result) {
		result = result[:n]
	}
	return result, nil
}

func validScore(sc types.CandidateScore) error {
	for _, v := range []float64{sc.ProfitFactor, sc.WinRate, sc.TotalPnL, sc.DrawdownTimeHours} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return storage.ErrInvalidInput
		}
	}
	if sc.TotalPositions < 0 {
		return storage.ErrInvalidInput
	}
	return nil
}

var _ storage.ResultStore = (*ResultStore)(nil)
