// Package storage defines the persistence boundary of the optimizer.
package storage

import (
	"context"
	"slices"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
)

// PositionQuery selects closed positions for a sweep.
type PositionQuery struct {
	Since          time.Time
	Symbols        []string
	IndicationType string
}

// PositionRepository is the read-only source of historical and live positions.
type PositionRepository interface {
	// ListClosed returns closed positions opened at or after q.Since,
	// newest first.
	ListClosed(ctx context.Context, q PositionQuery) ([]types.Position, error)

	// ListForSet returns every position belonging to the Set, newest first.
	ListForSet(ctx context.Context, set types.Set) ([]types.Position, error)
}

// ResultStore persists optimization configs and their ranked scores.
type ResultStore interface {
	// CreateConfig inserts a new config. Returns ErrInvalidInput without an ID.
	CreateConfig(ctx context.Context, cfg *types.OptimizationConfig) error

	// GetConfig returns ErrNotFound for unknown ids.
	GetConfig(ctx context.Context, id string) (*types.OptimizationConfig, error)

	// UpdateConfigStatus stamps the outcome of a run.
	UpdateConfigStatus(ctx context.Context, id string, status types.ConfigStatus) error

	// SaveScores writes each score as its own row. A failing row does not
	// stop the others; the returned error joins every row failure.
	SaveScores(ctx context.Context, configID string, scores []types.CandidateScore) (int, error)

	// LoadTop returns up to n stored scores ordered by types.ScoreLess.
	LoadTop(ctx context.Context, configID string, n int) ([]types.CandidateScore, error)
}

// SetRepository reads and updates deployed Sets.
type SetRepository interface {
	ListActive(ctx context.Context) ([]types.Set, error)

	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*types.Set, error)

	MarkEvaluated(ctx context.Context, id string, at time.Time) error

	// Disable flips an active Set to inactive and stamps the reason.
	// Returns ErrAlreadyDisabled when the Set is not active.
	Disable(ctx context.Context, id string, at time.Time, reason string) error
}

// MatchesSet reports whether a position belongs to the Set: by SetID when
// present, otherwise by connection and indication type. A Set with an
// explicit symbol list only owns positions on those symbols.
func MatchesSet(p types.Position, set types.Set) bool {
	if len(set.Symbols) > 0 && !slices.Contains(set.Symbols, p.Symbol) {
		return false
	}
	if p.SetID != "" {
		return p.SetID == set.ID
	}
	if set.IndicationType != "" && p.IndicationType != set.IndicationType {
		return false
	}
	return slices.Contains(set.ConnectionIDs, p.ConnectionID)
}
