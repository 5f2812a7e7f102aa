// Package evaluation re-scores deployed Sets against their live positions and
// disables the ones whose recent performance degrades.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/observability"
	"github.com/atlas-desktop/strategy-optimizer/internal/storage"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/atlas-desktop/strategy-optimizer/pkg/utils"
	"go.uber.org/zap"
)

// DisableReason is stamped on every automatically disabled Set.
const DisableReason = "Profit factor below threshold for one or more symbols"

// DefaultSampleSize applies when a Set has no evaluation_positions_count.
const DefaultSampleSize = 25

// Evaluator judges Sets one at a time. It holds no locks; callers that need
// single-flight behaviour go through Scheduler.
type Evaluator struct {
	logger     *zap.Logger
	sets       storage.SetRepository
	positions  storage.PositionRepository
	metrics    *observability.Metrics
	sampleSize int
	now        func() time.Time

	onDisable func(types.SetEvaluation)
}

// EvaluatorOption customizes an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// WithDefaultSampleSize overrides DefaultSampleSize.
func WithDefaultSampleSize(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.sampleSize = n
		}
	}
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(
	logger *zap.Logger,
	sets storage.SetRepository,
	positions storage.PositionRepository,
	metrics *observability.Metrics,
	opts ...EvaluatorOption,
) *Evaluator {
	e := &Evaluator{
		logger:     logger,
		sets:       sets,
		positions:  positions,
		metrics:    metrics,
		sampleSize: DefaultSampleSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnDisable sets a callback fired after a Set has been disabled.
func (e *Evaluator) OnDisable(fn func(types.SetEvaluation)) {
	e.onDisable = fn
}

// EvaluateSymbols groups positions (newest first) by symbol and judges each
// symbol that has at least sampleSize positions. Results are sorted by symbol.
func EvaluateSymbols(positions []types.Position, sampleSize int, floor float64) []types.SymbolEvaluation {
	grouped := make(map[string][]float64)
	for _, p := range positions {
		grouped[p.Symbol] = append(grouped[p.Symbol], p.ProfitFactor)
	}

	symbols := make([]string, 0, len(grouped))
	for s := range grouped {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	result := make([]types.SymbolEvaluation, 0, len(symbols))
	for _, symbol := range symbols {
		pfs := grouped[symbol]
		ev := types.SymbolEvaluation{
			Symbol:         symbol,
			TotalPositions: len(pfs),
		}
		if len(pfs) >= sampleSize {
			recent := pfs[:sampleSize]
			ev.SufficientData = true
			ev.RecentSampleSize = len(recent)
			ev.AvgProfitFactorAll = utils.Mean(pfs)
			ev.AvgProfitFactorRecent = utils.Mean(recent)
			ev.ShouldDisable = ev.AvgProfitFactorRecent < floor
		}
		result = append(result, ev)
	}
	return result
}

// EvaluateByID loads a Set and evaluates it.
func (e *Evaluator) EvaluateByID(ctx context.Context, id string) (*types.SetEvaluation, error) {
	set, err := e.sets.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load set %s: %w", id, err)
	}
	return e.EvaluateSet(ctx, *set)
}

// EvaluateSet runs one evaluation. An active Set with any failing symbol is
// disabled; otherwise only its evaluation time is stamped. Inactive Sets are
// reported but never re-enabled.
func (e *Evaluator) EvaluateSet(ctx context.Context, set types.Set) (*types.SetEvaluation, error) {
	logger := e.logger.With(zap.String("set_id", set.ID))

	positions, err := e.positions.ListForSet(ctx, set)
	if err != nil {
		e.metrics.RecordSetEvaluation("error")
		return nil, fmt.Errorf("load positions for set %s: %w", set.ID, err)
	}

	sampleSize := set.EvaluationPositionsCount
	if sampleSize <= 0 {
		sampleSize = e.sampleSize
	}

	now := e.now()
	result := &types.SetEvaluation{
		SetID:       set.ID,
		WasActive:   set.IsActive,
		IsActive:    set.IsActive,
		Symbols:     EvaluateSymbols(positions, sampleSize, set.ProfitFactorMin),
		EvaluatedAt: now,
	}

	shouldDisable := false
	for _, s := range result.Symbols {
		if s.ShouldDisable {
			shouldDisable = true
			logger.Info("symbol below profit factor floor",
				zap.String("symbol", s.Symbol),
				zap.Float64("avg_profit_factor_recent", s.AvgProfitFactorRecent),
				zap.Float64("profit_factor_min", set.ProfitFactorMin),
			)
		}
	}

	if !set.IsActive || !shouldDisable {
		if err := e.sets.MarkEvaluated(ctx, set.ID, now); err != nil {
			e.metrics.RecordSetEvaluation("error")
			return nil, fmt.Errorf("mark set %s evaluated: %w", set.ID, err)
		}
		if set.IsActive {
			e.metrics.RecordSetEvaluation("ok")
		} else {
			e.metrics.RecordSetEvaluation("inactive")
		}
		return result, nil
	}

	err = e.sets.Disable(ctx, set.ID, now, DisableReason)
	switch {
	case errors.Is(err, storage.ErrAlreadyDisabled):
		// Disabled by someone else between load and update.
		result.IsActive = false
		e.metrics.RecordSetEvaluation("inactive")
		return result, nil
	case err != nil:
		e.metrics.RecordSetEvaluation("error")
		return nil, fmt.Errorf("disable set %s: %w", set.ID, err)
	}

	result.IsActive = false
	result.Disabled = true
	result.Reason = DisableReason
	e.metrics.RecordSetEvaluation("disabled")

	logger.Warn("set auto-disabled",
		zap.String("name", set.Name),
		zap.String("reason", DisableReason),
		zap.Int("symbols", len(result.Symbols)),
	)

	if e.onDisable != nil {
		e.onDisable(*result)
	}
	return result, nil
}

// EvaluateActive evaluates every active Set sequentially. A failure on one
// Set is logged and the pass moves on.
func (e *Evaluator) EvaluateActive(ctx context.Context) (*types.PassSummary, error) {
	summary := &types.PassSummary{StartedAt: e.now()}
	defer func() {
		summary.Duration = e.now().Sub(summary.StartedAt)
		e.metrics.RecordPass(summary.Duration)
	}()

	sets, err := e.sets.ListActive(ctx)
	if err != nil {
		return summary, fmt.Errorf("list active sets: %w", err)
	}

	for _, set := range sets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result, err := e.EvaluateSet(ctx, set)
		if err != nil {
			summary.Failed++
			e.logger.Error("set evaluation failed",
				zap.String("set_id", set.ID),
				zap.Error(err),
			)
			continue
		}

		summary.Evaluated++
		if result.Disabled {
			summary.Disabled++
		}
		summary.Evaluations = append(summary.Evaluations, *result)
	}

	e.logger.Info("evaluation pass complete",
		zap.Int("sets", len(sets)),
		zap.Int("evaluated", summary.Evaluated),
		zap.Int("disabled", summary.Disabled),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}
