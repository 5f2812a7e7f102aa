// Package optimization runs take-profit/stop-loss grid searches over
// historical positions and ranks the surviving candidates.
package optimization

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/backtester"
	"github.com/atlas-desktop/strategy-optimizer/internal/observability"
	"github.com/atlas-desktop/strategy-optimizer/internal/storage"
	"github.com/atlas-desktop/strategy-optimizer/internal/workers"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/atlas-desktop/strategy-optimizer/pkg/utils"
	"go.uber.org/zap"
)

// Optimizer performs strategy parameter optimization
type Optimizer struct {
	logger    *zap.Logger
	config    *OptimizerConfig
	positions storage.PositionRepository
	results   storage.ResultStore
	pool      *workers.Pool
	metrics   *observability.Metrics
	now       func() time.Time

	onComplete func(*OptimizationRun)
}

// OptimizerConfig configures the optimizer
type OptimizerConfig struct {
	GridSteps     int // Steps used when a request has none
	MaxGridSteps  int // Largest steps a request may ask for
	PersistLimit  int // Ranked scores written per run
	ResponseLimit int // Ranked scores returned per run
}

// DefaultOptimizerConfig returns sensible defaults
func DefaultOptimizerConfig() *OptimizerConfig {
	return &OptimizerConfig{
		GridSteps:     types.DefaultGridSteps,
		MaxGridSteps:  types.DefaultMaxGridSteps,
		PersistLimit:  PersistLimit,
		ResponseLimit: ResponseLimit,
	}
}

// OptimizationRun is the outcome of one sweep.
type OptimizationRun struct {
	ConfigID  string                   `json:"configId"`
	Config    types.OptimizationConfig `json:"config"`
	Results   []types.CandidateScore   `json:"results"`
	Symbols   []string                 `json:"symbols"`
	Positions int                      `json:"positions"`
	Evaluated int                      `json:"evaluated"`
	Accepted  int                      `json:"accepted"`
	Persisted int                      `json:"persisted"`
	Duration  time.Duration            `json:"duration"`
}

// NewOptimizer creates a new optimizer. A nil pool runs candidates inline.
func NewOptimizer(
	logger *zap.Logger,
	config *OptimizerConfig,
	positions storage.PositionRepository,
	results storage.ResultStore,
	pool *workers.Pool,
	metrics *observability.Metrics,
) *Optimizer {
	if config == nil {
		config = DefaultOptimizerConfig()
	}
	if config.MaxGridSteps <= 0 {
		config.MaxGridSteps = types.DefaultMaxGridSteps
	}
	if config.PersistLimit <= 0 {
		config.PersistLimit = PersistLimit
	}
	if config.ResponseLimit <= 0 {
		config.ResponseLimit = ResponseLimit
	}

	return &Optimizer{
		logger:    logger,
		config:    config,
		positions: positions,
		results:   results,
		pool:      pool,
		metrics:   metrics,
		now:       time.Now,
	}
}

// OnComplete sets a callback for successful runs.
func (o *Optimizer) OnComplete(fn func(*OptimizationRun)) {
	o.onComplete = fn
}

// Run executes a full sweep for one request. Invalid requests are rejected
// before any config is created. Once the config exists, any failure stamps it
// failed and no score rows are written.
func (o *Optimizer) Run(ctx context.Context, req types.OptimizationRequest) (*OptimizationRun, error) {
	startTime := o.now()

	req = req.Normalize(o.config.GridSteps)
	if err := req.Validate(o.config.MaxGridSteps); err != nil {
		return nil, err
	}

	grid, err := GenerateGrid(req.TakeProfitRange(), req.StopLossRange(), req.Flags())
	if err != nil {
		return nil, err
	}

	cfg := types.OptimizationConfig{
		ID:        utils.GenerateID(""),
		Request:   req,
		Status:    types.ConfigPending,
		CreatedAt: startTime,
	}
	if err := o.results.CreateConfig(ctx, &cfg); err != nil {
		o.metrics.RecordOptimization(string(types.ConfigFailed), o.now().Sub(startTime), 0, 0)
		return nil, fmt.Errorf("create optimization config: %w", err)
	}

	logger := o.logger.With(zap.String("config_id", cfg.ID))
	logger.Info("starting grid search",
		zap.Int("candidates", len(grid)),
		zap.String("symbol_mode", string(req.SymbolMode)),
		zap.Int("calculation_days", req.CalculationDays),
	)

	run, err := o.sweep(ctx, logger, cfg, grid)
	if err != nil {
		o.markFailed(ctx, logger, cfg.ID)
		o.metrics.RecordOptimization(string(types.ConfigFailed), o.now().Sub(startTime), 0, 0)
		return nil, err
	}

	cfg.Status = types.ConfigCompleted
	if err := o.results.UpdateConfigStatus(ctx, cfg.ID, cfg.Status); err != nil {
		logger.Warn("failed to stamp config completed", zap.Error(err))
	}

	run.Config = cfg
	run.Duration = o.now().Sub(startTime)
	o.metrics.RecordOptimization(string(types.ConfigCompleted), run.Duration, run.Evaluated, run.Accepted)

	logger.Info("grid search complete",
		zap.Int("positions", run.Positions),
		zap.Int("evaluated", run.Evaluated),
		zap.Int("accepted", run.Accepted),
		zap.Int("persisted", run.Persisted),
		zap.Duration("duration", run.Duration),
	)

	if o.onComplete != nil {
		o.onComplete(run)
	}
	return run, nil
}

// sweep loads the window, scores every candidate and persists the ranking.
func (o *Optimizer) sweep(
	ctx context.Context,
	logger *zap.Logger,
	cfg types.OptimizationConfig,
	grid []types.ParameterCandidate,
) (*OptimizationRun, error) {
	req := cfg.Request

	query := storage.PositionQuery{
		Since:          cfg.CreatedAt.AddDate(0, 0, -req.CalculationDays),
		IndicationType: req.IndicationType,
	}
	if req.SymbolMode == types.SymbolModeCustom {
		for _, s := range req.Symbols {
			query.Symbols = append(query.Symbols, utils.NormalizeSymbol(s))
		}
	}

	positions, err := o.positions.ListClosed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load historical positions: %w", err)
	}

	symbols := SelectSymbols(positions, req)
	positions = FilterSymbols(positions, symbols)
	positions = ApplyCaps(positions, req.MaxPositionsPerSymbol, req.MaxPositionsPerDirection)

	logger.Debug("historical window loaded",
		zap.Int("positions", len(positions)),
		zap.Strings("symbols", symbols),
	)

	scores, err := o.scoreAll(ctx, grid, positions)
	if err != nil {
		return nil, err
	}

	accepted := Filter(scores, req.Thresholds())
	Rank(accepted)

	toPersist := Top(accepted, o.config.PersistLimit)
	saved, err := o.persist(ctx, logger, cfg.ID, toPersist)
	if err != nil {
		return nil, err
	}

	results := make([]types.CandidateScore, 0, o.config.ResponseLimit)
	for _, s := range Top(toPersist, o.config.ResponseLimit) {
		s.ConfigID = cfg.ID
		results = append(results, s)
	}

	return &OptimizationRun{
		ConfigID:  cfg.ID,
		Results:   results,
		Symbols:   symbols,
		Positions: len(positions),
		Evaluated: len(grid),
		Accepted:  len(accepted),
		Persisted: saved,
	}, nil
}

// scoreAll simulates every candidate. Cancellation is checked once per
// candidate, and each result lands at its grid index so completion order
// never affects the ranking.
func (o *Optimizer) scoreAll(
	ctx context.Context,
	grid []types.ParameterCandidate,
	positions []types.Position,
) ([]types.CandidateScore, error) {
	scores := make([]types.CandidateScore, len(grid))

	evaluate := func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := grid[i]
		scores[i] = backtester.Aggregate(c, backtester.SimulateAll(c, positions))
		return nil
	}

	if o.pool == nil {
		for i := range grid {
			if err := evaluate(i); err != nil {
				return nil, fmt.Errorf("sweep cancelled: %w", err)
			}
		}
		return scores, nil
	}

	if err := o.pool.ForEach(ctx, len(grid), evaluate); err != nil {
		return nil, fmt.Errorf("sweep aborted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sweep cancelled: %w", err)
	}
	return scores, nil
}

// persist writes the ranked scores. Row failures are tolerated as long as
// at least one row landed; a store that rejects everything fails the run.
func (o *Optimizer) persist(ctx context.Context, logger *zap.Logger, configID string, scores []types.CandidateScore) (int, error) {
	if len(scores) == 0 {
		return 0, nil
	}

	saved, err := o.results.SaveScores(ctx, configID, scores)
	o.metrics.RecordPersist(saved, len(scores)-saved)
	if err == nil {
		return saved, nil
	}
	if saved == 0 {
		return 0, fmt.Errorf("persist candidate scores: %w", err)
	}

	logger.Warn("some candidate scores were not persisted",
		zap.Int("saved", saved),
		zap.Int("failed", len(scores)-saved),
		zap.Error(err),
	)
	return saved, nil
}

func (o *Optimizer) markFailed(ctx context.Context, logger *zap.Logger, configID string) {
	// ctx may already be cancelled; the stamp should still land.
	stampCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := o.results.UpdateConfigStatus(stampCtx, configID, types.ConfigFailed); err != nil {
		logger.Warn("failed to stamp config failed", zap.Error(err))
	}
}

// SelectSymbols resolves the symbols a sweep replays.
func SelectSymbols(positions []types.Position, req types.OptimizationRequest) []string {
	switch req.SymbolMode {
	case types.SymbolModeCustom:
		seen := make(map[string]bool, len(req.Symbols))
		var symbols []string
		for _, s := range req.Symbols {
			s = utils.NormalizeSymbol(s)
			if s != "" && !seen[s] {
				seen[s] = true
				symbols = append(symbols, s)
			}
		}
		return symbols

	case types.SymbolModeMain:
		return rankSymbols(positions, req.ExchangeOrderBy, req.SymbolLimit)

	default:
		return rankSymbols(positions, req.ExchangeOrderBy, -1)
	}
}

// rankSymbols orders symbols by position count or realized PnL, descending,
// with the symbol name as tie-breaker. limit < 0 keeps all of them.
func rankSymbols(positions []types.Position, orderBy string, limit int) []string {
	type symbolStat struct {
		symbol string
		count  int
		pnl    float64
	}

	stats := make(map[string]*symbolStat)
	for _, p := range positions {
		st, ok := stats[p.Symbol]
		if !ok {
			st = &symbolStat{symbol: p.Symbol}
			stats[p.Symbol] = st
		}
		st.count++
		st.pnl += p.PnL
	}

	ranked := make([]*symbolStat, 0, len(stats))
	for _, st := range stats {
		ranked = append(ranked, st)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if orderBy == types.OrderByPnL {
			if a.pnl != b.pnl {
				return a.pnl > b.pnl
			}
		} else if a.count != b.count {
			return a.count > b.count
		}
		return a.symbol < b.symbol
	})

	if limit >= 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	symbols := make([]string, len(ranked))
	for i, st := range ranked {
		symbols[i] = st.symbol
	}
	return symbols
}

// FilterSymbols keeps positions on the given symbols, preserving order.
func FilterSymbols(positions []types.Position, symbols []string) []types.Position {
	allowed := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		allowed[s] = true
	}
	result := make([]types.Position, 0, len(positions))
	for _, p := range positions {
		if allowed[p.Symbol] {
			result = append(result, p)
		}
	}
	return result
}

// ApplyCaps keeps at most perSymbol positions per symbol and at most
// perDirection positions per symbol and side. Input must be newest first,
// so the newest positions survive. Zero disables a cap.
func ApplyCaps(positions []types.Position, perSymbol, perDirection int) []types.Position {
	if perSymbol <= 0 && perDirection <= 0 {
		return positions
	}

	type sideKey struct {
		symbol string
		side   types.Side
	}
	bySymbol := make(map[string]int)
	bySide := make(map[sideKey]int)

	result := make([]types.Position, 0, len(positions))
	for _, p := range positions {
		k := sideKey{p.Symbol, p.Side}
		if perSymbol > 0 && bySymbol[p.Symbol] >= perSymbol {
			continue
		}
		if perDirection > 0 && bySide[k] >= perDirection {
			continue
		}
		bySymbol[p.Symbol]++
		bySide[k]++
		result = append(result, p)
	}
	return result
}

// IsRequestError reports whether err was caused by an invalid request.
func IsRequestError(err error) bool {
	return errors.Is(err, types.ErrInvalidRequest) || errors.Is(err, types.ErrInvalidRange)
}
