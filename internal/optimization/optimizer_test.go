package optimization_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/optimization"
	"github.com/atlas-desktop/strategy-optimizer/internal/storage"
	"github.com/atlas-desktop/strategy-optimizer/internal/storage/memory"
	"github.com/atlas-desktop/strategy-optimizer/internal/workers"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// historicalPositions builds n closed positions on one symbol, newest first.
func historicalPositions(n int, symbol string) []types.Position {
	now := time.Now()
	positions := make([]types.Position, 0, n)
	for i := 0; i < n; i++ {
		side := types.SideBuy
		if i%2 == 1 {
			side = types.SideSell
		}
		opened := now.Add(-time.Duration(i+1) * time.Hour)
		positions = append(positions, types.Position{
			ID:         fmt.Sprintf("%s-%d", symbol, i),
			Symbol:     symbol,
			Side:       side,
			Status:     types.PositionClosed,
			EntryPrice: 100,
			MaxPrice:   100 + float64(i%7),
			MinPrice:   100 - float64(i%5),
			Quantity:   1,
			PnL:        float64(i%3) - 1,
			OpenedAt:   opened,
			ClosedAt:   opened.Add(time.Duration(1+i%3) * time.Hour),
		})
	}
	return positions
}

func newOptimizer(t *testing.T, positions storage.PositionRepository, results storage.ResultStore) *optimization.Optimizer {
	t.Helper()
	cfg := workers.DefaultPoolConfig("sweep")
	cfg.NumWorkers = 4
	pool := workers.NewPool(zap.NewNop(), cfg)
	pool.Start()
	t.Cleanup(func() { _ = pool.Stop() })

	return optimization.NewOptimizer(zap.NewNop(), nil, positions, results, pool, nil)
}

func endToEndRequest() types.OptimizationRequest {
	return types.OptimizationRequest{
		TakeProfitMin:            2,
		TakeProfitMax:            4,
		StopLossMin:              1,
		StopLossMax:              2,
		MinProfitFactor:          0.5,
		MinProfitFactorPositions: 10,
	}
}

func TestRunEndToEnd(t *testing.T) {
	positions := memory.NewPositionStore(historicalPositions(50, "BTCUSDT")...)
	results := memory.NewResultStore()
	opt := newOptimizer(t, positions, results)

	var completed *optimization.OptimizationRun
	opt.OnComplete(func(run *optimization.OptimizationRun) { completed = run })

	run, err := opt.Run(context.Background(), endToEndRequest())
	require.NoError(t, err)

	assert.Equal(t, 36, run.Evaluated)
	assert.Equal(t, 50, run.Positions)
	assert.NotEmpty(t, run.Results)
	assert.LessOrEqual(t, len(run.Results), 20)
	assert.LessOrEqual(t, run.Accepted, 36)
	for i, s := range run.Results {
		assert.Equal(t, 50, s.TotalPositions)
		assert.Equal(t, run.ConfigID, s.ConfigID)
		if i > 0 {
			assert.GreaterOrEqual(t, run.Results[i-1].ProfitFactor, s.ProfitFactor)
		}
	}
	require.NotNil(t, completed)
	assert.Equal(t, run.ConfigID, completed.ConfigID)

	cfg, err := results.GetConfig(context.Background(), run.ConfigID)
	require.NoError(t, err)
	assert.Equal(t, types.ConfigCompleted, cfg.Status)
	assert.Equal(t, 5, cfg.Request.Steps)
	assert.Equal(t, 7, cfg.Request.CalculationDays)
	assert.Equal(t, 12.0, cfg.Request.MaxDrawdownTimeHours)

	stored, err := results.LoadTop(context.Background(), run.ConfigID, 100)
	require.NoError(t, err)
	assert.Equal(t, run.Accepted, len(stored))
	assert.Equal(t, run.Persisted, len(stored))
	for i := range run.Results {
		assert.Equal(t, run.Results[i].Candidate, stored[i].Candidate)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	positions := memory.NewPositionStore(historicalPositions(50, "BTCUSDT")...)
	results := memory.NewResultStore()
	opt := newOptimizer(t, positions, results)

	first, err := opt.Run(context.Background(), endToEndRequest())
	require.NoError(t, err)
	second, err := opt.Run(context.Background(), endToEndRequest())
	require.NoError(t, err)

	require.Equal(t, len(first.Results), len(second.Results))
	for i := range first.Results {
		assert.Equal(t, first.Results[i].Candidate, second.Results[i].Candidate)
		assert.Equal(t, first.Results[i].ProfitFactor, second.Results[i].ProfitFactor)
	}
}

func TestRunInlineWithoutPool(t *testing.T) {
	positions := memory.NewPositionStore(historicalPositions(20, "ETHUSDT")...)
	results := memory.NewResultStore()
	opt := optimization.NewOptimizer(zap.NewNop(), nil, positions, results, nil, nil)

	run, err := opt.Run(context.Background(), endToEndRequest())
	require.NoError(t, err)
	assert.Equal(t, 36, run.Evaluated)
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	opt := newOptimizer(t, memory.NewPositionStore(), memory.NewResultStore())

	req := endToEndRequest()
	req.TakeProfitMax = 1
	_, err := opt.Run(context.Background(), req)
	require.Error(t, err)
	assert.True(t, optimization.IsRequestError(err))

	req = endToEndRequest()
	req.SymbolMode = types.SymbolModeCustom
	_, err = opt.Run(context.Background(), req)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestRunRejectsOversizedGridBeforeCreatingConfig(t *testing.T) {
	results := &recordingResults{ResultStore: memory.NewResultStore()}
	opt := optimization.NewOptimizer(zap.NewNop(), &optimization.OptimizerConfig{MaxGridSteps: 10},
		memory.NewPositionStore(historicalPositions(10, "BTCUSDT")...), results, nil, nil)

	req := endToEndRequest()
	req.Steps = 1_000_000
	_, err := opt.Run(context.Background(), req)
	require.ErrorIs(t, err, types.ErrInvalidRequest)
	assert.True(t, optimization.IsRequestError(err))
	assert.Contains(t, err.Error(), "exceeds limit 10")
	assert.Empty(t, results.configID)

	req.Steps = 10
	run, err := opt.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 121, run.Evaluated)
}

func TestRunUsesDefaultGridCeiling(t *testing.T) {
	opt := newOptimizer(t, memory.NewPositionStore(), memory.NewResultStore())

	req := endToEndRequest()
	req.Steps = types.DefaultMaxGridSteps + 1
	_, err := opt.Run(context.Background(), req)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestRunCancelledMarksConfigFailed(t *testing.T) {
	positions := memory.NewPositionStore(historicalPositions(50, "BTCUSDT")...)
	results := &recordingResults{ResultStore: memory.NewResultStore()}
	opt := optimization.NewOptimizer(zap.NewNop(), nil, positions, results, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := opt.Run(ctx, endToEndRequest())
	require.ErrorIs(t, err, context.Canceled)

	require.NotEmpty(t, results.configID)
	cfg, err := results.GetConfig(context.Background(), results.configID)
	require.NoError(t, err)
	assert.Equal(t, types.ConfigFailed, cfg.Status)

	stored, err := results.LoadTop(context.Background(), results.configID, 100)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRunFailsWhenNoScoreCanBePersisted(t *testing.T) {
	positions := memory.NewPositionStore(historicalPositions(50, "BTCUSDT")...)
	results := &recordingResults{ResultStore: memory.NewResultStore(), saveErr: errors.New("store unavailable")}
	opt := newOptimizer(t, positions, results)

	_, err := opt.Run(context.Background(), endToEndRequest())
	require.Error(t, err)

	cfg, err := results.GetConfig(context.Background(), results.configID)
	require.NoError(t, err)
	assert.Equal(t, types.ConfigFailed, cfg.Status)
}

func TestRunCompletesWhenSomeScoresPersist(t *testing.T) {
	positions := memory.NewPositionStore(historicalPositions(50, "BTCUSDT")...)
	results := &recordingResults{
		ResultStore: memory.NewResultStore(),
		saveErr:     errors.New("row rejected"),
		saveLimit:   1,
	}
	opt := newOptimizer(t, positions, results)

	req := endToEndRequest()
	req.MinProfitFactor = 0
	run, err := opt.Run(context.Background(), req)
	require.NoError(t, err)
	require.Greater(t, run.Accepted, 1)
	assert.Equal(t, 1, run.Persisted)
	assert.Less(t, run.Persisted, run.Accepted)

	cfg, err := results.GetConfig(context.Background(), run.ConfigID)
	require.NoError(t, err)
	assert.Equal(t, types.ConfigCompleted, cfg.Status)

	stored, err := results.LoadTop(context.Background(), run.ConfigID, 100)
	require.NoError(t, err)
	assert.Len(t, stored, run.Persisted)
}

// recordingResults remembers the last config id and can fail saves. With
// saveLimit set, the first saveLimit rows are written and the rest fail
// with saveErr; otherwise a non-nil saveErr fails every row.
type recordingResults struct {
	*memory.ResultStore
	configID  string
	saveErr   error
	saveLimit int
}

func (r *recordingResults) CreateConfig(ctx context.Context, cfg *types.OptimizationConfig) error {
	r.configID = cfg.ID
	return r.ResultStore.CreateConfig(ctx, cfg)
}

func (r *recordingResults) SaveScores(ctx context.Context, configID string, scores []types.CandidateScore) (int, error) {
	if r.saveLimit > 0 && len(scores) > r.saveLimit {
		saved, err := r.ResultStore.SaveScores(ctx, configID, scores[:r.saveLimit])
		if err != nil {
			return saved, err
		}
		return saved, r.saveErr
	}
	if r.saveErr != nil && r.saveLimit == 0 {
		return 0, r.saveErr
	}
	return r.ResultStore.SaveScores(ctx, configID, scores)
}

func TestSelectSymbols(t *testing.T) {
	var positions []types.Position
	add := func(symbol string, n int, pnl float64) {
		for i := 0; i < n; i++ {
			positions = append(positions, types.Position{Symbol: symbol, PnL: pnl})
		}
	}
	add("BTCUSDT", 5, -1)
	add("ETHUSDT", 3, 10)
	add("SOLUSDT", 1, 2)

	top := types.OptimizationRequest{SymbolMode: types.SymbolModeMain, ExchangeOrderBy: types.OrderByVolume, SymbolLimit: 2}
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, optimization.SelectSymbols(positions, top))

	top.ExchangeOrderBy = types.OrderByPnL
	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, optimization.SelectSymbols(positions, top))

	all := types.OptimizationRequest{SymbolMode: types.SymbolModeAll}
	assert.Len(t, optimization.SelectSymbols(positions, all), 3)

	custom := types.OptimizationRequest{SymbolMode: types.SymbolModeCustom, Symbols: []string{"ethusdt", "ETHUSDT", "xrpusdt"}}
	assert.Equal(t, []string{"ETHUSDT", "XRPUSDT"}, optimization.SelectSymbols(positions, custom))
}

func TestApplyCapsKeepsNewest(t *testing.T) {
	positions := []types.Position{
		{ID: "b1", Symbol: "BTC", Side: types.SideBuy},
		{ID: "s1", Symbol: "BTC", Side: types.SideSell},
		{ID: "b2", Symbol: "BTC", Side: types.SideBuy},
		{ID: "b3", Symbol: "BTC", Side: types.SideBuy},
		{ID: "e1", Symbol: "ETH", Side: types.SideBuy},
	}

	ids := func(ps []types.Position) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.ID)
		}
		return out
	}

	assert.Equal(t, []string{"b1", "s1", "b2", "e1"}, ids(optimization.ApplyCaps(positions, 0, 2)))
	assert.Equal(t, []string{"b1", "s1", "e1"}, ids(optimization.ApplyCaps(positions, 2, 0)))
	assert.Len(t, optimization.ApplyCaps(positions, 0, 0), 5)
}
