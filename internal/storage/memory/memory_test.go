package memory_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/storage"
	"github.com/atlas-desktop/strategy-optimizer/internal/storage/memory"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func TestPositionStoreListClosed(t *testing.T) {
	store := memory.NewPositionStore(
		types.Position{ID: "old", Symbol: "BTCUSDT", Status: types.PositionClosed, OpenedAt: base.Add(-10 * 24 * time.Hour)},
		types.Position{ID: "a", Symbol: "BTCUSDT", Status: types.PositionClosed, OpenedAt: base.Add(-2 * time.Hour)},
		types.Position{ID: "b", Symbol: "ETHUSDT", Status: types.PositionClosed, OpenedAt: base.Add(-1 * time.Hour)},
		types.Position{ID: "open", Symbol: "BTCUSDT", Status: types.PositionOpen, OpenedAt: base},
		types.Position{Symbol: "NOID", Status: types.PositionClosed, OpenedAt: base},
	)

	got, err := store.ListClosed(context.Background(), storage.PositionQuery{Since: base.Add(-7 * 24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "a", got[1].ID)

	got, err = store.ListClosed(context.Background(), storage.PositionQuery{Symbols: []string{"BTCUSDT"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "old", got[1].ID)
}

func TestPositionStoreListForSet(t *testing.T) {
	store := memory.NewPositionStore(
		types.Position{ID: "1", ConnectionID: "c1", IndicationType: "direction", Symbol: "BTCUSDT", OpenedAt: base},
		types.Position{ID: "2", ConnectionID: "c2", IndicationType: "direction", Symbol: "BTCUSDT", OpenedAt: base.Add(time.Hour)},
		types.Position{ID: "3", ConnectionID: "c1", IndicationType: "move", Symbol: "BTCUSDT", OpenedAt: base},
		types.Position{ID: "4", SetID: "set-1", ConnectionID: "other", Symbol: "ETHUSDT", OpenedAt: base.Add(2 * time.Hour)},
		types.Position{ID: "5", SetID: "set-2", ConnectionID: "c1", IndicationType: "direction", Symbol: "BTCUSDT", OpenedAt: base},
	)
	set := types.Set{ID: "set-1", ConnectionIDs: []string{"c1", "c2"}, IndicationType: "direction"}

	got, err := store.ListForSet(context.Background(), set)
	require.NoError(t, err)

	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"4", "2", "1"}, ids)
}

func TestResultStoreConfigLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewResultStore()

	require.ErrorIs(t, store.CreateConfig(ctx, &types.OptimizationConfig{}), storage.ErrInvalidInput)

	cfg := &types.OptimizationConfig{ID: "cfg-1", Status: types.ConfigPending, CreatedAt: base}
	require.NoError(t, store.CreateConfig(ctx, cfg))

	require.NoError(t, store.UpdateConfigStatus(ctx, "cfg-1", types.ConfigCompleted))
	got, err := store.GetConfig(ctx, "cfg-1")
	require.NoError(t, err)
	assert.Equal(t, types.ConfigCompleted, got.Status)

	_, err = store.GetConfig(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.UpdateConfigStatus(ctx, "missing", types.ConfigFailed), storage.ErrNotFound)
}

func TestResultStoreSaveScoresIsolatesRows(t *testing.T) {
	ctx := context.Background()
	store := memory.NewResultStore()
	require.NoError(t, store.CreateConfig(ctx, &types.OptimizationConfig{ID: "cfg-1"}))

	scores := []types.CandidateScore{
		{Candidate: types.ParameterCandidate{Index: 0, TakeProfit: 2}, ProfitFactor: 1.2, WinRate: 0.5},
		{Candidate: types.ParameterCandidate{Index: 1, TakeProfit: 3}, ProfitFactor: math.NaN()},
		{Candidate: types.ParameterCandidate{Index: 2, TakeProfit: 4}, ProfitFactor: 2.5, WinRate: 0.4},
	}

	saved, err := store.SaveScores(ctx, "cfg-1", scores)
	assert.Equal(t, 2, saved)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	top, err := store.LoadTop(ctx, "cfg-1", 20)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, 2, top[0].Candidate.Index)
	assert.Equal(t, "cfg-1", top[0].ConfigID)
	assert.NotEmpty(t, top[0].ID)
	assert.False(t, top[0].CreatedAt.IsZero())

	_, err = store.SaveScores(ctx, "missing", scores)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResultStoreLoadTopIsRepeatable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewResultStore()
	require.NoError(t, store.CreateConfig(ctx, &types.OptimizationConfig{ID: "cfg-1"}))

	var scores []types.CandidateScore
	for i := 0; i < 30; i++ {
		scores = append(scores, types.CandidateScore{
			Candidate:    types.ParameterCandidate{Index: i, TakeProfit: float64(i % 5)},
			ProfitFactor: float64(i % 4),
			WinRate:      float64(i%3) / 3,
		})
	}
	saved, err := store.SaveScores(ctx, "cfg-1", scores)
	require.NoError(t, err)
	require.Equal(t, 30, saved)

	first, err := store.LoadTop(ctx, "cfg-1", 20)
	require.NoError(t, err)
	second, err := store.LoadTop(ctx, "cfg-1", 20)
	require.NoError(t, err)
	require.Len(t, first, 20)
	assert.Equal(t, first, second)

	for i := 1; i < len(first); i++ {
		assert.False(t, types.ScoreLess(first[i], first[i-1]), "row %d out of order", i)
	}
}

func TestSetStoreDisableIsOneWay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSetStore(
		types.Set{ID: "s1", IsActive: true},
		types.Set{ID: "s2", IsActive: false},
		types.Set{ID: "s0", IsActive: true},
	)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "s0", active[0].ID)

	require.NoError(t, store.Disable(ctx, "s1", base, "degraded"))
	assert.ErrorIs(t, store.Disable(ctx, "s1", base, "degraded"), storage.ErrAlreadyDisabled)
	assert.ErrorIs(t, store.Disable(ctx, "nope", base, "x"), storage.ErrNotFound)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.AutoDisabledAt)
	assert.Equal(t, base, *got.AutoDisabledAt)
	assert.Equal(t, "degraded", got.AutoDisabledReason)

	require.NoError(t, store.MarkEvaluated(ctx, "s0", base))
	got, err = store.Get(ctx, "s0")
	require.NoError(t, err)
	require.NotNil(t, got.LastEvaluationAt)
	assert.True(t, got.IsActive)
}
