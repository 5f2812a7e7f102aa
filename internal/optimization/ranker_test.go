package optimization_test

import (
	"testing"

	"github.com/atlas-desktop/strategy-optimizer/internal/optimization"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(index int, pf, winRate float64) types.CandidateScore {
	return types.CandidateScore{
		Candidate:      types.ParameterCandidate{Index: index, TakeProfit: float64(index), StopLoss: 1},
		ProfitFactor:   pf,
		WinRate:        winRate,
		TotalPositions: 50,
	}
}

func TestFilterExcludesLowProfitFactor(t *testing.T) {
	th := types.Thresholds{MinProfitFactor: 0.5, MinProfitFactorPositions: 10, MaxDrawdownTimeHours: 12}

	weak := score(0, 0.3, 1.0)
	ok := score(1, 0.5, 0.1)
	few := score(2, 3.0, 0.9)
	few.TotalPositions = 9
	slow := score(3, 3.0, 0.9)
	slow.DrawdownTimeHours = 12.5

	got := optimization.Filter([]types.CandidateScore{weak, ok, few, slow}, th)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Candidate.Index)
}

func TestRankOrdersByProfitFactorThenWinRate(t *testing.T) {
	scores := []types.CandidateScore{
		score(0, 1.5, 0.4),
		score(1, 2.0, 0.5),
		score(2, 2.0, 0.7),
		score(3, 999, 0.2),
	}

	optimization.Rank(scores)

	var order []int
	for _, s := range scores {
		order = append(order, s.Candidate.Index)
	}
	assert.Equal(t, []int{3, 2, 1, 0}, order)
}

func TestRankIsIndependentOfInputOrder(t *testing.T) {
	a := []types.CandidateScore{score(4, 1, 0.5), score(2, 1, 0.5), score(9, 1, 0.5), score(1, 2, 0.1)}
	b := []types.CandidateScore{a[2], a[3], a[0], a[1]}

	optimization.Rank(a)
	optimization.Rank(b)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, a[0].Candidate.Index)
	assert.Equal(t, 2, a[1].Candidate.Index)
}

func TestTop(t *testing.T) {
	scores := make([]types.CandidateScore, 150)
	assert.Len(t, optimization.Top(scores, optimization.PersistLimit), 100)
	assert.Len(t, optimization.Top(scores[:10], optimization.ResponseLimit), 10)
}
