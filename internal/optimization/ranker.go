package optimization

import (
	"sort"

	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
)

// Result caps
const (
	PersistLimit  = 100
	ResponseLimit = 20
)

// Accept reports whether a score passes all acceptance thresholds.
func Accept(s types.CandidateScore, th types.Thresholds) bool {
	return s.ProfitFactor >= th.MinProfitFactor &&
		s.TotalPositions >= th.MinProfitFactorPositions &&
		s.DrawdownTimeHours <= th.MaxDrawdownTimeHours
}

// Filter drops scores that fail acceptance. The input is not modified.
func Filter(scores []types.CandidateScore, th types.Thresholds) []types.CandidateScore {
	accepted := make([]types.CandidateScore, 0, len(scores))
	for _, s := range scores {
		if Accept(s, th) {
			accepted = append(accepted, s)
		}
	}
	return accepted
}

// Rank sorts scores in place, best first. The order depends only on score
// fields, never on the order workers finished in.
func Rank(scores []types.CandidateScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		return types.ScoreLess(scores[i], scores[j])
	})
}

// Top returns at most n leading scores.
func Top(scores []types.CandidateScore, n int) []types.CandidateScore {
	if n < 0 || n >= len(scores) {
		return scores
	}
	return scores[:n]
}
