package backtester

import (
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/atlas-desktop/strategy-optimizer/pkg/utils"
	"github.com/shopspring/decimal"
)

// NoLossProfitFactor is reported when a candidate made money without a
// single losing trade.
const NoLossProfitFactor = 999.0

// scorePrecision is the number of decimals kept on stored score fields.
const scorePrecision = 4

// ProfitFactor applies the profit factor rules to summed legs. Both
// arguments are absolute values.
func ProfitFactor(totalProfit, totalLoss decimal.Decimal) float64 {
	switch {
	case totalLoss.IsPositive():
		return totalProfit.Div(totalLoss).Round(scorePrecision).InexactFloat64()
	case totalProfit.IsPositive():
		return NoLossProfitFactor
	default:
		return 0
	}
}

// Aggregate scores one candidate from its simulated outcomes.
func Aggregate(c types.ParameterCandidate, outcomes []types.SimulatedOutcome) types.CandidateScore {
	score := types.CandidateScore{
		Candidate:      c,
		TotalPositions: len(outcomes),
	}
	if len(outcomes) == 0 {
		return score
	}

	var totalPnL, totalWins, totalLosses decimal.Decimal
	var lossHours []float64

	for _, o := range outcomes {
		pnl := decimal.NewFromFloat(o.SimulatedPnL)
		totalPnL = totalPnL.Add(pnl)

		if pnl.GreaterThan(decimal.Zero) {
			score.WinningTrades++
			totalWins = totalWins.Add(pnl)
		} else if pnl.LessThan(decimal.Zero) {
			score.LosingTrades++
			totalLosses = totalLosses.Add(pnl.Abs())
			if h := o.Position.HoldingHours(); h > 0 {
				lossHours = append(lossHours, h)
			}
		}
	}

	score.TotalPnL = totalPnL.Round(8).InexactFloat64()
	score.ProfitFactor = ProfitFactor(totalWins, totalLosses)
	score.WinRate = decimal.NewFromInt(int64(score.WinningTrades)).
		Div(decimal.NewFromInt(int64(score.TotalPositions))).
		Round(scorePrecision).
		InexactFloat64()
	score.DrawdownTimeHours = utils.Round(utils.Mean(lossHours), scorePrecision)

	return score
}
