// Package backtester replays historical positions against parameter candidates.
package backtester

import (
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Simulate decides whether the candidate's take-profit or stop-loss would
// have fired for the position.
//
// Only the price extremes of the position are known, not the path between
// them. When both boundaries were crossed take-profit is reported, which is
// an approximation rather than the true order of events.
func Simulate(c types.ParameterCandidate, p types.Position) types.SimulatedOutcome {
	out := types.SimulatedOutcome{
		Candidate:    c,
		Position:     p,
		SimulatedPnL: p.PnL,
		Hit:          types.HitNone,
	}
	if p.EntryPrice <= 0 {
		return out
	}

	entry := decimal.NewFromFloat(p.EntryPrice)
	high := decimal.NewFromFloat(p.MaxPrice)
	low := decimal.NewFromFloat(p.MinPrice)
	tp := decimal.NewFromFloat(c.TakeProfit).Div(hundred)
	sl := decimal.NewFromFloat(c.StopLoss).Div(hundred)
	one := decimal.NewFromInt(1)

	var tpHit, slHit bool
	if p.Side.IsShort() {
		tpHit = p.MinPrice > 0 && low.LessThanOrEqual(entry.Mul(one.Sub(tp)))
		slHit = p.MaxPrice > 0 && high.GreaterThanOrEqual(entry.Mul(one.Add(sl)))
	} else {
		tpHit = p.MaxPrice > 0 && high.GreaterThanOrEqual(entry.Mul(one.Add(tp)))
		slHit = p.MinPrice > 0 && low.LessThanOrEqual(entry.Mul(one.Sub(sl)))
	}

	qty := decimal.NewFromFloat(p.Quantity)
	if !qty.IsPositive() {
		qty = one
	}

	switch {
	case tpHit:
		out.Hit = types.HitTakeProfit
		out.SimulatedPnL = entry.Mul(tp).Mul(qty).Round(8).InexactFloat64()
	case slHit:
		out.Hit = types.HitStopLoss
		out.SimulatedPnL = entry.Mul(sl).Mul(qty).Neg().Round(8).InexactFloat64()
	}
	return out
}

// SimulateAll replays one candidate over every position of a window.
func SimulateAll(c types.ParameterCandidate, positions []types.Position) []types.SimulatedOutcome {
	outcomes := make([]types.SimulatedOutcome, 0, len(positions))
	for _, p := range positions {
		outcomes = append(outcomes, Simulate(c, p))
	}
	return outcomes
}
