package backtester_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/strategy-optimizer/internal/backtester"
	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/stretchr/testify/assert"
)

func longPosition(maxPrice, minPrice float64) types.Position {
	return types.Position{
		ID:         "p1",
		Symbol:     "BTCUSDT",
		Side:       types.SideBuy,
		Status:     types.PositionClosed,
		EntryPrice: 100,
		MaxPrice:   maxPrice,
		MinPrice:   minPrice,
		Quantity:   1,
		PnL:        1.25,
	}
}

func TestSimulateLongTakeProfit(t *testing.T) {
	c := types.ParameterCandidate{TakeProfit: 5, StopLoss: 3}

	out := backtester.Simulate(c, longPosition(106, 99))
	if out.Hit != types.HitTakeProfit {
		t.Fatalf("expected take-profit, got %s", out.Hit)
	}
	assert.Equal(t, 5.0, out.SimulatedPnL)
}

func TestSimulateLongStopLoss(t *testing.T) {
	c := types.ParameterCandidate{TakeProfit: 5, StopLoss: 3}

	out := backtester.Simulate(c, longPosition(104, 96))
	if out.Hit != types.HitStopLoss {
		t.Fatalf("expected stop-loss, got %s", out.Hit)
	}
	assert.Equal(t, -3.0, out.SimulatedPnL)
}

func TestSimulateTakeProfitWinsWhenBothCross(t *testing.T) {
	c := types.ParameterCandidate{TakeProfit: 5, StopLoss: 3}

	out := backtester.Simulate(c, longPosition(106, 96))
	assert.Equal(t, types.HitTakeProfit, out.Hit)
	assert.Equal(t, 5.0, out.SimulatedPnL)
}

func TestSimulateShort(t *testing.T) {
	c := types.ParameterCandidate{TakeProfit: 5, StopLoss: 3}
	p := longPosition(101, 94)
	p.Side = types.SideSell

	out := backtester.Simulate(c, p)
	assert.Equal(t, types.HitTakeProfit, out.Hit)
	assert.Equal(t, 5.0, out.SimulatedPnL)

	p.MinPrice = 98
	p.MaxPrice = 104
	out = backtester.Simulate(c, p)
	assert.Equal(t, types.HitStopLoss, out.Hit)
	assert.Equal(t, -3.0, out.SimulatedPnL)
}

func TestSimulateFallsBackToRealizedPnL(t *testing.T) {
	c := types.ParameterCandidate{TakeProfit: 5, StopLoss: 3}

	out := backtester.Simulate(c, longPosition(102, 99))
	assert.Equal(t, types.HitNone, out.Hit)
	assert.Equal(t, 1.25, out.SimulatedPnL)

	// Zero-valued prices from malformed rows never fire a boundary.
	bad := longPosition(0, 0)
	bad.EntryPrice = 0
	out = backtester.Simulate(c, bad)
	assert.Equal(t, types.HitNone, out.Hit)
	assert.Equal(t, 1.25, out.SimulatedPnL)
}

func TestSimulateScalesByQuantity(t *testing.T) {
	c := types.ParameterCandidate{TakeProfit: 5, StopLoss: 3}
	p := longPosition(106, 99)
	p.Quantity = 2

	out := backtester.Simulate(c, p)
	assert.Equal(t, 10.0, out.SimulatedPnL)
}

func TestSimulateAll(t *testing.T) {
	c := types.ParameterCandidate{Index: 7, TakeProfit: 5, StopLoss: 3}
	positions := []types.Position{longPosition(106, 99), longPosition(104, 96), longPosition(102, 99)}

	outcomes := backtester.SimulateAll(c, positions)
	if len(outcomes) != len(positions) {
		t.Fatalf("expected %d outcomes, got %d", len(positions), len(outcomes))
	}
	for _, o := range outcomes {
		assert.Equal(t, 7, o.Candidate.Index)
	}
}

func TestHoldingHours(t *testing.T) {
	opened := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := types.Position{OpenedAt: opened, ClosedAt: opened.Add(90 * time.Minute)}
	assert.Equal(t, 1.5, p.HoldingHours())

	p.ClosedAt = time.Time{}
	assert.Equal(t, 0.0, p.HoldingHours())
}
