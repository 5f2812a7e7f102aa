// Package types provides common types for the strategy optimizer.
package types

import (
	"time"
)

// Side represents position direction
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// IsShort reports whether the side is a short (sell) position.
func (s Side) IsShort() bool {
	return s == SideSell
}

// PositionStatus represents the lifecycle state of a position
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// HitKind tells which boundary fired during simulation
type HitKind string

const (
	HitTakeProfit HitKind = "takeprofit"
	HitStopLoss   HitKind = "stoploss"
	HitNone       HitKind = "none"
)

// ParameterRange describes one swept dimension
type ParameterRange struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Steps int     `json:"steps"`
}

// Validate checks the range invariants.
func (r ParameterRange) Validate() error {
	if r.Steps < 1 {
		return ErrInvalidRange
	}
	if r.Max < r.Min {
		return ErrInvalidRange
	}
	return nil
}

// CandidateFlags are copied unchanged onto every candidate of a sweep.
type CandidateFlags struct {
	TrailingEnabled          bool `json:"trailing_enabled"`
	TrailingOnly             bool `json:"trailing_only"`
	UseBlock                 bool `json:"use_block"`
	UseDCA                   bool `json:"use_dca"`
	AdditionalStrategiesOnly bool `json:"additional_strategies_only"`
}

// ParameterCandidate is one fully resolved parameter tuple under test.
type ParameterCandidate struct {
	Index                    int     `json:"index"`
	TakeProfit               float64 `json:"takeprofit"`
	StopLoss                 float64 `json:"stoploss"`
	TrailingEnabled          bool    `json:"trailing_enabled"`
	UseBlock                 bool    `json:"use_block"`
	UseDCA                   bool    `json:"use_dca"`
	AdditionalStrategiesOnly bool    `json:"additional_strategies_only"`
}

// Position is a historical or live position record.
type Position struct {
	ID             string         `json:"id"`
	SetID          string         `json:"set_id,omitempty"`
	ConnectionID   string         `json:"connection_id,omitempty"`
	Symbol         string         `json:"symbol"`
	Side           Side           `json:"side"`
	Status         PositionStatus `json:"status"`
	IndicationType string         `json:"indication_type,omitempty"`
	EntryPrice     float64        `json:"entry_price"`
	MaxPrice       float64        `json:"max_price"`
	MinPrice       float64        `json:"min_price"`
	Quantity       float64        `json:"quantity"`
	PnL            float64        `json:"pnl"`
	ProfitFactor   float64        `json:"profit_factor"`
	OpenedAt       time.Time      `json:"created_at"`
	ClosedAt       time.Time      `json:"closed_at"`
}

// HoldingHours returns the time between open and close in hours, or zero
// when either timestamp is missing.
func (p Position) HoldingHours() float64 {
	if p.OpenedAt.IsZero() || p.ClosedAt.IsZero() || p.ClosedAt.Before(p.OpenedAt) {
		return 0
	}
	return p.ClosedAt.Sub(p.OpenedAt).Hours()
}

// SimulatedOutcome is the result of replaying one candidate on one position.
type SimulatedOutcome struct {
	Candidate    ParameterCandidate `json:"candidate"`
	Position     Position           `json:"position"`
	SimulatedPnL float64            `json:"simulated_pnl"`
	Hit          HitKind            `json:"hit"`
}

// CandidateScore aggregates all simulated outcomes of one candidate.
type CandidateScore struct {
	ID                string             `json:"id,omitempty"`
	ConfigID          string             `json:"config_id,omitempty"`
	Candidate         ParameterCandidate `json:"candidate"`
	ProfitFactor      float64            `json:"profit_factor"`
	WinRate           float64            `json:"win_rate"`
	TotalPnL          float64            `json:"total_pnl"`
	TotalPositions    int                `json:"total_positions"`
	WinningTrades     int                `json:"winning_trades"`
	LosingTrades      int                `json:"losing_trades"`
	DrawdownTimeHours float64            `json:"drawdown_time_hours"`
	CreatedAt         time.Time          `json:"created_at"`
}

// ScoreLess orders scores by profit factor desc, win rate desc, then by
// parameters ascending so the order is re-derivable from stored fields.
func ScoreLess(a, b CandidateScore) bool {
	if a.ProfitFactor != b.ProfitFactor {
		return a.ProfitFactor > b.ProfitFactor
	}
	if a.WinRate != b.WinRate {
		return a.WinRate > b.WinRate
	}
	if a.Candidate.TakeProfit != b.Candidate.TakeProfit {
		return a.Candidate.TakeProfit < b.Candidate.TakeProfit
	}
	if a.Candidate.StopLoss != b.Candidate.StopLoss {
		return a.Candidate.StopLoss < b.Candidate.StopLoss
	}
	return a.Candidate.Index < b.Candidate.Index
}

// ConfigStatus tracks the outcome of an optimization run
type ConfigStatus string

const (
	ConfigPending   ConfigStatus = "pending"
	ConfigCompleted ConfigStatus = "completed"
	ConfigFailed    ConfigStatus = "failed"
)

// OptimizationConfig is the immutable, normalized request of one run.
type OptimizationConfig struct {
	ID        string              `json:"id"`
	Request   OptimizationRequest `json:"request"`
	Status    ConfigStatus        `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}

// Set is a deployed parameter group subject to automatic disable.
type Set struct {
	ID                       string         `json:"id"`
	Name                     string         `json:"name"`
	ConnectionIDs            []string       `json:"connection_ids"`
	Symbols                  []string       `json:"symbols,omitempty"`
	IndicationType           string         `json:"indication_type,omitempty"`
	Parameters               map[string]any `json:"parameters,omitempty"`
	IsActive                 bool           `json:"is_active"`
	EvaluationPositionsCount int            `json:"evaluation_positions_count"`
	ProfitFactorMin          float64        `json:"profit_factor_min"`
	LastEvaluationAt         *time.Time     `json:"last_evaluation_at,omitempty"`
	AutoDisabledAt           *time.Time     `json:"auto_disabled_at,omitempty"`
	AutoDisabledReason       string         `json:"auto_disabled_reason,omitempty"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
}

// SymbolEvaluation is the per-symbol verdict of one evaluation pass.
type SymbolEvaluation struct {
	Symbol                string  `json:"symbol"`
	TotalPositions        int     `json:"total_positions"`
	RecentSampleSize      int     `json:"recent_sample_size"`
	AvgProfitFactorAll    float64 `json:"avg_profit_factor_all"`
	AvgProfitFactorRecent float64 `json:"avg_profit_factor_recent"`
	SufficientData        bool    `json:"sufficient_data"`
	ShouldDisable         bool    `json:"should_disable"`
}

// SetEvaluation summarizes the evaluation of one Set.
type SetEvaluation struct {
	SetID       string             `json:"set_id"`
	WasActive   bool               `json:"was_active"`
	IsActive    bool               `json:"is_active"`
	Disabled    bool               `json:"disabled"`
	Reason      string             `json:"reason,omitempty"`
	Symbols     []SymbolEvaluation `json:"symbols"`
	EvaluatedAt time.Time          `json:"evaluated_at"`
}

// PassSummary summarizes one full evaluation pass over active Sets.
type PassSummary struct {
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Evaluated   int             `json:"evaluated"`
	Disabled    int             `json:"disabled"`
	Failed      int             `json:"failed"`
	Evaluations []SetEvaluation `json:"evaluations"`
}
