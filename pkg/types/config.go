// Package types provides configuration types for the strategy optimizer.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation errors
var (
	ErrInvalidRange   = errors.New("invalid parameter range")
	ErrInvalidRequest = errors.New("invalid optimization request")
)

// SymbolMode selects which symbols a sweep replays
type SymbolMode string

const (
	SymbolModeAll    SymbolMode = "all"
	SymbolModeMain   SymbolMode = "main"
	SymbolModeCustom SymbolMode = "custom"
)

// Symbol ordering for SymbolModeMain
const (
	OrderByVolume = "volume"
	OrderByPnL    = "pnl"
)

// Request defaults
const (
	DefaultGridSteps            = 5
	DefaultCalculationDays      = 7
	DefaultMaxDrawdownTimeHours = 12
	DefaultSymbolLimit          = 10

	// DefaultMaxGridSteps caps steps per dimension; a sweep holds
	// (steps+1)^2 candidates in memory.
	DefaultMaxGridSteps = 100
)

// OptimizationRequest is the body of a create-optimization call.
type OptimizationRequest struct {
	SymbolMode               SymbolMode     `json:"symbol_mode"`
	ExchangeOrderBy          string         `json:"exchange_order_by"`
	SymbolLimit              int            `json:"symbol_limit"`
	Symbols                  []string       `json:"symbols,omitempty"`
	IndicationType           string         `json:"indication_type"`
	IndicationParams         map[string]any `json:"indication_params,omitempty"`
	TakeProfitMin            float64        `json:"takeprofit_min"`
	TakeProfitMax            float64        `json:"takeprofit_max"`
	StopLossMin              float64        `json:"stoploss_min"`
	StopLossMax              float64        `json:"stoploss_max"`
	Steps                    int            `json:"steps,omitempty"`
	TrailingEnabled          bool           `json:"trailing_enabled"`
	TrailingOnly             bool           `json:"trailing_only"`
	MinProfitFactor          float64        `json:"min_profit_factor"`
	MinProfitFactorPositions int            `json:"min_profit_factor_positions"`
	MaxDrawdownTimeHours     float64        `json:"max_drawdown_time_hours"`
	UseBlock                 bool           `json:"use_block"`
	UseDCA                   bool           `json:"use_dca"`
	AdditionalStrategiesOnly bool           `json:"additional_strategies_only"`
	CalculationDays          int            `json:"calculation_days"`
	MaxPositionsPerDirection int            `json:"max_positions_per_direction"`
	MaxPositionsPerSymbol    int            `json:"max_positions_per_symbol"`
}

// Normalize fills defaults. defaultSteps applies when the request has none.
func (r OptimizationRequest) Normalize(defaultSteps int) OptimizationRequest {
	if defaultSteps < 1 {
		defaultSteps = DefaultGridSteps
	}
	if r.Steps < 1 {
		r.Steps = defaultSteps
	}
	if r.SymbolMode == "" {
		r.SymbolMode = SymbolModeAll
	}
	r.SymbolMode = SymbolMode(strings.ToLower(string(r.SymbolMode)))
	if r.ExchangeOrderBy == "" {
		r.ExchangeOrderBy = OrderByVolume
	}
	if r.SymbolLimit <= 0 {
		r.SymbolLimit = DefaultSymbolLimit
	}
	if r.CalculationDays <= 0 {
		r.CalculationDays = DefaultCalculationDays
	}
	if r.MaxDrawdownTimeHours <= 0 {
		r.MaxDrawdownTimeHours = DefaultMaxDrawdownTimeHours
	}
	return r
}

// Validate checks a normalized request. maxSteps bounds the grid size and
// falls back to DefaultMaxGridSteps when below 1.
func (r OptimizationRequest) Validate(maxSteps int) error {
	if maxSteps < 1 {
		maxSteps = DefaultMaxGridSteps
	}
	if r.Steps > maxSteps {
		return fmt.Errorf("%w: steps %d exceeds limit %d", ErrInvalidRequest, r.Steps, maxSteps)
	}
	if err := r.TakeProfitRange().Validate(); err != nil {
		return err
	}
	if err := r.StopLossRange().Validate(); err != nil {
		return err
	}
	if r.TakeProfitMin < 0 || r.StopLossMin < 0 {
		return ErrInvalidRange
	}
	if r.MinProfitFactor < 0 || r.MinProfitFactorPositions < 0 {
		return ErrInvalidRequest
	}
	if r.MaxPositionsPerDirection < 0 || r.MaxPositionsPerSymbol < 0 {
		return ErrInvalidRequest
	}
	switch r.SymbolMode {
	case SymbolModeAll, SymbolModeMain:
	case SymbolModeCustom:
		if len(r.Symbols) == 0 {
			return ErrInvalidRequest
		}
	default:
		return ErrInvalidRequest
	}
	return nil
}

// TakeProfitRange returns the swept take-profit dimension.
func (r OptimizationRequest) TakeProfitRange() ParameterRange {
	return ParameterRange{Min: r.TakeProfitMin, Max: r.TakeProfitMax, Steps: r.Steps}
}

// StopLossRange returns the swept stop-loss dimension.
func (r OptimizationRequest) StopLossRange() ParameterRange {
	return ParameterRange{Min: r.StopLossMin, Max: r.StopLossMax, Steps: r.Steps}
}

// Flags returns the non-swept flags copied onto each candidate.
func (r OptimizationRequest) Flags() CandidateFlags {
	return CandidateFlags{
		TrailingEnabled:          r.TrailingEnabled,
		TrailingOnly:             r.TrailingOnly,
		UseBlock:                 r.UseBlock,
		UseDCA:                   r.UseDCA,
		AdditionalStrategiesOnly: r.AdditionalStrategiesOnly,
	}
}

// Thresholds returns the acceptance thresholds of the request.
func (r OptimizationRequest) Thresholds() Thresholds {
	return Thresholds{
		MinProfitFactor:          r.MinProfitFactor,
		MinProfitFactorPositions: r.MinProfitFactorPositions,
		MaxDrawdownTimeHours:     r.MaxDrawdownTimeHours,
	}
}

// Thresholds are the acceptance criteria a candidate must satisfy
type Thresholds struct {
	MinProfitFactor          float64 `json:"min_profit_factor"`
	MinProfitFactorPositions int     `json:"min_profit_factor_positions"`
	MaxDrawdownTimeHours     float64 `json:"max_drawdown_time_hours"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host          string        `json:"host" mapstructure:"host"`
	Port          int           `json:"port" mapstructure:"port"`
	WebSocketPath string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout   time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	EnableMetrics bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
}
