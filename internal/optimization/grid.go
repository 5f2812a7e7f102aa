package optimization

import (
	"math"

	"github.com/atlas-desktop/strategy-optimizer/pkg/types"
	"github.com/atlas-desktop/strategy-optimizer/pkg/utils"
)

// gridPrecision bounds floating point noise in generated values.
const gridPrecision = 8

// GenerateValues returns Steps+1 values from Min to Max inclusive.
func GenerateValues(r types.ParameterRange) ([]float64, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	step := (r.Max - r.Min) / float64(r.Steps)
	values := make([]float64, 0, r.Steps+1)
	for i := 0; i <= r.Steps; i++ {
		v := r.Min + float64(i)*step
		if i == r.Steps || v > r.Max {
			v = math.Min(v, r.Max)
		}
		values = append(values, utils.Round(v, gridPrecision))
	}
	return values, nil
}

// GenerateGrid builds the take-profit x stop-loss cartesian product.
// Outer loop is take-profit, inner loop is stop-loss; flags are copied
// onto every candidate and never swept.
func GenerateGrid(tp, sl types.ParameterRange, flags types.CandidateFlags) ([]types.ParameterCandidate, error) {
	tpValues, err := GenerateValues(tp)
	if err != nil {
		return nil, err
	}
	slValues, err := GenerateValues(sl)
	if err != nil {
		return nil, err
	}

	trailing := flags.TrailingEnabled || flags.TrailingOnly

	candidates := make([]types.ParameterCandidate, 0, len(tpValues)*len(slValues))
	for _, takeProfit := range tpValues {
		for _, stopLoss := range slValues {
			candidates = append(candidates, types.ParameterCandidate{
				Index:                    len(candidates),
				TakeProfit:               takeProfit,
				StopLoss:                 stopLoss,
				TrailingEnabled:          trailing,
				UseBlock:                 flags.UseBlock,
				UseDCA:                   flags.UseDCA,
				AdditionalStrategiesOnly: flags.AdditionalStrategiesOnly,
			})
		}
	}
	return candidates, nil
}
