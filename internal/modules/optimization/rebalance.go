package optimization

import "math"

// ClassifyAction maps a target-minus-current dollar difference to an action.
// Differences within ±ActionThreshold, inclusive, are HOLD.
func ClassifyAction(diff float64) Action {
	switch {
	case diff > ActionThreshold:
		return ActionBuy
	case diff < -ActionThreshold:
		return ActionSell
	default:
		return ActionHold
	}
}

// rebalance compares target values against current holdings. Target values are
// computed on total, which includes new cash, so buys may be funded by it.
func rebalance(params *Params, weights []float64, total float64) []Recommendation {
	recs := make([]Recommendation, len(params.Instruments))
	for i, inst := range params.Instruments {
		target := weights[i] * total
		current := params.State.Holdings[inst.Symbol]
		diff := target - current

		action := ClassifyAction(diff)
		amount := 0.0
		if action != ActionHold {
			amount = math.Abs(diff)
		}

		recs[i] = Recommendation{
			Symbol:       inst.Symbol,
			TargetWeight: weights[i],
			TargetValue:  target,
			CurrentValue: current,
			Diff:         diff,
			Action:       action,
			Amount:       amount,
		}
	}
	return recs
}
