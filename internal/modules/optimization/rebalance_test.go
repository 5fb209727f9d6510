package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyAction(t *testing.T) {
	testCases := []struct {
		diff float64
		want Action
	}{
		{0, ActionHold},
		{10, ActionHold},
		{-10, ActionHold},
		{10.01, ActionBuy},
		{-10.01, ActionSell},
		{15000, ActionBuy},
		{-20000, ActionSell},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, ClassifyAction(tc.diff), "diff %v", tc.diff)
	}
}

func TestRebalance(t *testing.T) {
	params := &Params{
		Instruments: []Instrument{{Symbol: "A"}, {Symbol: "B"}, {Symbol: "C"}},
		State: PortfolioState{
			Holdings: map[string]float64{"A": 20000, "B": 20000, "C": 0},
		},
	}

	// A lands exactly on the threshold, B sells, C is bought from new cash
	recs := rebalance(params, []float64{0.5, 0.25, 0.25}, 40020)
	assert.Len(t, recs, 3)

	assert.Equal(t, "A", recs[0].Symbol)
	assert.InDelta(t, 20010.0, recs[0].TargetValue, 1e-9)
	assert.InDelta(t, 10.0, recs[0].Diff, 1e-9)
	assert.Equal(t, ActionHold, recs[0].Action)
	assert.Equal(t, 0.0, recs[0].Amount)
	assert.Equal(t, "HOLD", recs[0].Instruction())

	assert.Equal(t, ActionSell, recs[1].Action)
	assert.InDelta(t, 9995.0, recs[1].Amount, 1e-9)
	assert.Equal(t, "SELL $9,995", recs[1].Instruction())

	assert.Equal(t, ActionBuy, recs[2].Action)
	assert.InDelta(t, 10005.0, recs[2].Amount, 1e-9)
	assert.Equal(t, 0.0, recs[2].CurrentValue)
}

func TestFormatDollars(t *testing.T) {
	assert.Equal(t, "0", formatDollars(0))
	assert.Equal(t, "999", formatDollars(999.4))
	assert.Equal(t, "1,000", formatDollars(999.5))
	assert.Equal(t, "1,234,568", formatDollars(1234567.8))
	assert.Equal(t, "-2,903", formatDollars(-2903.2))
}
