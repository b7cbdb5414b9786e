package tasks

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"tasknode/internal/models"
)

func TestApplyDecay(t *testing.T) {
	tenPercent := models.DepreciationRate{Blocks: 10, Percent: math.LegacyNewDecWithPrec(1, 1)}

	tests := []struct {
		name   string
		now    uint64
		start  uint64
		amount int64
		rate   models.DepreciationRate
		want   int64
	}{
		{name: "no time elapsed", now: 5, start: 5, amount: 1000, rate: tenPercent, want: 1000},
		{name: "partial period", now: 9, start: 0, amount: 1000, rate: tenPercent, want: 1000},
		{name: "one period", now: 10, start: 0, amount: 1000, rate: tenPercent, want: 900},
		{name: "two periods", now: 25, start: 0, amount: 1000, rate: tenPercent, want: 810},
		{name: "now before start", now: 3, start: 10, amount: 1000, rate: tenPercent, want: 1000},
		{name: "zero period length", now: 100, start: 0, amount: 1000, rate: models.DepreciationRate{Percent: tenPercent.Percent}, want: 1000},
		{name: "converges to floor", now: 1_000_000, start: 0, amount: 1000, rate: tenPercent, want: 9},
		{name: "full decay", now: 10, start: 0, amount: 1000, rate: models.DepreciationRate{Blocks: 10, Percent: math.LegacyOneDec()}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyDecay(tt.now, tt.start, math.NewInt(tt.amount), tt.rate)
			if !got.Equal(math.NewInt(tt.want)) {
				t.Errorf("ApplyDecay() = %s, want %d", got, tt.want)
			}
		})
	}
}

func TestApplyDecayMonotonic(t *testing.T) {
	rates := []math.LegacyDec{
		math.LegacyNewDecWithPrec(1, 2),
		math.LegacyNewDecWithPrec(5, 2),
		math.LegacyNewDecWithPrec(33, 2),
	}
	for _, pct := range rates {
		rate := models.DepreciationRate{Blocks: 3, Percent: pct}
		amount := math.NewInt(123_457)

		prev := amount
		for now := uint64(0); now < 3_000; now += 7 {
			got := ApplyDecay(now, 0, amount, rate)
			require.True(t, got.LTE(prev), "decay increased at %d: %s > %s", now, got, prev)
			require.True(t, got.IsPositive())
			prev = got
		}

		// fixed point: one more period removes nothing
		floor := ApplyDecay(1_000_000_000, 0, amount, rate)
		require.True(t, floor.IsPositive())
		require.True(t, floor.LTE(prev))
		require.True(t, pct.MulInt(floor).TruncateInt().IsZero())
	}
}
