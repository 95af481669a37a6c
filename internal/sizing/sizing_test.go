package sizing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestKellyFractionClampedToZeroAndOne(t *testing.T) {
	assert.True(t, KellyFraction(decimal.Zero, dec("0.6")).IsZero())

	// b=1, p=0.9 -> f = (1*0.9 - 0.1)/1 = 0.8
	assert.True(t, KellyFraction(dec("1"), dec("0.9")).Equal(dec("0.8")))

	// Negative edge clamps to 0.
	assert.True(t, KellyFraction(dec("1"), dec("0.1")).IsZero())
}

func TestComputeSizeWithoutKelly(t *testing.T) {
	size := ComputeSize(KellyInputs{
		BaseSizeUSD: dec("100"),
	})
	assert.True(t, size.Equal(dec("100")))
}

func TestComputeSizeAppliesFractionalKellyBoost(t *testing.T) {
	size := ComputeSize(KellyInputs{
		BaseSizeUSD:     dec("100"),
		KellyEnabled:    true,
		FractionalKelly: dec("0.25"),
		WinLossRatio:    dec("1"),
		WinProbability:  dec("0.9"), // kelly f* = 0.8, fractional = 0.2
	})
	// size = 100 * (1 + 0.2) = 120
	assert.True(t, size.Equal(dec("120.00")))
}

func TestComputeSizeBlendsHistoricalWinRate(t *testing.T) {
	size := ComputeSize(KellyInputs{
		BaseSizeUSD:       dec("100"),
		KellyEnabled:      true,
		FractionalKelly:   dec("1"), // no fractional dampening, to isolate blend
		WinLossRatio:      dec("1"),
		WinProbability:    dec("0.9"),
		HistoricalWinRate: dec("0.5"),
		HistoricalTrades:  100,
		MinKellySample:    50,
	})
	// kelly f* = 0.8; blend weight = min(0.5, 100/100) = 0.5
	// blended = 0.8*0.5 + 0.5*0.5 = 0.65; size = 100*(1+0.65) = 165
	assert.True(t, size.Equal(dec("165.00")))
}

func TestComputeSizeClampsToMinMax(t *testing.T) {
	size := ComputeSize(KellyInputs{
		BaseSizeUSD:    dec("100"),
		MaxPositionUSD: dec("50"),
	})
	assert.True(t, size.Equal(dec("50.00")))

	size = ComputeSize(KellyInputs{
		BaseSizeUSD:    dec("10"),
		MinPositionUSD: dec("25"),
	})
	assert.True(t, size.Equal(dec("25.00")))
}

func TestComputeSizeAppliesStreakMultiplierLast(t *testing.T) {
	size := ComputeSize(KellyInputs{
		BaseSizeUSD:      dec("100"),
		StreakMultiplier: dec("0.5"),
	})
	assert.True(t, size.Equal(dec("50.00")))
}

func TestSplitRemainderGoesToLastAccount(t *testing.T) {
	accounts := []AccountAllocation{
		{AccountID: "a", AllocationPct: dec("33.33")},
		{AccountID: "b", AllocationPct: dec("33.33")},
		{AccountID: "c", AllocationPct: dec("33.34")},
	}
	out := Split(dec("100"), accounts)

	sum := decimal.Zero
	for _, v := range out {
		sum = sum.Add(v)
	}
	assert.True(t, sum.Equal(dec("100.00")))
}

func TestSplitSingleAccountGetsEverything(t *testing.T) {
	out := Split(dec("100"), []AccountAllocation{{AccountID: "solo", AllocationPct: dec("100")}})
	assert.True(t, out["solo"].Equal(dec("100.00")))
}

func TestSplitEmptyAccountsReturnsEmpty(t *testing.T) {
	out := Split(dec("100"), nil)
	assert.Empty(t, out)
}
