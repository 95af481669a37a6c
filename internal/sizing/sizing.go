// Package sizing computes per-trade position size: fractional Kelly
// blended with historical win rate, a streak-reduction multiplier, and a
// per-account allocation split. Grounded on the teacher's
// risk/manager.go CalculateSize (percent-of-equity / risk-per-share model)
// generalized to the spec's Kelly formula, keeping the same clamp/round
// shape.
package sizing

import (
	"github.com/shopspring/decimal"
)

// KellyInputs bundles everything needed to compute the pre-allocation
// per-position size.
type KellyInputs struct {
	BaseSizeUSD      decimal.Decimal
	KellyEnabled     bool
	FractionalKelly  decimal.Decimal // e.g. 0.25
	WinLossRatio     decimal.Decimal // b
	WinProbability   decimal.Decimal // p, effective (pre-blend)
	HistoricalWinRate decimal.Decimal
	HistoricalTrades int
	MinKellySample   int
	MinPositionUSD   decimal.Decimal
	MaxPositionUSD   decimal.Decimal
	StreakMultiplier decimal.Decimal // from the guardian, applied last
}

// KellyFraction computes f* = (b*p - q)/b clamped to [0,1].
func KellyFraction(winLossRatio, winProbability decimal.Decimal) decimal.Decimal {
	if winLossRatio.IsZero() {
		return decimal.Zero
	}
	q := decimal.NewFromInt(1).Sub(winProbability)
	f := winLossRatio.Mul(winProbability).Sub(q).Div(winLossRatio)
	return clamp(f, decimal.Zero, decimal.NewFromInt(1))
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// blendWeight is min(0.5, n/100).
func blendWeight(n int) decimal.Decimal {
	w := decimal.NewFromInt(int64(n)).Div(decimal.NewFromInt(100))
	ceiling := decimal.NewFromFloat(0.5)
	if w.GreaterThan(ceiling) {
		return ceiling
	}
	return w
}

// ComputeSize runs the full formula: base size, scaled when Kelly is
// enabled by (1 + fractional Kelly) where the Kelly fraction is blended
// with historical win rate once enough samples exist, then clamped to
// [min,max], with the guardian's streak multiplier applied last.
func ComputeSize(in KellyInputs) decimal.Decimal {
	size := in.BaseSizeUSD

	if in.KellyEnabled {
		kelly := KellyFraction(in.WinLossRatio, in.WinProbability)

		if in.HistoricalTrades >= in.MinKellySample && in.MinKellySample > 0 {
			w := blendWeight(in.HistoricalTrades)
			kelly = kelly.Mul(decimal.NewFromInt(1).Sub(w)).Add(in.HistoricalWinRate.Mul(w))
		}

		fractional := in.FractionalKelly
		if fractional.IsZero() {
			fractional = decimal.NewFromFloat(0.25)
		}
		kelly = kelly.Mul(fractional)

		size = in.BaseSizeUSD.Mul(decimal.NewFromInt(1).Add(kelly))
	}

	if !in.MinPositionUSD.IsZero() && size.LessThan(in.MinPositionUSD) {
		size = in.MinPositionUSD
	}
	if !in.MaxPositionUSD.IsZero() && size.GreaterThan(in.MaxPositionUSD) {
		size = in.MaxPositionUSD
	}

	streakMultiplier := in.StreakMultiplier
	if streakMultiplier.IsZero() {
		streakMultiplier = decimal.NewFromInt(1)
	}
	size = size.Mul(streakMultiplier)

	return size.Round(2)
}

// AccountAllocation is one account's share of a total size request.
type AccountAllocation struct {
	AccountID     string
	AllocationPct decimal.Decimal
}

// Split divides totalSizeUSD across accounts per their allocation_pct,
// with any rounding remainder going to the last account so the sum is
// always exactly totalSizeUSD.
func Split(totalSizeUSD decimal.Decimal, accounts []AccountAllocation) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(accounts))
	if len(accounts) == 0 {
		return out
	}

	allocated := decimal.Zero
	hundred := decimal.NewFromInt(100)

	for i, acct := range accounts {
		if i == len(accounts)-1 {
			out[acct.AccountID] = totalSizeUSD.Sub(allocated).Round(2)
			continue
		}
		share := totalSizeUSD.Mul(acct.AllocationPct).Div(hundred).Round(2)
		out[acct.AccountID] = share
		allocated = allocated.Add(share)
	}

	return out
}
