package strategy

import "math"

// DefaultCeilingUSD applies when no positive ceiling is configured.
const DefaultCeilingUSD = 3.0

type SizingInput struct {
	BalanceUSD float64
	Fraction   float64
	CeilingUSD float64
	SpotPrice  float64
}

type Size struct {
	USD    float64
	Native float64
}

// PositionSize takes a fraction of the balance, capped by the ceiling
// (DefaultCeilingUSD when unset) and by tighter limits for small balances. Native size is zero when the
// spot price is unknown.
func PositionSize(in SizingInput) Size {
	if in.BalanceUSD <= 0 || in.Fraction <= 0 {
		return Size{}
	}
	ceiling := in.CeilingUSD
	if ceiling <= 0 {
		ceiling = DefaultCeilingUSD
	}
	usd := math.Min(in.BalanceUSD*in.Fraction, ceiling)
	if in.BalanceUSD < 50 {
		usd = math.Min(usd, 5.0)
	}
	if in.BalanceUSD < 20 {
		usd = math.Min(usd, 3.0)
	}
	if usd < 0 || math.IsNaN(usd) {
		return Size{}
	}
	size := Size{USD: usd}
	if in.SpotPrice > 0 {
		size.Native = usd / in.SpotPrice
	}
	return size
}
