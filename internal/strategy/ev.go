package strategy

import (
	"errors"
	"fmt"
	"math"
)

const (
	// FeeRate is the marketplace fee charged on each purchase.
	FeeRate = 0.025
	// GasBalanceFloorUSD bounds the gas share for small balances.
	GasBalanceFloorUSD = 50.0
)

var (
	ErrNonPositiveEV = errors.New("expected value not positive")
	ErrEdgeTooSmall  = errors.New("edge below minimum")
	ErrProfitTooLow  = errors.New("expected profit below minimum")
	ErrSpendCap      = errors.New("daily spend cap reached")
	ErrOpenPositions = errors.New("open position limit reached")
)

// GasUSD is the flat per-trade gas estimate for chain.
func GasUSD(chain string) float64 {
	if chain == "polygon" {
		return 0.02
	}
	return 1.0
}

type EVInput struct {
	Edge       float64
	Fee        float64
	GasUSD     float64
	BalanceUSD float64
	// MinEdgePct is the smallest acceptable edge, in percent.
	MinEdgePct float64
	// MinProfitPct is the smallest acceptable EV, in percent. Zero disables it.
	MinProfitPct float64
}

// ExpectedValue is edge net of fees and gas, with gas amortized over at
// least GasBalanceFloorUSD of balance.
func ExpectedValue(in EVInput) float64 {
	return in.Edge - in.Fee - in.GasUSD/math.Max(in.BalanceUSD, GasBalanceFloorUSD)
}

// CheckEV returns the expected value and a wrapped sentinel error when
// the trade should be skipped.
func CheckEV(in EVInput) (float64, error) {
	ev := ExpectedValue(in)
	if ev <= 0 {
		return ev, fmt.Errorf("ev %.4f <= 0: %w", ev, ErrNonPositiveEV)
	}
	if in.Edge*100 < in.MinEdgePct {
		return ev, fmt.Errorf("edge %.3f%% < min %.3f%%: %w", in.Edge*100, in.MinEdgePct, ErrEdgeTooSmall)
	}
	if in.MinProfitPct > 0 && ev*100 < in.MinProfitPct {
		return ev, fmt.Errorf("ev %.3f%% < min %.3f%%: %w", ev*100, in.MinProfitPct, ErrProfitTooLow)
	}
	return ev, nil
}

type Caps struct {
	MaxSpendUSDPerDay float64
	MaxOpenPositions  int
}

// CheckCaps rejects a purchase that would exceed the daily spend cap or
// the open position limit. Zero values disable a cap.
func CheckCaps(caps Caps, spendTodayUSD, sizeUSD float64, openPositions int) error {
	if caps.MaxSpendUSDPerDay > 0 && spendTodayUSD+sizeUSD > caps.MaxSpendUSDPerDay {
		return fmt.Errorf("spend $%.2f + $%.2f exceeds $%.2f: %w", spendTodayUSD, sizeUSD, caps.MaxSpendUSDPerDay, ErrSpendCap)
	}
	if caps.MaxOpenPositions > 0 && openPositions >= caps.MaxOpenPositions {
		return fmt.Errorf("%d open positions >= max %d: %w", openPositions, caps.MaxOpenPositions, ErrOpenPositions)
	}
	return nil
}
