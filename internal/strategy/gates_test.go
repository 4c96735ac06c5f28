package strategy

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"nft-sniper-bot/internal/market"
)

func TestExpectedValue(t *testing.T) {
	ev, err := CheckEV(EVInput{Edge: 0.10, Fee: FeeRate, GasUSD: GasUSD("polygon"), BalanceUSD: 100, MinEdgePct: 0.01})
	if err != nil {
		t.Fatalf("expected trade to pass, got %v", err)
	}
	if math.Abs(ev-0.0748) > 1e-9 {
		t.Fatalf("expected ev 0.0748, got %v", ev)
	}
}

func TestExpectedValueUsesBalanceFloor(t *testing.T) {
	ev := ExpectedValue(EVInput{Edge: 0.05, Fee: FeeRate, GasUSD: GasUSD("eth"), BalanceUSD: 10})
	if math.Abs(ev-(0.05-0.025-1.0/50)) > 1e-12 {
		t.Fatalf("unexpected ev %v", ev)
	}
}

func TestCheckEVRejections(t *testing.T) {
	if _, err := CheckEV(EVInput{Edge: 0.01, Fee: FeeRate, GasUSD: 1, BalanceUSD: 100}); !errors.Is(err, ErrNonPositiveEV) {
		t.Fatalf("expected non-positive ev, got %v", err)
	}
	if _, err := CheckEV(EVInput{Edge: 0.05, Fee: 0, GasUSD: 0, BalanceUSD: 100, MinEdgePct: 10}); !errors.Is(err, ErrEdgeTooSmall) {
		t.Fatalf("expected edge too small, got %v", err)
	}
	if _, err := CheckEV(EVInput{Edge: 0.05, Fee: FeeRate, GasUSD: 0, BalanceUSD: 100, MinProfitPct: 5}); !errors.Is(err, ErrProfitTooLow) {
		t.Fatalf("expected profit too low, got %v", err)
	}
}

func TestPositionSize(t *testing.T) {
	size := PositionSize(SizingInput{BalanceUSD: 10, Fraction: 0.5, CeilingUSD: 100, SpotPrice: 2})
	if size.USD != 3 || size.Native != 1.5 {
		t.Fatalf("expected small balance cap 3 USD / 1.5 native, got %+v", size)
	}
	size = PositionSize(SizingInput{BalanceUSD: 40, Fraction: 1, CeilingUSD: 100})
	if size.USD != 5 || size.Native != 0 {
		t.Fatalf("expected 5 USD and zero native without price, got %+v", size)
	}
	size = PositionSize(SizingInput{BalanceUSD: 10000, Fraction: 0.002, CeilingUSD: 3, SpotPrice: 3000})
	if size.USD != 3 {
		t.Fatalf("expected ceiling 3, got %+v", size)
	}
	size = PositionSize(SizingInput{BalanceUSD: 100000, Fraction: 0.002, CeilingUSD: 0})
	if size.USD != DefaultCeilingUSD {
		t.Fatalf("expected unset ceiling to fall back to %v, got %+v", DefaultCeilingUSD, size)
	}
	size = PositionSize(SizingInput{BalanceUSD: 100000, Fraction: 0.002, CeilingUSD: -1})
	if size.USD != DefaultCeilingUSD {
		t.Fatalf("expected negative ceiling to fall back to %v, got %+v", DefaultCeilingUSD, size)
	}
	if got := PositionSize(SizingInput{BalanceUSD: -5, Fraction: 0.1}); got.USD != 0 {
		t.Fatalf("expected zero size for negative balance, got %+v", got)
	}
}

func TestCheckCaps(t *testing.T) {
	caps := Caps{MaxSpendUSDPerDay: 6, MaxOpenPositions: 1}
	if err := CheckCaps(caps, 4, 3, 0); !errors.Is(err, ErrSpendCap) {
		t.Fatalf("expected spend cap, got %v", err)
	}
	if err := CheckCaps(caps, 0, 3, 1); !errors.Is(err, ErrOpenPositions) {
		t.Fatalf("expected open position cap, got %v", err)
	}
	if err := CheckCaps(Caps{}, 100, 100, 100); err != nil {
		t.Fatalf("zero caps must disable, got %v", err)
	}
}

func TestLiquidityDisabledPasses(t *testing.T) {
	if res := CheckLiquidity(LiquidityRules{}, nil, time.Now()); !res.OK {
		t.Fatalf("disabled rules must pass, got %+v", res)
	}
}

func TestLiquidityEmptySampleFails(t *testing.T) {
	res := CheckLiquidity(LiquidityRules{MinVolumeUSD: 1}, nil, time.Now())
	if res.OK || !strings.Contains(res.Reason, "no trades in last 60m") {
		t.Fatalf("expected empty sample failure, got %+v", res)
	}
}

func TestLiquidityCountsWindowAndBuyers(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	trades := []market.Trade{
		{Time: now.Add(-5 * time.Minute), Buyer: "0xaa", USD: 10, Valued: true},
		{Time: now.Add(-10 * time.Minute), Buyer: "0xaa", USD: 5, Valued: true},
		{Time: now.Add(-20 * time.Minute), Buyer: "0xbb", USD: 0, Valued: false},
		{Time: now.Add(-2 * time.Hour), Buyer: "0xcc", USD: 500, Valued: true},
		{Buyer: "0xdd", USD: 500, Valued: true},
	}
	rules := LiquidityRules{Window: 30 * time.Minute, MinTrades: 3, MinBuyers: 2, MinVolumeUSD: 15}
	res := CheckLiquidity(rules, trades, now)
	if !res.OK {
		t.Fatalf("expected pass, got %+v", res)
	}
	if res.Trades != 3 || res.Buyers != 2 || res.VolumeUSD != 15 {
		t.Fatalf("unexpected tallies %+v", res)
	}

	rules.MinTrades = 4
	res = CheckLiquidity(rules, trades, now)
	if res.OK || !strings.HasPrefix(res.Reason, "trades 3 < min 4") {
		t.Fatalf("expected count failure, got %+v", res)
	}

	rules.MinTrades = 0
	rules.MinBuyers = 3
	if res = CheckLiquidity(rules, trades, now); res.OK || !strings.HasPrefix(res.Reason, "buyers 2 < min 3") {
		t.Fatalf("expected buyer failure, got %+v", res)
	}

	rules.MinBuyers = 0
	rules.MinVolumeUSD = 16
	if res = CheckLiquidity(rules, trades, now); res.OK || !strings.HasPrefix(res.Reason, "volume $15.00 < min $16.00") {
		t.Fatalf("expected volume failure, got %+v", res)
	}
}

func TestLiquidityToleratesClockSkew(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	trades := []market.Trade{
		{Time: now.Add(30 * time.Second), Buyer: "0xaa", USD: 10, Valued: true},
		{Time: now.Add(ClockSkew), Buyer: "0xbb", USD: 10, Valued: true},
		{Time: now.Add(ClockSkew + time.Minute), Buyer: "0xcc", USD: 10, Valued: true},
	}
	res := CheckLiquidity(LiquidityRules{MinTrades: 2}, trades, now)
	if !res.OK || res.Trades != 2 || res.Buyers != 2 {
		t.Fatalf("expected trades slightly ahead of now to count, got %+v", res)
	}
}

func TestSettlePnL(t *testing.T) {
	if got := SettlePnL(true, 3, 0.01); math.Abs(got-0.015) > 1e-12 {
		t.Fatalf("expected 0.015, got %v", got)
	}
	if got := SettlePnL(true, 0.1, 0.01); got != 0.01 {
		t.Fatalf("expected floor 0.01, got %v", got)
	}
	if got := SettlePnL(false, 3, 0.01); got != -0.5 {
		t.Fatalf("expected -0.5, got %v", got)
	}
	if got := SettlePnL(false, 0.4, 0.01); got != -0.2 {
		t.Fatalf("expected -0.2, got %v", got)
	}
	if got := WinProbability(0.5); math.Abs(got-0.57) > 1e-12 {
		t.Fatalf("expected capped 0.57, got %v", got)
	}
}

func TestRandomOracleEdgeNonNegative(t *testing.T) {
	o := NewRandomOracle(nil)
	for i := 0; i < 200; i++ {
		if o.EstimateEdge() < 0 {
			t.Fatalf("edge must be non-negative")
		}
	}
	o.SignalRate = 1
	if !o.Signal("0xA") {
		t.Fatalf("signal rate 1 must always fire")
	}
}
