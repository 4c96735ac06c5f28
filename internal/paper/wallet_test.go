package paper

import (
	"math"
	"testing"

	"go.uber.org/zap"
)

func TestBootstrapOnlyOnce(t *testing.T) {
	w := New(zap.NewNop())
	w.Bootstrap(10, 2000, "ETH")
	w.Bootstrap(99, 0, "")
	snap := w.Snapshot(0, "")
	if snap.InitialNative != 10 || snap.BalanceNative != 10 {
		t.Fatalf("expected first bootstrap to stick, got %+v", snap)
	}
	if snap.Symbol != "ETH" || snap.LastPrice != 2000 {
		t.Fatalf("unexpected symbol/price %q %v", snap.Symbol, snap.LastPrice)
	}
}

func TestBuyThenResultRoundTrip(t *testing.T) {
	w := New(zap.NewNop())
	w.Bootstrap(10, 0, "")
	w.RecordBuy(Buy{Contract: "0xA", TokenID: "1", Strategy: "momentum", SizeNative: 2})
	if got := w.BalanceNative(); got != 8 {
		t.Fatalf("expected 8 after buy, got %v", got)
	}
	if w.OpenPositions() != 1 {
		t.Fatalf("expected one open position")
	}
	pnl := 0.5
	w.RecordResult(Result{Contract: "0xA", TokenID: "1", PnLNative: &pnl})
	if got := w.BalanceNative(); got != 10.5 {
		t.Fatalf("expected 10.5 after result, got %v", got)
	}
	if w.OpenPositions() != 0 {
		t.Fatalf("expected position closed")
	}
	snap := w.Snapshot(0, "")
	if len(snap.History) != 2 || snap.History[0].Type != "buy" || snap.History[1].Type != "sell" {
		t.Fatalf("unexpected history %+v", snap.History)
	}
	if snap.PnLNative != 0.5 {
		t.Fatalf("expected pnl 0.5, got %v", snap.PnLNative)
	}
}

func TestBuyConvertsUSDAndAutoBootstraps(t *testing.T) {
	w := New(zap.NewNop())
	w.RecordBuy(Buy{Contract: "0xA", TokenID: "1", SizeUSD: 3, Price: 1500})
	if !w.Initialized() {
		t.Fatalf("expected buy to bootstrap wallet")
	}
	snap := w.Snapshot(0, "")
	if math.Abs(snap.InitialNative-0.002) > 1e-12 || math.Abs(snap.BalanceNative) > 1e-12 {
		t.Fatalf("unexpected balances %+v", snap)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].SizeUSD == nil || math.Abs(*snap.Positions[0].SizeUSD-3) > 1e-9 {
		t.Fatalf("unexpected positions %+v", snap.Positions)
	}
}

func TestBuyIgnoresZeroSize(t *testing.T) {
	w := New(zap.NewNop())
	w.RecordBuy(Buy{Contract: "0xA", SizeUSD: 3})
	if w.Initialized() || w.OpenPositions() != 0 {
		t.Fatalf("zero native size must be ignored")
	}
}

func TestResultUsesUSDWhenNativeMissing(t *testing.T) {
	w := New(zap.NewNop())
	w.Bootstrap(1, 2000, "ETH")
	w.RecordResult(Result{Contract: "0xZ", TokenID: "9", PnLUSD: 20})
	if got := w.BalanceNative(); math.Abs(got-1.01) > 1e-12 {
		t.Fatalf("expected 1.01, got %v", got)
	}
}

func TestSnapshotWithoutPriceHasNoUSD(t *testing.T) {
	w := New(zap.NewNop())
	w.Bootstrap(1, 0, "")
	snap := w.Snapshot(0, "")
	if snap.BalanceUSD != nil || snap.PnLUSD != nil {
		t.Fatalf("expected nil USD fields without price")
	}
	snap = w.Snapshot(100, "")
	if snap.BalanceUSD == nil || *snap.BalanceUSD != 100 {
		t.Fatalf("expected USD balance once priced, got %+v", snap.BalanceUSD)
	}
}

func TestSnapshotHistoryTail(t *testing.T) {
	w := New(zap.NewNop())
	w.Bootstrap(1000, 1, "")
	for i := 0; i < 150; i++ {
		w.RecordBuy(Buy{Contract: "0xA", TokenID: "1", SizeNative: 1})
		w.RecordResult(Result{Contract: "0xA", TokenID: "1"})
	}
	if got := len(w.Snapshot(0, "").History); got != historyView {
		t.Fatalf("expected %d history entries, got %d", historyView, got)
	}
}
