package risk

import (
	"strings"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestRecordResultTracksStreak(t *testing.T) {
	l := NewLedger()
	l.RecordResult(-0.5, false)
	l.RecordResult(-0.5, false)
	if got := l.Snapshot().LossStreak; got != 2 {
		t.Fatalf("expected streak 2, got %d", got)
	}
	l.RecordResult(0.2, true)
	snap := l.Snapshot()
	if snap.LossStreak != 0 {
		t.Fatalf("expected streak reset, got %d", snap.LossStreak)
	}
	if diff := snap.PnLTodayUSD - (-0.8); diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected pnl -0.8, got %v", snap.PnLTodayUSD)
	}
}

func TestAutoStopLatches(t *testing.T) {
	l := NewLedger()
	l.RecordResult(0.4, true)
	if tripped, _ := l.CheckAutoStop(1.0, 0.4); tripped {
		t.Fatalf("should not trip below threshold")
	}
	l.RecordResult(0.7, true)
	tripped, reason := l.CheckAutoStop(1.0, 0.7)
	if !tripped || !strings.Contains(reason, "session pnl") {
		t.Fatalf("expected session pnl auto-stop, got %v %q", tripped, reason)
	}
	if again, _ := l.CheckAutoStop(1.0, 0.7); again {
		t.Fatalf("latch should only report the first trip")
	}
	l.RecordResult(-5, false)
	if !l.Snapshot().AutoStopTriggered {
		t.Fatalf("auto-stop must stay set after later losses")
	}
	l.ResetAutoStop()
	if l.Snapshot().AutoStopTriggered {
		t.Fatalf("expected reset to clear latch")
	}
}

func TestAutoStopSingleTradeProfit(t *testing.T) {
	l := NewLedger()
	l.RecordResult(-3, false)
	l.RecordResult(2, true)
	tripped, reason := l.CheckAutoStop(1.5, 2)
	if !tripped || !strings.Contains(reason, "trade profit") {
		t.Fatalf("expected trade profit trip, got %v %q", tripped, reason)
	}
}

func TestAutoStopIgnoresEarlierTradeProfit(t *testing.T) {
	l := NewLedger()
	l.RecordResult(-5, false)
	l.RecordResult(1.2, true)
	if tripped, _ := l.CheckAutoStop(1, 1.2); !tripped {
		t.Fatalf("expected the winning trade to trip")
	}
	l.ResetAutoStop()
	if got := l.Snapshot().LastProfitUSD; got != 0 {
		t.Fatalf("expected reset to clear last profit, got %v", got)
	}
	// a live fill settles no profit
	tripped, reason := l.CheckAutoStop(1, 0)
	if tripped {
		t.Fatalf("zero-profit fill must not trip, got %q", reason)
	}
}

func TestAutoStopDisabledAtZero(t *testing.T) {
	l := NewLedger()
	l.RecordResult(100, true)
	if tripped, _ := l.CheckAutoStop(0, 100); tripped {
		t.Fatalf("zero threshold must disable auto-stop")
	}
}

func TestRegisterMergesAndRounds(t *testing.T) {
	l := NewLedger()
	l.Register(TradeEvent{Status: "entering", Contract: "0xA", Strategy: "momentum", SizeUSD: f(1.23456), SizeNative: f(0.000123456789)})
	lt := l.Snapshot().LastTrade
	if lt.Closed {
		t.Fatalf("entering must not be closed")
	}
	if lt.SizeUSD != 1.2346 || lt.SizeNative != 0.000123 {
		t.Fatalf("unexpected rounding %+v", lt)
	}
	l.Register(TradeEvent{Status: "win", PnLUSD: f(0.00004)})
	lt = l.Snapshot().LastTrade
	if !lt.Closed || lt.Contract != "0xA" || lt.Strategy != "momentum" {
		t.Fatalf("expected merged closed trade, got %+v", lt)
	}
	if lt.PnLUSD != 0 {
		t.Fatalf("expected pnl rounded to 0.0000, got %v", lt.PnLUSD)
	}
	if lt.SizeUSD != 1.2346 {
		t.Fatalf("size must survive partial update, got %v", lt.SizeUSD)
	}
}

func TestRecordSpendIgnoresNonPositive(t *testing.T) {
	l := NewLedger()
	l.RecordSpend(2)
	l.RecordSpend(-1)
	l.RecordSpend(0)
	if got := l.SpendToday(); got != 2 {
		t.Fatalf("expected spend 2, got %v", got)
	}
}
