package risk

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// closedStatuses mark the last trade as settled or abandoned.
var closedStatuses = map[string]bool{
	"idle":    true,
	"waiting": true,
	"skipped": true,
	"win":     true,
	"loss":    true,
	"filled":  true,
	"error":   true,
}

// TradeEvent updates the last-trade snapshot. Empty strings and nil
// numbers leave the previous value in place.
type TradeEvent struct {
	Status     string
	Contract   string
	Strategy   string
	Note       string
	Action     string
	Symbol     string
	SizeUSD    *float64
	SizeNative *float64
	PnLUSD     *float64
	PnLNative  *float64
	Time       time.Time
}

type TradeSnapshot struct {
	Status     string    `json:"status"`
	Contract   string    `json:"contract"`
	Strategy   string    `json:"strategy"`
	SizeUSD    float64   `json:"size_usd"`
	SizeNative float64   `json:"size_native"`
	PnLUSD     float64   `json:"pnl_usd"`
	PnLNative  float64   `json:"pnl_native"`
	Note       string    `json:"note"`
	Action     string    `json:"action"`
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"ts"`
	Closed     bool      `json:"closed"`
}

type Snapshot struct {
	PnLTodayUSD       float64       `json:"pnl_today_usd"`
	SpendTodayUSD     float64       `json:"spend_today_usd"`
	LossStreak        int           `json:"loss_streak"`
	LastProfitUSD     float64       `json:"last_profit_usd"`
	AutoStopTriggered bool          `json:"auto_stop_triggered"`
	AutoStopReason    string        `json:"auto_stop_reason,omitempty"`
	LastTrade         TradeSnapshot `json:"last_trade"`
}

// Ledger tracks the session's running P&L, spend and the last trade.
// It is written by the engine worker and read by status endpoints.
type Ledger struct {
	mu sync.RWMutex
	s  Snapshot
}

func NewLedger() *Ledger {
	return &Ledger{s: Snapshot{LastTrade: TradeSnapshot{Status: "idle", Closed: true}}}
}

func (l *Ledger) RecordSpend(usd float64) {
	if usd <= 0 {
		return
	}
	l.mu.Lock()
	l.s.SpendTodayUSD += usd
	l.mu.Unlock()
}

// RecordResult folds a settled trade into P&L and the loss streak.
func (l *Ledger) RecordResult(pnlUSD float64, win bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s.PnLTodayUSD += pnlUSD
	l.s.LastProfitUSD = pnlUSD
	if win {
		l.s.LossStreak = 0
	} else {
		l.s.LossStreak++
	}
}

// CheckAutoStop trips the auto-stop latch when either tradeProfitUSD, the
// profit of the trade that just settled, or the running P&L reaches
// thresholdUSD. A zero threshold disables the check. The latch stays set
// until ResetAutoStop.
func (l *Ledger) CheckAutoStop(thresholdUSD, tradeProfitUSD float64) (bool, string) {
	if thresholdUSD <= 0 {
		return false, ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.s.AutoStopTriggered {
		return false, l.s.AutoStopReason
	}
	var reason string
	switch {
	case tradeProfitUSD >= thresholdUSD:
		reason = fmt.Sprintf("auto-stop: trade profit $%.2f reached target $%.2f", tradeProfitUSD, thresholdUSD)
	case l.s.PnLTodayUSD >= thresholdUSD:
		reason = fmt.Sprintf("auto-stop: session pnl $%.2f reached target $%.2f", l.s.PnLTodayUSD, thresholdUSD)
	default:
		return false, ""
	}
	l.s.AutoStopTriggered = true
	l.s.AutoStopReason = reason
	return true, reason
}

func (l *Ledger) ResetAutoStop() {
	l.mu.Lock()
	l.s.AutoStopTriggered = false
	l.s.AutoStopReason = ""
	l.s.LastProfitUSD = 0
	l.mu.Unlock()
}

// Register merges a trade event into the last-trade snapshot. USD and
// native amounts are rounded for display.
func (l *Ledger) Register(ev TradeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lt := &l.s.LastTrade
	if ev.Status != "" {
		lt.Status = ev.Status
		lt.Closed = closedStatuses[ev.Status]
	}
	if ev.Contract != "" {
		lt.Contract = ev.Contract
	}
	if ev.Strategy != "" {
		lt.Strategy = ev.Strategy
	}
	if ev.Note != "" {
		lt.Note = ev.Note
	}
	if ev.Action != "" {
		lt.Action = ev.Action
	}
	if ev.Symbol != "" {
		lt.Symbol = ev.Symbol
	}
	if ev.SizeUSD != nil {
		lt.SizeUSD = round(*ev.SizeUSD, 4)
	}
	if ev.SizeNative != nil {
		lt.SizeNative = round(*ev.SizeNative, 6)
	}
	if ev.PnLUSD != nil {
		lt.PnLUSD = round(*ev.PnLUSD, 4)
	}
	if ev.PnLNative != nil {
		lt.PnLNative = round(*ev.PnLNative, 6)
	}
	if ev.Time.IsZero() {
		lt.Timestamp = time.Now().UTC()
	} else {
		lt.Timestamp = ev.Time
	}
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s
}

func (l *Ledger) SpendToday() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.s.SpendTodayUSD
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
