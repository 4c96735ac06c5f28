package paper

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	historyKeep = 1000
	historyView = 200
)

type Position struct {
	Contract   string    `json:"contract"`
	TokenID    string    `json:"token_id"`
	Strategy   string    `json:"strategy"`
	SizeNative float64   `json:"size_native"`
	EntryPrice float64   `json:"entry_price"`
	EntryUSD   float64   `json:"entry_usd"`
	EnteredAt  time.Time `json:"entered_at"`
}

type HistoryEntry struct {
	Time       time.Time `json:"ts"`
	Type       string    `json:"type"`
	Contract   string    `json:"contract"`
	TokenID    string    `json:"token_id"`
	SizeNative float64   `json:"size_native"`
	Price      float64   `json:"price"`
}

type Buy struct {
	Contract   string
	TokenID    string
	Strategy   string
	SizeNative float64
	SizeUSD    float64
	Price      float64
	Symbol     string
}

// Result settles a position. PnLNative takes precedence over PnLUSD when
// set.
type Result struct {
	Contract  string
	TokenID   string
	PnLNative *float64
	PnLUSD    float64
	Price     float64
	Symbol    string
}

type PositionView struct {
	Contract   string    `json:"contract"`
	TokenID    string    `json:"token_id"`
	Strategy   string    `json:"strategy"`
	SizeNative float64   `json:"size_native"`
	SizeUSD    *float64  `json:"size_usd"`
	EnteredAt  time.Time `json:"entered_at"`
}

// Snapshot is the wallet view. USD fields are nil until a price is known.
type Snapshot struct {
	Initialized   bool           `json:"initialized"`
	BalanceNative float64        `json:"balance_native"`
	BalanceUSD    *float64       `json:"balance_usd"`
	InitialNative float64        `json:"initial_native"`
	InitialUSD    *float64       `json:"initial_usd"`
	PnLNative     float64        `json:"pnl_native"`
	PnLUSD        *float64       `json:"pnl_usd"`
	Symbol        string         `json:"symbol"`
	LastPrice     float64        `json:"last_price"`
	Positions     []PositionView `json:"positions"`
	History       []HistoryEntry `json:"history"`
}

// Wallet tracks a simulated native balance and the positions bought in
// paper mode.
type Wallet struct {
	mu          sync.Mutex
	log         *zap.Logger
	now         func() time.Time
	initialized bool
	initial     float64
	balance     float64
	lastPrice   float64
	symbol      string
	positions   []Position
	history     []HistoryEntry
}

func New(log *zap.Logger) *Wallet {
	if log == nil {
		log = zap.NewNop()
	}
	return &Wallet{log: log, now: time.Now}
}

func (w *Wallet) resolvePrice(price float64) float64 {
	if price > 0 {
		w.lastPrice = price
	}
	return w.lastPrice
}

func (w *Wallet) setSymbol(symbol string) {
	if symbol != "" {
		w.symbol = symbol
	}
}

func nativeAmount(native, usd, price float64) float64 {
	if native != 0 {
		return native
	}
	if price > 0 {
		return usd / price
	}
	return 0
}

// Bootstrap sets the starting balance. Only the first call has an effect.
func (w *Wallet) Bootstrap(balanceNative, price float64, symbol string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bootstrapLocked(balanceNative, price, symbol)
}

func (w *Wallet) bootstrapLocked(balanceNative, price float64, symbol string) {
	w.resolvePrice(price)
	w.setSymbol(symbol)
	if w.initialized {
		return
	}
	w.initialized = true
	w.initial = balanceNative
	w.balance = balanceNative
	w.log.Info("paper wallet bootstrapped", zap.Float64("balance_native", balanceNative), zap.String("symbol", w.symbol))
}

// RecordBuy debits the balance and opens a position. Non-positive sizes
// are ignored. An uninitialized wallet is bootstrapped with the buy size.
func (w *Wallet) RecordBuy(b Buy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	px := w.resolvePrice(b.Price)
	w.setSymbol(b.Symbol)
	size := nativeAmount(b.SizeNative, b.SizeUSD, px)
	if size <= 0 {
		return
	}
	if !w.initialized {
		w.bootstrapLocked(size, px, b.Symbol)
	}
	w.balance -= size
	entryUSD := b.SizeUSD
	if px > 0 {
		entryUSD = size * px
	}
	pos := Position{
		Contract:   b.Contract,
		TokenID:    b.TokenID,
		Strategy:   b.Strategy,
		SizeNative: size,
		EntryPrice: px,
		EntryUSD:   entryUSD,
		EnteredAt:  w.now().UTC(),
	}
	w.positions = append(w.positions, pos)
	w.appendHistory(HistoryEntry{
		Time:       pos.EnteredAt,
		Type:       "buy",
		Contract:   pos.Contract,
		TokenID:    pos.TokenID,
		SizeNative: size,
		Price:      px,
	})
	w.log.Debug("paper position opened", zap.Float64("size_native", size), zap.Int("positions", len(w.positions)))
}

// RecordResult closes the first position matching contract and token id,
// returning its cost plus pnl to the balance. Without a matching
// position only the pnl is applied.
func (w *Wallet) RecordResult(r Result) {
	w.mu.Lock()
	defer w.mu.Unlock()
	px := w.resolvePrice(r.Price)
	w.setSymbol(r.Symbol)
	var base float64
	for i, pos := range w.positions {
		if pos.Contract != r.Contract || pos.TokenID != r.TokenID {
			continue
		}
		base = pos.SizeNative
		w.positions = append(w.positions[:i], w.positions[i+1:]...)
		w.appendHistory(HistoryEntry{
			Time:       w.now().UTC(),
			Type:       "sell",
			Contract:   r.Contract,
			TokenID:    r.TokenID,
			SizeNative: base,
			Price:      px,
		})
		break
	}
	var pnl float64
	if r.PnLNative != nil {
		pnl = *r.PnLNative
	} else if px > 0 {
		pnl = r.PnLUSD / px
	}
	w.balance += base + pnl
	w.log.Debug("paper position settled", zap.Float64("pnl_native", pnl), zap.Float64("balance_native", w.balance))
}

func (w *Wallet) appendHistory(entry HistoryEntry) {
	w.history = append(w.history, entry)
	if over := len(w.history) - historyKeep; over > 0 {
		w.history = append(w.history[:0:0], w.history[over:]...)
	}
}

func (w *Wallet) Initialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initialized
}

func (w *Wallet) BalanceNative() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

func (w *Wallet) OpenPositions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.positions)
}

// Snapshot reports the wallet valued at price, or at the last known
// price when price is zero.
func (w *Wallet) Snapshot(price float64, symbol string) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	px := w.resolvePrice(price)
	w.setSymbol(symbol)
	snap := Snapshot{
		Initialized:   w.initialized,
		BalanceNative: w.balance,
		InitialNative: w.initial,
		PnLNative:     w.balance - w.initial,
		Symbol:        w.symbol,
		LastPrice:     px,
		Positions:     make([]PositionView, 0, len(w.positions)),
	}
	if px > 0 {
		balanceUSD := w.balance * px
		initialUSD := w.initial * px
		pnlUSD := balanceUSD - initialUSD
		snap.BalanceUSD = &balanceUSD
		snap.InitialUSD = &initialUSD
		snap.PnLUSD = &pnlUSD
	}
	for _, pos := range w.positions {
		view := PositionView{
			Contract:   pos.Contract,
			TokenID:    pos.TokenID,
			Strategy:   pos.Strategy,
			SizeNative: pos.SizeNative,
			EnteredAt:  pos.EnteredAt,
		}
		entry := pos.EntryPrice
		if entry <= 0 {
			entry = px
		}
		if entry > 0 {
			usd := pos.SizeNative * entry
			view.SizeUSD = &usd
		}
		snap.Positions = append(snap.Positions, view)
	}
	start := len(w.history) - historyView
	if start < 0 {
		start = 0
	}
	snap.History = append([]HistoryEntry(nil), w.history[start:]...)
	return snap
}

// Reset clears all state.
func (w *Wallet) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.initialized = false
	w.initial = 0
	w.balance = 0
	w.lastPrice = 0
	w.symbol = ""
	w.positions = nil
	w.history = nil
}
