package engine

import (
	"context"
	"strings"
	"time"

	"nft-sniper-bot/internal/paper"

	"go.uber.org/zap"
)

// WalletView is the real account balance as the balance source sees it.
type WalletView struct {
	Time    time.Time `json:"ts"`
	Native  float64   `json:"native"`
	USD     *float64  `json:"usd"`
	Symbol  string    `json:"symbol"`
	Address string    `json:"address"`
	RPC     string    `json:"rpc,omitempty"`
	Source  string    `json:"source"`
}

// Wallet reads the real balance outside the worker. It dials its own
// endpoint so it works while the engine is idle.
func (e *Engine) Wallet(ctx context.Context) WalletView {
	s := e.deps.Settings.Snapshot()
	view := WalletView{
		Time:    e.now().UTC(),
		Symbol:  s.Symbol(),
		Address: e.accountAddress(s),
	}
	var rpc RPC
	if strings.ToLower(s.BalanceSource) != "moralis" {
		dialCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		client, err := e.deps.Dial(dialCtx, s.RPCEndpoints())
		cancel()
		if err != nil {
			e.log.Debug("wallet rpc unavailable", zap.Error(err))
		} else {
			rpc = client
			defer client.Close()
			view.RPC = client.URL()
		}
	}
	view.Native, view.Source = e.realBalance(ctx, s, rpc)
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	price := e.priceUSD(callCtx, s.Chain)
	cancel()
	if price > 0 {
		usd := view.Native * price
		view.USD = &usd
	}
	return view
}

// Paper returns the paper wallet priced at the current spot price.
func (e *Engine) Paper(ctx context.Context) paper.Snapshot {
	s := e.deps.Settings.Snapshot()
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	price := e.priceUSD(callCtx, s.Chain)
	cancel()
	return e.deps.Wallet.Snapshot(price, s.Symbol())
}

// ResetPaper discards the paper wallet so the next session bootstraps
// from a fresh balance. Refused while the worker is alive.
func (e *Engine) ResetPaper() error {
	e.mu.RLock()
	alive := e.alive
	e.mu.RUnlock()
	if alive {
		return ErrRunning
	}
	e.deps.Wallet.Reset()
	e.log.Info("paper wallet reset")
	return nil
}
