package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nft-sniper-bot/internal/chain"
	"nft-sniper-bot/internal/config"
	"nft-sniper-bot/internal/events"
	"nft-sniper-bot/internal/exec"
	"nft-sniper-bot/internal/market"
	"nft-sniper-bot/internal/paper"
	"nft-sniper-bot/internal/strategy"
	"nft-sniper-bot/internal/timescale"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// passView holds the values read once per pass over the watch-list.
type passView struct {
	price         float64
	balanceNative float64
	balanceUSD    float64
	symbol        string
}

func (e *Engine) pass(ctx context.Context, sess *session) {
	s := e.deps.Settings.Snapshot()
	if len(s.Contracts) == 0 {
		e.log.Debug("watch-list empty")
		e.touch()
		return
	}
	if !e.refreshExecutor(s, sess) {
		return
	}
	view := e.passView(ctx, s, sess)
	for _, contract := range s.Contracts {
		if e.stopping() || ctx.Err() != nil {
			return
		}
		e.cycle(ctx, sess, view, contract)
		e.touch()
		if !sleepCtx(ctx, e.opts.ScanYield) {
			return
		}
	}
}

// refreshExecutor swaps the execution adapter when the configured mode
// moved between paper and live since the last pass.
func (e *Engine) refreshExecutor(s config.Settings, sess *session) bool {
	if s.LiveMode() == sess.executor.Live() {
		return true
	}
	if s.LiveMode() {
		if missing := s.MissingLiveCredentials(); len(missing) > 0 {
			reason := "live not configured: missing " + strings.Join(missing, ", ")
			e.emit(events.Event{Status: events.StatusError, Note: reason})
			e.requestStop(reason, false)
			return false
		}
	}
	executor, err := e.deps.Executors(s, sess.rpc)
	if err != nil {
		reason := "executor: " + err.Error()
		e.emit(events.Event{Status: events.StatusError, Note: reason})
		e.requestStop(reason, false)
		return false
	}
	sess.executor = executor
	e.mu.Lock()
	e.mode = s.Mode
	e.mu.Unlock()
	e.log.Info("execution mode changed", zap.String("mode", s.Mode), zap.Bool("live", executor.Live()))
	return true
}

func (e *Engine) passView(ctx context.Context, s config.Settings, sess *session) passView {
	view := passView{symbol: s.Symbol()}
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	view.price = e.priceUSD(callCtx, s.Chain)
	cancel()
	if sess.executor.Live() {
		view.balanceNative, _ = e.realBalance(ctx, s, sess.rpc)
	} else {
		if !e.deps.Wallet.Initialized() {
			start := s.PaperStartNative
			if start <= 0 {
				start, _ = e.realBalance(ctx, s, sess.rpc)
			}
			e.deps.Wallet.Bootstrap(start, view.price, view.symbol)
		}
		view.balanceNative = e.deps.Wallet.BalanceNative()
	}
	view.balanceUSD = view.balanceNative * view.price
	return view
}

func (e *Engine) priceUSD(ctx context.Context, chainName string) float64 {
	if e.deps.Price == nil {
		return 0
	}
	return e.deps.Price.PriceUSD(ctx, chainName)
}

// accountAddress is ADDRESS, or the address derived from PRIVATE_KEY.
func (e *Engine) accountAddress(s config.Settings) string {
	address := strings.TrimSpace(s.Address)
	if address != "" || s.PrivateKey == "" {
		return address
	}
	derived, err := chain.AddressFromKey(s.PrivateKey)
	if err != nil {
		e.log.Warn("address derivation failed", zap.Error(err))
		return ""
	}
	return derived
}

// realBalance reads the account's native balance from the configured
// source and reports which source answered. "auto" asks the RPC first
// and falls back to the data provider when it reads zero. rpc may be nil.
func (e *Engine) realBalance(ctx context.Context, s config.Settings, rpc RPC) (float64, string) {
	address := e.accountAddress(s)
	if address == "" {
		return 0, "rpc"
	}
	fromRPC := func() float64 {
		if rpc == nil {
			return 0
		}
		callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()
		wei, err := rpc.Balance(callCtx, address)
		if err != nil {
			e.deps.Metrics.ProviderErrors.Inc()
			e.log.Warn("rpc balance failed", zap.Error(err))
			return 0
		}
		return chain.WeiToNative(wei)
	}
	fromProvider := func() float64 {
		if e.deps.Data == nil {
			return 0
		}
		callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()
		wei, ok, err := e.deps.Data.NativeBalance(callCtx, address)
		if err != nil {
			e.deps.Metrics.ProviderErrors.Inc()
			e.log.Warn("provider balance failed", zap.Error(err))
			return 0
		}
		if !ok {
			return 0
		}
		return chain.WeiToNative(wei)
	}
	switch strings.ToLower(s.BalanceSource) {
	case "rpc":
		return fromRPC(), "rpc"
	case "moralis":
		return fromProvider(), "moralis"
	default:
		if bal := fromRPC(); bal > 0 {
			return bal, "rpc"
		}
		if bal := fromProvider(); bal > 0 {
			return bal, "moralis"
		}
		return 0, "rpc"
	}
}

func (e *Engine) cycle(ctx context.Context, sess *session, view passView, contract string) {
	s := e.deps.Settings.Snapshot()
	e.deps.Metrics.Scans.Inc()
	e.emit(events.Event{Status: events.StatusScanning, Contract: contract})

	if !e.deps.Oracle.Signal(contract) {
		e.emit(events.Event{Status: events.StatusWaiting, Contract: contract})
		return
	}
	e.deps.Metrics.Signals.Inc()

	sel := e.deps.Selector.Select(strategy.ParseMode(s.StrategyMode), s.ManualStrategy, e.opts.Strategies)
	if !sel.OK {
		e.skip(contract, "", "no strategy available")
		return
	}
	e.deps.Selector.Announce(sel)

	rules := strategy.LiquidityRules{
		Window:       s.LiquidityWindow(),
		MinTrades:    s.LiqMinTrades,
		MinBuyers:    s.LiqMinBuyers,
		MinVolumeUSD: s.LiqMinVolumeUSD,
	}
	if rules.Enabled() {
		items, err := e.recentTrades(ctx, contract)
		if err != nil {
			e.deps.Metrics.ProviderErrors.Inc()
			e.skip(contract, sel.Strategy, "liquidity data unavailable: "+err.Error())
			return
		}
		trades, skipped := market.DecodeTrades(items, view.price)
		if skipped > 0 {
			e.log.Debug("unparsable trades skipped", zap.String("contract", contract), zap.Int("skipped", skipped))
		}
		if res := strategy.CheckLiquidity(rules, trades, e.now()); !res.OK {
			e.skip(contract, sel.Strategy, res.Reason)
			return
		}
	}

	edge := e.deps.Oracle.EstimateEdge()
	minEdge := s.USDProfitMin
	if minEdge <= 0 {
		minEdge = 0.01
	}
	ev, err := strategy.CheckEV(strategy.EVInput{
		Edge:         edge,
		Fee:          strategy.FeeRate,
		GasUSD:       strategy.GasUSD(s.Chain),
		BalanceUSD:   view.balanceUSD,
		MinEdgePct:   minEdge,
		MinProfitPct: s.MinProfitPct,
	})
	if err != nil {
		e.skip(contract, sel.Strategy, err.Error())
		return
	}

	size := strategy.PositionSize(strategy.SizingInput{
		BalanceUSD: view.balanceUSD,
		Fraction:   s.PositionFraction,
		CeilingUSD: s.PositionUSDCeil,
		SpotPrice:  view.price,
	})
	if size.USD <= 0 {
		e.skip(contract, sel.Strategy, fmt.Sprintf("position size zero (balance $%.2f)", view.balanceUSD))
		return
	}
	open := 0
	if !sess.executor.Live() {
		open = e.deps.Wallet.OpenPositions()
	}
	caps := strategy.Caps{MaxSpendUSDPerDay: s.MaxSpendUSDPerDay, MaxOpenPositions: s.MaxOpenPositions}
	if err := strategy.CheckCaps(caps, e.deps.Ledger.SpendToday(), size.USD, open); err != nil {
		e.skip(contract, sel.Strategy, err.Error())
		return
	}

	intent := exec.Intent{
		ID:         uuid.NewString(),
		Contract:   contract,
		TokenID:    "1",
		Strategy:   sel.Strategy,
		Edge:       edge,
		SizeUSD:    size.USD,
		SizeNative: size.Native,
	}
	e.emit(events.Event{
		Status:     events.StatusEntering,
		Contract:   contract,
		Strategy:   sel.Strategy,
		Action:     "buy",
		Note:       fmt.Sprintf("edge=%.4f ev=%.4f", edge, ev),
		Symbol:     view.symbol,
		SizeUSD:    events.Float(size.USD),
		SizeNative: events.Float(size.Native),
	})
	if sess.executor.Live() {
		e.executeLive(ctx, s, sess, view, intent)
		return
	}
	e.executePaper(ctx, s, sess, view, intent)
}

func (e *Engine) recentTrades(ctx context.Context, contract string) ([]any, error) {
	if e.deps.Data == nil {
		return nil, errors.New("no data provider")
	}
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return e.deps.Data.RecentTrades(callCtx, contract, e.opts.TradesLimit)
}

func (e *Engine) skip(contract, strategyName, reason string) {
	e.deps.Metrics.Skips.Inc()
	e.emit(events.Event{
		Status:   events.StatusSkipped,
		Contract: contract,
		Strategy: strategyName,
		Note:     reason,
	})
}

// executeLive sends the buy under its own timeout so a stop request does
// not abandon a transaction mid-broadcast.
func (e *Engine) executeLive(ctx context.Context, s config.Settings, sess *session, view passView, intent exec.Intent) {
	buyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.BuyTimeout)
	fill, err := sess.executor.Buy(buyCtx, intent)
	cancel()
	if err != nil {
		e.deps.Metrics.LiveFailures.Inc()
		e.log.Warn("live buy failed", zap.String("contract", intent.Contract), zap.Error(err))
		e.emit(events.Event{
			Status:   events.StatusError,
			Contract: intent.Contract,
			Strategy: intent.Strategy,
			Action:   "buy",
			Note:     "buy failed: " + err.Error(),
		})
		e.notify(fmt.Sprintf("Live buy failed %s: %v", intent.Contract, err))
		return
	}
	e.deps.Metrics.LiveFills.Inc()
	e.deps.Ledger.RecordSpend(intent.SizeUSD)
	e.emit(events.Event{
		Status:     events.StatusFilled,
		Contract:   intent.Contract,
		Strategy:   intent.Strategy,
		Action:     "buy",
		Note:       fill.TxHandle,
		Symbol:     view.symbol,
		SizeUSD:    events.Float(intent.SizeUSD),
		SizeNative: events.Float(intent.SizeNative),
	})
	e.journalTrade(s, intent, "filled", 0, 0, fill.TxHandle)
	e.notify(fmt.Sprintf("Live fill %s #%s $%.2f tx %s", intent.Contract, intent.TokenID, intent.SizeUSD, fill.TxHandle))
	// a fill realizes no profit; only the session total can trip here
	e.checkAutoStop(s, 0)
}

func (e *Engine) executePaper(ctx context.Context, s config.Settings, sess *session, view passView, intent exec.Intent) {
	fill, err := sess.executor.Buy(ctx, intent)
	if err != nil {
		e.emit(events.Event{
			Status:   events.StatusError,
			Contract: intent.Contract,
			Strategy: intent.Strategy,
			Note:     "paper buy failed: " + err.Error(),
		})
		return
	}
	e.deps.Wallet.RecordBuy(paper.Buy{
		Contract:   intent.Contract,
		TokenID:    intent.TokenID,
		Strategy:   intent.Strategy,
		SizeNative: intent.SizeNative,
		SizeUSD:    intent.SizeUSD,
		Price:      view.price,
		Symbol:     view.symbol,
	})
	e.deps.Ledger.RecordSpend(intent.SizeUSD)

	win := e.deps.Oracle.SimulateOutcome(intent.Edge)
	pnl := strategy.SettlePnL(win, intent.SizeUSD, intent.Edge)
	e.deps.Stats.Record(intent.Strategy, win, intent.Edge)
	e.deps.Ledger.RecordResult(pnl, win)
	e.deps.Metrics.PaperTrades.Inc()

	status, outcome := events.StatusLoss, "loss"
	if win {
		status, outcome = events.StatusWin, "win"
	}
	ev := events.Event{
		Status:     status,
		Contract:   intent.Contract,
		Strategy:   intent.Strategy,
		Action:     "settle",
		Note:       fill.TxHandle,
		Symbol:     view.symbol,
		SizeUSD:    events.Float(intent.SizeUSD),
		SizeNative: events.Float(intent.SizeNative),
		PnLUSD:     events.Float(pnl),
	}
	var pnlNative float64
	if view.price > 0 {
		pnlNative = pnl / view.price
		ev.PnLNative = events.Float(pnlNative)
	}
	e.emit(ev)
	e.checkAutoStop(s, pnl)
	e.deps.Wallet.RecordResult(paper.Result{
		Contract: intent.Contract,
		TokenID:  intent.TokenID,
		PnLUSD:   pnl,
		Price:    view.price,
		Symbol:   view.symbol,
	})
	e.journalTrade(s, intent, outcome, pnl, pnlNative, fill.TxHandle)
}

func (e *Engine) checkAutoStop(s config.Settings, tradeProfitUSD float64) {
	tripped, reason := e.deps.Ledger.CheckAutoStop(s.AutoStopProfitUSD, tradeProfitUSD)
	if !tripped {
		return
	}
	e.deps.Metrics.AutoStops.Inc()
	e.log.Info("auto-stop triggered", zap.String("reason", reason))
	e.requestStop(reason, false)
	e.notify(reason)
}

func (e *Engine) journalTrade(s config.Settings, intent exec.Intent, outcome string, pnlUSD, pnlNative float64, tx string) {
	if e.deps.Journal == nil {
		return
	}
	e.deps.Journal.RecordTrade(timescale.Trade{
		Time:       e.now().UTC(),
		IntentID:   intent.ID,
		Contract:   intent.Contract,
		TokenID:    intent.TokenID,
		Strategy:   intent.Strategy,
		Mode:       s.Mode,
		Edge:       intent.Edge,
		SizeUSD:    intent.SizeUSD,
		SizeNative: intent.SizeNative,
		PnLUSD:     pnlUSD,
		PnLNative:  pnlNative,
		Outcome:    outcome,
		TxHandle:   tx,
	})
}
