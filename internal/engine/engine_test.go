package engine

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nft-sniper-bot/internal/config"
	"nft-sniper-bot/internal/events"
	"nft-sniper-bot/internal/exec"
	"nft-sniper-bot/internal/paper"
	"nft-sniper-bot/internal/risk"
	"nft-sniper-bot/internal/state"
	"nft-sniper-bot/internal/strategy"
	"nft-sniper-bot/internal/timescale"

	"go.uber.org/zap"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type fakeRPC struct {
	balance *big.Int
	closed  atomic.Int32
}

func (f *fakeRPC) URL() string { return "fake://rpc" }

func (f *fakeRPC) Balance(ctx context.Context, address string) (*big.Int, error) {
	if f.balance == nil {
		return big.NewInt(0), nil
	}
	return f.balance, nil
}

func (f *fakeRPC) Close() { f.closed.Add(1) }

type fixedPrice float64

func (p fixedPrice) PriceUSD(ctx context.Context, chain string) float64 { return float64(p) }

type fakeData struct {
	trades []any
	err    error
}

func (f *fakeData) RecentTrades(ctx context.Context, contract string, limit int) ([]any, error) {
	return f.trades, f.err
}

func (f *fakeData) NativeBalance(ctx context.Context, address string) (*big.Int, bool, error) {
	return nil, false, nil
}

type fixedOracle struct {
	signal bool
	edge   float64
	win    bool
	panics bool
}

func (o fixedOracle) Signal(string) bool {
	if o.panics {
		panic("oracle exploded")
	}
	return o.signal
}

func (o fixedOracle) EstimateEdge() float64        { return o.edge }
func (o fixedOracle) SimulateOutcome(float64) bool { return o.win }

type fakeLive struct {
	mu      sync.Mutex
	intents []exec.Intent
	err     error
}

func (f *fakeLive) Buy(ctx context.Context, intent exec.Intent) (exec.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent)
	if f.err != nil {
		return exec.Fill{}, f.err
	}
	return exec.Fill{TxHandle: "0xfeed"}, nil
}

func (f *fakeLive) Live() bool { return true }

type recordingJournal struct {
	mu     sync.Mutex
	events int
	trades []timescale.Trade
}

func (j *recordingJournal) RecordEvent(events.Event) {
	j.mu.Lock()
	j.events++
	j.mu.Unlock()
}

func (j *recordingJournal) RecordTrade(trade timescale.Trade) {
	j.mu.Lock()
	j.trades = append(j.trades, trade)
	j.mu.Unlock()
}

type harness struct {
	engine  *Engine
	runtime *config.Runtime
	rpc     *fakeRPC
	dials   atomic.Int32
	store   *memoryStore
	journal *recordingJournal
	stream  *events.Stream
	ledger  *risk.Ledger
	stats   *risk.Stats
	wallet  *paper.Wallet
}

func baseSettings() config.Settings {
	s := config.DefaultSettings()
	s.RPCURL = "http://rpc.invalid"
	s.Contracts = []string{"0xabc"}
	s.PaperStartNative = 10
	s.StrategyMode = "manual"
	s.ManualStrategy = strategy.Momentum
	return s
}

func newHarness(t *testing.T, s config.Settings, oracle strategy.MarketOracle, data DataProvider, live exec.Executor, dialErr error) *harness {
	t.Helper()
	h := &harness{
		rpc:     &fakeRPC{},
		store:   &memoryStore{},
		journal: &recordingJournal{},
		stream:  events.NewStream(10000, zap.NewNop()),
		ledger:  risk.NewLedger(),
		stats:   risk.NewStats(strategy.Names),
		wallet:  paper.New(zap.NewNop()),
		runtime: config.NewRuntime(s),
	}
	deps := Deps{
		Settings: h.runtime,
		Dial: func(ctx context.Context, urls []string) (RPC, error) {
			h.dials.Add(1)
			if dialErr != nil {
				return nil, dialErr
			}
			return h.rpc, nil
		},
		Executors: func(s config.Settings, rpc RPC) (exec.Executor, error) {
			if s.LiveMode() && live != nil {
				return live, nil
			}
			return exec.NewPaper(zap.NewNop()), nil
		},
		Price:    fixedPrice(2000),
		Data:     data,
		Oracle:   oracle,
		Selector: strategy.NewSelector(zap.NewNop(), nil),
		Ledger:   h.ledger,
		Stats:    h.stats,
		Wallet:   h.wallet,
		Events:   h.stream,
		Store:    h.store,
		Journal:  h.journal,
		Log:      zap.NewNop(),
	}
	eng, err := New(deps, Options{ScanYield: time.Millisecond, PassInterval: 5 * time.Millisecond, CallTimeout: time.Second, BuyTimeout: time.Second})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = eng
	return h
}

func waitDone(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("worker did not exit")
	}
}

func waitStatus(t *testing.T, ch <-chan events.Event, status string) events.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Status == status {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %q event", status)
		}
	}
}

func TestStartRejectsLiveWithoutCredentials(t *testing.T) {
	s := baseSettings()
	s.Mode = "live"
	h := newHarness(t, s, fixedOracle{}, nil, nil, nil)
	err := h.engine.Start(context.Background())
	if !errors.Is(err, ErrLiveNotConfigured) {
		t.Fatalf("expected ErrLiveNotConfigured, got %v", err)
	}
	if h.dials.Load() != 0 {
		t.Fatalf("must not dial without credentials")
	}
	if st := h.engine.Status(); st.State != StateIdle || st.StartedAt != nil {
		t.Fatalf("expected untouched idle state, got %+v", st)
	}
}

func TestStartFailsWithoutConnection(t *testing.T) {
	h := newHarness(t, baseSettings(), fixedOracle{}, nil, nil, errors.New("all endpoints down"))
	err := h.engine.Start(context.Background())
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("expected ErrNoConnection, got %v", err)
	}
	if st := h.engine.Status(); st.State != StateIdle {
		t.Fatalf("expected idle after failed connect, got %s", st.State)
	}
}

func TestStartTwiceIsNoop(t *testing.T) {
	h := newHarness(t, baseSettings(), fixedOracle{}, nil, nil, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := h.engine.Status()
	if first.State != StateRunning || first.StartedAt == nil {
		t.Fatalf("expected running, got %+v", first)
	}
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	second := h.engine.Status()
	if !second.StartedAt.Equal(*first.StartedAt) {
		t.Fatalf("second start must not reset started_at")
	}
	if h.dials.Load() != 1 {
		t.Fatalf("expected a single dial, got %d", h.dials.Load())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.engine.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	st := h.engine.Status()
	if st.State != StateIdle || st.StopReason != "shutdown" {
		t.Fatalf("expected idle after shutdown, got %+v", st)
	}
	if h.rpc.closed.Load() != 1 {
		t.Fatalf("expected rpc closed once")
	}
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	h := newHarness(t, baseSettings(), fixedOracle{}, nil, nil, nil)
	h.engine.Stop("nothing running")
	h.engine.Stop("")
	st := h.engine.Status()
	if st.State != StateIdle || st.StopReason != "" {
		t.Fatalf("stop while idle must not change state, got %+v", st)
	}
	if _, ok := h.stream.Last(); ok {
		t.Fatalf("stop while idle must not emit")
	}
}

func TestStopKeepsFirstReason(t *testing.T) {
	h := newHarness(t, baseSettings(), fixedOracle{}, nil, nil, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.engine.Stop("operator")
	h.engine.Stop("second")
	waitDone(t, h.engine)
	if got := h.engine.Status().StopReason; got != "operator" {
		t.Fatalf("expected first reason to win, got %q", got)
	}
}

func TestPaperTradeSettlesAndAutoStops(t *testing.T) {
	s := baseSettings()
	s.AutoStopProfitUSD = 0.1
	h := newHarness(t, s, fixedOracle{signal: true, edge: 0.1, win: true}, nil, nil, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, h.engine)

	st := h.engine.Status()
	if st.State != StateIdle {
		t.Fatalf("expected idle after auto-stop, got %s", st.State)
	}
	if !strings.HasPrefix(st.StopReason, "auto-stop: trade profit") {
		t.Fatalf("unexpected stop reason %q", st.StopReason)
	}
	if !st.Risk.AutoStopTriggered || st.Risk.SpendTodayUSD != 3 {
		t.Fatalf("unexpected risk snapshot %+v", st.Risk)
	}
	if st.Risk.LossStreak != 0 || st.Risk.PnLTodayUSD <= 0 {
		t.Fatalf("expected a winning session, got %+v", st.Risk)
	}
	if got := h.stats.Get(strategy.Momentum); got.Wins != 1 || got.Losses != 0 {
		t.Fatalf("expected one momentum win, got %+v", got)
	}
	if bal := h.wallet.BalanceNative(); bal <= 10 {
		t.Fatalf("expected paper balance above start, got %v", bal)
	}
	if h.wallet.OpenPositions() != 0 {
		t.Fatalf("expected settled position")
	}
	if len(h.journal.trades) != 1 || h.journal.trades[0].Outcome != "win" {
		t.Fatalf("expected journaled win, got %+v", h.journal.trades)
	}
	record, ok, err := state.LoadSession(context.Background(), h.store)
	if err != nil || !ok {
		t.Fatalf("expected saved session, ok=%v err=%v", ok, err)
	}
	if record.StopReason != st.StopReason || record.SpendUSD != 3 {
		t.Fatalf("unexpected session record %+v", record)
	}
	if st.PreviousSession == nil {
		t.Fatalf("expected previous session in status")
	}
	last, _ := h.stream.Last()
	if last.Status != events.StatusIdle {
		t.Fatalf("expected final idle event, got %+v", last)
	}
}

func TestStartClearsAutoStop(t *testing.T) {
	s := baseSettings()
	s.AutoStopProfitUSD = 0.1
	h := newHarness(t, s, fixedOracle{signal: true, edge: 0.1, win: true}, nil, nil, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, h.engine)
	if !h.ledger.Snapshot().AutoStopTriggered {
		t.Fatalf("expected auto-stop latched")
	}
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	// the restarted worker trips again on its first trade
	waitDone(t, h.engine)
	if got := h.stats.Get(strategy.Momentum).Wins; got != 2 {
		t.Fatalf("expected a second trade after restart, got %d wins", got)
	}
}

func TestNegativeEVSkips(t *testing.T) {
	h := newHarness(t, baseSettings(), fixedOracle{signal: true, edge: 0.001}, nil, nil, nil)
	ch, cancel := h.stream.Subscribe(4096)
	defer cancel()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ev := waitStatus(t, ch, events.StatusSkipped)
	h.engine.Stop("test")
	waitDone(t, h.engine)
	if !strings.Contains(ev.Note, "expected value not positive") || ev.Strategy != strategy.Momentum {
		t.Fatalf("unexpected skip event %+v", ev)
	}
	if h.ledger.SpendToday() != 0 {
		t.Fatalf("skipped trades must not spend")
	}
}

func TestLiquidityGateSkipsEmptySample(t *testing.T) {
	s := baseSettings()
	s.LiqMinTrades = 5
	h := newHarness(t, s, fixedOracle{signal: true, edge: 0.1, win: true}, &fakeData{}, nil, nil)
	ch, cancel := h.stream.Subscribe(4096)
	defer cancel()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ev := waitStatus(t, ch, events.StatusSkipped)
	h.engine.Stop("test")
	waitDone(t, h.engine)
	if ev.Note != "trades 0 < min 5 in last 60m" {
		t.Fatalf("unexpected liquidity reason %q", ev.Note)
	}
}

func TestProviderErrorSkipsContract(t *testing.T) {
	s := baseSettings()
	s.LiqMinBuyers = 1
	h := newHarness(t, s, fixedOracle{signal: true, edge: 0.1}, &fakeData{err: errors.New("rate limited")}, nil, nil)
	ch, cancel := h.stream.Subscribe(4096)
	defer cancel()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ev := waitStatus(t, ch, events.StatusSkipped)
	if st := h.engine.Status(); st.State == StateIdle {
		t.Fatalf("provider errors must not stop the worker")
	}
	h.engine.Stop("test")
	waitDone(t, h.engine)
	if !strings.Contains(ev.Note, "rate limited") {
		t.Fatalf("unexpected skip note %q", ev.Note)
	}
}

func TestPanicIsFatal(t *testing.T) {
	h := newHarness(t, baseSettings(), fixedOracle{panics: true}, nil, nil, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, h.engine)
	st := h.engine.Status()
	if st.State != StateIdle || !strings.HasPrefix(st.StopReason, "fatal: panic: oracle exploded") {
		t.Fatalf("unexpected status after panic %+v", st)
	}
}

func TestLiveFillRecordsSpend(t *testing.T) {
	s := baseSettings()
	s.Mode = "live"
	s.OpenSeaAPIKey = "k"
	s.PrivateKey = testKey
	live := &fakeLive{}
	h := newHarness(t, s, fixedOracle{signal: true, edge: 0.1}, nil, live, nil)
	h.rpc.balance = new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
	ch, cancel := h.stream.Subscribe(4096)
	defer cancel()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ev := waitStatus(t, ch, events.StatusFilled)
	h.engine.Stop("test")
	waitDone(t, h.engine)
	if ev.Note != "0xfeed" || ev.Contract != "0xabc" {
		t.Fatalf("unexpected fill event %+v", ev)
	}
	live.mu.Lock()
	intent := live.intents[0]
	live.mu.Unlock()
	if intent.ID == "" || intent.TokenID != "1" || intent.SizeUSD != 3 {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if h.ledger.SpendToday() < 3 {
		t.Fatalf("expected live spend recorded")
	}
	if h.wallet.Initialized() {
		t.Fatalf("live mode must not touch the paper wallet")
	}
}

func TestLiveFailureLeavesPnL(t *testing.T) {
	s := baseSettings()
	s.Mode = "live"
	s.OpenSeaAPIKey = "k"
	s.PrivateKey = testKey
	live := &fakeLive{err: errors.New("no listing")}
	h := newHarness(t, s, fixedOracle{signal: true, edge: 0.1}, nil, live, nil)
	h.rpc.balance = new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
	ch, cancel := h.stream.Subscribe(4096)
	defer cancel()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ev := waitStatus(t, ch, events.StatusError)
	h.engine.Stop("test")
	waitDone(t, h.engine)
	if !strings.Contains(ev.Note, "no listing") {
		t.Fatalf("unexpected error event %+v", ev)
	}
	snap := h.ledger.Snapshot()
	if snap.PnLTodayUSD != 0 || snap.SpendTodayUSD != 0 {
		t.Fatalf("failed buy must not touch pnl or spend, got %+v", snap)
	}
}

func TestDeriveState(t *testing.T) {
	if deriveState(false, false) != StateIdle || deriveState(false, true) != StateIdle {
		t.Fatalf("dead worker must be idle")
	}
	if deriveState(true, false) != StateRunning || deriveState(true, true) != StateStopping {
		t.Fatalf("unexpected live states")
	}
}

func TestWalletReadsRPCBalance(t *testing.T) {
	s := baseSettings()
	s.Address = "0x00000000000000000000000000000000000000aa"
	s.BalanceSource = "rpc"
	h := newHarness(t, s, fixedOracle{}, &fakeData{}, nil, nil)
	h.rpc.balance = new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18))

	view := h.engine.Wallet(context.Background())
	if view.Native != 2 || view.Source != "rpc" || view.RPC != "fake://rpc" {
		t.Fatalf("unexpected wallet view %+v", view)
	}
	if view.USD == nil || *view.USD != 4000 {
		t.Fatalf("expected usd 4000, got %v", view.USD)
	}
	if h.rpc.closed.Load() != 1 {
		t.Fatalf("expected wallet rpc to be closed")
	}
}

func TestWalletWithoutConnectionReportsZero(t *testing.T) {
	s := baseSettings()
	s.Address = "0x00000000000000000000000000000000000000aa"
	h := newHarness(t, s, fixedOracle{}, &fakeData{}, nil, errors.New("unreachable"))

	view := h.engine.Wallet(context.Background())
	if view.Native != 0 || view.RPC != "" || view.Source != "rpc" {
		t.Fatalf("unexpected wallet view %+v", view)
	}
}

func TestPaperSnapshotUsesSpotPrice(t *testing.T) {
	h := newHarness(t, baseSettings(), fixedOracle{}, &fakeData{}, nil, nil)
	h.wallet.Bootstrap(1.5, 2000, "ETH")

	snap := h.engine.Paper(context.Background())
	if !snap.Initialized || snap.BalanceNative != 1.5 {
		t.Fatalf("unexpected paper snapshot %+v", snap)
	}
	if snap.BalanceUSD == nil || *snap.BalanceUSD != 3000 {
		t.Fatalf("expected usd 3000, got %v", snap.BalanceUSD)
	}
}

func TestResetPaperOnlyWhileIdle(t *testing.T) {
	h := newHarness(t, baseSettings(), fixedOracle{}, &fakeData{}, nil, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.engine.ResetPaper(); !errors.Is(err, ErrRunning) {
		t.Fatalf("expected ErrRunning, got %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.engine.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	h.wallet.Bootstrap(2, 1000, "ETH")
	if err := h.engine.ResetPaper(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if h.wallet.Initialized() || h.wallet.BalanceNative() != 0 {
		t.Fatalf("expected empty paper wallet after reset")
	}
}

func liveSettings() config.Settings {
	s := baseSettings()
	s.Mode = "live"
	s.OpenSeaAPIKey = "k"
	s.PrivateKey = testKey
	return s
}

func scannedContracts(stream *events.Stream) map[string]int {
	seen := map[string]int{}
	for _, ev := range stream.Since(0, 10000) {
		if ev.Status == events.StatusScanning {
			seen[ev.Contract]++
		}
	}
	return seen
}

func TestLiveFillAfterRestartKeepsRunning(t *testing.T) {
	s := liveSettings()
	s.AutoStopProfitUSD = 1
	live := &fakeLive{}
	h := newHarness(t, s, fixedOracle{signal: true, edge: 0.1}, nil, live, nil)
	h.rpc.balance = new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
	// previous session: a loss then a winning trade that tripped auto-stop
	h.ledger.RecordResult(-5, false)
	h.ledger.RecordResult(1.2, true)
	if tripped, _ := h.ledger.CheckAutoStop(1, 1.2); !tripped {
		t.Fatalf("expected previous session to trip")
	}

	ch, cancel := h.stream.Subscribe(4096)
	defer cancel()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStatus(t, ch, events.StatusFilled)
	// a later scan proves the fill did not stop the session
	waitStatus(t, ch, events.StatusScanning)
	st := h.engine.Status()
	if st.State != StateRunning || st.Risk.AutoStopTriggered {
		t.Fatalf("zero-profit fill must not auto-stop, got %+v", st)
	}
	h.engine.Stop("test")
	waitDone(t, h.engine)
}

func TestAutoStopSkipsRestOfPass(t *testing.T) {
	s := baseSettings()
	s.Contracts = []string{"0xaaa", "0xbbb", "0xccc"}
	s.AutoStopProfitUSD = 0.1
	h := newHarness(t, s, fixedOracle{signal: true, edge: 0.1, win: true}, nil, nil, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitDone(t, h.engine)

	if st := h.engine.Status(); !strings.HasPrefix(st.StopReason, "auto-stop") {
		t.Fatalf("expected auto-stop, got %q", st.StopReason)
	}
	seen := scannedContracts(h.stream)
	if seen["0xaaa"] != 1 || seen["0xbbb"] != 0 || seen["0xccc"] != 0 {
		t.Fatalf("expected only the first contract scanned, got %v", seen)
	}
	if got := h.stats.Get(strategy.Momentum).Wins; got != 1 {
		t.Fatalf("expected exactly one trade, got %d", got)
	}
}

func TestDailySpendCapBlocksEntry(t *testing.T) {
	s := baseSettings()
	s.MaxSpendUSDPerDay = 2
	h := newHarness(t, s, fixedOracle{signal: true, edge: 0.1, win: true}, nil, nil, nil)
	ch, cancel := h.stream.Subscribe(4096)
	defer cancel()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ev := waitStatus(t, ch, events.StatusSkipped)
	h.engine.Stop("test")
	waitDone(t, h.engine)
	if !strings.Contains(ev.Note, "daily spend cap reached") {
		t.Fatalf("unexpected skip reason %q", ev.Note)
	}
	if h.ledger.SpendToday() != 0 || h.wallet.OpenPositions() != 0 {
		t.Fatalf("capped entry must not spend or open a position")
	}
}

func TestModeSwitchSwapsExecutorMidSession(t *testing.T) {
	s := liveSettings()
	s.Mode = "paper"
	live := &fakeLive{}
	h := newHarness(t, s, fixedOracle{}, nil, live, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := h.engine.Status().Mode; got != "paper" {
		t.Fatalf("expected paper session, got %q", got)
	}
	if _, err := h.runtime.Update(map[string]string{config.KeyMode: "live"}); err != nil {
		t.Fatalf("switch mode: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for h.engine.Status().Mode != "live" {
		if time.Now().After(deadline) {
			t.Fatalf("executor was not swapped to live")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := h.engine.Status(); st.State != StateRunning {
		t.Fatalf("swap must keep the session running, got %s", st.State)
	}
	h.engine.Stop("test")
	waitDone(t, h.engine)
}

func TestModeSwitchToLiveWithoutCredentialsStops(t *testing.T) {
	h := newHarness(t, baseSettings(), fixedOracle{}, nil, nil, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.runtime.Update(map[string]string{config.KeyMode: "live"}); err != nil {
		t.Fatalf("switch mode: %v", err)
	}
	waitDone(t, h.engine)
	if reason := h.engine.Status().StopReason; !strings.HasPrefix(reason, "live not configured") {
		t.Fatalf("unexpected stop reason %q", reason)
	}
}

type gateOracle struct {
	entered chan struct{}
	release chan struct{}
}

func (o gateOracle) Signal(string) bool {
	select {
	case o.entered <- struct{}{}:
	default:
	}
	<-o.release
	return false
}

func (gateOracle) EstimateEdge() float64        { return 0 }
func (gateOracle) SimulateOutcome(float64) bool { return false }

func TestStartWhileStoppingFails(t *testing.T) {
	oracle := gateOracle{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, baseSettings(), oracle, nil, nil, nil)
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-oracle.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("worker never scanned")
	}
	h.engine.Stop("test")
	if st := h.engine.Status(); st.State != StateStopping {
		t.Fatalf("expected stopping, got %s", st.State)
	}
	if err := h.engine.Start(context.Background()); !errors.Is(err, ErrStopping) {
		t.Fatalf("expected ErrStopping, got %v", err)
	}
	close(oracle.release)
	waitDone(t, h.engine)
	if h.dials.Load() != 1 {
		t.Fatalf("start while stopping must not dial, got %d dials", h.dials.Load())
	}
}
