package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"nft-sniper-bot/internal/config"
	"nft-sniper-bot/internal/events"
	"nft-sniper-bot/internal/exec"
	"nft-sniper-bot/internal/metrics"
	"nft-sniper-bot/internal/paper"
	"nft-sniper-bot/internal/risk"
	"nft-sniper-bot/internal/state"
	"nft-sniper-bot/internal/strategy"
	"nft-sniper-bot/internal/timescale"

	"go.uber.org/zap"
)

var (
	ErrLiveNotConfigured = errors.New("live trading not configured")
	ErrNoConnection      = errors.New("no rpc connection")
	ErrRunning           = errors.New("engine is running")
	ErrStopping          = errors.New("engine is stopping")
)

type SettingsSource interface {
	Snapshot() config.Settings
}

// RPC is the connected chain endpoint adopted for one session.
type RPC interface {
	URL() string
	Balance(ctx context.Context, address string) (*big.Int, error)
	Close()
}

// Dialer returns the first healthy endpoint among urls.
type Dialer func(ctx context.Context, urls []string) (RPC, error)

// ExecutorFactory builds the execution adapter for the settings' mode.
type ExecutorFactory func(s config.Settings, rpc RPC) (exec.Executor, error)

type PriceOracle interface {
	PriceUSD(ctx context.Context, chain string) float64
}

type DataProvider interface {
	RecentTrades(ctx context.Context, contract string, limit int) ([]any, error)
	NativeBalance(ctx context.Context, address string) (*big.Int, bool, error)
}

type Journal interface {
	RecordEvent(ev events.Event)
	RecordTrade(trade timescale.Trade)
}

type Notifier interface {
	Send(ctx context.Context, message string) error
}

type Deps struct {
	Settings  SettingsSource
	Dial      Dialer
	Executors ExecutorFactory
	Price     PriceOracle
	Data      DataProvider
	Oracle    strategy.MarketOracle
	Selector  *strategy.Selector
	Ledger    *risk.Ledger
	Stats     *risk.Stats
	Wallet    *paper.Wallet
	Events    *events.Stream
	Store     state.Store
	Journal   Journal
	Notifier  Notifier
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

type Options struct {
	ScanYield    time.Duration
	PassInterval time.Duration
	CallTimeout  time.Duration
	BuyTimeout   time.Duration
	TradesLimit  int
	Strategies   []string
}

func OptionsFromConfig(cfg config.EngineConfig) Options {
	return Options{
		ScanYield:    cfg.ScanYield,
		PassInterval: cfg.PassInterval,
		CallTimeout:  cfg.CallTimeout,
		BuyTimeout:   cfg.BuyTimeout,
		TradesLimit:  cfg.TradesLimit,
		Strategies:   cfg.Strategies,
	}
}

// session is the worker's private view of one run.
type session struct {
	rpc      RPC
	executor exec.Executor
}

// Engine owns a single background worker that scans the watch-list and
// trades. Start, Stop and Status are safe for concurrent use.
type Engine struct {
	deps Deps
	opts Options
	log  *zap.Logger
	now  func() time.Time

	startMu sync.Mutex

	mu            sync.RWMutex
	alive         bool
	stopRequested bool
	stopReason    string
	startedAt     time.Time
	stoppedAt     time.Time
	heartbeat     time.Time
	rpcURL        string
	mode          string
	cancel        context.CancelFunc
	done          chan struct{}
	previous      *state.SessionRecord
}

func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Settings == nil || deps.Dial == nil || deps.Executors == nil {
		return nil, errors.New("engine requires settings, dialer and executor factory")
	}
	if deps.Oracle == nil || deps.Selector == nil {
		return nil, errors.New("engine requires a market oracle and selector")
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Ledger == nil {
		deps.Ledger = risk.NewLedger()
	}
	if deps.Stats == nil {
		deps.Stats = risk.NewStats(strategy.Names)
	}
	if deps.Wallet == nil {
		deps.Wallet = paper.New(deps.Log)
	}
	if deps.Events == nil {
		deps.Events = events.NewStream(0, deps.Log)
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.BuyTimeout <= 0 {
		opts.BuyTimeout = 60 * time.Second
	}
	if opts.TradesLimit <= 0 {
		opts.TradesLimit = 50
	}
	if len(opts.Strategies) == 0 {
		opts.Strategies = strategy.Names
	}
	e := &Engine{
		deps: deps,
		opts: opts,
		log:  deps.Log,
		now:  time.Now,
	}
	if deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), opts.CallTimeout)
		defer cancel()
		record, ok, err := state.LoadSession(ctx, deps.Store)
		if err != nil {
			e.log.Warn("previous session load failed", zap.Error(err))
		} else if ok {
			e.previous = &record
		}
	}
	return e, nil
}

// Start connects and launches the worker. It is a no-op while a worker
// is running and fails with ErrStopping while one is exiting. Missing
// live credentials and unreachable RPC endpoints are reported without
// changing state.
func (e *Engine) Start(ctx context.Context) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	e.mu.RLock()
	alive, stopping := e.alive, e.stopRequested
	e.mu.RUnlock()
	if alive {
		if stopping {
			return ErrStopping
		}
		return nil
	}
	s := e.deps.Settings.Snapshot()
	if s.LiveMode() {
		if missing := s.MissingLiveCredentials(); len(missing) > 0 {
			return fmt.Errorf("%w: missing %s", ErrLiveNotConfigured, strings.Join(missing, ", "))
		}
	}
	rpc, err := e.deps.Dial(ctx, s.RPCEndpoints())
	if err != nil {
		e.emit(events.Event{Status: events.StatusError, Note: "rpc connect failed: " + err.Error()})
		return fmt.Errorf("%w: %v", ErrNoConnection, err)
	}
	executor, err := e.deps.Executors(s, rpc)
	if err != nil {
		rpc.Close()
		return fmt.Errorf("%w: %v", ErrLiveNotConfigured, err)
	}

	e.deps.Ledger.ResetAutoStop()
	now := e.now().UTC()
	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.mu.Lock()
	e.alive = true
	e.stopRequested = false
	e.stopReason = ""
	e.startedAt = now
	e.stoppedAt = time.Time{}
	e.heartbeat = now
	e.rpcURL = rpc.URL()
	e.mode = s.Mode
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	e.emit(events.Event{
		Status: events.StatusStarting,
		Note:   fmt.Sprintf("mode=%s chain=%s rpc=%s", s.Mode, s.Chain, rpc.URL()),
		Symbol: s.Symbol(),
	})
	go e.run(workerCtx, &session{rpc: rpc, executor: executor}, done)
	return nil
}

// Stop asks the worker to exit without waiting for it. The first reason
// is kept.
func (e *Engine) Stop(reason string) {
	if strings.TrimSpace(reason) == "" {
		reason = "stop requested"
	}
	e.mu.RLock()
	alive := e.alive
	e.mu.RUnlock()
	if !alive {
		return
	}
	if e.requestStop(reason, false) {
		e.emit(events.Event{Status: events.StatusIdle, Note: "stop signal: " + reason})
	}
}

// Shutdown stops the worker and waits for it to exit or for ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Stop("shutdown")
	done := e.Done()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the current worker exits. It is nil before the
// first Start.
func (e *Engine) Done() <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.done == nil {
		return nil
	}
	return e.done
}

type Status struct {
	State           State                `json:"state"`
	Running         bool                 `json:"running"`
	Mode            string               `json:"mode"`
	Chain           string               `json:"chain"`
	RPC             string               `json:"rpc,omitempty"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	StoppedAt       *time.Time           `json:"stopped_at,omitempty"`
	LastHeartbeat   *time.Time           `json:"last_heartbeat,omitempty"`
	UptimeSeconds   float64              `json:"uptime_seconds"`
	StopReason      string               `json:"stop_reason,omitempty"`
	StrategyMode    string               `json:"strategy_mode"`
	ManualStrategy  string               `json:"manual_strategy,omitempty"`
	ActiveStrategy  string               `json:"active_strategy,omitempty"`
	Contracts       []string             `json:"contracts"`
	Risk            risk.Snapshot        `json:"risk"`
	LastEvent       *events.Event        `json:"last_event,omitempty"`
	PreviousSession *state.SessionRecord `json:"previous_session,omitempty"`
}

// Status is a read-only view and never blocks on the worker.
func (e *Engine) Status() Status {
	s := e.deps.Settings.Snapshot()
	e.mu.RLock()
	st := Status{
		State:      deriveState(e.alive, e.stopRequested),
		Running:    e.alive && !e.stopRequested,
		Mode:       s.Mode,
		Chain:      s.Chain,
		RPC:        e.rpcURL,
		StopReason: e.stopReason,
	}
	if !e.startedAt.IsZero() {
		started := e.startedAt
		st.StartedAt = &started
		end := e.now().UTC()
		if !e.alive && !e.stoppedAt.IsZero() {
			end = e.stoppedAt
		}
		st.UptimeSeconds = end.Sub(started).Seconds()
	}
	if !e.stoppedAt.IsZero() {
		stopped := e.stoppedAt
		st.StoppedAt = &stopped
	}
	if !e.heartbeat.IsZero() {
		hb := e.heartbeat
		st.LastHeartbeat = &hb
	}
	if e.previous != nil {
		prev := *e.previous
		st.PreviousSession = &prev
	}
	if e.alive && e.mode != "" {
		st.Mode = e.mode
	}
	e.mu.RUnlock()

	st.StrategyMode = string(strategy.ParseMode(s.StrategyMode))
	st.ManualStrategy = s.ManualStrategy
	st.ActiveStrategy = e.deps.Selector.Current().Strategy
	st.Contracts = append([]string{}, s.Contracts...)
	st.Risk = e.deps.Ledger.Snapshot()
	if ev, ok := e.deps.Events.Last(); ok {
		st.LastEvent = &ev
	}
	return st
}

// requestStop sets the stop flag and cancels the worker context. A
// later reason replaces the first only when override is set. It reports
// whether this call raised the flag.
func (e *Engine) requestStop(reason string, override bool) bool {
	e.mu.Lock()
	first := !e.stopRequested
	e.stopRequested = true
	if first || override || e.stopReason == "" {
		e.stopReason = reason
	}
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return first
}

func (e *Engine) stopping() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopRequested
}

func (e *Engine) touch() {
	now := e.now().UTC()
	e.mu.Lock()
	e.heartbeat = now
	e.mu.Unlock()
}

func (e *Engine) run(ctx context.Context, sess *session, done chan struct{}) {
	defer close(done)
	defer e.finish(sess)
	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Errorf("panic: %v", r))
		}
	}()
	e.log.Info("engine loop enter", zap.String("rpc", sess.rpc.URL()))
	for {
		if e.stopping() || ctx.Err() != nil {
			return
		}
		e.pass(ctx, sess)
		if !sleepCtx(ctx, e.opts.PassInterval) {
			return
		}
	}
}

// fail records a fatal loop error. It overrides any earlier stop reason.
func (e *Engine) fail(err error) {
	e.deps.Metrics.LoopFailures.Inc()
	e.log.Error("engine loop failed", zap.Error(err))
	reason := "fatal: " + err.Error()
	e.requestStop(reason, true)
	e.emit(events.Event{Status: events.StatusError, Note: reason})
	e.notify("Engine stopped on error: " + err.Error())
}

func (e *Engine) finish(sess *session) {
	now := e.now().UTC()
	e.mu.Lock()
	e.alive = false
	e.stoppedAt = now
	if e.stopReason == "" {
		e.stopReason = "loop exited"
	}
	record := state.SessionRecord{
		StartedAt:  e.startedAt,
		StoppedAt:  now,
		StopReason: e.stopReason,
		Mode:       e.mode,
	}
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	sess.rpc.Close()

	s := e.deps.Settings.Snapshot()
	snap := e.deps.Ledger.Snapshot()
	record.Chain = s.Chain
	record.PnLUSD = snap.PnLTodayUSD
	record.SpendUSD = snap.SpendTodayUSD
	ctx, cancelSave := context.WithTimeout(context.Background(), e.opts.CallTimeout)
	if err := state.SaveSession(ctx, e.deps.Store, record); err != nil {
		e.log.Warn("session save failed", zap.Error(err))
	}
	cancelSave()
	e.mu.Lock()
	e.previous = &record
	e.mu.Unlock()

	e.emit(events.Event{Status: events.StatusIdle, Note: "stopped: " + record.StopReason})
	e.log.Info("engine loop exit", zap.String("reason", record.StopReason))
}

// emit publishes ev, folds it into the last-trade snapshot and journals it.
func (e *Engine) emit(ev events.Event) events.Event {
	ev = e.deps.Events.Emit(ev)
	if ev.Status != events.StatusScanning && ev.Status != events.StatusStarting {
		e.deps.Ledger.Register(risk.TradeEvent{
			Status:     ev.Status,
			Contract:   ev.Contract,
			Strategy:   ev.Strategy,
			Note:       ev.Note,
			Action:     ev.Action,
			Symbol:     ev.Symbol,
			SizeUSD:    ev.SizeUSD,
			SizeNative: ev.SizeNative,
			PnLUSD:     ev.PnLUSD,
			PnLNative:  ev.PnLNative,
			Time:       ev.Time,
		})
	}
	if e.deps.Journal != nil {
		e.deps.Journal.RecordEvent(ev)
	}
	return ev
}

func (e *Engine) notify(message string) {
	if e.deps.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.CallTimeout)
	defer cancel()
	if err := e.deps.Notifier.Send(ctx, message); err != nil {
		e.log.Warn("alert send failed", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
