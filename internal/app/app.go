package app

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"nft-sniper-bot/internal/alerts"
	"nft-sniper-bot/internal/chain"
	"nft-sniper-bot/internal/config"
	"nft-sniper-bot/internal/engine"
	"nft-sniper-bot/internal/events"
	"nft-sniper-bot/internal/exec"
	"nft-sniper-bot/internal/metrics"
	"nft-sniper-bot/internal/moralis"
	"nft-sniper-bot/internal/opensea"
	"nft-sniper-bot/internal/paper"
	"nft-sniper-bot/internal/pricing"
	"nft-sniper-bot/internal/risk"
	"nft-sniper-bot/internal/state"
	"nft-sniper-bot/internal/state/sqlite"
	"nft-sniper-bot/internal/strategy"
	"nft-sniper-bot/internal/timescale"

	"go.uber.org/zap"
)

// rpcConn is the subset of an RPC connection the control surface
// reports on.
type rpcConn interface {
	URL() string
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// dataProvider is the data-provider view used by the control surface.
type dataProvider interface {
	Ping(ctx context.Context) error
	Usage() moralis.Usage
}

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    state.Store
	runtime  *config.Runtime
	engine   *engine.Engine
	events   *events.Stream
	stats    *risk.Stats
	prom     *metrics.Prometheus
	alerts   *alerts.Telegram
	journal  *timescale.Writer
	data     dataProvider
	listings listingSource
	dialRPC  func(ctx context.Context, url string) (rpcConn, error)

	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	runtime, err := config.LoadRuntime(cfg.EnvFile)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	journal, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	stream := events.NewStream(cfg.Engine.EventBuffer, log)
	telegram := alerts.NewTelegram(cfg.Telegram, log)
	dataClient := moralis.New(cfg.Providers.Moralis, runtime, log)
	market := opensea.New(cfg.Providers.OpenSea, runtime, log)
	stats := risk.NewStats(cfg.Engine.Strategies)
	callTimeout := cfg.Engine.CallTimeout

	dial := func(ctx context.Context, urls []string) (engine.RPC, error) {
		client, err := chain.Connect(ctx, urls, callTimeout, log)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	executors := func(s config.Settings, rpc engine.RPC) (exec.Executor, error) {
		if !s.LiveMode() {
			return exec.NewPaper(log), nil
		}
		client, ok := rpc.(*chain.Client)
		if !ok {
			return nil, errors.New("live trading needs an ethereum rpc client")
		}
		signer, err := chain.NewSigner(s.PrivateKey)
		if err != nil {
			return nil, err
		}
		limits := chain.GasLimits{
			MaxFeeGwei:   s.GasMaxFeeGwei,
			PriorityGwei: s.GasPriorityGwei,
			GasLimitCap:  s.GasLimitCap,
		}
		buyer := opensea.NewBuyer(market, client, signer, limits, opensea.ChainName(s.Chain), log)
		return exec.NewLive(buyer, store, log, cfg.Engine.BuyRetries, opensea.Retryable), nil
	}

	eng, err := engine.New(engine.Deps{
		Settings:  runtime,
		Dial:      dial,
		Executors: executors,
		Price:     pricing.New(cfg.Providers.CoinGecko, log),
		Data:      dataClient,
		Oracle:    strategy.NewRandomOracle(nil),
		Selector:  strategy.NewSelector(log, nil),
		Ledger:    risk.NewLedger(),
		Stats:     stats,
		Wallet:    paper.New(log),
		Events:    stream,
		Store:     store,
		Journal:   journal,
		Notifier:  telegram,
		Metrics:   m,
		Log:       log,
	}, engine.OptionsFromConfig(cfg.Engine))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var listings listingSource
	if cfg.Providers.OpenSeaStream.Enabled {
		listings = opensea.NewStream(cfg.Providers.OpenSeaStream, runtime, log)
	}

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		runtime:  runtime,
		engine:   eng,
		events:   stream,
		stats:    stats,
		prom:     prom,
		alerts:   telegram,
		journal:  journal,
		data:     dataClient,
		listings: listings,
		dialRPC: func(ctx context.Context, url string) (rpcConn, error) {
			client, err := chain.Dial(ctx, url, callTimeout)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
	}, nil
}

// Run serves the control surface until ctx is cancelled, then stops the
// engine and releases resources.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	if a.journal != nil {
		a.journal.Start(ctx)
		defer a.journal.Close()
	}
	a.startOperator(ctx)
	a.startListingWatch(ctx)

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: a.cfg.HTTP.ReadTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := a.engine.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("engine shutdown incomplete", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown failed", zap.Error(err))
	}
	if serveErr != nil {
		return serveErr
	}
	return ctx.Err()
}
