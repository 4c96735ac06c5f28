package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"nft-sniper-bot/internal/config"
	"nft-sniper-bot/internal/events"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 3 * time.Second

// Trade is one settled or filled buy.
type Trade struct {
	Time       time.Time
	IntentID   string
	Contract   string
	TokenID    string
	Strategy   string
	Mode       string
	Edge       float64
	SizeUSD    float64
	SizeNative float64
	PnLUSD     float64
	PnLNative  float64
	Outcome    string
	TxHandle   string
}

// Writer journals engine events and trades into TimescaleDB. A nil
// *Writer is valid and drops everything.
type Writer struct {
	db           *sql.DB
	log          *zap.Logger
	schema       string
	writeTimeout time.Duration
	events       chan events.Event
	trades       chan Trade
	started      atomic.Bool
	dropEvent    atomic.Uint64
	dropTrade    atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, cfg config.TimescaleConfig, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Writer{
		db:           db,
		log:          log,
		schema:       schema,
		writeTimeout: timeout,
		events:       make(chan events.Event, queueSize),
		trades:       make(chan Trade, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	if events, trades := w.Dropped(); events+trades > 0 {
		w.log.Warn("timescale journal dropped records", zap.Uint64("events", events), zap.Uint64("trades", trades))
	}
	return w.db.Close()
}

// RecordEvent queues an event without blocking the caller.
func (w *Writer) RecordEvent(ev events.Event) {
	if w == nil {
		return
	}
	select {
	case w.events <- ev:
	default:
		if w.dropEvent.Add(1) == 1 {
			w.log.Warn("timescale event queue full")
		}
	}
}

func (w *Writer) RecordTrade(trade Trade) {
	if w == nil {
		return
	}
	if trade.Time.IsZero() {
		trade.Time = time.Now().UTC()
	}
	select {
	case w.trades <- trade:
	default:
		if w.dropTrade.Add(1) == 1 {
			w.log.Warn("timescale trade queue full")
		}
	}
}

// Dropped reports how many events and trades were discarded.
func (w *Writer) Dropped() (uint64, uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropEvent.Load(), w.dropTrade.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case ev := <-w.events:
			w.writeEvent(ctx, ev)
		case trade := <-w.trades:
			w.writeTrade(ctx, trade)
		}
	}
}

// drain flushes what is already queued once the run context ends, so the
// final fills and the idle event of a shutdown reach the journal.
func (w *Writer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*w.writeTimeout)
	defer cancel()
	flushed := 0
	for ctx.Err() == nil {
		select {
		case trade := <-w.trades:
			w.writeTrade(ctx, trade)
		case ev := <-w.events:
			w.writeEvent(ctx, ev)
		default:
			if flushed > 0 {
				w.log.Debug("timescale journal drained", zap.Int("records", flushed))
			}
			return
		}
		flushed++
	}
}

var tableDDL = map[string]string{
	"trade_events": `(
		ts       TIMESTAMPTZ NOT NULL,
		id       BIGINT NOT NULL,
		status   TEXT NOT NULL,
		contract TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL DEFAULT '',
		action   TEXT NOT NULL DEFAULT '',
		note     TEXT NOT NULL DEFAULT ''
	)`,
	"settled_trades": `(
		ts          TIMESTAMPTZ NOT NULL,
		intent_id   TEXT NOT NULL,
		contract    TEXT NOT NULL,
		token_id    TEXT NOT NULL,
		strategy    TEXT NOT NULL,
		mode        TEXT NOT NULL,
		edge        DOUBLE PRECISION NOT NULL,
		size_usd    DOUBLE PRECISION NOT NULL,
		size_native DOUBLE PRECISION NOT NULL,
		pnl_usd     DOUBLE PRECISION NOT NULL,
		pnl_native  DOUBLE PRECISION NOT NULL,
		outcome     TEXT NOT NULL,
		tx_handle   TEXT NOT NULL DEFAULT ''
	)`,
}

var journalTables = []string{"trade_events", "settled_trades"}

// ensureSchema creates the journal tables and, when the extension is
// available, turns them into hypertables on ts. Plain Postgres works
// without the extension.
func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+w.schema); err != nil {
			return fmt.Errorf("create schema %s: %w", w.schema, err)
		}
	}
	for _, name := range journalTables {
		if err := w.exec(ctx, "CREATE TABLE IF NOT EXISTS "+w.table(name)+" "+tableDDL[name]); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Info("timescaledb extension unavailable, using plain tables", zap.Error(err))
		return nil
	}
	for _, name := range journalTables {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("hypertable not created", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeEvent(ctx context.Context, ev events.Event) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, id, status, contract, strategy, action, note
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`, w.table("trade_events"))
	if _, err := w.db.ExecContext(ctx, query,
		ev.Time,
		int64(ev.ID),
		ev.Status,
		ev.Contract,
		ev.Strategy,
		ev.Action,
		ev.Note,
	); err != nil {
		w.log.Warn("timescale event insert failed", zap.Error(err))
	}
}

func (w *Writer) writeTrade(ctx context.Context, trade Trade) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, intent_id, contract, token_id, strategy, mode, edge, size_usd,
		size_native, pnl_usd, pnl_native, outcome, tx_handle
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`, w.table("settled_trades"))
	if _, err := w.db.ExecContext(ctx, query,
		trade.Time,
		trade.IntentID,
		trade.Contract,
		trade.TokenID,
		trade.Strategy,
		trade.Mode,
		trade.Edge,
		trade.SizeUSD,
		trade.SizeNative,
		trade.PnLUSD,
		trade.PnLNative,
		trade.Outcome,
		trade.TxHandle,
	); err != nil {
		w.log.Warn("timescale trade insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
