package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nft-sniper-bot/internal/state"

	"go.uber.org/zap"
)

// Intent is one purchase decision. ID is unique per decision and keys
// idempotent execution.
type Intent struct {
	ID         string
	Contract   string
	TokenID    string
	Strategy   string
	Edge       float64
	SizeUSD    float64
	SizeNative float64
}

type Fill struct {
	TxHandle string
	Paper    bool
}

type Executor interface {
	Buy(ctx context.Context, intent Intent) (Fill, error)
	Live() bool
}

// Marketplace buys a single token and returns the transaction hash.
type Marketplace interface {
	Buy(ctx context.Context, contract, tokenID string) (string, error)
}

// Paper fills every intent immediately without side effects.
type Paper struct {
	log *zap.Logger
}

func NewPaper(log *zap.Logger) *Paper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Paper{log: log}
}

func (p *Paper) Buy(ctx context.Context, intent Intent) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	p.log.Debug("paper fill", zap.String("contract", intent.Contract), zap.String("token_id", intent.TokenID))
	return Fill{TxHandle: "paper:" + intent.ID, Paper: true}, nil
}

func (p *Paper) Live() bool { return false }

// LiveExecutor sends purchases to a marketplace. A transaction hash is
// recorded per intent so the same intent is never bought twice.
type LiveExecutor struct {
	market   Marketplace
	store    state.Store
	log      *zap.Logger
	attempts int
	// retryable reports whether a failed attempt may be repeated. A nil
	// func never retries.
	retryable func(error) bool

	mu    sync.Mutex
	cache map[string]string
}

func NewLive(market Marketplace, store state.Store, log *zap.Logger, attempts int, retryable func(error) bool) *LiveExecutor {
	if log == nil {
		log = zap.NewNop()
	}
	if attempts <= 0 {
		attempts = 1
	}
	return &LiveExecutor{
		market:    market,
		store:     store,
		log:       log,
		attempts:  attempts,
		retryable: retryable,
		cache:     make(map[string]string),
	}
}

func (e *LiveExecutor) Live() bool { return true }

func (e *LiveExecutor) Buy(ctx context.Context, intent Intent) (Fill, error) {
	if intent.ID == "" {
		hash, err := e.buyWithRetry(ctx, intent)
		return Fill{TxHandle: hash}, err
	}
	cacheKey := "buy:" + intent.ID
	e.mu.Lock()
	if hash, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return Fill{TxHandle: hash}, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if hash, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return Fill{}, err
		} else if ok {
			e.mu.Lock()
			e.cache[cacheKey] = hash
			e.mu.Unlock()
			return Fill{TxHandle: hash}, nil
		}
	}
	hash, err := e.buyWithRetry(ctx, intent)
	if err != nil {
		return Fill{}, err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, hash); err != nil {
			e.log.Warn("failed to persist tx hash", zap.String("intent", intent.ID), zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = hash
	e.mu.Unlock()
	return Fill{TxHandle: hash}, nil
}

func (e *LiveExecutor) buyWithRetry(ctx context.Context, intent Intent) (string, error) {
	var hash string
	err := e.retry(ctx, func() error {
		var err error
		hash, err = e.market.Buy(ctx, intent.Contract, intent.TokenID)
		return err
	})
	if err != nil {
		return "", err
	}
	if hash == "" {
		return "", errors.New("empty transaction hash")
	}
	return hash, nil
}

func (e *LiveExecutor) retry(ctx context.Context, fn func() error) error {
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < e.attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == e.attempts-1 || e.retryable == nil || !e.retryable(err) {
			if attempt == 0 {
				return err
			}
			return fmt.Errorf("retry failed: %w", err)
		}
		e.log.Warn("live buy attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}
