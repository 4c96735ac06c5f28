package moralis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"nft-sniper-bot/internal/config"
	"nft-sniper-bot/internal/market"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrMissingAPIKey = errors.New("moralis api key not configured")

type SettingsSource interface {
	Snapshot() config.Settings
}

// Usage tallies provider consumption since the process started.
type Usage struct {
	Calls        int       `json:"calls"`
	ComputeUnits int       `json:"compute_units"`
	Gated        int       `json:"gated"`
	Errors       int       `json:"errors"`
	Since        time.Time `json:"since"`
	LastCall     time.Time `json:"last_call,omitempty"`
	GapSeconds   float64   `json:"gap_seconds"`
}

type cached struct {
	value any
	at    time.Time
}

// Client reads trade history and balances. Identical calls closer than
// the configured gap return the cached value instead of waiting.
type Client struct {
	baseURL  string
	http     *http.Client
	settings SettingsSource
	log      *zap.Logger

	mu    sync.Mutex
	gates map[string]*rate.Limiter
	cache map[string]cached
	usage Usage
}

func New(cfg config.ProviderConfig, settings SettingsSource, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		settings: settings,
		log:      log,
		gates:    make(map[string]*rate.Limiter),
		cache:    make(map[string]cached),
		usage:    Usage{Since: time.Now().UTC()},
	}
}

// RecentTrades returns raw marketplace trades for contract, newest first.
func (c *Client) RecentTrades(ctx context.Context, contract string, limit int) ([]any, error) {
	s := c.settings.Snapshot()
	if limit <= 0 {
		limit = 50
	}
	key := fmt.Sprintf("trades:%s:%s:%d", s.Chain, strings.ToLower(contract), limit)
	q := url.Values{}
	q.Set("chain", s.Chain)
	q.Set("marketplace", "opensea")
	q.Set("limit", strconv.Itoa(limit))
	path := "/nft/" + url.PathEscape(contract) + "/trades?" + q.Encode()
	value, err := c.gated(ctx, s, key, path, func(payload any) any {
		return market.ItemsFromPayload(payload)
	})
	items, _ := value.([]any)
	return items, err
}

// NativeBalance returns the wallet balance in wei. The second result is
// false when no value is known yet.
func (c *Client) NativeBalance(ctx context.Context, address string) (*big.Int, bool, error) {
	s := c.settings.Snapshot()
	key := fmt.Sprintf("balance:%s:%s", s.Chain, strings.ToLower(address))
	q := url.Values{}
	q.Set("chain", s.Chain)
	path := "/" + url.PathEscape(address) + "/balance?" + q.Encode()
	value, err := c.gated(ctx, s, key, path, func(payload any) any {
		m, _ := payload.(map[string]any)
		raw, _ := m["balance"].(string)
		wei, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
		if !ok {
			return nil
		}
		return wei
	})
	wei, ok := value.(*big.Int)
	if !ok {
		return nil, false, err
	}
	return new(big.Int).Set(wei), true, err
}

// Ping checks the API key without touching the per-call gates.
func (c *Client) Ping(ctx context.Context) error {
	s := c.settings.Snapshot()
	_, err := c.fetch(ctx, s, "/web3/version")
	return err
}

func (c *Client) Usage() Usage {
	gap := c.settings.Snapshot().MoralisGap()
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.usage
	u.GapSeconds = gap.Seconds()
	return u
}

func (c *Client) gated(ctx context.Context, s config.Settings, key, path string, decode func(any) any) (any, error) {
	if strings.TrimSpace(s.MoralisAPIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	gap := s.MoralisGap()
	c.mu.Lock()
	gate, ok := c.gates[key]
	if !ok {
		gate = rate.NewLimiter(rate.Every(gap), 1)
		c.gates[key] = gate
	} else if gate.Limit() != rate.Every(gap) {
		gate.SetLimit(rate.Every(gap))
	}
	if !gate.Allow() {
		c.usage.Gated++
		prev := c.cache[key]
		c.mu.Unlock()
		return prev.value, nil
	}
	c.mu.Unlock()

	payload, err := c.fetch(ctx, s, path)
	if err != nil {
		c.mu.Lock()
		prev := c.cache[key]
		c.mu.Unlock()
		return prev.value, err
	}
	value := decode(payload)
	c.mu.Lock()
	c.cache[key] = cached{value: value, at: time.Now()}
	c.mu.Unlock()
	return value, nil
}

func (c *Client) fetch(ctx context.Context, s config.Settings, path string) (any, error) {
	apiKey := strings.TrimSpace(s.MoralisAPIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	c.mu.Lock()
	c.usage.Calls++
	c.usage.LastCall = time.Now().UTC()
	if err != nil {
		c.usage.Errors++
		c.mu.Unlock()
		return nil, err
	}
	weight, werr := strconv.Atoi(resp.Header.Get("x-request-weight"))
	if werr != nil || weight <= 0 {
		weight = 1
	}
	c.usage.ComputeUnits += weight
	c.mu.Unlock()
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.mu.Lock()
		c.usage.Errors++
		c.mu.Unlock()
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var payload any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}
