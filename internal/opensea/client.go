package opensea

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nft-sniper-bot/internal/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrNoListing            = errors.New("no listing")
	ErrMalformedFulfillment = errors.New("malformed fulfillment data")
	ErrMissingAPIKey        = errors.New("opensea api key not configured")
)

// StatusError is a non-2xx response from the marketplace API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Retryable reports whether err is a transient API failure worth another
// attempt. Broadcast and validation failures are never retried.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return false
}

type SettingsSource interface {
	Snapshot() config.Settings
}

// Client talks to the marketplace REST API. The API key and chain are read
// from the runtime settings on every call.
type Client struct {
	baseURL  string
	http     *http.Client
	settings SettingsSource
	limiter  *rate.Limiter
	log      *zap.Logger
}

func New(cfg config.ProviderConfig, settings SettingsSource, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		settings: settings,
		limiter:  rate.NewLimiter(rate.Limit(2), 2),
		log:      log,
	}
}

// ChainName maps a normalized chain to the marketplace's chain slug.
func ChainName(chain string) string {
	if chain == "polygon" {
		return "matic"
	}
	return "ethereum"
}

// BestListing returns the cheapest active listing for a token.
func (c *Client) BestListing(ctx context.Context, contract, tokenID string) (map[string]any, error) {
	q := url.Values{}
	q.Set("asset_contract_address", contract)
	q.Set("token_ids", tokenID)
	q.Set("limit", "1")
	q.Set("order_by", "eth_price")
	q.Set("order_direction", "asc")
	var payload map[string]any
	if err := c.do(ctx, http.MethodGet, "/listings?"+q.Encode(), nil, &payload); err != nil {
		return nil, err
	}
	for _, key := range []string{"listings", "orders"} {
		items, _ := payload[key].([]any)
		if len(items) == 0 {
			continue
		}
		if listing, ok := items[0].(map[string]any); ok {
			return listing, nil
		}
	}
	return nil, fmt.Errorf("%s #%s: %w", contract, tokenID, ErrNoListing)
}

// FulfillmentData asks the marketplace for the transaction that fills
// listing on behalf of taker.
func (c *Client) FulfillmentData(ctx context.Context, listing map[string]any, chain, taker string) (map[string]any, error) {
	body := map[string]any{
		"listing": listing,
		"chain":   ChainName(chain),
		"taker":   taker,
	}
	var payload map[string]any
	if err := c.do(ctx, http.MethodPost, "/listings/fulfillment_data", body, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	apiKey := strings.TrimSpace(c.settings.Snapshot().OpenSeaAPIKey)
	if apiKey == "" {
		return ErrMissingAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-KEY", apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Ping checks that the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var payload map[string]any
	return c.do(ctx, http.MethodGet, "/collections?limit=1", nil, &payload)
}
