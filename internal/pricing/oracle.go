package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"nft-sniper-bot/internal/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultTTL = 30 * time.Second

// coin ids per normalized chain
var coinIDs = map[string]string{
	"eth":     "ethereum",
	"polygon": "polygon-ecosystem-token",
}

// Oracle returns native coin prices in USD. Prices are cached for the
// TTL and the last known value is served when a refresh fails. At most
// one refresh is attempted per TTL, failed or not.
type Oracle struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time
	refresh *rate.Limiter

	mu        sync.RWMutex
	prices    map[string]float64
	fetchedAt time.Time
}

func New(cfg config.ProviderConfig, log *zap.Logger) *Oracle {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Oracle{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		ttl:     DefaultTTL,
		log:     log,
		now:     time.Now,
		refresh: rate.NewLimiter(rate.Every(DefaultTTL), 1),
		prices:  make(map[string]float64),
	}
}

// PriceUSD returns the USD price for chain's native coin, or zero when
// no price has ever been fetched.
func (o *Oracle) PriceUSD(ctx context.Context, chain string) float64 {
	chain, err := config.NormalizeChain(chain)
	if err != nil {
		return 0
	}
	o.mu.RLock()
	price, ok := o.prices[chain]
	fresh := o.now().Sub(o.fetchedAt) < o.ttl
	o.mu.RUnlock()
	if ok && fresh {
		return price
	}
	if !o.refresh.AllowN(o.now(), 1) {
		return price
	}
	prices, err := o.fetch(ctx)
	if err != nil {
		o.log.Warn("price refresh failed, using last known", zap.String("chain", chain), zap.Float64("last", price), zap.Error(err))
		return price
	}
	o.mu.Lock()
	for k, v := range prices {
		o.prices[k] = v
	}
	o.fetchedAt = o.now()
	price = o.prices[chain]
	o.mu.Unlock()
	return price
}

func (o *Oracle) fetch(ctx context.Context) (map[string]float64, error) {
	ids := make([]string, 0, len(coinIDs))
	for _, chain := range []string{"eth", "polygon"} {
		ids = append(ids, coinIDs[chain])
	}
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", o.baseURL, strings.Join(ids, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var payload map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(coinIDs))
	for chain, id := range coinIDs {
		if entry, ok := payload[id]; ok && entry.USD > 0 {
			out[chain] = entry.USD
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no prices in response")
	}
	return out, nil
}
