package market

import (
	"math"
	"strings"
	"time"
)

// Trade is one normalized marketplace sale.
type Trade struct {
	Time   time.Time
	Buyer  string
	USD    float64
	Valued bool
}

var (
	timeKeys       = []string{"block_timestamp", "timestamp", "event_timestamp", "time", "created_at"}
	buyerKeys      = []string{"buyer_address", "buyer", "to_address", "taker"}
	usdKeys        = []string{"price_usd", "usd_price", "value_usd", "total_price_usd", "priceUsd"}
	nativeKeys     = []string{"price_formatted", "native_price", "eth_price"}
	paymentKeys    = []string{"payment_token", "price_token"}
	tokenUSDKeys   = []string{"usd_price", "usdPrice", "price_usd"}
	tokenDecKeys   = []string{"token_decimals", "decimals"}
	rawAmountKeys  = []string{"price", "amount", "total_price"}
	defaultDecimal = 18
)

// DecodeTrades normalizes a raw trade list. Items that are not objects
// are skipped and counted. nativeUSD converts native prices and may be
// zero when unknown.
func DecodeTrades(items []any, nativeUSD float64) ([]Trade, int) {
	trades := make([]Trade, 0, len(items))
	skipped := 0
	for _, item := range items {
		m, ok := object(item)
		if !ok {
			skipped++
			continue
		}
		usd, valued := TradeUSD(m, nativeUSD)
		trades = append(trades, Trade{
			Time:   tradeTime(m),
			Buyer:  strings.ToLower(text(m, buyerKeys...)),
			USD:    usd,
			Valued: valued,
		})
	}
	return trades, skipped
}

// TradeUSD values a trade in USD. Direct USD fields win, then a native
// price converted with nativeUSD, then a payment token amount scaled by
// its decimals and USD price, then the raw price in wei.
func TradeUSD(m map[string]any, nativeUSD float64) (float64, bool) {
	if v, ok := positive(m, usdKeys...); ok {
		return v, true
	}
	if nativeUSD > 0 {
		if v, ok := positive(m, nativeKeys...); ok {
			return v * nativeUSD, true
		}
	}
	for _, key := range paymentKeys {
		token, ok := object(m[key])
		if !ok {
			continue
		}
		tokenUSD, ok := positive(token, tokenUSDKeys...)
		if !ok {
			continue
		}
		amount, ok := positive(m, rawAmountKeys...)
		if !ok {
			amount, ok = positive(token, "amount", "value")
		}
		if !ok {
			continue
		}
		decimals := wholeNumber(token["decimals"], -1)
		if decimals < 0 {
			decimals = wholeNumber(field(m, tokenDecKeys...), defaultDecimal)
		}
		return amount / math.Pow10(decimals) * tokenUSD, true
	}
	if nativeUSD > 0 {
		if raw, ok := positive(m, rawAmountKeys...); ok {
			decimals := wholeNumber(field(m, tokenDecKeys...), defaultDecimal)
			return raw / math.Pow10(decimals) * nativeUSD, true
		}
	}
	return 0, false
}

// tradeTime accepts RFC3339 strings and unix seconds or milliseconds.
// Unparsable timestamps yield the zero time.
func tradeTime(m map[string]any) time.Time {
	for _, key := range timeKeys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts.UTC()
				}
			}
		}
		if f, ok := number(v); ok && f > 0 {
			if f > 1e12 {
				return time.UnixMilli(int64(f)).UTC()
			}
			sec, frac := math.Modf(f)
			return time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
	}
	return time.Time{}
}

// ItemsFromPayload finds the trade list in a provider response.
func ItemsFromPayload(payload any) []any {
	if items, ok := list(payload); ok {
		return items
	}
	m, ok := object(payload)
	if !ok {
		return nil
	}
	for _, key := range []string{"result", "trades", "asset_events", "data"} {
		if items, ok := list(m[key]); ok {
			return items
		}
	}
	return nil
}
