package market

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestDecodeTradesSkipsNonObjects(t *testing.T) {
	items := []any{
		map[string]any{"block_timestamp": "2026-01-02T03:04:05.000Z", "buyer_address": "0xABC", "price_usd": "12.5"},
		"garbage",
		42.0,
	}
	trades, skipped := DecodeTrades(items, 0)
	if skipped != 2 {
		t.Fatalf("expected 2 skipped, got %d", skipped)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.Buyer != "0xabc" {
		t.Fatalf("expected lowercased buyer, got %q", tr.Buyer)
	}
	if !tr.Valued || !closeEnough(tr.USD, 12.5) {
		t.Fatalf("expected USD 12.5, got %v (valued=%v)", tr.USD, tr.Valued)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !tr.Time.Equal(want) {
		t.Fatalf("expected %v, got %v", want, tr.Time)
	}
}

func TestTradeUSDPrecedence(t *testing.T) {
	direct := map[string]any{"usd_price": 3.0, "price_formatted": "1.0"}
	if v, _ := TradeUSD(direct, 2000); !closeEnough(v, 3) {
		t.Fatalf("direct usd must win, got %v", v)
	}
	native := map[string]any{"price_formatted": "0.01", "price": "10000000000000000"}
	if v, _ := TradeUSD(native, 2000); !closeEnough(v, 20) {
		t.Fatalf("expected native conversion 20, got %v", v)
	}
	payment := map[string]any{
		"price":         "2500000",
		"payment_token": map[string]any{"decimals": 6, "usd_price": 1.0},
	}
	if v, _ := TradeUSD(payment, 0); !closeEnough(v, 2.5) {
		t.Fatalf("expected payment token value 2.5, got %v", v)
	}
	raw := map[string]any{"price": json.Number("500000000000000000")}
	if v, ok := TradeUSD(raw, 3000); !ok || !closeEnough(v, 1500) {
		t.Fatalf("expected raw wei value 1500, got %v ok=%v", v, ok)
	}
	if _, ok := TradeUSD(map[string]any{"price": "1"}, 0); ok {
		t.Fatalf("raw price without native price must be unvalued")
	}
}

func TestTradeTimeFormats(t *testing.T) {
	sec := tradeTime(map[string]any{"timestamp": 1700000000.0})
	if sec.Unix() != 1700000000 {
		t.Fatalf("expected unix seconds, got %v", sec)
	}
	ms := tradeTime(map[string]any{"timestamp": "1700000000000"})
	if ms.Unix() != 1700000000 {
		t.Fatalf("expected unix millis, got %v", ms)
	}
	if !tradeTime(map[string]any{"timestamp": "yesterday"}).IsZero() {
		t.Fatalf("expected zero time for unparsable timestamp")
	}
}

func TestItemsFromPayload(t *testing.T) {
	if got := ItemsFromPayload(map[string]any{"result": []any{1.0, 2.0}}); len(got) != 2 {
		t.Fatalf("expected result items, got %v", got)
	}
	if got := ItemsFromPayload(map[string]any{"trades": []any{1.0}}); len(got) != 1 {
		t.Fatalf("expected trades items, got %v", got)
	}
	if got := ItemsFromPayload("nope"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}
