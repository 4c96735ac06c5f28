package strategy

import (
	"fmt"
	"time"

	"nft-sniper-bot/internal/market"
)

const DefaultLiquidityWindow = 60 * time.Minute

// ClockSkew is how far past now a trade timestamp may lie and still
// count; marketplace clocks drift from ours.
const ClockSkew = 2 * time.Minute

type LiquidityRules struct {
	Window       time.Duration
	MinTrades    int
	MinBuyers    int
	MinVolumeUSD float64
}

// Enabled reports whether any threshold is configured.
func (r LiquidityRules) Enabled() bool {
	return r.Window > 0 || r.MinTrades > 0 || r.MinBuyers > 0 || r.MinVolumeUSD > 0
}

type LiquidityResult struct {
	OK        bool
	Reason    string
	Trades    int
	Buyers    int
	VolumeUSD float64
}

// CheckLiquidity filters trades to the trailing window ending at now
// and compares count, distinct buyers and USD volume against the rules.
// Trades without a timestamp are outside every window. Trades up to
// ClockSkew in the future count as current.
func CheckLiquidity(rules LiquidityRules, trades []market.Trade, now time.Time) LiquidityResult {
	if !rules.Enabled() {
		return LiquidityResult{OK: true}
	}
	window := rules.Window
	if window <= 0 {
		window = DefaultLiquidityWindow
	}
	cutoff := now.Add(-window)
	buyers := make(map[string]struct{})
	var res LiquidityResult
	for _, tr := range trades {
		if tr.Time.IsZero() || tr.Time.Before(cutoff) || tr.Time.After(now.Add(ClockSkew)) {
			continue
		}
		res.Trades++
		if tr.Buyer != "" {
			buyers[tr.Buyer] = struct{}{}
		}
		if tr.Valued {
			res.VolumeUSD += tr.USD
		}
	}
	res.Buyers = len(buyers)
	span := formatWindow(window)
	switch {
	case rules.MinTrades > 0 && res.Trades < rules.MinTrades:
		res.Reason = fmt.Sprintf("trades %d < min %d in last %s", res.Trades, rules.MinTrades, span)
	case res.Trades == 0:
		res.Reason = fmt.Sprintf("no trades in last %s", span)
	case rules.MinBuyers > 0 && res.Buyers < rules.MinBuyers:
		res.Reason = fmt.Sprintf("buyers %d < min %d in last %s", res.Buyers, rules.MinBuyers, span)
	case rules.MinVolumeUSD > 0 && res.VolumeUSD < rules.MinVolumeUSD:
		res.Reason = fmt.Sprintf("volume $%.2f < min $%.2f in last %s", res.VolumeUSD, rules.MinVolumeUSD, span)
	default:
		res.OK = true
	}
	return res
}

func formatWindow(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	return d.String()
}
