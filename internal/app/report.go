package app

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"nft-sniper-bot/internal/risk"

	"github.com/olekukonko/tablewriter"
)

// writeReport renders per-strategy results followed by the session totals.
func writeReport(w io.Writer, stats map[string]risk.StrategyStats, lb risk.Leaderboard, snap risk.Snapshot) {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(w)
	table.Header("Strategy", "Trades", "Wins", "Win%", "AvgEdge", "Score")
	for _, name := range names {
		st := stats[name]
		score := "-"
		if st.Trades() >= risk.MinRankedTrades {
			score = fmt.Sprintf("%.3f", st.Score())
		}
		table.Append(
			name,
			fmt.Sprintf("%d", st.Trades()),
			fmt.Sprintf("%d", st.Wins),
			fmt.Sprintf("%.1f", st.WinRate()*100),
			fmt.Sprintf("%.4f", st.AvgEdge),
			score,
		)
	}
	table.Render()

	fmt.Fprintf(w, "pnl_today_usd: %.4f\n", snap.PnLTodayUSD)
	fmt.Fprintf(w, "spend_today_usd: %.4f\n", snap.SpendTodayUSD)
	fmt.Fprintf(w, "loss_streak: %d\n", snap.LossStreak)
	if snap.AutoStopTriggered {
		fmt.Fprintf(w, "auto_stop: %s\n", snap.AutoStopReason)
	}
	fmt.Fprintln(w, lb.Note)
}

func (a *App) report() string {
	var sb strings.Builder
	writeReport(&sb, a.stats.All(), a.stats.Leaderboard(), a.engine.Status().Risk)
	return sb.String()
}
