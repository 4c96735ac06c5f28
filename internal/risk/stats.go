package risk

import (
	"fmt"
	"sort"
	"sync"
)

const MinRankedTrades = 3

type StrategyStats struct {
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	AvgEdge float64 `json:"avg_edge"`
}

func (s StrategyStats) Trades() int {
	return s.Wins + s.Losses
}

func (s StrategyStats) WinRate() float64 {
	n := s.Trades()
	if n == 0 {
		return 0
	}
	return float64(s.Wins) / float64(n)
}

// Score weights win rate, edge and sample size.
func (s StrategyStats) Score() float64 {
	edge := s.AvgEdge
	if edge < 0 {
		edge = 0
	}
	n := s.Trades()
	if n > 50 {
		n = 50
	}
	return 0.6*s.WinRate() + 0.3*edge + 0.1*float64(n)/50
}

type Ranked struct {
	Strategy string  `json:"strategy"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	WinRate  float64 `json:"winrate"`
	AvgEdge  float64 `json:"avg_edge"`
	Score    float64 `json:"score"`
}

type Leaderboard struct {
	Ranked []Ranked `json:"ranked"`
	Best   string   `json:"best,omitempty"`
	Note   string   `json:"note"`
}

// Stats accumulates per-strategy outcomes for the session.
type Stats struct {
	mu    sync.RWMutex
	order []string
	by    map[string]*StrategyStats
}

func NewStats(names []string) *Stats {
	s := &Stats{by: make(map[string]*StrategyStats)}
	for _, name := range names {
		s.ensure(name)
	}
	return s
}

func (s *Stats) ensure(name string) *StrategyStats {
	st, ok := s.by[name]
	if !ok {
		st = &StrategyStats{}
		s.by[name] = st
		s.order = append(s.order, name)
	}
	return st
}

// Record adds one settled trade. AvgEdge is a running mean.
func (s *Stats) Record(name string, win bool, edge float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.ensure(name)
	if win {
		st.Wins++
	} else {
		st.Losses++
	}
	n := float64(st.Trades())
	st.AvgEdge = (st.AvgEdge*(n-1) + edge) / n
}

func (s *Stats) Get(name string) StrategyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.by[name]; ok {
		return *st
	}
	return StrategyStats{}
}

func (s *Stats) All() map[string]StrategyStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]StrategyStats, len(s.by))
	for name, st := range s.by {
		out[name] = *st
	}
	return out
}

// KPI reports the win rate per strategy. Strategies without trades
// report zero.
func (s *Stats) KPI() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.by))
	for name, st := range s.by {
		out[name] = st.WinRate()
	}
	return out
}

// Leaderboard ranks strategies with at least MinRankedTrades trades by
// score, best first.
func (s *Stats) Leaderboard() Leaderboard {
	s.mu.RLock()
	ranked := make([]Ranked, 0, len(s.by))
	var most string
	var mostStats StrategyStats
	for _, name := range s.order {
		st := s.by[name]
		if st.Trades() > mostStats.Trades() {
			most, mostStats = name, *st
		}
		if st.Trades() < MinRankedTrades {
			continue
		}
		ranked = append(ranked, Ranked{
			Strategy: name,
			Trades:   st.Trades(),
			Wins:     st.Wins,
			Losses:   st.Losses,
			WinRate:  st.WinRate(),
			AvgEdge:  st.AvgEdge,
			Score:    st.Score(),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	lb := Leaderboard{Ranked: ranked}
	switch {
	case len(ranked) > 0:
		top := ranked[0]
		lb.Best = top.Strategy
		lb.Note = fmt.Sprintf("%s leads: win rate %.1f%% with avg edge %.2f%% over %d trades",
			top.Strategy, top.WinRate*100, top.AvgEdge*100, top.Trades)
	case most != "":
		lb.Note = fmt.Sprintf("not enough data yet; most trades on %s: %d trades, win rate %.1f%%",
			most, mostStats.Trades(), mostStats.WinRate()*100)
	default:
		lb.Note = "stats will appear after the first trades"
	}
	return lb
}
