package strategy

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// MarketOracle supplies entry signals, edge estimates and, in paper
// mode, simulated outcomes.
type MarketOracle interface {
	Signal(contract string) bool
	EstimateEdge() float64
	SimulateOutcome(edge float64) bool
}

const (
	DefaultSignalRate = 0.05
	edgeMean          = 0.008
	edgeStdDev        = 0.006
)

// RandomOracle is the stochastic oracle used for paper trading.
type RandomOracle struct {
	mu         sync.Mutex
	rng        *rand.Rand
	SignalRate float64
}

func NewRandomOracle(rng *rand.Rand) *RandomOracle {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return &RandomOracle{rng: rng, SignalRate: DefaultSignalRate}
}

func (o *RandomOracle) Signal(string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.Float64() < o.SignalRate
}

func (o *RandomOracle) EstimateEdge() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return math.Abs(edgeMean + edgeStdDev*o.rng.NormFloat64())
}

func (o *RandomOracle) SimulateOutcome(edge float64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.Float64() < WinProbability(edge)
}

// WinProbability is the simulated chance that a trade with edge wins.
func WinProbability(edge float64) float64 {
	return 0.52 + math.Min(0.05, edge*10)
}

// SettlePnL is the simulated USD result of a paper trade.
func SettlePnL(win bool, sizeUSD, edge float64) float64 {
	if win {
		return math.Max(0.01, sizeUSD*edge*0.5)
	}
	return -math.Min(0.5, sizeUSD*0.5)
}
