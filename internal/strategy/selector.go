package strategy

import (
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Selection is the outcome of one Select call.
type Selection struct {
	Strategy string
	Mode     Mode
	OK       bool
}

// Selector picks the strategy for each entry attempt. In manual mode a
// valid name is honored; anything else falls back to a random choice
// among the available strategies.
type Selector struct {
	mu            sync.Mutex
	rng           *rand.Rand
	log           *zap.Logger
	warnedEmpty   bool
	warnedConfig  string
	lastAnnounced string
	current       Selection
}

func NewSelector(log *zap.Logger, rng *rand.Rand) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Selector{log: log, rng: rng}
}

func (s *Selector) Select(mode Mode, manual string, available []string) Selection {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(available) == 0 {
		if !s.warnedEmpty {
			s.log.Warn("no strategies available")
			s.warnedEmpty = true
		}
		s.current = Selection{Mode: mode}
		return s.current
	}
	s.warnedEmpty = false

	if mode == ModeManual {
		name := Normalize(manual)
		if name != "" && slices.Contains(available, name) {
			s.warnedConfig = ""
			s.current = Selection{Strategy: name, Mode: ModeManual, OK: true}
			return s.current
		}
		key := string(mode) + "|" + manual
		if s.warnedConfig != key {
			s.log.Warn("manual strategy unavailable, falling back to auto",
				zap.String("manual_strategy", manual),
				zap.Strings("available", available),
			)
			s.warnedConfig = key
		}
	} else {
		s.warnedConfig = ""
	}

	s.current = Selection{
		Strategy: available[s.rng.IntN(len(available))],
		Mode:     ModeAuto,
		OK:       true,
	}
	return s.current
}

// Announce logs the effective mode and strategy when the pair changes.
// It reports whether a line was written.
func (s *Selector) Announce(sel Selection) bool {
	key := string(sel.Mode) + "|" + sel.Strategy
	s.mu.Lock()
	if key == s.lastAnnounced {
		s.mu.Unlock()
		return false
	}
	s.lastAnnounced = key
	s.mu.Unlock()
	s.log.Info("strategy selected", zap.String("mode", string(sel.Mode)), zap.String("strategy", sel.Strategy))
	return true
}

// Current returns the most recent selection.
func (s *Selector) Current() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
