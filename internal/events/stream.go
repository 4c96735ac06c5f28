package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Lifecycle and trade statuses carried by events.
const (
	StatusStarting = "starting"
	StatusIdle     = "idle"
	StatusScanning = "scanning"
	StatusWaiting  = "waiting"
	StatusSkipped  = "skipped"
	StatusEntering = "entering"
	StatusFilled   = "filled"
	StatusWin      = "win"
	StatusLoss     = "loss"
	StatusError    = "error"
)

const MaxSinceLimit = 1000

type Event struct {
	ID         uint64    `json:"id" msgpack:"id"`
	Time       time.Time `json:"ts" msgpack:"ts"`
	Status     string    `json:"status" msgpack:"status"`
	Contract   string    `json:"contract,omitempty" msgpack:"contract,omitempty"`
	Strategy   string    `json:"strategy,omitempty" msgpack:"strategy,omitempty"`
	Action     string    `json:"action,omitempty" msgpack:"action,omitempty"`
	Note       string    `json:"note,omitempty" msgpack:"note,omitempty"`
	Symbol     string    `json:"symbol,omitempty" msgpack:"symbol,omitempty"`
	SizeUSD    *float64  `json:"size_usd,omitempty" msgpack:"size_usd,omitempty"`
	SizeNative *float64  `json:"size_native,omitempty" msgpack:"size_native,omitempty"`
	PnLUSD     *float64  `json:"pnl_usd,omitempty" msgpack:"pnl_usd,omitempty"`
	PnLNative  *float64  `json:"pnl_native,omitempty" msgpack:"pnl_native,omitempty"`
}

// Stream is an append-only, bounded event log with sequential ids and
// live fan-out to subscribers.
type Stream struct {
	mu       sync.RWMutex
	log      *zap.Logger
	nextID   uint64
	capacity int
	buf      []Event
	subs     map[chan Event]struct{}
	now      func() time.Time
}

func NewStream(capacity int, log *zap.Logger) *Stream {
	if capacity <= 0 {
		capacity = 5000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{
		log:      log,
		nextID:   1,
		capacity: capacity,
		subs:     make(map[chan Event]struct{}),
		now:      time.Now,
	}
}

// Emit assigns the next id and timestamp, stores the event and delivers
// it to subscribers. Slow subscribers miss events instead of blocking.
func (s *Stream) Emit(ev Event) Event {
	s.mu.Lock()
	ev.ID = s.nextID
	s.nextID++
	if ev.Time.IsZero() {
		ev.Time = s.now().UTC()
	}
	s.buf = append(s.buf, ev)
	if over := len(s.buf) - s.capacity; over > 0 {
		s.buf = append(s.buf[:0:0], s.buf[over:]...)
	}
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()

	s.log.Info("event",
		zap.Uint64("id", ev.ID),
		zap.String("status", ev.Status),
		zap.String("contract", ev.Contract),
		zap.String("strategy", ev.Strategy),
		zap.String("note", ev.Note),
	)
	return ev
}

// Since returns the newest events with id greater than since, oldest
// first, capped at limit (and at MaxSinceLimit).
func (s *Stream) Since(since uint64, limit int) []Event {
	if limit <= 0 || limit > MaxSinceLimit {
		limit = MaxSinceLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.buf)
	for i, ev := range s.buf {
		if ev.ID > since {
			start = i
			break
		}
	}
	if len(s.buf)-start > limit {
		start = len(s.buf) - limit
	}
	out := make([]Event, len(s.buf)-start)
	copy(out, s.buf[start:])
	return out
}

func (s *Stream) Last() (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.buf) == 0 {
		return Event{}, false
	}
	return s.buf[len(s.buf)-1], true
}

// Subscribe registers a live listener. The returned cancel func must be
// called to release it.
func (s *Stream) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Float returns a pointer for the optional numeric event fields.
func Float(v float64) *float64 {
	return &v
}
