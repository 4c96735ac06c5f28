package events

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestEmitAssignsSequentialIDs(t *testing.T) {
	s := NewStream(10, zap.NewNop())
	a := s.Emit(Event{Status: StatusScanning, Contract: "0xA"})
	b := s.Emit(Event{Status: StatusWaiting, Contract: "0xA"})
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("expected ids 1,2 got %d,%d", a.ID, b.ID)
	}
	if a.Time.IsZero() {
		t.Fatalf("expected timestamp")
	}
	last, ok := s.Last()
	if !ok || last.ID != 2 {
		t.Fatalf("unexpected last event %+v", last)
	}
}

func TestSinceFiltersAndLimits(t *testing.T) {
	s := NewStream(100, zap.NewNop())
	for i := 0; i < 10; i++ {
		s.Emit(Event{Status: StatusScanning})
	}
	got := s.Since(3, 4)
	if len(got) != 4 || got[0].ID != 7 || got[3].ID != 10 {
		t.Fatalf("unexpected slice %+v", got)
	}
	if rest := s.Since(10, 0); len(rest) != 0 {
		t.Fatalf("expected nothing after last id, got %d", len(rest))
	}
	if all := s.Since(0, 5000); len(all) != 10 {
		t.Fatalf("expected all events, got %d", len(all))
	}
}

func TestStreamIsBounded(t *testing.T) {
	s := NewStream(3, zap.NewNop())
	for i := 0; i < 5; i++ {
		s.Emit(Event{Status: StatusWaiting})
	}
	got := s.Since(0, 10)
	if len(got) != 3 || got[0].ID != 3 {
		t.Fatalf("expected ids 3..5, got %+v", got)
	}
}

func TestSubscribeReceivesLiveEvents(t *testing.T) {
	s := NewStream(10, zap.NewNop())
	ch, cancel := s.Subscribe(4)
	defer cancel()
	s.Emit(Event{Status: StatusFilled, Note: "0xhash"})
	select {
	case ev := <-ch:
		if ev.Status != StatusFilled || ev.ID != 1 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event on subscription")
	}
	cancel()
	cancel()
	s.Emit(Event{Status: StatusIdle})
}
