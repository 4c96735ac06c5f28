package state

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func TestSessionRoundTrip(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	record := SessionRecord{
		StartedAt:  started,
		StoppedAt:  started.Add(90 * time.Second),
		StopReason: "auto-stop: profit target reached",
		Mode:       "paper",
		Chain:      "polygon",
		PnLUSD:     1.25,
	}
	if err := SaveSession(ctx, store, record); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, ok, err := LoadSession(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected session to exist")
	}
	if !loaded.StoppedAt.Equal(record.StoppedAt) || loaded.StopReason != record.StopReason || loaded.PnLUSD != 1.25 {
		t.Fatalf("unexpected session %+v", loaded)
	}
}

func TestLoadSessionMissing(t *testing.T) {
	_, ok, err := LoadSession(context.Background(), &memoryStore{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected no session")
	}
	if _, ok, err := LoadSession(context.Background(), nil); ok || err != nil {
		t.Fatalf("nil store should be empty, got ok=%v err=%v", ok, err)
	}
}
