package state

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

const SessionKey = "engine:last_session"

// SessionRecord summarizes the most recent engine run so status survives
// a process restart.
type SessionRecord struct {
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	StopReason string    `json:"stop_reason"`
	Mode       string    `json:"mode"`
	Chain      string    `json:"chain"`
	PnLUSD     float64   `json:"pnl_usd"`
	SpendUSD   float64   `json:"spend_usd"`
}

func LoadSession(ctx context.Context, store Store) (SessionRecord, bool, error) {
	if store == nil {
		return SessionRecord{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, SessionKey)
	if err != nil {
		return SessionRecord{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return SessionRecord{}, false, nil
	}
	var record SessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return SessionRecord{}, false, err
	}
	return record, true, nil
}

func SaveSession(ctx context.Context, store Store, record SessionRecord) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.Set(ctx, SessionKey, string(payload))
}
