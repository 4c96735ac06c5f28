package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"nft-sniper-bot/internal/events"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	feedBuffer       = 256
	feedWriteTimeout = 5 * time.Second
)

type feedCodec func(events.Event) (websocket.MessageType, []byte, error)

func jsonFrame(ev events.Event) (websocket.MessageType, []byte, error) {
	data, err := json.Marshal(ev)
	return websocket.MessageText, data, err
}

func msgpackFrame(ev events.Event) (websocket.MessageType, []byte, error) {
	data, err := msgpack.Marshal(&ev)
	return websocket.MessageBinary, data, err
}

// handleEventFeed streams events over a websocket. ?since=<id> replays the
// backlog first; ?codec=msgpack switches to binary frames.
func (a *App) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	encode := feedCodec(jsonFrame)
	switch strings.ToLower(r.URL.Query().Get("codec")) {
	case "", "json":
	case "msgpack":
		encode = msgpackFrame
	default:
		writeError(w, http.StatusBadRequest, "unsupported codec")
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.log.Warn("event feed accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// subscribe before replaying so nothing falls between the two
	live, unsubscribe := a.events.Subscribe(feedBuffer)
	defer unsubscribe()
	ctx := conn.CloseRead(r.Context())

	last := since
	if r.URL.Query().Has("since") {
		for _, ev := range a.events.Since(since, events.MaxSinceLimit) {
			if err := writeFrame(ctx, conn, encode, ev); err != nil {
				a.logFeedError(err)
				return
			}
			last = ev.ID
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.ID <= last {
				continue
			}
			if err := writeFrame(ctx, conn, encode, ev); err != nil {
				a.logFeedError(err)
				return
			}
			last = ev.ID
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, encode feedCodec, ev events.Event) error {
	typ, data, err := encode(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	return conn.Write(ctx, typ, data)
}

func (a *App) logFeedError(err error) {
	if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		a.log.Debug("event feed closed", zap.Error(err))
		return
	}
	a.log.Warn("event feed write failed", zap.Error(err))
}
