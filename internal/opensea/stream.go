package opensea

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"nft-sniper-bot/internal/config"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	streamEventListed = "item_listed"
	streamAllTopic    = "collection:*"
)

// Listing is one item_listed notification from the stream.
type Listing struct {
	Chain      string
	Contract   string
	TokenID    string
	Collection string
	BasePrice  string
	Time       time.Time
}

// streamFrame is the phoenix channel envelope used by the stream.
type streamFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     uint64          `json:"ref"`
}

// Stream keeps a websocket open to the marketplace event stream and
// rejoins its topics after reconnects.
type Stream struct {
	url            string
	settings       SettingsSource
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	topics []string
	ref    uint64
}

func NewStream(cfg config.StreamConfig, settings SettingsSource, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{
		url:            cfg.URL,
		settings:       settings,
		reconnectDelay: cfg.ReconnectDelay,
		pingInterval:   cfg.PingInterval,
		log:            log,
	}
}

// Subscribe joins collection topics on the next (re)connect. An empty
// slug joins every collection.
func (s *Stream) Subscribe(slug string) {
	topic := streamAllTopic
	if slug = strings.TrimSpace(slug); slug != "" {
		topic = "collection:" + slug
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.topics {
		if t == topic {
			return
		}
	}
	s.topics = append(s.topics, topic)
}

func (s *Stream) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	key := strings.TrimSpace(s.settings.Snapshot().OpenSeaAPIKey)
	if key == "" {
		return ErrMissingAPIKey
	}
	u, err := url.Parse(s.url)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("token", key)
	u.RawQuery = q.Encode()
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)
	s.conn = conn
	return nil
}

// Run reads listings until ctx ends, reconnecting after read failures.
func (s *Stream) Run(ctx context.Context, handler func(Listing)) error {
	for {
		if err := s.ensureConnected(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrMissingAPIKey) {
				return err
			}
			s.log.Warn("listing stream connect failed", zap.Error(err))
			if !s.wait(ctx) {
				return ctx.Err()
			}
			continue
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			s.pingLoop(pingCtx)
		}()
		err := s.readLoop(ctx, handler)
		cancel()
		<-pingDone
		if ctx.Err() != nil {
			s.resetConn()
			return ctx.Err()
		}
		s.logReadLoopError(err)
		s.resetConn()
		if !s.wait(ctx) {
			return ctx.Err()
		}
	}
}

func (s *Stream) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.reconnectDelay):
		return true
	}
}

func (s *Stream) ensureConnected(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	topics := append([]string(nil), s.topics...)
	s.mu.Unlock()
	for _, topic := range topics {
		if err := s.send(ctx, topic, "phx_join"); err != nil {
			s.resetConn()
			return err
		}
	}
	return nil
}

func (s *Stream) send(ctx context.Context, topic, event string) error {
	s.mu.Lock()
	conn := s.conn
	s.ref++
	frame := streamFrame{Topic: topic, Event: event, Payload: json.RawMessage(`{}`), Ref: s.ref}
	s.mu.Unlock()
	if conn == nil {
		return errors.New("stream not connected")
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Stream) readLoop(ctx context.Context, handler func(Listing)) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("stream not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		listing, ok := ParseListing(data)
		if !ok {
			continue
		}
		if handler != nil {
			handler(listing)
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	if s.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.send(ctx, "phoenix", "heartbeat"); err != nil {
				return
			}
		}
	}
}

func (s *Stream) logReadLoopError(err error) {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			s.log.Info("listing stream closed", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
		s.log.Info("listing stream closed", zap.Error(err))
		return
	}
	s.log.Warn("listing stream read failed", zap.Error(err))
}

func (s *Stream) resetConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "reset")
		s.conn = nil
	}
}

// ParseListing decodes an item_listed frame. Other events, replies and
// malformed frames report false.
func ParseListing(data []byte) (Listing, bool) {
	var frame streamFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event != streamEventListed {
		return Listing{}, false
	}
	var outer struct {
		SentAt  time.Time `json:"sent_at"`
		Payload struct {
			BasePrice  string `json:"base_price"`
			Collection struct {
				Slug string `json:"slug"`
			} `json:"collection"`
			Item struct {
				NFTID string `json:"nft_id"`
			} `json:"item"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(frame.Payload, &outer); err != nil {
		return Listing{}, false
	}
	// nft_id is "<chain>/<contract>/<token id>"
	parts := strings.Split(outer.Payload.Item.NFTID, "/")
	if len(parts) != 3 || parts[1] == "" {
		return Listing{}, false
	}
	return Listing{
		Chain:      parts[0],
		Contract:   strings.ToLower(parts[1]),
		TokenID:    parts[2],
		Collection: outer.Payload.Collection.Slug,
		BasePrice:  outer.Payload.BasePrice,
		Time:       outer.SentAt,
	}, true
}
