package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"nft-sniper-bot/internal/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	telegramBaseURL = "https://api.telegram.org"
	// Bot API rejects longer messages.
	maxMessageRunes = 4096
	truncatedSuffix = "\n…(truncated)"
)

// Telegram sends operator alerts and polls for operator commands. A
// disabled client accepts every call and does nothing.
type Telegram struct {
	enabled bool
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return newTelegram(cfg, log, telegramBaseURL, &http.Client{Timeout: 10 * time.Second})
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, baseURL string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		enabled: cfg.Enabled,
		token:   strings.TrimSpace(cfg.Token),
		chatID:  strings.TrimSpace(cfg.ChatID),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		// one message per second per chat, with a small burst for fill + stop pairs
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		log:     log,
	}
}

func (t *Telegram) Enabled() bool {
	return t != nil && t.enabled
}

type Chat struct {
	ID int64 `json:"id"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
	From      User   `json:"from"`
}

type Update struct {
	UpdateID int64   `json:"update_id"`
	Message  Message `json:"message"`
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// GetUpdates long-polls for operator messages after offset. wait bounds
// the server-side poll.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]Update, error) {
	if !t.Enabled() {
		return nil, nil
	}
	if t.token == "" {
		return nil, errors.New("telegram token is required")
	}
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(max(int(wait/time.Second), 0)))
	q.Set("allowed_updates", `["message"]`)

	client := t.client
	if need := wait + 10*time.Second; client.Timeout > 0 && client.Timeout < need {
		clone := *client
		clone.Timeout = need
		client = &clone
	}
	var updates []Update
	if err := t.call(ctx, client, http.MethodGet, "getUpdates?"+q.Encode(), nil, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// Send posts message to the configured chat. Long messages are cut to
// the Bot API limit.
func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.Enabled() {
		return nil
	}
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("telegram message is empty")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	text := truncateMessage(message)
	if len(text) != len(message) {
		t.log.Debug("telegram message truncated", zap.Int("runes", utf8.RuneCountInString(message)))
	}
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}
	return t.call(ctx, t.client, http.MethodPost, "sendMessage", body, nil)
}

func (t *Telegram) call(ctx context.Context, client *http.Client, method, path string, body []byte, out any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, path)
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	op := strings.SplitN(path, "?", 2)[0]
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("telegram %s failed: http %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		if out == nil {
			// sendMessage succeeded on status alone
			return nil
		}
		return fmt.Errorf("telegram %s: decode: %w", op, err)
	}
	if !envelope.OK {
		desc := strings.TrimSpace(envelope.Description)
		if desc == "" {
			desc = "unknown telegram error"
		}
		return fmt.Errorf("telegram %s failed: %s", op, desc)
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

func truncateMessage(message string) string {
	if utf8.RuneCountInString(message) <= maxMessageRunes {
		return message
	}
	runes := []rune(message)
	keep := maxMessageRunes - utf8.RuneCountInString(truncatedSuffix)
	return string(runes[:keep]) + truncatedSuffix
}
