package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"nft-sniper-bot/internal/alerts"
	"nft-sniper-bot/internal/config"
	"nft-sniper-bot/internal/engine"
	"nft-sniper-bot/internal/strategy"

	"go.uber.org/zap"
)

const (
	operatorOffsetKey = "telegram:operator:last_update_id"
	auditKeyPrefix    = "ops:audit:"
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// auditLister is implemented by stores that can scan keys by prefix.
type auditLister interface {
	Keys(ctx context.Context, prefix string, limit int) ([]string, error)
}

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID    int64     `json:"update_id"`
	Time        time.Time `json:"time"`
	Action      string    `json:"action"`
	Command     string    `json:"command"`
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	ChatID      int64     `json:"chat_id"`
	StateBefore string    `json:"state_before"`
	StateAfter  string    `json:"state_after"`
	Before      string    `json:"before,omitempty"`
	After       string    `json:"after,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled || !a.alerts.Enabled() {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for ctx.Err() == nil {
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logOperatorError(err)
			if !waitOrDone(ctx, pollInterval) {
				return
			}
			continue
		}
		if a.operatorWarned {
			a.operatorWarned = false
			a.log.Info("telegram operator recovered")
		}
		for _, upd := range updates {
			if next := upd.UpdateID + 1; next > offset {
				offset = next
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func waitOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// handleOperatorUpdate answers commands from the configured chat. When an
// allow-list is set, other senders are ignored.
func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	msg := upd.Message
	if msg.Chat.ID != chatID {
		return
	}
	if _, ok := allowedUsers[msg.From.ID]; len(allowedUsers) > 0 && !ok {
		a.log.Debug("operator command from unlisted user", zap.Int64("user_id", msg.From.ID))
		return
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	reply, err := a.handleOperatorCommand(ctx, cmd, args, operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	})
	if err != nil {
		reply = "command failed: " + err.Error()
	}
	if reply == "" {
		return
	}
	if err := a.alerts.Send(ctx, reply); err != nil {
		a.log.Warn("operator response failed", zap.String("command", cmd), zap.Error(err))
	}
}

// parseOperatorCommand splits "/cmd arg..." into a lower-cased command
// and its arguments. A "@BotName" suffix is dropped.
func parseOperatorCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	cmd, _, _ := strings.Cut(strings.ToLower(fields[0][1:]), "@")
	if cmd == "" {
		return "", nil, false
	}
	return cmd, fields[1:], true
}

type operatorCommand struct {
	usage string
	run   func(a *App, ctx context.Context, args []string, meta operatorMeta) (string, error)
}

var operatorCommands = map[string]operatorCommand{
	"status":   {usage: "/status - engine state and session totals", run: (*App).cmdStatus},
	"report":   {usage: "/report - per-strategy results", run: (*App).cmdReport},
	"start":    {usage: "/start - start the engine", run: (*App).cmdStart},
	"stop":     {usage: "/stop - stop the engine", run: (*App).cmdStop},
	"mode":     {usage: "/mode paper|live|auto - switch execution mode", run: (*App).cmdMode},
	"profile":  {usage: "/profile conservative|balanced|aggressive - apply a risk profile", run: (*App).cmdProfile},
	"strategy": {usage: "/strategy [auto | manual <name>] - show or change strategy selection", run: (*App).cmdStrategy},
}

var operatorCommandOrder = []string{"status", "report", "start", "stop", "mode", "profile", "strategy"}

// handleOperatorCommand runs cmd. Unknown commands get the help text.
func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	c, ok := operatorCommands[cmd]
	if !ok {
		return operatorHelpText(), nil
	}
	return c.run(a, ctx, args, meta)
}

func (a *App) cmdStatus(context.Context, []string, operatorMeta) (string, error) {
	return a.operatorStatus(), nil
}

func (a *App) cmdReport(context.Context, []string, operatorMeta) (string, error) {
	return a.report(), nil
}

func (a *App) cmdStart(ctx context.Context, _ []string, meta operatorMeta) (string, error) {
	before := a.engine.Status().State
	if err := a.audited(ctx, meta, "start", nil, func() error { return a.engine.Start(ctx) }); err != nil {
		return "", err
	}
	if before != engine.StateIdle {
		return "engine already running", nil
	}
	return "engine started", nil
}

func (a *App) cmdStop(ctx context.Context, _ []string, meta operatorMeta) (string, error) {
	before := a.engine.Status().State
	_ = a.audited(ctx, meta, "stop", nil, func() error {
		a.engine.Stop("stopped by operator")
		return nil
	})
	if before == engine.StateIdle {
		return "engine already idle", nil
	}
	return "stop requested", nil
}

func (a *App) cmdMode(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) != 1 {
		return "", errors.New("usage: /mode paper|live|auto")
	}
	read := func() string { return a.runtime.Snapshot().Mode }
	err := a.audited(ctx, meta, "mode", read, func() error {
		_, err := a.runtime.Update(map[string]string{config.KeyMode: strings.ToLower(args[0])})
		return err
	})
	if err != nil {
		return "", err
	}
	return "mode set to " + read(), nil
}

func (a *App) cmdProfile(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) != 1 {
		return "", errors.New("usage: /profile conservative|balanced|aggressive")
	}
	read := func() string { return a.runtime.Snapshot().RiskProfile }
	err := a.audited(ctx, meta, "profile", read, func() error {
		_, err := a.runtime.ApplyProfile(strings.ToLower(args[0]))
		return err
	})
	if err != nil {
		return "", err
	}
	return "risk profile " + read() + " applied", nil
}

func (a *App) cmdStrategy(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) == 0 {
		st := a.strategyState()
		return fmt.Sprintf("strategy mode: %s manual: %s active: %s", st.Mode, valueOr(st.Manual, "-"), valueOr(st.Active, "-")), nil
	}
	read := func() string {
		s := a.runtime.Snapshot()
		return s.StrategyMode + ":" + s.ManualStrategy
	}
	update := map[string]string{}
	var reply string
	switch strings.ToLower(args[0]) {
	case string(strategy.ModeAuto):
		update[config.KeyStrategyMode] = string(strategy.ModeAuto)
		reply = "strategy selection set to auto"
	case string(strategy.ModeManual):
		if len(args) != 2 {
			return "", errors.New("usage: /strategy manual <name>")
		}
		name := strategy.Normalize(args[1])
		if available := a.availableStrategies(); !slices.Contains(available, name) {
			return "", fmt.Errorf("unknown strategy %q (available: %s)", name, strings.Join(available, ", "))
		}
		update[config.KeyStrategyMode] = string(strategy.ModeManual)
		update[config.KeyManualStrategy] = name
		reply = "strategy set to manual " + name
	default:
		return "", errors.New("usage: /strategy [auto | manual <name>]")
	}
	err := a.audited(ctx, meta, "strategy", read, func() error {
		_, err := a.runtime.Update(update)
		return err
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// audited runs change and stores an audit record with the sender, the
// engine state and, when read is set, the value before and after.
func (a *App) audited(ctx context.Context, meta operatorMeta, action string, read func() string, change func() error) error {
	event := operatorAuditEvent{
		UpdateID:    meta.UpdateID,
		Time:        time.Now().UTC(),
		Action:      action,
		Command:     meta.Raw,
		UserID:      meta.UserID,
		Username:    meta.Username,
		ChatID:      meta.ChatID,
		StateBefore: string(a.engine.Status().State),
	}
	if read != nil {
		event.Before = read()
	}
	err := change()
	switch {
	case err != nil:
		event.Error = err.Error()
	case read != nil:
		event.After = read()
	}
	a.auditOperatorEvent(ctx, event)
	return err
}

func (a *App) operatorStatus() string {
	st := a.engine.Status()
	lines := []string{
		fmt.Sprintf("state: %s", st.State),
		fmt.Sprintf("mode: %s", st.Mode),
		fmt.Sprintf("chain: %s", st.Chain),
		fmt.Sprintf("rpc: %s", valueOr(st.RPC, "n/a")),
		fmt.Sprintf("uptime: %s", (time.Duration(st.UptimeSeconds) * time.Second).String()),
		fmt.Sprintf("strategy: %s (%s)", valueOr(st.ActiveStrategy, "-"), st.StrategyMode),
		fmt.Sprintf("contracts: %d", len(st.Contracts)),
		fmt.Sprintf("pnl_today_usd: %.4f", st.Risk.PnLTodayUSD),
		fmt.Sprintf("spend_today_usd: %.4f", st.Risk.SpendTodayUSD),
		fmt.Sprintf("loss_streak: %d", st.Risk.LossStreak),
	}
	if st.StopReason != "" {
		lines = append(lines, fmt.Sprintf("stop_reason: %s", st.StopReason))
	}
	if st.LastEvent != nil {
		lines = append(lines, fmt.Sprintf("last_event: %s %s", st.LastEvent.Status, st.LastEvent.Note))
	}
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	lines := []string{"commands:"}
	for _, name := range operatorCommandOrder {
		lines = append(lines, operatorCommands[name].usage)
	}
	return strings.Join(lines, "\n")
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (a *App) logOperatorError(err error) {
	if a.log == nil {
		return
	}
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	if event.StateAfter == "" && a.engine != nil {
		event.StateAfter = string(a.engine.Status().State)
	}
	key := fmt.Sprintf("%s%d:%d", auditKeyPrefix, time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}

// recentAudit returns up to limit operator audit records, oldest first.
func (a *App) recentAudit(ctx context.Context, limit int) ([]operatorAuditEvent, error) {
	lister, ok := a.store.(auditLister)
	if !ok {
		return nil, errors.New("audit log unavailable")
	}
	keys, err := lister.Keys(ctx, auditKeyPrefix, limit)
	if err != nil {
		return nil, err
	}
	out := make([]operatorAuditEvent, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := a.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var event operatorAuditEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			a.log.Warn("skipping unreadable audit record", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, event)
	}
	return out, nil
}
