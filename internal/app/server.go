package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"nft-sniper-bot/internal/chain"
	"nft-sniper-bot/internal/config"
	"nft-sniper-bot/internal/engine"
	"nft-sniper-bot/internal/events"
	"nft-sniper-bot/internal/strategy"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/ping", a.handlePing)
	mux.HandleFunc("GET /api/test", a.handleTest)
	mux.HandleFunc("POST /api/rpc_check", a.handleRPCCheck)
	mux.HandleFunc("GET /api/wallet", a.handleWallet)
	mux.HandleFunc("GET /api/paper", a.handlePaper)
	mux.HandleFunc("POST /api/paper/reset", a.handlePaperReset)

	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("POST /api/start", a.handleStart)
	mux.HandleFunc("POST /api/stop", a.handleStop)

	mux.HandleFunc("GET /api/settings", a.handleSettings)
	mux.HandleFunc("POST /api/mode_set", a.handleModeSet)
	mux.HandleFunc("POST /api/chain_set", a.handleChainSet)
	mux.HandleFunc("POST /api/balance_source_set", a.handleBalanceSourceSet)
	mux.HandleFunc("POST /api/opensea_set", a.handleOpenSeaSet)
	mux.HandleFunc("POST /api/patch", a.handlePatch)
	mux.HandleFunc("POST /api/risk_mode_set", a.handleRiskModeSet)
	mux.HandleFunc("POST /api/preset_lowcap_polygon", a.handleLowcapPreset)
	mux.HandleFunc("GET /api/strategy_status", a.handleStrategyStatus)
	mux.HandleFunc("POST /api/strategy_set", a.handleStrategySet)

	mux.HandleFunc("GET /api/kpi", a.handleKPI)
	mux.HandleFunc("GET /api/leader", a.handleLeader)
	mux.HandleFunc("GET /api/logs", a.handleLogs)
	mux.HandleFunc("GET /api/moralis_usage", a.handleMoralisUsage)
	mux.HandleFunc("GET /api/audit", a.handleAudit)
	mux.HandleFunc("GET /api/events/ws", a.handleEventFeed)

	if a.prom != nil {
		path := "/metrics"
		if a.cfg != nil && a.cfg.Metrics.Path != "" {
			path = a.cfg.Metrics.Path
		}
		mux.Handle("GET "+path, a.prom.Handler())
	}
	return requestLogging(a.log)(mux)
}

func (a *App) handlePing(w http.ResponseWriter, r *http.Request) {
	s := a.runtime.Snapshot()
	address := s.Address
	if address == "" && s.PrivateKey != "" {
		if derived, err := chain.AddressFromKey(s.PrivateKey); err == nil {
			address = derived
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"mode":       s.Mode,
		"chain":      s.Chain,
		"address":    address,
		"live_ready": len(s.MissingLiveCredentials()) == 0 && address != "",
	})
}

// handleTest checks the configured RPC endpoints in order and pings the
// data provider.
func (a *App) handleTest(w http.ResponseWriter, r *http.Request) {
	s := a.runtime.Snapshot()
	rpc := map[string]any{"connected": false, "chain_id": nil}
	for _, url := range s.RPCEndpoints() {
		info, err := a.checkRPC(r.Context(), url)
		if err != nil {
			continue
		}
		rpc["connected"] = true
		rpc["chain_id"] = info["chain_id"]
		rpc["rpc_url"] = url
		break
	}
	providerOK := false
	if a.data != nil {
		ctx, cancel := context.WithTimeout(r.Context(), a.callTimeout())
		providerOK = a.data.Ping(ctx) == nil
		cancel()
	}
	a.log.Info("connectivity test",
		zap.Any("rpc_connected", rpc["connected"]),
		zap.String("chain", s.Chain),
		zap.String("mode", s.Mode),
		zap.Bool("opensea_key", s.OpenSeaAPIKey != ""),
		zap.Bool("moralis", providerOK),
	)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rpc": rpc, "moralis": providerOK})
}

func (a *App) handleRPCCheck(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	url := strings.TrimSpace(body.URL)
	if url == "" {
		url = a.runtime.Snapshot().RPCURL
	}
	if url == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	out := map[string]any{"ok": true, "connected": false, "rpc_url": url}
	info, err := a.checkRPC(r.Context(), url)
	if err != nil {
		out["error"] = err.Error()
	} else {
		out["connected"] = true
		for k, v := range info {
			out[k] = v
		}
	}
	a.log.Info("rpc check", zap.String("url", url), zap.Any("connected", out["connected"]))
	writeJSON(w, http.StatusOK, out)
}

func (a *App) checkRPC(ctx context.Context, url string) (map[string]any, error) {
	if a.dialRPC == nil {
		return nil, errors.New("rpc dialer unavailable")
	}
	ctx, cancel := context.WithTimeout(ctx, a.callTimeout())
	defer cancel()
	client, err := a.dialRPC(ctx, url)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	info := make(map[string]any, 2)
	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	info["chain_id"] = id.Uint64()
	if block, err := client.BlockNumber(ctx); err == nil {
		info["latest_block"] = block
	}
	return info, nil
}

func (a *App) handleWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "wallet": a.engine.Wallet(r.Context())})
}

func (a *App) handlePaper(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "paper": a.engine.Paper(r.Context())})
}

func (a *App) handlePaperReset(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.ResetPaper(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "paper": a.engine.Paper(r.Context())})
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": a.engine.Status()})
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Start(r.Context()); err != nil {
		a.log.Warn("engine start failed", zap.Error(err))
		code := http.StatusBadRequest
		if errors.Is(err, engine.ErrStopping) {
			code = http.StatusConflict
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": a.engine.Status()})
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	a.engine.Stop("stopped from dashboard")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": a.engine.Status()})
}

func (a *App) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"settings": a.runtime.Snapshot().Public(),
		"env_file": a.runtime.Path(),
	})
}

func (a *App) handleModeSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"MODE"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := strings.ToLower(strings.TrimSpace(body.Mode))
	if mode == "" {
		mode = "paper"
	}
	s, err := a.runtime.Update(map[string]string{config.KeyMode: mode})
	if err != nil {
		writeSettingError(w, "bad mode", err)
		return
	}
	a.log.Info("mode updated", zap.String("mode", s.Mode))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mode": s.Mode})
}

func (a *App) handleChainSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Chain string `json:"chain"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw := body.Chain
	if strings.TrimSpace(raw) == "" {
		raw = "eth"
	}
	chainName, err := config.NormalizeChain(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad chain")
		return
	}
	if _, err := a.runtime.Update(map[string]string{config.KeyChain: chainName}); err != nil {
		writeSettingError(w, "bad chain", err)
		return
	}
	a.log.Info("chain updated", zap.String("chain", chainName))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "chain": chainName})
}

func (a *App) handleBalanceSourceSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source string `json:"source"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	source := strings.ToLower(strings.TrimSpace(body.Source))
	if source == "" {
		source = "auto"
	}
	if _, err := a.runtime.Update(map[string]string{config.KeyBalanceSource: source}); err != nil {
		writeSettingError(w, "bad source", err)
		return
	}
	a.log.Info("balance source updated", zap.String("source", source))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "source": source})
}

func (a *App) handleOpenSeaSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"OPENSEA_API_KEY"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := strings.TrimSpace(body.Key)
	if _, err := a.runtime.Update(map[string]string{config.KeyOpenSeaAPIKey: key}); err != nil {
		writeSettingError(w, "bad key", err)
		return
	}
	if key == "" {
		a.log.Info("marketplace api key cleared")
	} else {
		a.log.Info("marketplace api key updated")
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "saved": key != ""})
}

// handlePatch accepts the watch-list and RPC endpoints as JSON arrays or
// as already-encoded strings.
func (a *App) handlePatch(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pairs := make(map[string]string)
	for _, key := range []string{config.KeyContracts, config.KeyRPCURL, config.KeyRPCURLs} {
		raw, ok := body[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			pairs[key] = text
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a string or a list of strings", key))
			return
		}
		encoded, _ := json.Marshal(list)
		pairs[key] = string(encoded)
	}
	if len(pairs) > 0 {
		if _, err := a.runtime.Update(pairs); err != nil {
			writeSettingError(w, "bad patch", err)
			return
		}
		a.log.Info("settings patched", zap.Strings("keys", sortedKeys(pairs)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "applied": pairs})
}

func (a *App) handleRiskModeSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Profile string `json:"profile"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	profile := strings.ToLower(strings.TrimSpace(body.Profile))
	if profile == "" {
		profile = "balanced"
	}
	pairs, err := config.RiskProfile(profile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad profile")
		return
	}
	if _, err := a.runtime.Update(pairs); err != nil {
		writeSettingError(w, "bad profile", err)
		return
	}
	a.log.Info("risk profile applied", zap.String("profile", profile))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "profile": profile, "applied": pairs})
}

func (a *App) handleLowcapPreset(w http.ResponseWriter, r *http.Request) {
	pairs := config.LowcapPolygonPreset()
	if _, err := a.runtime.Update(pairs); err != nil {
		writeSettingError(w, "preset rejected", err)
		return
	}
	a.log.Info("low-cap polygon preset applied")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "applied": pairs})
}

type strategyState struct {
	Mode      string   `json:"mode"`
	Manual    string   `json:"manual"`
	Active    string   `json:"active"`
	Available []string `json:"available"`
}

func (a *App) strategyState() strategyState {
	st := a.engine.Status()
	return strategyState{
		Mode:      st.StrategyMode,
		Manual:    st.ManualStrategy,
		Active:    st.ActiveStrategy,
		Available: a.availableStrategies(),
	}
}

func (a *App) availableStrategies() []string {
	if a.cfg != nil && len(a.cfg.Engine.Strategies) > 0 {
		return append([]string(nil), a.cfg.Engine.Strategies...)
	}
	return append([]string(nil), strategy.Names...)
}

func (a *App) handleStrategyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "strategy": a.strategyState()})
}

func (a *App) handleStrategySet(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	current := a.runtime.Snapshot()
	mode := strings.ToLower(firstString(body, "mode", "MODE"))
	if mode == "" {
		mode = strings.ToLower(current.StrategyMode)
	}
	if mode == "" {
		mode = "auto"
	}
	if mode != string(strategy.ModeAuto) && mode != string(strategy.ModeManual) {
		writeError(w, http.StatusBadRequest, "bad mode")
		return
	}
	manualRaw, given := firstValue(body, "strategy", "manual", "MANUAL_STRATEGY")
	if !given {
		manualRaw = current.ManualStrategy
	}
	manual := strategy.Normalize(manualRaw)
	pairs := map[string]string{config.KeyStrategyMode: mode}
	if mode == string(strategy.ModeManual) {
		if manual == "" {
			writeError(w, http.StatusBadRequest, "manual strategy required")
			return
		}
		pairs[config.KeyManualStrategy] = manual
	} else if manual != "" {
		pairs[config.KeyManualStrategy] = manual
	}
	if _, err := a.runtime.Update(pairs); err != nil {
		writeSettingError(w, "bad strategy", err)
		return
	}
	a.log.Info("strategy mode updated", zap.String("mode", mode), zap.String("manual", manual))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"strategy":  a.strategyState(),
		"available": a.availableStrategies(),
	})
}

func (a *App) handleKPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "kpi": a.stats.KPI()})
}

func (a *App) handleLeader(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "leader": a.stats.Leaderboard()})
}

func (a *App) handleLogs(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "logs": a.events.Since(since, events.MaxSinceLimit)})
}

func (a *App) handleMoralisUsage(w http.ResponseWriter, r *http.Request) {
	if a.data == nil {
		writeError(w, http.StatusServiceUnavailable, "data provider not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "usage": a.data.Usage()})
}

func (a *App) callTimeout() time.Duration {
	if a.cfg != nil && a.cfg.Engine.CallTimeout > 0 {
		return a.cfg.Engine.CallTimeout
	}
	return 10 * time.Second
}

func (a *App) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %q", raw))
			return
		}
		limit = min(n, maxAuditLimit)
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.callTimeout())
	defer cancel()
	records, err := a.recentAudit(ctx, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "audit": records})
}

func parseSince(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid since: %q", raw)
	}
	return since, nil
}

// decodeBody reads an optional JSON body. An empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func firstValue(body map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := body[key]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s), true
		}
		return strings.TrimSpace(fmt.Sprint(v)), true
	}
	return "", false
}

func firstString(body map[string]any, keys ...string) string {
	v, _ := firstValue(body, keys...)
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"ok":false,"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// writeSettingError maps rejected settings to 400 and persistence
// failures to 500.
func writeSettingError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, config.ErrInvalidSetting) {
		writeError(w, http.StatusBadRequest, msg+": "+err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func requestLogging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}

// Hijack lets the websocket feed upgrade through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
