package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var ErrInvalidSetting = errors.New("invalid setting")

// Runtime setting keys. These are the names used in the .env file, the
// process environment and the settings API.
const (
	KeyMode                = "MODE"
	KeyChain               = "CHAIN"
	KeyAddress             = "ADDRESS"
	KeyPrivateKey          = "PRIVATE_KEY"
	KeyOpenSeaAPIKey       = "OPENSEA_API_KEY"
	KeyMoralisAPIKey       = "MORALIS_API_KEY"
	KeyRPCURL              = "RPC_URL"
	KeyRPCURLs             = "RPC_URLS"
	KeyContracts           = "CONTRACTS"
	KeyPositionFraction    = "POSITION_FRACTION"
	KeyPositionUSDCeil     = "POSITION_USD_CEIL"
	KeyMaxSpendUSDPerDay   = "MAX_SPEND_USD_PER_DAY"
	KeyMaxOpenPositions    = "MAX_OPEN_POSITIONS"
	KeyUSDProfitMin        = "USD_PROFIT_MIN"
	KeyMinProfitPct        = "MIN_PROFIT_PCT"
	KeyAutoStopProfitUSD   = "AUTO_STOP_PROFIT_USD"
	KeyGasMaxFeeGwei       = "GAS_MAX_FEE_GWEI"
	KeyGasPriorityGwei     = "GAS_PRIORITY_GWEI"
	KeyGasLimitCap         = "GAS_LIMIT_CAP"
	KeyBalanceSource       = "BALANCE_SOURCE"
	KeyMoralisRateLimitSec = "MORALIS_RATE_LIMIT_SEC"
	KeyRiskProfile         = "RISK_PROFILE"
	KeyStrategyMode        = "STRATEGY_MODE"
	KeyManualStrategy      = "MANUAL_STRATEGY"
	KeyLiqWindowMin        = "LIQ_WINDOW_MIN"
	KeyLiqMinTrades        = "LIQ_MIN_TRADES"
	KeyLiqMinBuyers        = "LIQ_MIN_BUYERS"
	KeyLiqMinVolumeUSD     = "LIQ_MIN_VOLUME_USD"
	KeyPaperStartNative    = "PAPER_START_NATIVE"
)

var settingKeys = []string{
	KeyMode, KeyChain, KeyAddress, KeyPrivateKey, KeyOpenSeaAPIKey, KeyMoralisAPIKey,
	KeyRPCURL, KeyRPCURLs, KeyContracts, KeyPositionFraction, KeyPositionUSDCeil,
	KeyMaxSpendUSDPerDay, KeyMaxOpenPositions, KeyUSDProfitMin, KeyMinProfitPct,
	KeyAutoStopProfitUSD, KeyGasMaxFeeGwei, KeyGasPriorityGwei, KeyGasLimitCap,
	KeyBalanceSource, KeyMoralisRateLimitSec, KeyRiskProfile, KeyStrategyMode,
	KeyManualStrategy, KeyLiqWindowMin, KeyLiqMinTrades, KeyLiqMinBuyers,
	KeyLiqMinVolumeUSD, KeyPaperStartNative,
}

var secretKeys = map[string]bool{
	KeyPrivateKey:    true,
	KeyOpenSeaAPIKey: true,
	KeyMoralisAPIKey: true,
}

// Settings is an immutable view of the runtime knobs. Engine passes read a
// fresh copy through Runtime.Snapshot.
type Settings struct {
	Mode                string
	Chain               string
	Address             string
	PrivateKey          string
	OpenSeaAPIKey       string
	MoralisAPIKey       string
	RPCURL              string
	RPCURLs             []string
	Contracts           []string
	PositionFraction    float64
	PositionUSDCeil     float64
	MaxSpendUSDPerDay   float64
	MaxOpenPositions    int
	USDProfitMin        float64
	MinProfitPct        float64
	AutoStopProfitUSD   float64
	GasMaxFeeGwei       float64
	GasPriorityGwei     float64
	GasLimitCap         uint64
	BalanceSource       string
	MoralisRateLimitSec int
	RiskProfile         string
	StrategyMode        string
	ManualStrategy      string
	LiqWindowMin        float64
	LiqMinTrades        int
	LiqMinBuyers        int
	LiqMinVolumeUSD     float64
	PaperStartNative    float64
}

func DefaultSettings() Settings {
	return Settings{
		Mode:                "paper",
		Chain:               "eth",
		PositionFraction:    0.002,
		PositionUSDCeil:     3.0,
		MaxSpendUSDPerDay:   6.0,
		MaxOpenPositions:    1,
		USDProfitMin:        0.01,
		GasMaxFeeGwei:       60,
		GasPriorityGwei:     1.5,
		GasLimitCap:         500000,
		BalanceSource:       "auto",
		MoralisRateLimitSec: 60,
		RiskProfile:         "conservative",
		StrategyMode:        "auto",
	}
}

// LiveMode reports whether trades go to the marketplace. "auto" trades
// live as well.
func (s Settings) LiveMode() bool {
	return s.Mode == "live" || s.Mode == "auto"
}

// MissingLiveCredentials lists the keys that must be set before live
// trading can start.
func (s Settings) MissingLiveCredentials() []string {
	var missing []string
	if strings.TrimSpace(s.OpenSeaAPIKey) == "" {
		missing = append(missing, KeyOpenSeaAPIKey)
	}
	if strings.TrimSpace(s.PrivateKey) == "" {
		missing = append(missing, KeyPrivateKey)
		if strings.TrimSpace(s.Address) == "" {
			missing = append(missing, KeyAddress)
		}
	}
	return missing
}

// RPCEndpoints returns RPC_URL followed by RPC_URLS, without blanks or
// duplicates.
func (s Settings) RPCEndpoints() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(url string) {
		url = strings.TrimSpace(url)
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		out = append(out, url)
	}
	add(s.RPCURL)
	for _, url := range s.RPCURLs {
		add(url)
	}
	return out
}

// Symbol is the native coin ticker for the configured chain.
func (s Settings) Symbol() string {
	if s.Chain == "polygon" {
		return "POL"
	}
	return "ETH"
}

// LiquidityWindow is zero when no window is configured.
func (s Settings) LiquidityWindow() time.Duration {
	if s.LiqWindowMin <= 0 {
		return 0
	}
	return time.Duration(s.LiqWindowMin * float64(time.Minute))
}

// MoralisGap is the minimum interval between identical data-provider
// calls. Never below five seconds.
func (s Settings) MoralisGap() time.Duration {
	sec := s.MoralisRateLimitSec
	if sec < 5 {
		sec = 5
	}
	return time.Duration(sec) * time.Second
}

// Public returns the settings as strings with secrets reduced to a
// presence flag.
func (s Settings) Public() map[string]any {
	raw := s.values()
	out := make(map[string]any, len(raw))
	for key, val := range raw {
		if secretKeys[key] {
			out[key+"_SET"] = val != ""
			continue
		}
		out[key] = val
	}
	out["RPC_URLS"] = s.RPCURLs
	out["CONTRACTS"] = s.Contracts
	return out
}

func (s Settings) values() map[string]string {
	return map[string]string{
		KeyMode:                s.Mode,
		KeyChain:               s.Chain,
		KeyAddress:             s.Address,
		KeyPrivateKey:          s.PrivateKey,
		KeyOpenSeaAPIKey:       s.OpenSeaAPIKey,
		KeyMoralisAPIKey:       s.MoralisAPIKey,
		KeyRPCURL:              s.RPCURL,
		KeyRPCURLs:             encodeList(s.RPCURLs),
		KeyContracts:           encodeList(s.Contracts),
		KeyPositionFraction:    formatFloat(s.PositionFraction),
		KeyPositionUSDCeil:     formatFloat(s.PositionUSDCeil),
		KeyMaxSpendUSDPerDay:   formatFloat(s.MaxSpendUSDPerDay),
		KeyMaxOpenPositions:    strconv.Itoa(s.MaxOpenPositions),
		KeyUSDProfitMin:        formatFloat(s.USDProfitMin),
		KeyMinProfitPct:        formatFloat(s.MinProfitPct),
		KeyAutoStopProfitUSD:   formatFloat(s.AutoStopProfitUSD),
		KeyGasMaxFeeGwei:       formatFloat(s.GasMaxFeeGwei),
		KeyGasPriorityGwei:     formatFloat(s.GasPriorityGwei),
		KeyGasLimitCap:         strconv.FormatUint(s.GasLimitCap, 10),
		KeyBalanceSource:       s.BalanceSource,
		KeyMoralisRateLimitSec: strconv.Itoa(s.MoralisRateLimitSec),
		KeyRiskProfile:         s.RiskProfile,
		KeyStrategyMode:        s.StrategyMode,
		KeyManualStrategy:      s.ManualStrategy,
		KeyLiqWindowMin:        formatFloat(s.LiqWindowMin),
		KeyLiqMinTrades:        strconv.Itoa(s.LiqMinTrades),
		KeyLiqMinBuyers:        strconv.Itoa(s.LiqMinBuyers),
		KeyLiqMinVolumeUSD:     formatFloat(s.LiqMinVolumeUSD),
		KeyPaperStartNative:    formatFloat(s.PaperStartNative),
	}
}

// Set applies one key/value pair. Unknown keys and unparsable values
// return ErrInvalidSetting.
func (s *Settings) Set(key, raw string) error {
	key = strings.ToUpper(strings.TrimSpace(key))
	raw = strings.TrimSpace(raw)
	var err error
	switch key {
	case KeyMode:
		s.Mode, err = oneOf(key, strings.ToLower(raw), "paper", "live", "auto")
	case KeyChain:
		s.Chain, err = NormalizeChain(raw)
	case KeyAddress:
		s.Address = raw
	case KeyPrivateKey:
		s.PrivateKey = raw
	case KeyOpenSeaAPIKey:
		s.OpenSeaAPIKey = raw
	case KeyMoralisAPIKey:
		s.MoralisAPIKey = raw
	case KeyRPCURL:
		s.RPCURL = raw
	case KeyRPCURLs:
		s.RPCURLs, err = decodeList(key, raw)
	case KeyContracts:
		s.Contracts, err = decodeList(key, raw)
	case KeyPositionFraction:
		s.PositionFraction, err = parseNonNegative(key, raw)
	case KeyPositionUSDCeil:
		s.PositionUSDCeil, err = parseNonNegative(key, raw)
	case KeyMaxSpendUSDPerDay:
		s.MaxSpendUSDPerDay, err = parseNonNegative(key, raw)
	case KeyMaxOpenPositions:
		s.MaxOpenPositions, err = parseCount(key, raw)
	case KeyUSDProfitMin:
		s.USDProfitMin, err = parseNonNegative(key, raw)
	case KeyMinProfitPct:
		s.MinProfitPct, err = parseNonNegative(key, raw)
	case KeyAutoStopProfitUSD:
		s.AutoStopProfitUSD, err = parseNonNegative(key, raw)
	case KeyGasMaxFeeGwei:
		s.GasMaxFeeGwei, err = parseNonNegative(key, raw)
	case KeyGasPriorityGwei:
		s.GasPriorityGwei, err = parseNonNegative(key, raw)
	case KeyGasLimitCap:
		var n int
		n, err = parseCount(key, raw)
		s.GasLimitCap = uint64(n)
	case KeyBalanceSource:
		s.BalanceSource, err = oneOf(key, strings.ToLower(raw), "auto", "rpc", "moralis")
	case KeyMoralisRateLimitSec:
		s.MoralisRateLimitSec, err = parseCount(key, raw)
	case KeyRiskProfile:
		s.RiskProfile, err = oneOf(key, strings.ToLower(raw), "conservative", "balanced", "aggressive", "lowcap_polygon")
	case KeyStrategyMode:
		s.StrategyMode, err = oneOf(key, strings.ToLower(raw), "auto", "manual")
	case KeyManualStrategy:
		s.ManualStrategy = raw
	case KeyLiqWindowMin:
		s.LiqWindowMin, err = parseNonNegative(key, raw)
	case KeyLiqMinTrades:
		s.LiqMinTrades, err = parseCount(key, raw)
	case KeyLiqMinBuyers:
		s.LiqMinBuyers, err = parseCount(key, raw)
	case KeyLiqMinVolumeUSD:
		s.LiqMinVolumeUSD, err = parseNonNegative(key, raw)
	case KeyPaperStartNative:
		s.PaperStartNative, err = parseNonNegative(key, raw)
	default:
		return fmt.Errorf("%w: unknown key %q", ErrInvalidSetting, key)
	}
	return err
}

// NormalizeChain maps chain aliases to "eth" or "polygon".
func NormalizeChain(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "eth", "ethereum", "mainnet":
		return "eth", nil
	case "polygon", "matic", "pol":
		return "polygon", nil
	default:
		return "", fmt.Errorf("%w: unsupported chain %q", ErrInvalidSetting, raw)
	}
}

// Runtime owns the mutable settings and writes every accepted change back
// to the env file.
type Runtime struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// LoadRuntime reads the env file at path, then lets process environment
// variables take precedence. A missing file yields defaults.
func LoadRuntime(path string) (*Runtime, error) {
	fileValues, err := readEnvFile(path)
	if err != nil {
		return nil, err
	}
	settings := DefaultSettings()
	for _, key := range settingKeys {
		raw, ok := os.LookupEnv(key)
		if !ok {
			raw, ok = fileValues[key]
		}
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := settings.Set(key, raw); err != nil {
			return nil, err
		}
	}
	return &Runtime{path: path, settings: settings}, nil
}

// NewRuntime wraps settings without a backing file. Updates stay in memory.
func NewRuntime(settings Settings) *Runtime {
	return &Runtime{settings: settings}
}

func (r *Runtime) Snapshot() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.settings
	s.RPCURLs = append([]string(nil), r.settings.RPCURLs...)
	s.Contracts = append([]string(nil), r.settings.Contracts...)
	return s
}

func (r *Runtime) Path() string {
	return r.path
}

// Update validates every pair first, then applies and persists them
// together. Nothing changes when any pair is rejected.
func (r *Runtime) Update(pairs map[string]string) (Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.settings
	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	persisted := make(map[string]string, len(pairs))
	for _, key := range keys {
		if err := next.Set(key, pairs[key]); err != nil {
			return r.settings, err
		}
		normalized := strings.ToUpper(strings.TrimSpace(key))
		persisted[normalized] = next.values()[normalized]
	}
	if r.path != "" {
		if err := writeEnvFile(r.path, persisted); err != nil {
			return r.settings, fmt.Errorf("persist settings: %w", err)
		}
	}
	r.settings = next
	return next, nil
}

// ApplyProfile writes the named risk profile's values.
func (r *Runtime) ApplyProfile(name string) (Settings, error) {
	pairs, err := RiskProfile(name)
	if err != nil {
		return r.Snapshot(), err
	}
	return r.Update(pairs)
}

func oneOf(key, val string, allowed ...string) (string, error) {
	for _, a := range allowed {
		if val == a {
			return val, nil
		}
	}
	return "", fmt.Errorf("%w: %s must be one of %s", ErrInvalidSetting, key, strings.Join(allowed, "|"))
}

func parseNonNegative(key, raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidSetting, key)
	}
	return v, nil
}

func parseCount(key, raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidSetting, key)
	}
	return v, nil
}

// decodeList accepts a JSON array of strings or a comma separated list.
func decodeList(key, raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var items []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("%w: %s must be a JSON list of strings", ErrInvalidSetting, key)
		}
	} else {
		items = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(items)
	return string(data)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
