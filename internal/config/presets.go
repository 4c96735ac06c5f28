package config

import (
	"fmt"
	"strings"
)

var riskProfiles = map[string]map[string]string{
	"conservative": {
		KeyPositionFraction:    "0.001",
		KeyPositionUSDCeil:     "2",
		KeyMaxSpendUSDPerDay:   "3",
		KeyMaxOpenPositions:    "1",
		KeyUSDProfitMin:        "0.02",
		KeyGasMaxFeeGwei:       "50",
		KeyGasPriorityGwei:     "1.0",
		KeyMoralisRateLimitSec: "120",
	},
	"balanced": {
		KeyPositionFraction:    "0.002",
		KeyPositionUSDCeil:     "3",
		KeyMaxSpendUSDPerDay:   "6",
		KeyMaxOpenPositions:    "2",
		KeyUSDProfitMin:        "0.01",
		KeyGasMaxFeeGwei:       "60",
		KeyGasPriorityGwei:     "1.5",
		KeyMoralisRateLimitSec: "90",
	},
	"aggressive": {
		KeyPositionFraction:    "0.005",
		KeyPositionUSDCeil:     "5",
		KeyMaxSpendUSDPerDay:   "12",
		KeyMaxOpenPositions:    "3",
		KeyUSDProfitMin:        "0.005",
		KeyGasMaxFeeGwei:       "80",
		KeyGasPriorityGwei:     "2.0",
		KeyMoralisRateLimitSec: "60",
	},
}

// RiskProfile returns the settings written by the named profile,
// including RISK_PROFILE itself.
func RiskProfile(name string) (map[string]string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	profile, ok := riskProfiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown risk profile %q", ErrInvalidSetting, name)
	}
	out := make(map[string]string, len(profile)+1)
	for k, v := range profile {
		out[k] = v
	}
	out[KeyRiskProfile] = name
	return out, nil
}

// LowcapPolygonPreset points the bot at a few low-priced Polygon
// collections with balanced sizing.
func LowcapPolygonPreset() map[string]string {
	return map[string]string{
		KeyChain:             "polygon",
		KeyRPCURL:            "https://polygon-rpc.com",
		KeyRPCURLs:           `["https://polygon-rpc.com","https://rpc.ankr.com/polygon"]`,
		KeyPositionFraction:  "0.002",
		KeyPositionUSDCeil:   "3",
		KeyMaxSpendUSDPerDay: "6",
		KeyMaxOpenPositions:  "1",
		KeyUSDProfitMin:      "0.01",
		KeyGasMaxFeeGwei:     "60",
		KeyGasPriorityGwei:   "1.5",
		KeyRiskProfile:       "lowcap_polygon",
		KeyContracts:         `["0x67F4732266C7300cca593c814d46bee72e40659F","0x2b4a66557a79263275826ad31a4cddc2789334bd","0x86935F11C86623deC8a25696E1C19a8659CbF95d"]`,
	}
}
