package strategy

import "strings"

type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

const (
	Undercut   = "undercut"
	MeanRevert = "mean_revert"
	Momentum   = "momentum"
	Hybrid     = "hybrid"
)

// Names lists the built-in strategies in display order.
var Names = []string{Undercut, MeanRevert, Momentum, Hybrid}

// Normalize maps user spellings such as "Mean-Revert" to a canonical
// strategy name. Unknown names are returned lowercased.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer("-", "_", " ", "_").Replace(name)
	switch name {
	case "meanrevert", "mean_reversion", "revert":
		return MeanRevert
	case "mom":
		return Momentum
	}
	return name
}

func ParseMode(raw string) Mode {
	if strings.EqualFold(strings.TrimSpace(raw), string(ModeManual)) {
		return ModeManual
	}
	return ModeAuto
}
