package market

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Provider records name the same field differently across endpoints and
// versions. The helpers below take an ordered alias list and return the
// first usable value.

func object(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func list(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// field returns the first non-nil value among aliases.
func field(m map[string]any, aliases ...string) any {
	for _, key := range aliases {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func text(m map[string]any, aliases ...string) string {
	for _, key := range aliases {
		if s, ok := m[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// positive returns the first alias holding a number greater than zero.
func positive(m map[string]any, aliases ...string) (float64, bool) {
	for _, key := range aliases {
		if f, ok := number(m[key]); ok && f > 0 {
			return f, true
		}
	}
	return 0, false
}

// number accepts JSON numbers and decimal strings, which providers use
// for wei amounts that overflow float-safe integers.
func number(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}

func wholeNumber(v any, fallback int) int {
	if f, ok := number(v); ok && f >= 0 {
		return int(f)
	}
	return fallback
}
