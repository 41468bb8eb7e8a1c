package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ToMinor converts a decimal currency amount to minor units, rounding half away from zero.
// Accumulated floating point error is absorbed here rather than by approximate comparisons.
func ToMinor(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinor converts minor units back to a decimal amount.
func FromMinor(minor int64) float64 {
	return float64(minor) / 100
}

// ParseDecimal parses a decimal string such as "21", "21.5" or "$2,000.00" into minor units.
func ParseDecimal(raw string) (int64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimLeft(cleaned, "$€£¥")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("domain: empty amount")
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("domain: invalid amount %q: %w", raw, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("domain: invalid amount %q", raw)
	}
	return ToMinor(value), nil
}

// ParseMinorPrice decodes a JSON price that is either integer minor units (2100) or a quoted
// decimal string ("21.00").
func ParseMinorPrice(raw json.RawMessage) (int64, error) {
	var minor int64
	if err := json.Unmarshal(raw, &minor); err == nil {
		return minor, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("domain: invalid price %s: %w", raw, err)
	}
	return ParseDecimal(text)
}

// FormatMoney renders minor units with the currency symbol, e.g. "$21.00".
// Display values never go below zero.
func FormatMoney(minor int64, symbol string) string {
	if minor < 0 {
		minor = 0
	}
	if symbol == "" {
		symbol = "$"
	}
	return fmt.Sprintf("%s%s.%02d", symbol, thousandSep(minor/100), minor%100)
}

func thousandSep(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
