package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ParsePrice strips currency symbols and separators and parses what is left.
// Anything unparseable is zero.
func ParsePrice(v any) decimal.Decimal {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(x).Abs()
	case int:
		return decimal.NewFromInt(int64(x)).Abs()
	case int64:
		return decimal.NewFromInt(x).Abs()
	case json.Number:
		return ParsePrice(string(x))
	case decimal.Decimal:
		return x.Abs()
	case string:
		var b strings.Builder
		for _, r := range x {
			if (r >= '0' && r <= '9') || r == '.' {
				b.WriteRune(r)
			}
		}
		d, err := decimal.NewFromString(b.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return decimal.Zero
}

// FormatPrice renders d as "$" followed by exactly two decimals.
func FormatPrice(d decimal.Decimal) string {
	return "$" + d.Abs().StringFixed(2)
}

// looseText renders a loosely typed scalar the way it would print in a
// template: numbers in shortest form, nil as empty.
func looseText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return string(x)
	case decimal.Decimal:
		return x.String()
	}
	return ""
}
