package connectors

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

// parseDec parses a venue numeric string tolerantly. Venues routinely send
// "", "0" or omit fields; all of those decode to zero.
func parseDec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// anyDec coerces the mixed string/float values venues put in JSON arrays.
func anyDec(v any) decimal.Decimal {
	switch t := v.(type) {
	case string:
		return parseDec(t)
	case float64:
		return decimal.NewFromFloat(t)
	case json.Number:
		return parseDec(t.String())
	case int64:
		return decimal.NewFromInt(t)
	default:
		return decimal.Zero
	}
}

// anyFloat mirrors anyDec for plain float fields.
func anyFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}
