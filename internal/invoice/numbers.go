package invoice

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"invoicepipe/pkg/models"
)

// numberNoise is removed from numeric strings before parsing: thousands separators,
// whitespace and the currency markers seen on supported invoices.
var numberNoise = strings.NewReplacer(
	",", "",
	" ", "",
	"\u00a0", "",
	"\t", "",
	"₹", "",
	"$", "",
	"€", "",
	"£", "",
)

var currencyPrefixes = []string{"inr", "rs.", "rs"}

// ParseNumberOrDefault coerces an extractor-supplied value into a finite float64.
//
// Accepted inputs are Go numeric kinds, json.Number, models.Value and numeric strings
// (thousands separators, currency symbols, an "Rs."/"INR" prefix and surrounding
// whitespace are ignored). Anything else, including nil, booleans, NaN, infinities and
// unparsable strings, yields def.
func ParseNumberOrDefault(value any, def float64) float64 {
	var f float64
	switch v := value.(type) {
	case nil:
		return def
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return def
		}
		f = parsed
	case string:
		return parseNumericString(v, def)
	case models.Text:
		return parseNumericString(string(v), def)
	case models.Value:
		return ParseNumberOrDefault(v.Raw(), def)
	default:
		return def
	}

	if !finite(f) {
		return def
	}
	return f
}

func parseNumericString(s string, def float64) float64 {
	s = strings.ToLower(numberNoise.Replace(strings.TrimSpace(s)))
	for _, prefix := range currencyPrefixes {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	if s == "" {
		return def
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(f) {
		return def
	}
	return f
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
