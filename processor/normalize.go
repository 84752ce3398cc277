package processor

import (
	"fmt"
	"math"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"optionflow/internal/wire"
	"optionflow/models"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// Normalize coerces rec into a Trade. It never fails: unusable numbers become
// 0, unusable dates become now and absent strings become empty.
func Normalize(rec wire.Record, now time.Time) models.Trade {
	field := func(name string) any {
		v, _ := rec.Lookup(name)
		return v
	}

	price := toFloat(field("price"))
	if price < 0 {
		price = 0
	}

	return models.Trade{
		ID:          toString(field("id")),
		Timestamp:   toDate(field("timestamp"), now),
		StockID:     toInt(field("stockId")),
		Symbol:      toString(field("symbol")),
		OptionLabel: toString(optionField(rec)),
		Price:       price,
		Quantity:    toInt(field("quantity")),
		Type:        strings.ToLower(toString(field("type"))),
		Strike:      toFloat(field("strike")),
		Expiration:  toDate(field("expiration"), now),
		IV:          toFloat(field("iv")),
		Delta:       toFloat(field("delta")),
		Gamma:       toFloat(field("gamma")),
		Theta:       toFloat(field("theta")),
		Vega:        toFloat(field("vega")),
		Rho:         toFloat(field("rho")),
	}
}

// the wire calls it option, already-normalized payloads call it optionLabel
func optionField(rec wire.Record) any {
	if v, ok := rec.Lookup("option"); ok {
		return v
	}
	v, _ := rec.Lookup("optionLabel")
	return v
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	case float64:
		return decimal.NewFromFloat(val).String()
	case float32:
		return decimal.NewFromFloat32(val).String()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
		return fmt.Sprint(val)
	default:
		return ""
	}
}

func toFloat(v any) float64 {
	f, ok := numeric(v, true)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func toInt(v any) int64 {
	f := toFloat(v)
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}

// numeric unwraps numbers, numeric strings and {"value": x} wrappers. The
// wrapper is only unwrapped once.
func numeric(v any, unwrap bool) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		return parseDecimal(string(val))
	case string:
		return parseDecimal(val)
	case decimal.Decimal:
		return val.InexactFloat64(), true
	case map[string]any:
		if !unwrap {
			return 0, false
		}
		if inner, ok := val["value"]; ok {
			return numeric(inner, false)
		}
		if inner, ok := val["Value"]; ok {
			return numeric(inner, false)
		}
		return 0, false
	default:
		return 0, false
	}
}

// parseDecimal accepts a leading numeric prefix the way parseFloat does, so
// "12.5 USD" reads as 12.5.
func parseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d.InexactFloat64(), true
	}
	end := numericPrefix(s)
	if end == 0 {
		return 0, false
	}
	d, err := decimal.NewFromString(s[:end])
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

func numericPrefix(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
			frac++
		}
		if frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return 0
	}
	return i
}

func toDate(v any, now time.Time) string {
	if t, ok := parseDate(v); ok {
		return formatTime(t)
	}
	return formatTime(now)
}

func parseDate(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, !val.IsZero()
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if ms, ok := parseDecimal(s); ok && numericPrefix(s) == len(s) {
			return fromMillis(ms)
		}
		return time.Time{}, false
	case map[string]any:
		return time.Time{}, false
	case nil:
		return time.Time{}, false
	default:
		f, ok := numeric(val, false)
		if !ok {
			return time.Time{}, false
		}
		return fromMillis(f)
	}
}

// maxDateMillis bounds the representable calendar range to +-275760 years.
const maxDateMillis = 8.64e15

func fromMillis(ms float64) (time.Time, bool) {
	if math.IsNaN(ms) || math.Abs(ms) > maxDateMillis {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}

func formatTime(t time.Time) string {
	return t.UTC().Format(models.TimestampLayout)
}
