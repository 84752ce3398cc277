package analytics

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"optionflow/models"
)

var windows = map[string]time.Duration{
	"1h":      time.Hour,
	"4h":      4 * time.Hour,
	"24h":     24 * time.Hour,
	"day":     24 * time.Hour,
	"7d":      7 * 24 * time.Hour,
	"week":    7 * 24 * time.Hour,
	"30d":     30 * 24 * time.Hour,
	"month":   30 * 24 * time.Hour,
	"quarter": 90 * 24 * time.Hour,
}

var sortKeys = map[string]func(a, b models.Trade) int{
	"id":         func(a, b models.Trade) int { return strings.Compare(a.ID, b.ID) },
	"timestamp":  func(a, b models.Trade) int { return strings.Compare(a.Timestamp, b.Timestamp) },
	"stockId":    func(a, b models.Trade) int { return cmp.Compare(a.StockID, b.StockID) },
	"symbol":     func(a, b models.Trade) int { return strings.Compare(a.Symbol, b.Symbol) },
	"option":     func(a, b models.Trade) int { return strings.Compare(a.OptionLabel, b.OptionLabel) },
	"price":      func(a, b models.Trade) int { return cmp.Compare(a.Price, b.Price) },
	"quantity":   func(a, b models.Trade) int { return cmp.Compare(a.Quantity, b.Quantity) },
	"type":       func(a, b models.Trade) int { return strings.Compare(a.Type, b.Type) },
	"strike":     func(a, b models.Trade) int { return cmp.Compare(a.Strike, b.Strike) },
	"expiration": func(a, b models.Trade) int { return strings.Compare(a.Expiration, b.Expiration) },
	"iv":         func(a, b models.Trade) int { return cmp.Compare(a.IV, b.IV) },
	"delta":      func(a, b models.Trade) int { return cmp.Compare(a.Delta, b.Delta) },
	"gamma":      func(a, b models.Trade) int { return cmp.Compare(a.Gamma, b.Gamma) },
	"theta":      func(a, b models.Trade) int { return cmp.Compare(a.Theta, b.Theta) },
	"vega":       func(a, b models.Trade) int { return cmp.Compare(a.Vega, b.Vega) },
	"rho":        func(a, b models.Trade) int { return cmp.Compare(a.Rho, b.Rho) },
	"value":      func(a, b models.Trade) int { return cmp.Compare(a.Value(), b.Value()) },
}

// Query filters and orders a trade window. Zero bounds are ignored.
type Query struct {
	Symbol      string  `form:"symbol" json:"symbol,omitempty"`
	Option      string  `form:"option" json:"option,omitempty"`
	Type        string  `form:"type" json:"type,omitempty"`
	MinPrice    float64 `form:"minPrice" json:"minPrice,omitempty" binding:"gte=0"`
	MaxPrice    float64 `form:"maxPrice" json:"maxPrice,omitempty" binding:"gte=0"`
	MinQuantity int64   `form:"minQuantity" json:"minQuantity,omitempty" binding:"gte=0"`
	MaxQuantity int64   `form:"maxQuantity" json:"maxQuantity,omitempty" binding:"gte=0"`
	MinStrike   float64 `form:"minStrike" json:"minStrike,omitempty"`
	MaxStrike   float64 `form:"maxStrike" json:"maxStrike,omitempty"`
	Window      string  `form:"window" json:"window,omitempty"`
	SortBy      string  `form:"sortBy" json:"sortBy,omitempty"`
	Order       string  `form:"order" json:"order,omitempty" binding:"omitempty,oneof=asc desc"`
	Limit       int     `form:"limit" json:"limit,omitempty" binding:"gte=0"`
}

// Check rejects unknown windows and sort keys.
func (q Query) Check() error {
	if q.Window != "" && q.Window != "all" {
		if _, ok := windows[q.Window]; !ok {
			return fmt.Errorf("unsupported window '%s'", q.Window)
		}
	}
	if q.SortBy != "" {
		if _, ok := sortKeys[q.SortBy]; !ok {
			return fmt.Errorf("unsupported sort field '%s'", q.SortBy)
		}
	}
	if q.Type != "" && q.Type != "all" && q.Type != models.TradeTypeCall && q.Type != models.TradeTypePut {
		return fmt.Errorf("unsupported option type '%s'", q.Type)
	}
	return nil
}

// Apply returns a filtered, sorted copy of trades. The default order is newest
// timestamp first.
func Apply(trades []models.Trade, q Query, now time.Time) []models.Trade {
	symbol := strings.ToLower(q.Symbol)
	option := strings.ToLower(q.Option)
	var cutoff time.Time
	if d, ok := windows[q.Window]; ok {
		cutoff = now.Add(-d)
	}

	out := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		switch {
		case symbol != "" && !strings.Contains(strings.ToLower(t.Symbol), symbol):
		case option != "" && !strings.Contains(strings.ToLower(t.OptionLabel), option):
		case q.Type != "" && q.Type != "all" && t.Type != q.Type:
		case q.MinPrice > 0 && t.Price < q.MinPrice:
		case q.MaxPrice > 0 && t.Price > q.MaxPrice:
		case q.MinQuantity > 0 && t.Quantity < q.MinQuantity:
		case q.MaxQuantity > 0 && t.Quantity > q.MaxQuantity:
		case q.MinStrike > 0 && t.Strike < q.MinStrike:
		case q.MaxStrike > 0 && t.Strike > q.MaxStrike:
		case !cutoff.IsZero() && t.Time().Before(cutoff):
		default:
			out = append(out, t)
		}
	}

	by, ok := sortKeys[q.SortBy]
	if !ok {
		by = sortKeys["timestamp"]
	}
	desc := q.Order != "asc"
	slices.SortStableFunc(out, func(a, b models.Trade) int {
		if desc {
			return by(b, a)
		}
		return by(a, b)
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
