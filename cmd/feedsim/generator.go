package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"optionflow/internal/wire"
	"optionflow/models"
)

type underlying struct {
	symbol  string
	stockID int64
	spot    float64
}

var underlyings = []underlying{
	{"AAPL", 1, 185},
	{"MSFT", 2, 410},
	{"NVDA", 3, 880},
	{"TSLA", 4, 175},
	{"SPY", 5, 515},
	{"AMZN", 6, 180},
}

// generator produces plausible option trades. It is not safe for concurrent
// use.
type generator struct {
	rnd *rand.Rand
	now func() time.Time
}

func newGenerator(seed int64, now func() time.Time) *generator {
	if now == nil {
		now = time.Now
	}
	return &generator{rnd: rand.New(rand.NewSource(seed)), now: now}
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// fields returns one trade keyed by the canonical camelCase names.
func (g *generator) fields() map[string]any {
	u := underlyings[g.rnd.Intn(len(underlyings))]
	kind := models.TradeTypeCall
	if g.rnd.Intn(2) == 1 {
		kind = models.TradeTypePut
	}

	// strikes land on 5 point increments around spot
	strike := float64(int((u.spot*(0.85+g.rnd.Float64()*0.3))/5) * 5)
	days := 7 * (1 + g.rnd.Intn(12))
	now := g.now().UTC()
	expiration := now.AddDate(0, 0, days).Truncate(24 * time.Hour)

	moneyness := (u.spot - strike) / u.spot
	if kind == models.TradeTypePut {
		moneyness = -moneyness
	}
	intrinsic := u.spot * moneyness
	if intrinsic < 0 {
		intrinsic = 0
	}
	price := round(intrinsic+u.spot*0.01*(1+g.rnd.Float64()*3), 2)

	delta := 0.5 + moneyness*2
	if delta > 0.99 {
		delta = 0.99
	}
	if delta < 0.01 {
		delta = 0.01
	}
	if kind == models.TradeTypePut {
		delta = -delta
	}

	label := fmt.Sprintf("%s %s %.0f%s", u.symbol, expiration.Format("Jan02"), strike, map[string]string{
		models.TradeTypeCall: "C",
		models.TradeTypePut:  "P",
	}[kind])

	return map[string]any{
		"id":         uuid.NewString(),
		"timestamp":  now.UnixMilli(),
		"stockId":    u.stockID,
		"symbol":     u.symbol,
		"option":     label,
		"price":      price,
		"quantity":   int64(1 + g.rnd.Intn(50)),
		"type":       kind,
		"strike":     strike,
		"expiration": expiration.Format(models.TimestampLayout),
		"iv":         round(0.15+g.rnd.Float64()*0.6, 4),
		"delta":      round(delta, 4),
		"gamma":      round(0.001+g.rnd.Float64()*0.05, 4),
		"theta":      round(-0.01-g.rnd.Float64()*0.3, 4),
		"vega":       round(0.01+g.rnd.Float64()*0.4, 4),
		"rho":        round((g.rnd.Float64()-0.5)*0.2, 4),
	}
}

// frame returns the next trade as a named or positional frame.
func (g *generator) frame(positional bool) wire.Frame {
	fields := g.fields()
	if !positional {
		return wire.Named(fields)
	}
	values := make([]any, len(wire.FieldOrder))
	for i, name := range wire.FieldOrder {
		values[i] = fields[name]
	}
	return wire.Positional(values)
}
