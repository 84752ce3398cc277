package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionflow/models"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) string {
	return now.Add(-d).Format(models.TimestampLayout)
}

func sample() []models.Trade {
	return []models.Trade{
		{ID: "a", Timestamp: at(10 * time.Minute), Symbol: "AAPL", OptionLabel: "AAPL 180C", Type: "call", Price: 2, Quantity: 10, Strike: 180, IV: 0.30, Delta: 0.5, Gamma: 0.1, Theta: -0.2, Vega: 0.3, Rho: 0.05},
		{ID: "b", Timestamp: at(2 * time.Hour), Symbol: "TSLA", OptionLabel: "TSLA 200P", Type: "put", Price: 6, Quantity: 5, Strike: 200, IV: 0.60, Delta: -0.4, Gamma: 0.2, Theta: -0.4, Vega: 0.1, Rho: -0.05},
		{ID: "c", Timestamp: at(30 * time.Hour), Symbol: "AAPL", OptionLabel: "AAPL 190P", Type: "put", Price: 1, Quantity: 20, Strike: 190, IV: 0.45},
	}
}

func TestComputeEmpty(t *testing.T) {
	assert.Equal(t, models.Statistics{}, Compute(nil))
}

func TestCompute(t *testing.T) {
	stats := Compute(sample())

	assert.Equal(t, int64(35), stats.TotalVolume)
	assert.Equal(t, 3, stats.TradeCount)
	assert.InDelta(t, 3.0, stats.AvgPrice, 1e-9)
	assert.InDelta(t, 70.0, stats.TotalValue, 1e-9)
	assert.InDelta(t, 0.30, stats.IVSpread, 1e-9)

	// weights: a 20/70, b 30/70, c 20/70
	assert.InDelta(t, (0.5*20-0.4*30)/70, stats.WeightedGreeks.Delta, 1e-9)
	assert.InDelta(t, (0.1*20+0.2*30)/70, stats.WeightedGreeks.Gamma, 1e-9)
	assert.InDelta(t, (-0.2*20-0.4*30)/70, stats.WeightedGreeks.Theta, 1e-9)
	assert.InDelta(t, (0.3*20+0.1*30)/70, stats.WeightedGreeks.Vega, 1e-9)
	assert.InDelta(t, (0.05*20-0.05*30)/70, stats.WeightedGreeks.Rho, 1e-9)
}

func TestComputeZeroValue(t *testing.T) {
	stats := Compute([]models.Trade{{Price: 0, Quantity: 3, Delta: 1}})
	assert.Equal(t, int64(3), stats.TotalVolume)
	assert.Zero(t, stats.WeightedGreeks.Delta)
}

func ids(trades []models.Trade) []string {
	out := make([]string, 0, len(trades))
	for _, t := range trades {
		out = append(out, t.ID)
	}
	return out
}

func TestApplyDefaultsToNewestFirst(t *testing.T) {
	trades := sample()
	trades[0], trades[2] = trades[2], trades[0]

	assert.Equal(t, []string{"a", "b", "c"}, ids(Apply(trades, Query{}, now)))
	assert.Equal(t, "c", trades[0].ID, "input must not be reordered")
}

func TestApplyFilters(t *testing.T) {
	cases := []struct {
		name string
		q    Query
		want []string
	}{
		{"symbol substring", Query{Symbol: "aap"}, []string{"a", "c"}},
		{"option substring", Query{Option: "200p"}, []string{"b"}},
		{"type", Query{Type: "put"}, []string{"b", "c"}},
		{"price range", Query{MinPrice: 1.5, MaxPrice: 5}, []string{"a"}},
		{"quantity range", Query{MinQuantity: 6, MaxQuantity: 15}, []string{"a"}},
		{"strike", Query{MinStrike: 185}, []string{"b", "c"}},
		{"window 1h", Query{Window: "1h"}, []string{"a"}},
		{"window 4h", Query{Window: "4h"}, []string{"a", "b"}},
		{"window all", Query{Window: "all"}, []string{"a", "b", "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ids(Apply(sample(), tc.q, now)))
		})
	}
}

func TestApplySortAndLimit(t *testing.T) {
	got := Apply(sample(), Query{SortBy: "price", Order: "asc"}, now)
	assert.Equal(t, []string{"c", "a", "b"}, ids(got))

	got = Apply(sample(), Query{SortBy: "quantity"}, now)
	assert.Equal(t, []string{"c", "a", "b"}, ids(got))

	got = Apply(sample(), Query{SortBy: "symbol", Order: "asc", Limit: 2}, now)
	assert.Equal(t, []string{"a", "c"}, ids(got))
}

func TestQueryCheck(t *testing.T) {
	require.NoError(t, Query{Window: "24h", SortBy: "iv", Type: "call"}.Check())
	assert.Error(t, Query{Window: "2h"}.Check())
	assert.Error(t, Query{SortBy: "color"}.Check())
	assert.Error(t, Query{Type: "future"}.Check())
}
