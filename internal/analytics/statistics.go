// Package analytics derives summary statistics and filtered views from the
// retained trade window.
package analytics

import (
	"math"

	"optionflow/models"
)

// Compute summarises trades. Greeks are weighted by each trade's share of the
// total traded value. An empty set yields zero statistics.
func Compute(trades []models.Trade) models.Statistics {
	if len(trades) == 0 {
		return models.Statistics{}
	}

	var (
		stats    models.Statistics
		priceSum float64
		minIV    = math.Inf(1)
		maxIV    = math.Inf(-1)
	)
	for _, t := range trades {
		stats.TotalVolume += t.Quantity
		priceSum += t.Price
		stats.TotalValue += t.Value()
		minIV = math.Min(minIV, t.IV)
		maxIV = math.Max(maxIV, t.IV)
	}
	stats.TradeCount = len(trades)
	stats.AvgPrice = priceSum / float64(len(trades))
	stats.IVSpread = maxIV - minIV

	if stats.TotalValue != 0 {
		for _, t := range trades {
			w := t.Value() / stats.TotalValue
			stats.WeightedGreeks.Delta += t.Delta * w
			stats.WeightedGreeks.Gamma += t.Gamma * w
			stats.WeightedGreeks.Theta += t.Theta * w
			stats.WeightedGreeks.Vega += t.Vega * w
			stats.WeightedGreeks.Rho += t.Rho * w
		}
	}
	return stats
}
