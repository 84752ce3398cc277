package models

// Greeks holds option sensitivities.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// Statistics summarises a set of trades.
type Statistics struct {
	TotalVolume    int64   `json:"totalVolume"`
	AvgPrice       float64 `json:"avgPrice"`
	TotalValue     float64 `json:"totalValue"`
	IVSpread       float64 `json:"ivSpread"`
	WeightedGreeks Greeks  `json:"weightedGreeks"`
	TradeCount     int     `json:"tradeCount"`
}
