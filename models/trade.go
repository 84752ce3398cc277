package models

import "time"

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// TRADE ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// TimestampLayout is the ISO-8601 layout every normalized timestamp uses.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Trade is one normalized options-trade event. Values are immutable once stored.
type Trade struct {
	ID          string  `json:"id"`
	Timestamp   string  `json:"timestamp"`
	StockID     int64   `json:"stockId"`
	Symbol      string  `json:"symbol"`
	OptionLabel string  `json:"optionLabel"`
	Price       float64 `json:"price"`
	Quantity    int64   `json:"quantity"`
	Type        string  `json:"type"`
	Strike      float64 `json:"strike"`
	Expiration  string  `json:"expiration"`
	IV          float64 `json:"iv"`
	Delta       float64 `json:"delta"`
	Gamma       float64 `json:"gamma"`
	Theta       float64 `json:"theta"`
	Vega        float64 `json:"vega"`
	Rho         float64 `json:"rho"`
}

// Time parses the trade timestamp. The zero time is returned for values the
// normalizer did not produce.
func (t Trade) Time() time.Time {
	ts, err := time.Parse(time.RFC3339Nano, t.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// Value is the notional of the trade.
func (t Trade) Value() float64 {
	return t.Price * float64(t.Quantity)
}

// Trade types expected on the feed. Other values are stored as received.
const (
	TradeTypeCall = "call"
	TradeTypePut  = "put"
)

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// BATCH ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// TradeBatch groups trades removed from the retention window in one reset.
type TradeBatch struct {
	BatchID     string    `json:"batch_id"`
	Reason      string    `json:"reason"`
	Trades      []Trade   `json:"trades"`
	RecordCount int       `json:"record_count"`
	Timestamp   time.Time `json:"timestamp"`
}
