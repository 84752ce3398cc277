package processor

import (
	"math"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionflow/internal/wire"
)

func completeRecord() wire.Record {
	return wire.Record{
		"id":        "t-1",
		"timestamp": "2024-03-01T14:30:00Z",
		"symbol":    "AAPL",
		"price":     2.35,
		"quantity":  10,
		"type":      "call",
	}
}

func TestValidateAcceptsCompleteRecord(t *testing.T) {
	assert.NoError(t, Validate(completeRecord(), KeyStyleEither))
	assert.NoError(t, Validate(completeRecord(), KeyStyleCamel))
}

func TestValidateZeroValuesArePresent(t *testing.T) {
	rec := completeRecord()
	rec["price"] = 0
	rec["quantity"] = json.Number("0")
	assert.NoError(t, Validate(rec, KeyStyleEither))
}

func TestValidateReportsMissingFields(t *testing.T) {
	rec := completeRecord()
	delete(rec, "symbol")
	rec["type"] = ""
	rec["id"] = nil

	err := Validate(rec, KeyStyleEither)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"id", "symbol", "type"}, verr.Missing)
}

func TestValidateKeyStyles(t *testing.T) {
	rec := wire.Record{}
	for k, v := range completeRecord() {
		rec[wire.Capitalize(k)] = v
	}

	assert.NoError(t, Validate(rec, KeyStyleEither))
	assert.NoError(t, Validate(rec, KeyStyleCapitalized))
	assert.Error(t, Validate(rec, KeyStyleCamel))
	assert.Error(t, Validate(completeRecord(), KeyStyleCapitalized))
}

func TestParseKeyStyle(t *testing.T) {
	cases := map[string]KeyStyle{
		"":            KeyStyleEither,
		"either":      KeyStyleEither,
		"Camel":       KeyStyleCamel,
		"capitalized": KeyStyleCapitalized,
		"pascal":      KeyStyleCapitalized,
	}
	for in, want := range cases {
		got, err := ParseKeyStyle(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseKeyStyle("snake")
	assert.Error(t, err)
}

func TestNormalizeCoercesFields(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := wire.Record{
		"id":         json.Number("123"),
		"timestamp":  json.Number("1700000000000"),
		"stockId":    "42",
		"symbol":     "SPY",
		"option":     "SPY 240621C00500000",
		"price":      "12.5 USD",
		"quantity":   "abc",
		"type":       "CALL",
		"strike":     500,
		"expiration": "2024-06-21",
		"iv":         map[string]any{"value": 0.3},
		"delta":      map[string]any{"value": map[string]any{"value": 1}},
		"gamma":      "NaN",
		"theta":      math.Inf(1),
		"vega":       float32(0.5),
		"rho":        nil,
	}

	tr := Normalize(rec, now)
	assert.Equal(t, "123", tr.ID)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", tr.Timestamp)
	assert.Equal(t, int64(42), tr.StockID)
	assert.Equal(t, "SPY 240621C00500000", tr.OptionLabel)
	assert.Equal(t, 12.5, tr.Price)
	assert.Zero(t, tr.Quantity)
	assert.Equal(t, "call", tr.Type)
	assert.Equal(t, 500.0, tr.Strike)
	assert.Equal(t, "2024-06-21T00:00:00.000Z", tr.Expiration)
	assert.Equal(t, 0.3, tr.IV)
	assert.Zero(t, tr.Delta)
	assert.Zero(t, tr.Gamma)
	assert.Zero(t, tr.Theta)
	assert.Equal(t, 0.5, tr.Vega)
	assert.Zero(t, tr.Rho)
}

func TestNormalizeFallsBackToNow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := completeRecord()
	rec["timestamp"] = "yesterday"
	rec["price"] = -4
	rec["optionLabel"] = "AAPL C"

	tr := Normalize(rec, now)
	assert.Equal(t, "2024-05-01T12:00:00.000Z", tr.Timestamp)
	assert.Equal(t, "2024-05-01T12:00:00.000Z", tr.Expiration)
	assert.Zero(t, tr.Price)
	assert.Equal(t, "AAPL C", tr.OptionLabel)
}

func TestNormalizeCapitalizedKeys(t *testing.T) {
	rec := wire.Record{"Id": "X", "Symbol": "QQQ", "Price": "1.25", "Type": "Put", "Option": "QQQ P"}
	tr := Normalize(rec, time.Now())
	assert.Equal(t, "X", tr.ID)
	assert.Equal(t, "QQQ", tr.Symbol)
	assert.Equal(t, 1.25, tr.Price)
	assert.Equal(t, "put", tr.Type)
	assert.Equal(t, "QQQ P", tr.OptionLabel)
}

func TestNormalizeCapitalizedAcronymFields(t *testing.T) {
	rec := wire.Record{
		"Id":        "t-9",
		"Timestamp": "2024-03-01T14:30:00Z",
		"StockId":   7,
		"Symbol":    "AAPL",
		"Price":     2.5,
		"Quantity":  3,
		"Type":      "call",
		"IV":        0.35,
		"Delta":     0.5,
	}
	require.NoError(t, Validate(rec, KeyStyleCapitalized))

	tr := Normalize(rec, time.Now())
	assert.Equal(t, 0.35, tr.IV)
	assert.Equal(t, 0.5, tr.Delta)
	assert.Equal(t, int64(7), tr.StockID)
}

func TestNormalizeIntegerBounds(t *testing.T) {
	rec := completeRecord()
	rec["quantity"] = "9223372036854775808"
	rec["stockId"] = json.Number("-10000000000000000000")
	tr := Normalize(rec, time.Now())
	assert.Zero(t, tr.Quantity)
	assert.Zero(t, tr.StockID)

	rec["quantity"] = json.Number("9007199254740992")
	tr = Normalize(rec, time.Now())
	assert.Equal(t, int64(9007199254740992), tr.Quantity)
}
