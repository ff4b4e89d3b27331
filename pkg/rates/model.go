package rates

import (
	"github.com/shopspring/decimal"
	"time"
)

// LatestResponse of the fiat rates endpoint. Keyed and open plans differ
// only in the name of the rates field.
type LatestResponse struct {
	Result          string                     `json:"result"`
	BaseCode        string                     `json:"base_code"`
	Rates           map[string]decimal.Decimal `json:"rates"`
	ConversionRates map[string]decimal.Decimal `json:"conversion_rates"`
	ErrorType       string                     `json:"error-type,omitempty"`
}

func (r *LatestResponse) table() map[string]decimal.Decimal {
	if len(r.Rates) > 0 {
		return r.Rates
	}
	return r.ConversionRates
}

// SimplePriceResponse maps asset id to vs currency to price.
type SimplePriceResponse map[string]map[string]decimal.Decimal

type Quote struct {
	From      string
	To        string
	Rate      decimal.Decimal
	FetchedAt time.Time
}

type fiatTable struct {
	rates     map[string]decimal.Decimal
	fetchedAt time.Time
}

type cryptoPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}
