package model

type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	JPY Currency = "JPY"
	CNY Currency = "CNY"
	BRL Currency = "BRL"
	RUB Currency = "RUB"
	INR Currency = "INR"
	ZAR Currency = "ZAR"
)

var supportedCurrencies = map[Currency]struct{}{
	USD: {}, EUR: {}, GBP: {}, JPY: {}, CNY: {},
	BRL: {}, RUB: {}, INR: {}, ZAR: {},
}

// SupportedCurrencies in display order
func SupportedCurrencies() []Currency {
	return []Currency{USD, EUR, GBP, JPY, CNY, BRL, RUB, INR, ZAR}
}

func (c Currency) Supported() bool {
	_, ok := supportedCurrencies[c]
	return ok
}
