package model

import (
	"github.com/shopspring/decimal"
	"time"
)

// Account is the authenticated caller, identified by the credential subject.
type Account struct {
	ID string `json:"id"`
}

type Balance struct {
	Address  string          `json:"address"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type Quote struct {
	From      Currency        `json:"from"`
	To        Currency        `json:"to"`
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetchedAt"`
}
