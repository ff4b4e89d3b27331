package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"time"
)

type Transaction struct {
	ID              uuid.UUID       `json:"id"`
	SenderID        string          `json:"senderId"`
	ReceiverID      string          `json:"receiverId"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        Currency        `json:"currency"`
	Status          Status          `json:"status"`
	Timestamp       time.Time       `json:"timestamp"`
	TransactionHash string          `json:"transactionHash,omitempty"`
	Metadata        *Metadata       `json:"metadata,omitempty"`
}

type Metadata struct {
	Description string   `json:"description,omitempty" validate:"max=256"`
	Category    string   `json:"category,omitempty" validate:"max=64"`
	Tags        []string `json:"tags,omitempty" validate:"max=16,dive,max=32"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Direction of a transaction relative to an account.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

func (d Direction) Valid() bool {
	return d == DirectionSent || d == DirectionReceived
}

const CategoryExchange = "exchange"
