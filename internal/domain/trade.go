package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one print on the public tape.
type Trade struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Side      Side            `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
}
