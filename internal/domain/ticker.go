package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is the latest top-of-book and last-trade summary for one symbol.
// A zero Bid or Ask means the side is absent.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

var two = decimal.NewFromInt(2)

// Mid returns the midpoint of bid and ask, or nil if either side is missing.
func (t *Ticker) Mid() *decimal.Decimal {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return nil
	}
	mid := t.Bid.Add(t.Ask).Div(two)
	return &mid
}

// MarkPrice returns the price used to mark positions: last trade, else mid.
func (t *Ticker) MarkPrice() (decimal.Decimal, bool) {
	if t.Last.IsPositive() {
		return t.Last, true
	}
	if mid := t.Mid(); mid != nil {
		return *mid, true
	}
	return decimal.Zero, false
}

// Crossed reports a book where ask < bid, which a well-formed ticker never has.
func (t *Ticker) Crossed() bool {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return false
	}
	return t.Ask.LessThan(t.Bid)
}

// SpreadPct calculates 100 * (Ask - Bid) / Ask.
func (t *Ticker) SpreadPct() *decimal.Decimal {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return nil
	}
	pct := t.Ask.Sub(t.Bid).Div(t.Ask).Mul(hundred)
	return &pct
}
