package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Level is one discrete price level of an order book.
// On the wire it is a [price, size] tuple.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// MarshalJSON encodes the level as [price, size].
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]decimal.Decimal{l.Price, l.Size})
}

// UnmarshalJSON decodes a [price, size] tuple.
func (l *Level) UnmarshalJSON(data []byte) error {
	var tuple []decimal.Decimal
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("order book level: want [price, size], got %d elements", len(tuple))
	}
	l.Price, l.Size = tuple[0], tuple[1]
	return nil
}

// OrderBookSnapshot is a full replacement of a symbol's book.
// Bids are ordered price-descending, asks price-ascending.
type OrderBookSnapshot struct {
	Symbol    string    `json:"symbol"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks side ordering, non-negative sizes and unique prices per side.
func (b *OrderBookSnapshot) Validate() error {
	if err := validateSide("bid", b.Bids, func(prev, cur decimal.Decimal) bool { return cur.LessThan(prev) }); err != nil {
		return err
	}
	return validateSide("ask", b.Asks, func(prev, cur decimal.Decimal) bool { return cur.GreaterThan(prev) })
}

// validateSide requires strict ordering, which also rules out duplicate prices.
func validateSide(name string, levels []Level, ordered func(prev, cur decimal.Decimal) bool) error {
	for i, lvl := range levels {
		if lvl.Size.IsNegative() {
			return fmt.Errorf("%s level %d: negative size %s", name, i, lvl.Size)
		}
		if i > 0 && !ordered(levels[i-1].Price, lvl.Price) {
			return fmt.Errorf("%s level %d: price %s out of order after %s", name, i, lvl.Price, levels[i-1].Price)
		}
	}
	return nil
}
