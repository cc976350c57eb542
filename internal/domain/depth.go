package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// DepthLevel is a price level with its running cumulative size.
// Percentage is Total relative to the larger side's full size, 0..100.
type DepthLevel struct {
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Total      decimal.Decimal `json:"total"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Depth is the cumulative view of an order book.
// Spread and SpreadPct are nil when either side is empty.
type Depth struct {
	Bids      []DepthLevel     `json:"bids"`
	Asks      []DepthLevel     `json:"asks"`
	Spread    *decimal.Decimal `json:"spread,omitempty"`
	SpreadPct *decimal.Decimal `json:"spread_pct,omitempty"`
}

// AggregateDepth turns raw levels into cumulative depth curves plus spread.
// Bids are scanned in their given price-descending order and asks in their
// price-ascending order, each accumulated independently.
func AggregateDepth(book OrderBookSnapshot) Depth {
	scale := decimal.Max(sumSizes(book.Bids), sumSizes(book.Asks))

	depth := Depth{
		Bids: accumulate(book.Bids, scale),
		Asks: accumulate(book.Asks, scale),
	}

	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return depth
	}

	bestBid, bestAsk := book.Bids[0].Price, book.Asks[0].Price
	spread := bestAsk.Sub(bestBid)
	depth.Spread = &spread
	if !bestAsk.IsZero() {
		pct := spread.Div(bestAsk).Mul(hundred)
		depth.SpreadPct = &pct
	}
	return depth
}

func sumSizes(levels []Level) decimal.Decimal {
	sum := decimal.Zero
	for _, lvl := range levels {
		sum = sum.Add(lvl.Size)
	}
	return sum
}

func accumulate(levels []Level, scale decimal.Decimal) []DepthLevel {
	out := make([]DepthLevel, 0, len(levels))
	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Size)
		pct := decimal.Zero
		if !scale.IsZero() {
			pct = total.Div(scale).Mul(hundred)
		}
		out = append(out, DepthLevel{
			Price:      lvl.Price,
			Size:       lvl.Size,
			Total:      total,
			Percentage: pct,
		})
	}
	return out
}
