package domain

import "github.com/shopspring/decimal"

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is an open position held by the account.
type Position struct {
	Symbol           string           `json:"symbol"`
	Size             decimal.Decimal  `json:"size"`
	EntryPrice       decimal.Decimal  `json:"entryPrice"`
	MarkPrice        decimal.Decimal  `json:"markPrice"`
	LiquidationPrice *decimal.Decimal `json:"liquidationPrice,omitempty"`
	Margin           decimal.Decimal  `json:"margin"`
	UnrealizedPnL    decimal.Decimal  `json:"unrealizedPnL"`
	RealizedPnL      decimal.Decimal  `json:"realizedPnL"`
	PnLPercentage    decimal.Decimal  `json:"pnlPercentage"`
	Side             PositionSide     `json:"side"`
}

// Revalue marks the position at price and recomputes the unrealized figures.
//   - long:  (mark - entry) * size
//   - short: (entry - mark) * size
func (p *Position) Revalue(mark decimal.Decimal) {
	p.MarkPrice = mark

	diff := mark.Sub(p.EntryPrice)
	if p.Side == PositionShort {
		diff = diff.Neg()
	}
	p.UnrealizedPnL = diff.Mul(p.Size)

	notional := p.EntryPrice.Mul(p.Size)
	if notional.IsZero() {
		p.PnLPercentage = decimal.Zero
		return
	}
	p.PnLPercentage = p.UnrealizedPnL.Div(notional).Mul(hundred)
}

// TotalPnL is realized plus unrealized for this position.
func (p *Position) TotalPnL() decimal.Decimal {
	return p.UnrealizedPnL.Add(p.RealizedPnL)
}
