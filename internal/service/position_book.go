package service

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"venue_sync/internal/domain"
	"venue_sync/internal/event"
	"venue_sync/pkg/clock"

	"github.com/shopspring/decimal"
)

// PositionBook holds open positions and derives account PnL from them.
// Every method must run on the engine loop.
//
// Daily PnL policy: the baseline is the total PnL held just before the
// first mutation on or after the trading-day boundary in the configured
// location. The very first mutation seeds the baseline with the resulting
// total, so loading a book never shows up as daily PnL. DailyPnL is total
// minus the baseline and reads zero until the book changes within a new day.
type PositionBook struct {
	positions map[string]*domain.Position
	clock     clock.Clock
	loc       *time.Location
	logger    *slog.Logger

	dayStart time.Time
	baseline decimal.Decimal
	hasDay   bool

	sub      *event.Subscription
	onChange func()
}

// NewPositionBook creates an empty book. A nil location means UTC.
func NewPositionBook(clk clock.Clock, loc *time.Location) *PositionBook {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PositionBook{
		positions: make(map[string]*domain.Position),
		clock:     clk,
		loc:       loc,
		logger:    slog.Default().With("module", "positions"),
	}
}

// Attach marks positions from MARKET_DATA of every symbol.
func (b *PositionBook) Attach(sub event.Subscriber) {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	b.sub = sub.Subscribe(event.TypeMarketData, func(env *event.Envelope) {
		t, err := event.Decode[domain.Ticker](env)
		if err != nil {
			b.logger.Warn("Dropping malformed market data", slog.Any("error", err))
			return
		}
		symbol := eventSymbol(env, t.Symbol)
		if mark, ok := t.MarkPrice(); ok {
			b.ApplyMark(symbol, mark)
		}
	})
}

// Detach drops the MARKET_DATA subscription.
func (b *PositionBook) Detach() {
	if b.sub != nil {
		b.sub.Unsubscribe()
		b.sub = nil
	}
}

// OnChange registers fn to run after every mutation.
func (b *PositionBook) OnChange(fn func()) {
	b.onChange = fn
}

// Set replaces the whole book.
func (b *PositionBook) Set(positions []domain.Position) {
	b.rollDay()
	b.positions = make(map[string]*domain.Position, len(positions))
	for i := range positions {
		p := positions[i]
		b.positions[p.Symbol] = &p
	}
	b.mutated()
}

// Upsert inserts or replaces the position for p.Symbol.
func (b *PositionBook) Upsert(p domain.Position) {
	b.rollDay()
	b.positions[p.Symbol] = &p
	b.mutated()
}

// Close removes the position for symbol locally.
func (b *PositionBook) Close(symbol string) bool {
	if _, ok := b.positions[symbol]; !ok {
		return false
	}
	b.rollDay()
	delete(b.positions, symbol)
	b.mutated()
	return true
}

// UpdateLeverage recomputes margin as size * mark / leverage.
func (b *PositionBook) UpdateLeverage(symbol string, leverage decimal.Decimal) error {
	if !leverage.IsPositive() {
		return fmt.Errorf("leverage must be positive, got %s", leverage)
	}
	p, ok := b.positions[symbol]
	if !ok {
		return fmt.Errorf("position %s: %w", symbol, domain.ErrPositionNotFound)
	}
	b.rollDay()
	p.Margin = p.Size.Mul(p.MarkPrice).Div(leverage)
	b.mutated()
	return nil
}

// ApplyMark refreshes the mark price of symbol; unknown symbols are ignored.
func (b *PositionBook) ApplyMark(symbol string, mark decimal.Decimal) {
	p, ok := b.positions[symbol]
	if !ok {
		return
	}
	b.rollDay()
	p.Revalue(mark)
	b.mutated()
}

// Position returns a copy of the position for symbol.
func (b *PositionBook) Position(symbol string) (domain.Position, bool) {
	p, ok := b.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Positions returns copies sorted by symbol.
func (b *PositionBook) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// TotalPnL is the sum of unrealized and realized PnL over all positions.
func (b *PositionBook) TotalPnL() decimal.Decimal {
	total := decimal.Zero
	for _, p := range b.positions {
		total = total.Add(p.TotalPnL())
	}
	return total
}

// DailyPnL is TotalPnL minus the baseline captured for the current day.
func (b *PositionBook) DailyPnL() decimal.Decimal {
	if !b.hasDay || !b.dayStart.Equal(b.startOfDay(b.clock.Now())) {
		return decimal.Zero
	}
	return b.TotalPnL().Sub(b.baseline)
}

// rollDay captures the pre-mutation total when a day boundary was crossed.
func (b *PositionBook) rollDay() {
	if !b.hasDay {
		return
	}
	day := b.startOfDay(b.clock.Now())
	if day.Equal(b.dayStart) {
		return
	}
	b.dayStart = day
	b.baseline = b.TotalPnL()
	b.logger.Info("Daily PnL baseline reset",
		slog.Time("day", day),
		slog.String("baseline", b.baseline.String()),
	)
}

func (b *PositionBook) mutated() {
	if !b.hasDay {
		b.hasDay = true
		b.dayStart = b.startOfDay(b.clock.Now())
		b.baseline = b.TotalPnL()
	}
	if b.onChange != nil {
		b.onChange()
	}
}

func (b *PositionBook) startOfDay(t time.Time) time.Time {
	local := t.In(b.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, b.loc)
}
