package service

import "venue_sync/internal/domain"

// DefaultTradeCapacity is the number of trades kept per symbol.
const DefaultTradeCapacity = 100

// TradeRing keeps the N most recent trades by arrival.
// Order is by arrival, never by timestamp.
type TradeRing struct {
	buf   []domain.Trade
	start int
	n     int
}

// NewTradeRing creates a ring holding at most capacity trades.
func NewTradeRing(capacity int) *TradeRing {
	if capacity <= 0 {
		capacity = DefaultTradeCapacity
	}
	return &TradeRing{buf: make([]domain.Trade, capacity)}
}

// Push appends t, evicting the oldest trade when full.
func (r *TradeRing) Push(t domain.Trade) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = t
		r.n++
		return
	}
	r.buf[r.start] = t
	r.start = (r.start + 1) % len(r.buf)
}

// PrependOlder places history behind the trades already held. History
// entries whose id is already held are skipped. If the total exceeds
// capacity the oldest history entries are dropped.
func (r *TradeRing) PrependOlder(history []domain.Trade) {
	if len(history) == 0 {
		return
	}
	current := r.Items()
	held := make(map[string]struct{}, len(current))
	for _, t := range current {
		if t.ID != "" {
			held[t.ID] = struct{}{}
		}
	}

	r.Reset()
	for _, t := range history {
		if _, dup := held[t.ID]; dup && t.ID != "" {
			continue
		}
		r.Push(t)
	}
	for _, t := range current {
		r.Push(t)
	}
}

// Items returns a copy of the held trades, oldest first.
func (r *TradeRing) Items() []domain.Trade {
	out := make([]domain.Trade, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *TradeRing) Len() int { return r.n }

func (r *TradeRing) Cap() int { return len(r.buf) }

// Reset drops every trade.
func (r *TradeRing) Reset() {
	clear(r.buf)
	r.start = 0
	r.n = 0
}
