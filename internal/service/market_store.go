package service

import (
	"context"
	"log/slog"
	"time"

	"venue_sync/internal/domain"
	"venue_sync/internal/event"
	"venue_sync/internal/infra"
)

// StoreOptions tunes a MarketStore.
type StoreOptions struct {
	TradeCapacity int
	FetchTimeout  time.Duration
	Metrics       *infra.Metrics
}

// MarketStore is the state of the active symbol: ticker, book and trade tape.
// It merges stream events with REST snapshots and discards anything tagged
// with an older selection. Every method must run on the engine loop.
type MarketStore struct {
	subscriber event.Subscriber
	source     domain.SnapshotSource
	poster     domain.Poster
	orders     *OrderManager
	metrics    *infra.Metrics
	logger     *slog.Logger

	fetchTimeout time.Duration

	current     domain.SubscriptionContext
	subs        []*event.Subscription
	cancelFetch context.CancelFunc

	ticker *domain.Ticker
	book   *domain.OrderBookSnapshot
	trades *TradeRing

	// set once the stream delivered that kind in the current generation
	streamedTicker bool
	streamedBook   bool

	pendingFetches int
	lastErr        string

	onChange func()
}

// NewMarketStore creates a store with no active symbol.
// orders may be nil when the caller has no order view.
func NewMarketStore(sub event.Subscriber, source domain.SnapshotSource, poster domain.Poster, orders *OrderManager, opt StoreOptions) *MarketStore {
	if opt.Metrics == nil {
		opt.Metrics = infra.GlobalMetrics
	}
	if opt.FetchTimeout <= 0 {
		opt.FetchTimeout = 10 * time.Second
	}
	return &MarketStore{
		subscriber:   sub,
		source:       source,
		poster:       poster,
		orders:       orders,
		metrics:      opt.Metrics,
		logger:       slog.Default().With("module", "market_store"),
		fetchTimeout: opt.FetchTimeout,
		trades:       NewTradeRing(opt.TradeCapacity),
	}
}

// OnChange registers fn to run after every applied mutation.
func (s *MarketStore) OnChange(fn func()) {
	s.onChange = fn
}

// SetActiveSymbol switches the store to symbol. Every switch, including
// re-selecting the current symbol, starts a new generation: old handlers
// are dropped, state is cleared and a fresh snapshot is fetched.
func (s *MarketStore) SetActiveSymbol(symbol string) error {
	if symbol == "" {
		return domain.ErrNoActiveSymbol
	}

	previous := s.current
	bound := s.rebind(symbol)

	s.ticker = nil
	s.book = nil
	s.trades.Reset()
	s.streamedTicker = false
	s.streamedBook = false
	s.lastErr = ""

	s.logger.Info("Active symbol selected",
		slog.String("symbol", symbol),
		slog.String("previous", previous.Symbol),
		slog.Uint64("generation", bound.Generation),
	)

	s.fetch(bound)
	s.changed()
	return nil
}

// Refetch reloads the snapshot of the active symbol under a new generation,
// so an older fetch still in flight is discarded on arrival. The ticker,
// book and trades held so far stay until the new snapshot replaces them.
func (s *MarketStore) Refetch() error {
	if s.current.Symbol == "" {
		return domain.ErrNoActiveSymbol
	}

	bound := s.rebind(s.current.Symbol)
	s.lastErr = ""

	s.logger.Info("Snapshot refetch",
		slog.String("symbol", bound.Symbol),
		slog.Uint64("generation", bound.Generation),
	)

	s.fetch(bound)
	s.changed()
	return nil
}

// rebind starts a new generation for symbol: it cancels the fetch in flight
// and moves the stream handlers onto the new context.
func (s *MarketStore) rebind(symbol string) domain.SubscriptionContext {
	s.current = s.current.Next(symbol)
	bound := s.current

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = s.subs[:0]
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}

	s.subs = append(s.subs,
		s.subscriber.Subscribe(event.TypeMarketData, func(env *event.Envelope) { s.onMarketData(bound, env) }),
		s.subscriber.Subscribe(event.TypeTrade, func(env *event.Envelope) { s.onTrade(bound, env) }),
		s.subscriber.Subscribe(event.TypeOrderBook, func(env *event.Envelope) { s.onOrderBook(bound, env) }),
	)
	return bound
}

// Close drops stream handlers and cancels any fetch in flight.
func (s *MarketStore) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
}

func (s *MarketStore) fetch(bound domain.SubscriptionContext) {
	ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
	s.cancelFetch = cancel
	s.pendingFetches = 3

	symbol := bound.Symbol
	go func() {
		t, err := s.source.FetchMarketData(ctx, symbol)
		s.poster.Post(func() { s.completeTicker(bound, t, err) })
	}()
	go func() {
		trades, err := s.source.FetchTradeHistory(ctx, symbol)
		s.poster.Post(func() { s.completeTrades(bound, trades, err) })
	}()
	go func() {
		book, err := s.source.FetchOrderBook(ctx, symbol)
		s.poster.Post(func() { s.completeBook(bound, book, err) })
	}()
}

// accept reports whether a fetch result for bound may touch state.
func (s *MarketStore) accept(bound domain.SubscriptionContext, what string, err error) bool {
	if !bound.Matches(s.current) {
		s.metrics.RecordStale()
		s.logger.Debug("Discarding stale fetch result", slog.String("what", what), slog.Uint64("generation", bound.Generation))
		return false
	}

	s.pendingFetches--
	if s.pendingFetches <= 0 && s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}

	if err != nil {
		s.metrics.RecordFetchFailure()
		s.lastErr = err.Error()
		s.logger.Warn("Snapshot fetch failed",
			slog.String("what", what),
			slog.String("symbol", bound.Symbol),
			slog.Bool("retriable", domain.IsRetriable(err)),
			slog.Any("error", err),
		)
		s.changed()
		return false
	}
	return true
}

func (s *MarketStore) completeTicker(bound domain.SubscriptionContext, t domain.Ticker, err error) {
	if !s.accept(bound, "market data", err) {
		return
	}
	// the stream is fresher than the snapshot
	if !s.streamedTicker {
		t.Symbol = bound.Symbol
		s.ticker = &t
	}
	s.changed()
}

func (s *MarketStore) completeTrades(bound domain.SubscriptionContext, history []domain.Trade, err error) {
	if !s.accept(bound, "trade history", err) {
		return
	}
	s.trades.PrependOlder(history)
	s.changed()
}

func (s *MarketStore) completeBook(bound domain.SubscriptionContext, book domain.OrderBookSnapshot, err error) {
	if !s.accept(bound, "order book", err) {
		return
	}
	if !s.streamedBook {
		book.Symbol = bound.Symbol
		s.book = &book
	}
	s.changed()
}

// live reports whether an event for symbol, delivered to a handler bound to
// bound, belongs to the current selection.
func (s *MarketStore) live(bound domain.SubscriptionContext, symbol string) bool {
	if !bound.Matches(s.current) || symbol != bound.Symbol {
		s.metrics.RecordStale()
		return false
	}
	return true
}

func eventSymbol(env *event.Envelope, payloadSymbol string) string {
	if env.Symbol != "" {
		return env.Symbol
	}
	return payloadSymbol
}

func (s *MarketStore) onMarketData(bound domain.SubscriptionContext, env *event.Envelope) {
	t, err := event.Decode[domain.Ticker](env)
	if err != nil {
		s.logger.Warn("Dropping malformed market data", slog.Any("error", err))
		return
	}
	symbol := eventSymbol(env, t.Symbol)
	if !s.live(bound, symbol) {
		return
	}
	t.Symbol = symbol
	if t.Crossed() {
		s.logger.Warn("Crossed ticker", slog.String("symbol", symbol), slog.String("bid", t.Bid.String()), slog.String("ask", t.Ask.String()))
	}
	s.ticker = &t
	s.streamedTicker = true
	s.changed()
}

func (s *MarketStore) onTrade(bound domain.SubscriptionContext, env *event.Envelope) {
	t, err := event.Decode[domain.Trade](env)
	if err != nil {
		s.logger.Warn("Dropping malformed trade", slog.Any("error", err))
		return
	}
	symbol := eventSymbol(env, t.Symbol)
	if !s.live(bound, symbol) {
		return
	}
	t.Symbol = symbol
	s.trades.Push(t)
	s.changed()
}

func (s *MarketStore) onOrderBook(bound domain.SubscriptionContext, env *event.Envelope) {
	book, err := event.Decode[domain.OrderBookSnapshot](env)
	if err != nil {
		s.logger.Warn("Dropping malformed order book", slog.Any("error", err))
		return
	}
	symbol := eventSymbol(env, book.Symbol)
	if !s.live(bound, symbol) {
		return
	}
	book.Symbol = symbol
	if err := book.Validate(); err != nil {
		s.logger.Warn("Order book out of shape", slog.String("symbol", symbol), slog.Any("error", err))
	}
	s.book = &book
	s.streamedBook = true
	s.changed()
}

// Context returns the current selection.
func (s *MarketStore) Context() domain.SubscriptionContext {
	return s.current
}

// Ticker returns the latest ticker of the active symbol.
func (s *MarketStore) Ticker() (domain.Ticker, bool) {
	if s.ticker == nil {
		return domain.Ticker{}, false
	}
	return *s.ticker, true
}

// OrderBook returns the latest book snapshot of the active symbol.
func (s *MarketStore) OrderBook() (domain.OrderBookSnapshot, bool) {
	if s.book == nil {
		return domain.OrderBookSnapshot{}, false
	}
	return *s.book, true
}

// Trades returns the trade tape, oldest first.
func (s *MarketStore) Trades() []domain.Trade {
	return s.trades.Items()
}

// Depth aggregates the current book. It is recomputed on every call.
func (s *MarketStore) Depth() domain.Depth {
	if s.book == nil {
		return domain.Depth{}
	}
	return domain.AggregateDepth(*s.book)
}

// ActiveOrders returns the user's visible orders on the active symbol.
func (s *MarketStore) ActiveOrders() []domain.Order {
	if s.orders == nil || s.current.Symbol == "" {
		return nil
	}
	return s.orders.ActiveFor(s.current.Symbol)
}

// Loading reports whether the snapshot of the current generation is still in flight.
func (s *MarketStore) Loading() bool {
	return s.current.Symbol != "" && s.pendingFetches > 0
}

// Err returns the last fetch error of the current generation, or "".
func (s *MarketStore) Err() string {
	return s.lastErr
}

func (s *MarketStore) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
