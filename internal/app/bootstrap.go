package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"venue_sync/internal/domain"
	"venue_sync/internal/engine"
	"venue_sync/internal/event"
	"venue_sync/internal/infra"
	"venue_sync/internal/infra/rest"
	"venue_sync/internal/infra/stream"
	"venue_sync/internal/service"
	"venue_sync/pkg/clock"

	"github.com/shopspring/decimal"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Metrics   *infra.Metrics
	Loop      *engine.Loop
	Stream    *stream.Client
	REST      *rest.Client
	Orders    *service.OrderManager
	Positions *service.PositionBook
	Market    *service.MarketStore

	credentials *infra.StaticCredentials
	cancel      context.CancelFunc
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration, installs the logger and builds every component.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("🚀 Bootstrapping venue sync...", slog.String("version", cfg.App.Version))

	// 3. Wire components
	b.Build(cfg, infra.GlobalMetrics, clock.RealClock{})
	slog.Info("✅ Components ready",
		slog.String("ws_url", cfg.API.Stream.WSURL),
		slog.String("rest_url", cfg.API.REST.BaseURL),
		slog.Int("symbols", len(cfg.Market.Symbols)),
	)
	return nil
}

// Build wires the loop, transports and state components from cfg.
func (b *Bootstrap) Build(cfg *infra.Config, metrics *infra.Metrics, clk clock.Clock) {
	b.Config = cfg
	b.Metrics = metrics
	b.credentials = infra.NewStaticCredentials(cfg.API.Token)

	b.Loop = engine.NewLoop(cfg.Engine.InboxSize)
	event.Warmup()

	opt := stream.OptionsFromConfig(cfg, b.credentials)
	opt.Metrics = metrics
	b.Stream = stream.NewClient(opt, b.Loop)
	b.REST = rest.NewClient(cfg, b.credentials)

	b.Orders = service.NewOrderManager(b.REST, b.Loop, metrics)
	b.Positions = service.NewPositionBook(clk, cfg.DayBoundary())
	b.Market = service.NewMarketStore(b.Stream, b.REST, b.Loop, b.Orders, service.StoreOptions{
		TradeCapacity: cfg.Market.TradeCapacity,
		FetchTimeout:  time.Duration(cfg.API.REST.TimeoutSec) * time.Second,
		Metrics:       metrics,
	})
}

// Start runs the loop, opens the stream and selects the default symbol.
// The loop outlives ctx and stops only in Shutdown.
func (b *Bootstrap) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.Loop.Run(loopCtx)

	err := b.Loop.Do(ctx, func() {
		b.Orders.Attach(b.Stream)
		b.Positions.Attach(b.Stream)
	})
	if err != nil {
		return err
	}

	if err := b.Stream.Connect(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "✅ Stream client started")

	return b.SelectSymbol(ctx, b.Config.Market.DefaultSymbol)
}

// SelectSymbol switches the active symbol on the loop.
func (b *Bootstrap) SelectSymbol(ctx context.Context, symbol string) error {
	var err error
	if doErr := b.Loop.Do(ctx, func() { err = b.Market.SetActiveSymbol(symbol) }); doErr != nil {
		return doErr
	}
	return err
}

// Refetch reloads the snapshot of the active symbol.
func (b *Bootstrap) Refetch(ctx context.Context) error {
	var err error
	if doErr := b.Loop.Do(ctx, func() { err = b.Market.Refetch() }); doErr != nil {
		return doErr
	}
	return err
}

// SubmitOrder places an order optimistically and returns the local record.
// done runs on the loop when the venue answers.
func (b *Bootstrap) SubmitOrder(ctx context.Context, spec domain.OrderSpec, done func(domain.Order, error)) (domain.Order, error) {
	var (
		order domain.Order
		err   error
	)
	if doErr := b.Loop.Do(ctx, func() { order, err = b.Orders.Submit(context.Background(), spec, done) }); doErr != nil {
		return domain.Order{}, doErr
	}
	return order, err
}

// CancelOrder cancels an order by server or client id.
func (b *Bootstrap) CancelOrder(ctx context.Context, id string, done func(error)) error {
	var err error
	if doErr := b.Loop.Do(ctx, func() { err = b.Orders.Cancel(context.Background(), id, done) }); doErr != nil {
		return doErr
	}
	return err
}

// Status is a point-in-time summary of the sync core.
type Status struct {
	Connected       bool
	Symbol          string
	Generation      uint64
	Loading         bool
	Err             string
	Ticker          *domain.Ticker
	TickerSpreadPct *decimal.Decimal
	Spread          *decimal.Decimal
	Trades          int
	ActiveOrders    int
	Positions       int
	TotalPnL        decimal.Decimal
	DailyPnL        decimal.Decimal
	Metrics         infra.MetricsSnapshot
}

// Status reads the current state through the loop.
func (b *Bootstrap) Status(ctx context.Context) (Status, error) {
	st := Status{Connected: b.Stream.IsConnected()}
	err := b.Loop.Do(ctx, func() {
		c := b.Market.Context()
		st.Symbol = c.Symbol
		st.Generation = c.Generation
		st.Loading = b.Market.Loading()
		st.Err = b.Market.Err()
		if t, ok := b.Market.Ticker(); ok {
			st.Ticker = &t
			st.TickerSpreadPct = t.SpreadPct()
		}
		st.Spread = b.Market.Depth().Spread
		st.Trades = len(b.Market.Trades())
		st.ActiveOrders = len(b.Market.ActiveOrders())
		st.Positions = len(b.Positions.Positions())
		st.TotalPnL = b.Positions.TotalPnL()
		st.DailyPnL = b.Positions.DailyPnL()
	})
	if err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	st.Metrics = b.Metrics.Snapshot()
	return st, nil
}

// LogStatus writes one status line.
func (b *Bootstrap) LogStatus(ctx context.Context) {
	st, err := b.Status(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Status unavailable", slog.Any("error", err))
		return
	}

	attrs := []any{
		slog.Bool("connected", st.Connected),
		slog.String("symbol", st.Symbol),
		slog.Uint64("generation", st.Generation),
		slog.Bool("loading", st.Loading),
		slog.Int("trades", st.Trades),
		slog.Int("active_orders", st.ActiveOrders),
		slog.String("total_pnl", st.TotalPnL.String()),
		slog.String("daily_pnl", st.DailyPnL.String()),
		slog.Uint64("frames", st.Metrics.FramesReceived),
		slog.Uint64("malformed", st.Metrics.FramesMalformed),
		slog.Uint64("stale", st.Metrics.StaleDiscarded),
		slog.Uint64("reconnects", st.Metrics.Reconnects),
	}
	if st.Ticker != nil {
		attrs = append(attrs, slog.String("last", st.Ticker.Last.String()))
	}
	if st.TickerSpreadPct != nil {
		attrs = append(attrs, slog.String("spread_pct", st.TickerSpreadPct.StringFixed(4)))
	}
	if st.Spread != nil {
		attrs = append(attrs, slog.String("spread", st.Spread.String()))
	}
	if st.Err != "" {
		attrs = append(attrs, slog.String("fetch_error", st.Err))
	}
	slog.InfoContext(ctx, "📊 Status", attrs...)
}

// Shutdown closes the stream, detaches the state components on the loop
// and stops it.
func (b *Bootstrap) Shutdown() error {
	if b.Stream != nil {
		b.Stream.Disconnect()
	}
	if b.Loop == nil || b.cancel == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	err := b.Loop.Do(ctx, func() {
		b.Market.Close()
		b.Orders.Detach()
		b.Positions.Detach()
	})
	cancel()
	if err != nil {
		slog.Warn("Detach on shutdown failed", slog.Any("error", err))
	}

	b.cancel()
	<-b.Loop.Done()
	b.cancel = nil
	return err
}
