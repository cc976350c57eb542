package domain

import (
	"context"
)

// SnapshotSource is the pull side of the venue.
type SnapshotSource interface {
	FetchMarketData(ctx context.Context, symbol string) (Ticker, error)
	FetchTradeHistory(ctx context.Context, symbol string) ([]Trade, error)
	FetchOrderBook(ctx context.Context, symbol string) (OrderBookSnapshot, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Poster schedules a task on the single event loop.
// It returns false if the task can no longer run.
type Poster interface {
	Post(task func()) bool
}

// CredentialSource returns the opaque bearer token attached to every call.
type CredentialSource interface {
	Token() string
}
