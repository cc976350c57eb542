package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"venue_sync/internal/domain"
	"venue_sync/internal/event"
)

// taskQueue is a Poster whose tasks the test runs on its own goroutine,
// standing in for the engine loop.
type taskQueue struct {
	ch chan func()
}

func newTaskQueue() *taskQueue {
	return &taskQueue{ch: make(chan func(), 64)}
}

func (q *taskQueue) Post(task func()) bool {
	q.ch <- task
	return true
}

func (q *taskQueue) runN(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case task := <-q.ch:
			task()
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout waiting for task %d of %d", i+1, n)
		}
	}
}

func (q *taskQueue) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case <-q.ch:
		t.Fatal("Unexpected task posted")
	case <-time.After(20 * time.Millisecond):
	}
}

// fakeSource serves snapshots per symbol. Calls for a gated symbol block
// until the gate closes or the context ends.
type fakeSource struct {
	mu      sync.Mutex
	tickers map[string]domain.Ticker
	trades  map[string][]domain.Trade
	books   map[string]domain.OrderBookSnapshot
	gates   map[string]chan struct{}
	fail    map[string]error

	submit func(req domain.OrderRequest) (domain.Order, error)
	cancel func(id string) error

	submitted []domain.OrderRequest
	cancelled []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		tickers: make(map[string]domain.Ticker),
		trades:  make(map[string][]domain.Trade),
		books:   make(map[string]domain.OrderBookSnapshot),
		gates:   make(map[string]chan struct{}),
		fail:    make(map[string]error),
	}
}

func (f *fakeSource) gate(symbol string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := make(chan struct{})
	f.gates[symbol] = g
	return g
}

func (f *fakeSource) wait(ctx context.Context, symbol string) error {
	f.mu.Lock()
	g := f.gates[symbol]
	err := f.fail[symbol]
	f.mu.Unlock()
	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeSource) FetchMarketData(ctx context.Context, symbol string) (domain.Ticker, error) {
	if err := f.wait(ctx, symbol); err != nil {
		return domain.Ticker{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickers[symbol], nil
}

func (f *fakeSource) FetchTradeHistory(ctx context.Context, symbol string) ([]domain.Trade, error) {
	if err := f.wait(ctx, symbol); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trades[symbol], nil
}

func (f *fakeSource) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	if err := f.wait(ctx, symbol); err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.books[symbol], nil
}

func (f *fakeSource) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	fn := f.submit
	f.mu.Unlock()
	if fn == nil {
		return domain.Order{ID: "srv-" + req.ClientOrderID, ClientOrderID: req.ClientOrderID, Status: domain.OrderStatusPending}, nil
	}
	return fn(req)
}

func (f *fakeSource) CancelOrder(ctx context.Context, id string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, id)
	fn := f.cancel
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(id)
}

func (f *fakeSource) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func frame(t *testing.T, typ event.MessageType, symbol string, payload any) *event.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &event.Envelope{Type: typ, Symbol: symbol, Payload: raw}
}
